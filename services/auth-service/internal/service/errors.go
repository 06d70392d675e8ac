package service

import (
	"errors"
	"math"
	"time"

	apperrors "DiaryPlatform/pkg/errors"
	"DiaryPlatform/services/auth-service/internal/domain"
)

// Сообщения для пользователя. Для чувствительных веток они намеренно совпадают
const (
	messageInvalidCredentials = "Invalid username or password"
	messageRegistration       = "Registration could not be completed"
	messageRateLimited        = "Too many attempts, please try again later"
	messageTokenInvalid       = "Invalid token"
	messageInvalidInput       = "Invalid input"
	messageInternal           = "Internal error"
)

// AuthError отказ в аутентификации
//
// Error() возвращает стабильное сообщение для пользователя, причина доступна через Reason
type AuthError struct {
	Reason     domain.AuthFailureReason
	RetryAfter time.Duration
	// detail уточняет ошибку ввода, для остальных причин не используется
	detail string
	cause  error
}

func (e *AuthError) Error() string {
	switch e.Reason {
	case domain.ReasonInvalidInput:
		if e.detail != "" {
			return e.detail
		}
		return messageInvalidInput
	case domain.ReasonInvalidCredentials, domain.ReasonAccountLocked:
		return messageInvalidCredentials
	case domain.ReasonUsernameTaken, domain.ReasonInvalidLinkingCode:
		return messageRegistration
	case domain.ReasonRateLimited:
		return messageRateLimited
	case domain.ReasonTokenInvalid:
		return messageTokenInvalid
	default:
		return messageInternal
	}
}

func (e *AuthError) Unwrap() error {
	return e.cause
}

// RetryAfterSeconds округляет RetryAfter вверх до целых секунд
func (e *AuthError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// AppError переводит отказ в ошибку pkg/errors с нужным HTTP и gRPC статусом
func (e *AuthError) AppError() *apperrors.Error {
	var code apperrors.ErrorCode
	switch e.Reason {
	case domain.ReasonInvalidInput:
		code = apperrors.ErrValidation
	case domain.ReasonInvalidCredentials, domain.ReasonAccountLocked, domain.ReasonTokenInvalid:
		code = apperrors.ErrUnauthorized
	case domain.ReasonUsernameTaken, domain.ReasonInvalidLinkingCode:
		code = apperrors.ErrConflict
	case domain.ReasonRateLimited:
		code = apperrors.ErrRateLimited
	default:
		code = apperrors.ErrInternal
	}
	if e.cause != nil {
		return apperrors.Wrap(e.cause, code, e.Error())
	}
	return apperrors.New(code, e.Error())
}

// ReasonOf возвращает причину отказа, для посторонних ошибок unknown
func ReasonOf(err error) domain.AuthFailureReason {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return domain.ReasonUnknown
}

func newAuthError(reason domain.AuthFailureReason) *AuthError {
	return &AuthError{Reason: reason}
}

func invalidInput(detail string) *AuthError {
	return &AuthError{Reason: domain.ReasonInvalidInput, detail: detail}
}

func internalError(cause error) *AuthError {
	return &AuthError{Reason: domain.ReasonUnknown, cause: cause}
}
