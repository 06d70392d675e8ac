package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"DiaryPlatform/pkg/logger"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain домен ошибок в gRPC деталях
const ErrorDomain = "diary.auth"

// Error представляет кастомную ошибку с дополнительной информацией
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Details string          `json:"details,omitempty"`
	Cause   error           `json:"-"`
	Context context.Context `json:"-"`
}

// ErrorCode представляет код ошибки
type ErrorCode string

// Определение кодов ошибок
const (
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrRateLimited  ErrorCode = "RATE_LIMITED"
)

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is проверяет, является ли ошибка указанного типа
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую кастомную ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку в кастомную
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithDetails добавляет детали к ошибке
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithContext добавляет контекст к ошибке
func (e *Error) WithContext(ctx context.Context) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   e.Cause,
		Context: ctx,
	}
}

// GRPCCode возвращает gRPC код, соответствующий коду ошибки
func (e *Error) GRPCCode() codes.Code {
	switch e.Code {
	case ErrNotFound:
		return codes.NotFound
	case ErrValidation:
		return codes.InvalidArgument
	case ErrUnauthorized:
		return codes.Unauthenticated
	case ErrForbidden:
		return codes.PermissionDenied
	case ErrConflict:
		return codes.AlreadyExists
	case ErrRateLimited:
		return codes.ResourceExhausted
	case ErrInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToGRPCErr переводит кастомную ошибку в gRPC статус
//
// Детали передаются как errdetails.ErrorInfo с кодом ошибки в Reason
func (e *Error) ToGRPCErr() error {
	if e == nil {
		return nil
	}

	st := status.New(e.GRPCCode(), e.Message)

	if e.Details != "" {
		info := &errdetails.ErrorInfo{
			Reason:   string(e.Code),
			Domain:   ErrorDomain,
			Metadata: map[string]string{"details": e.Details},
		}
		if e.Context != nil {
			if traceID, ok := logger.TraceID(e.Context); ok {
				info.Metadata["trace_id"] = traceID
			}
		}

		if withDetails, err := st.WithDetails(info); err == nil {
			st = withDetails
		}
	}

	return st.Err()
}

// HTTPStatus возвращает соответствующий HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}

	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Message    string    `json:"message"`
	Code       ErrorCode `json:"code,omitempty"`
	RetryAfter int       `json:"retryAfter,omitempty"`
}

// WriteJSON отправляет ошибку клиенту. Причина ошибки наружу не попадает
func WriteJSON(w http.ResponseWriter, err *Error) {
	WriteJSONWithRetry(w, err, 0)
}

// WriteJSONWithRetry отправляет ошибку и, если retryAfter > 0, заголовок Retry-After в секундах
func WriteJSONWithRetry(w http.ResponseWriter, err *Error, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Message:    err.Message,
		Code:       err.Code,
		RetryAfter: retryAfter,
	})
}

// Middleware восстанавливается после паники в обработчике и отвечает 500
func Middleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					log.Error("panic recovered",
						logger.CtxField(r.Context()),
						logger.String("method", r.Method),
						logger.String("path", r.URL.Path),
						logger.Any("panic", recovered))

					WriteJSON(w, New(ErrInternal, "Internal error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
