package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"DiaryPlatform/pkg/logger"
	"DiaryPlatform/pkg/ratelimit"
	"DiaryPlatform/pkg/validation"
	"DiaryPlatform/services/auth-service/internal/domain"
	"DiaryPlatform/services/auth-service/internal/events"
	"DiaryPlatform/services/auth-service/internal/pkg/jwt"
	"DiaryPlatform/services/auth-service/internal/pkg/password"
	"DiaryPlatform/services/auth-service/internal/repository"

	"github.com/google/uuid"
)

// Операции для метрик и логов
const (
	OperationRegister            = "register"
	OperationLogin               = "login"
	OperationChangePassword      = "change_password"
	OperationValidateLinkingCode = "validate_linking_code"
	OperationRefresh             = "refresh"
	OperationVerify              = "verify"
)

const (
	outcomeSuccess   = "success"
	maxAppUUIDLength = 128
)

// Хеш и соль для проверки пароля несуществующего пользователя: ответ занимает столько же времени
var (
	dummySalt = base64.StdEncoding.EncodeToString(make([]byte, password.SaltLength))
	dummyHash = base64.StdEncoding.EncodeToString(make([]byte, password.KeyLength))
)

// TokenCodec операции с токенами, которые нужны сервису
type TokenCodec interface {
	Generate(identity jwt.Identity) (string, error)
	Verify(token string) *jwt.TokenClaims
	Refresh(token string) (string, bool)
	ExtractTokenFromHeader(header string) (string, bool)
	TTL() time.Duration
}

// Recorder принимает результаты попыток аутентификации, его реализует metrics.Metrics
type Recorder interface {
	RecordAuthAttempt(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthAttempt(string, string) {}

// AuthService интерфейс для сервиса аутентификации
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResult, error)
	Login(ctx context.Context, req LoginRequest) (*AuthResult, error)
	ChangePassword(ctx context.Context, req ChangePasswordRequest) error
	ValidateLinkingCode(ctx context.Context, code string) (*domain.SponsorPattern, error)
	RefreshToken(ctx context.Context, token string) (string, error)
	VerifyToken(ctx context.Context, token string) (*jwt.TokenClaims, error)
	ExtractTokenFromHeader(header string) (string, error)
	Authenticate(ctx context.Context, header string) (*jwt.TokenClaims, error)
}

// RegisterRequest данные регистрации
//
// Пароль передается либо открытым текстом (Password), либо уже посчитанным
// на клиенте хешем с солью (PasswordHash и Salt в base64)
type RegisterRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Salt         string `json:"salt,omitempty"`
	LinkingCode  string `json:"linkingCode"`
	AppUUID      string `json:"appUuid"`
}

// LoginRequest данные входа. SponsorID может быть пустым
type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	SponsorID string `json:"sponsorId,omitempty"`
	ClientIP  string `json:"-"`
}

// ChangePasswordRequest данные смены пароля
type ChangePasswordRequest struct {
	Username        string `json:"-"`
	SponsorID       string `json:"-"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ClientIP        string `json:"-"`
}

// AuthResult результат успешной регистрации или входа
type AuthResult struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	User      *domain.WebUser `json:"user"`
}

// Config политика блокировок и ограничения на имя пользователя
type Config struct {
	LockoutThreshold  int
	LockoutDuration   time.Duration
	MinUsernameLength int
	MaxUsernameLength int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		LockoutThreshold:  5,
		LockoutDuration:   15 * time.Minute,
		MinUsernameLength: 3,
		MaxUsernameLength: 50,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = defaults.LockoutThreshold
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = defaults.LockoutDuration
	}
	if c.MinUsernameLength <= 0 {
		c.MinUsernameLength = defaults.MinUsernameLength
	}
	if c.MaxUsernameLength <= 0 {
		c.MaxUsernameLength = defaults.MaxUsernameLength
	}
	return c
}

// Dependencies зависимости сервиса. Publisher и Recorder необязательны
type Dependencies struct {
	Users     repository.UserRepository
	Patterns  repository.SponsorPatternRepository
	Codec     TokenCodec
	Hasher    password.Hasher
	Limiter   ratelimit.Limiter
	Publisher events.Publisher
	Recorder  Recorder
	Logger    logger.Logger
}

// Option настраивает сервис
type Option func(*Service)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service реализация AuthService
type Service struct {
	users     repository.UserRepository
	patterns  repository.SponsorPatternRepository
	codec     TokenCodec
	hasher    password.Hasher
	limiter   ratelimit.Limiter
	publisher events.Publisher
	recorder  Recorder
	log       logger.Logger
	validator *validation.Validator
	config    Config
	now       func() time.Time
}

// NewAuthService создает новый экземпляр AuthService
func NewAuthService(deps Dependencies, config Config, opts ...Option) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("user repository is required")
	case deps.Patterns == nil:
		return nil, errors.New("sponsor pattern repository is required")
	case deps.Codec == nil:
		return nil, errors.New("token codec is required")
	case deps.Hasher == nil:
		return nil, errors.New("password hasher is required")
	case deps.Limiter == nil:
		return nil, errors.New("rate limiter is required")
	}

	s := &Service{
		users:     deps.Users,
		patterns:  deps.Patterns,
		codec:     deps.Codec,
		hasher:    deps.Hasher,
		limiter:   deps.Limiter,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		log:       deps.Logger,
		validator: validation.NewValidator(),
		config:    config.withDefaults(),
		now:       time.Now,
	}
	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

var _ AuthService = (*Service)(nil)

// Register регистрирует пользователя по коду привязки и выдает токен
func (s *Service) Register(ctx context.Context, req RegisterRequest) (result *AuthResult, err error) {
	defer func() { s.finish(ctx, OperationRegister, req.Username, err) }()

	username := domain.NormalizeUsername(req.Username)
	if err := s.validateUsername(username); err != nil {
		return nil, err
	}

	rawPassword := req.Password != ""
	switch {
	case rawPassword:
		if err := s.hasher.ValidateFormat(req.Password); err != nil {
			return nil, invalidInput(err.Error())
		}
	case req.PasswordHash != "" || req.Salt != "":
		if err := password.ValidateEncoded(req.PasswordHash, req.Salt); err != nil {
			return nil, invalidInput("passwordHash and salt must be base64 encoded Argon2id output")
		}
	default:
		return nil, invalidInput("password is required")
	}

	appUUID := strings.TrimSpace(req.AppUUID)
	if err := s.validator.ValidateRequired(appUUID, "appUuid"); err != nil {
		return nil, invalidInput(err.Error())
	}
	if err := s.validator.ValidateStringLength(appUUID, "appUuid", 1, maxAppUUIDLength); err != nil {
		return nil, invalidInput(err.Error())
	}

	linkingCode := domain.NormalizeLinkingCode(req.LinkingCode)
	if linkingCode == "" {
		return nil, invalidInput("linkingCode is required")
	}

	// Имя уникально среди всех спонсоров
	if _, err := s.users.GetUserByUsername(ctx, username, ""); err == nil {
		return nil, newAuthError(domain.ReasonUsernameTaken)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, internalError(fmt.Errorf("check username: %w", err))
	}

	pattern, err := s.patterns.FindByLinkingCode(ctx, linkingCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newAuthError(domain.ReasonInvalidLinkingCode)
		}
		return nil, internalError(fmt.Errorf("resolve linking code: %w", err))
	}

	hash, salt := req.PasswordHash, req.Salt
	if rawPassword {
		if salt, err = s.hasher.GenerateSalt(); err != nil {
			return nil, internalError(err)
		}
		if hash, err = s.hasher.HashPassword(req.Password, salt); err != nil {
			return nil, internalError(err)
		}
	}

	now := s.now().UTC()
	user := &domain.WebUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Salt:         salt,
		SponsorID:    pattern.SponsorID,
		SponsorURL:   pattern.PortalURL,
		LinkingCode:  linkingCode,
		AppUUID:      appUUID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, newAuthError(domain.ReasonUsernameTaken)
		}
		return nil, internalError(fmt.Errorf("create user: %w", err))
	}

	result, err = s.issue(user)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeUserRegistered, user, nil)
	return result, nil
}

// Login проверяет пароль и выдает токен
//
// Ограничение частоты проверяется до обращения к репозиторию и до хеширования
func (s *Service) Login(ctx context.Context, req LoginRequest) (result *AuthResult, err error) {
	defer func() { s.finish(ctx, OperationLogin, req.Username, err) }()

	username := domain.NormalizeUsername(req.Username)
	if username == "" || req.Password == "" {
		return nil, invalidInput("username and password are required")
	}

	key := limiterKey(OperationLogin, req.ClientIP, username)
	if err := s.checkLimit(ctx, key); err != nil {
		return nil, err
	}

	user, err := s.findUser(ctx, username, req.SponsorID, req.Password)
	if err != nil {
		return nil, err
	}

	if user, err = s.authenticate(ctx, user, req.Password); err != nil {
		return nil, err
	}

	user, err = s.clearFailures(ctx, user, key)
	if err != nil {
		return nil, err
	}

	lastLogin := s.now().UTC()
	user.LastLoginAt = &lastLogin
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, internalError(fmt.Errorf("update last login: %w", err))
	}

	result, err = s.issue(user)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeUserLoggedIn, user, nil)
	return result, nil
}

// ChangePassword меняет пароль после проверки текущего. Повторный вход не требуется
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) (err error) {
	defer func() { s.finish(ctx, OperationChangePassword, req.Username, err) }()

	username := domain.NormalizeUsername(req.Username)
	if username == "" || req.CurrentPassword == "" {
		return invalidInput("current password is required")
	}
	if err := s.hasher.ValidateFormat(req.NewPassword); err != nil {
		return invalidInput(err.Error())
	}

	key := limiterKey(OperationChangePassword, req.ClientIP, username)
	if err := s.checkLimit(ctx, key); err != nil {
		return err
	}

	user, err := s.findUser(ctx, username, req.SponsorID, req.CurrentPassword)
	if err != nil {
		return err
	}

	if user, err = s.authenticate(ctx, user, req.CurrentPassword); err != nil {
		return err
	}

	user, err = s.clearFailures(ctx, user, key)
	if err != nil {
		return err
	}

	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return internalError(err)
	}
	hash, err := s.hasher.HashPassword(req.NewPassword, salt)
	if err != nil {
		return internalError(err)
	}

	user.PasswordHash = hash
	user.Salt = salt
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return internalError(fmt.Errorf("update password: %w", err))
	}

	s.publish(ctx, events.TypePasswordChanged, user, nil)
	return nil
}

// ValidateLinkingCode возвращает спонсора, которому принадлежит код привязки
func (s *Service) ValidateLinkingCode(ctx context.Context, code string) (pattern *domain.SponsorPattern, err error) {
	defer func() { s.finish(ctx, OperationValidateLinkingCode, "", err) }()

	code = domain.NormalizeLinkingCode(code)
	if code == "" {
		return nil, invalidInput("linkingCode is required")
	}

	pattern, err = s.patterns.FindByLinkingCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newAuthError(domain.ReasonInvalidLinkingCode)
		}
		return nil, internalError(fmt.Errorf("resolve linking code: %w", err))
	}
	return pattern, nil
}

// RefreshToken выпускает новый токен с теми же данными пользователя
func (s *Service) RefreshToken(ctx context.Context, token string) (refreshed string, err error) {
	defer func() { s.finish(ctx, OperationRefresh, "", err) }()

	refreshed, ok := s.codec.Refresh(token)
	if !ok {
		return "", newAuthError(domain.ReasonTokenInvalid)
	}
	return refreshed, nil
}

// VerifyToken проверяет токен и возвращает его claims
func (s *Service) VerifyToken(ctx context.Context, token string) (*jwt.TokenClaims, error) {
	claims := s.codec.Verify(token)
	if claims == nil {
		s.recorder.RecordAuthAttempt(OperationVerify, string(domain.ReasonTokenInvalid))
		return nil, newAuthError(domain.ReasonTokenInvalid)
	}
	return claims, nil
}

// ExtractTokenFromHeader достает токен из заголовка Authorization
func (s *Service) ExtractTokenFromHeader(header string) (string, error) {
	token, ok := s.codec.ExtractTokenFromHeader(header)
	if !ok {
		return "", newAuthError(domain.ReasonTokenInvalid)
	}
	return token, nil
}

// Authenticate достает токен из заголовка Authorization и проверяет его
func (s *Service) Authenticate(ctx context.Context, header string) (*jwt.TokenClaims, error) {
	token, err := s.ExtractTokenFromHeader(header)
	if err != nil {
		return nil, err
	}
	return s.VerifyToken(ctx, token)
}

func (s *Service) validateUsername(username string) error {
	if err := s.validator.ValidateRequired(username, "username"); err != nil {
		return invalidInput(err.Error())
	}
	if err := s.validator.ValidateStringLength(username, "username", s.config.MinUsernameLength, s.config.MaxUsernameLength); err != nil {
		return invalidInput(err.Error())
	}
	if err := s.validator.ValidateNoWhitespace(username, "username"); err != nil {
		return invalidInput(err.Error())
	}
	if strings.Contains(username, "@") {
		return invalidInput("username must not contain '@'")
	}
	return nil
}

func (s *Service) checkLimit(ctx context.Context, key string) error {
	allowed, err := s.limiter.CheckLimit(ctx, key)
	if err != nil {
		return internalError(fmt.Errorf("rate limiter: %w", err))
	}
	if allowed {
		return nil
	}

	authErr := newAuthError(domain.ReasonRateLimited)
	if wait, ok, err := s.limiter.TimeUntilReset(ctx, key); err == nil && ok {
		authErr.RetryAfter = wait
	}
	return authErr
}

// findUser загружает пользователя. Для несуществующего пользователя хеш все равно считается
func (s *Service) findUser(ctx context.Context, username, sponsorID, candidate string) (*domain.WebUser, error) {
	user, err := s.users.GetUserByUsername(ctx, username, sponsorID)
	if err == nil {
		return user, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.Verify(candidate, dummyHash, dummySalt)
		return nil, newAuthError(domain.ReasonInvalidCredentials)
	}
	return nil, internalError(fmt.Errorf("get user: %w", err))
}

// authenticate проверяет блокировку и пароль, ведет счетчик неудачных попыток
func (s *Service) authenticate(ctx context.Context, user *domain.WebUser, candidate string) (*domain.WebUser, error) {
	now := s.now()
	if user.IsLocked(now) {
		// Время ответа не должно отличаться от неверного пароля
		s.hasher.Verify(candidate, dummyHash, dummySalt)
		return nil, newAuthError(domain.ReasonAccountLocked)
	}

	// Блокировка истекла: счетчик начинается заново
	if user.LockedUntil != nil && user.FailedAttempts >= s.config.LockoutThreshold {
		reset, err := s.users.ResetFailedAttempts(ctx, user.ID)
		if err != nil {
			return nil, internalError(fmt.Errorf("reset expired lock: %w", err))
		}
		user = reset
	}

	if s.hasher.Verify(candidate, user.PasswordHash, user.Salt) {
		return user, nil
	}

	updated, err := s.users.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		return nil, internalError(fmt.Errorf("increment failed attempts: %w", err))
	}

	if updated.FailedAttempts >= s.config.LockoutThreshold {
		until := now.Add(s.config.LockoutDuration).UTC()
		locked, err := s.users.LockAccount(ctx, updated.ID, until)
		if err != nil {
			return nil, internalError(fmt.Errorf("lock account: %w", err))
		}
		s.log.Warn("Account locked after failed attempts",
			logger.CtxField(ctx),
			logger.String("user_id", locked.ID),
			logger.Int("failed_attempts", locked.FailedAttempts),
			logger.String("locked_until", until.Format(time.RFC3339)))
		s.publish(ctx, events.TypeAccountLocked, locked, map[string]string{
			"lockedUntil": until.Format(time.RFC3339),
		})
	}

	return nil, newAuthError(domain.ReasonInvalidCredentials)
}

// clearFailures обнуляет счетчик неудачных попыток и историю ограничителя после успешной проверки
func (s *Service) clearFailures(ctx context.Context, user *domain.WebUser, key string) (*domain.WebUser, error) {
	if user.FailedAttempts > 0 || user.LockedUntil != nil {
		reset, err := s.users.ResetFailedAttempts(ctx, user.ID)
		if err != nil {
			return nil, internalError(fmt.Errorf("reset failed attempts: %w", err))
		}
		user = reset
	}

	if err := s.limiter.Reset(ctx, key); err != nil {
		s.log.Warn("Failed to reset rate limiter",
			logger.CtxField(ctx),
			logger.String("key", key),
			logger.Error(err))
	}
	return user, nil
}

func (s *Service) issue(user *domain.WebUser) (*AuthResult, error) {
	token, err := s.codec.Generate(jwt.Identity{
		Subject:    user.ID,
		Username:   user.Username,
		SponsorID:  user.SponsorID,
		SponsorURL: user.SponsorURL,
		AppUUID:    user.AppUUID,
	})
	if err != nil {
		return nil, internalError(fmt.Errorf("generate token: %w", err))
	}

	return &AuthResult{
		Token:     token,
		ExpiresAt: s.now().Add(s.codec.TTL()).UTC().Truncate(time.Second),
		User:      user,
	}, nil
}

func (s *Service) publish(ctx context.Context, eventType string, user *domain.WebUser, data map[string]string) {
	event := events.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     user.ID,
		Username:   user.Username,
		SponsorID:  user.SponsorID,
		OccurredAt: s.now().UTC(),
		Data:       data,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("Failed to publish auth event",
			logger.CtxField(ctx),
			logger.String("type", eventType),
			logger.String("user_id", user.ID),
			logger.Error(err))
	}
}

// finish пишет метрику и лог по итогу операции. Внутренние ошибки логируются с причиной
func (s *Service) finish(ctx context.Context, operation, username string, err error) {
	if err == nil {
		s.recorder.RecordAuthAttempt(operation, outcomeSuccess)
		s.log.Info("Auth operation succeeded",
			logger.CtxField(ctx),
			logger.String("operation", operation),
			logger.String("username", domain.NormalizeUsername(username)))
		return
	}

	reason := ReasonOf(err)
	s.recorder.RecordAuthAttempt(operation, string(reason))

	if reason == domain.ReasonUnknown {
		s.log.Error("Auth operation failed",
			logger.CtxField(ctx),
			logger.String("operation", operation),
			logger.String("username", domain.NormalizeUsername(username)),
			logger.Error(errors.Unwrap(err)))
		return
	}
	s.log.Warn("Auth operation rejected",
		logger.CtxField(ctx),
		logger.String("operation", operation),
		logger.String("username", domain.NormalizeUsername(username)),
		logger.String("reason", string(reason)))
}

func limiterKey(operation, clientIP, username string) string {
	if operation == OperationChangePassword {
		operation = "password"
	}
	return operation + ":" + clientIP + ":" + username
}
