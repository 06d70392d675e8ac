package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL время жизни токена по умолчанию
const DefaultTokenTTL = 15 * time.Minute

const bearerPrefix = "bearer "

var (
	// ErrMissingIssuer возвращается, если издатель токенов не задан
	ErrMissingIssuer = errors.New("jwt: issuer is required")
	// ErrMissingKey возвращается, если не передан ни один ключ
	ErrMissingKey = errors.New("jwt: public or private key is required")
	// ErrNoSigningKey возвращается при попытке подписать токен кодеком без приватного ключа
	ErrNoSigningKey = errors.New("jwt: codec has no private key")
	// ErrIncompleteIdentity возвращается, если не заполнены обязательные поля идентичности
	ErrIncompleteIdentity = errors.New("jwt: identity is incomplete")
)

// TokenClaims данные пользователя внутри токена
type TokenClaims struct {
	Username   string `json:"username"`
	SponsorID  string `json:"sponsorId"`
	SponsorURL string `json:"sponsorUrl"`
	AppUUID    string `json:"appUuid"`
	jwt.RegisteredClaims
}

// Identity возвращает идентичность, записанную в токене
func (c *TokenClaims) Identity() Identity {
	return Identity{
		Subject:    c.Subject,
		Username:   c.Username,
		SponsorID:  c.SponsorID,
		SponsorURL: c.SponsorURL,
		AppUUID:    c.AppUUID,
	}
}

// Identity набор полей, который кодек записывает в токен
type Identity struct {
	Subject    string
	Username   string
	SponsorID  string
	SponsorURL string
	AppUUID    string
}

func (i Identity) complete() bool {
	return i.Subject != "" && i.Username != "" && i.SponsorID != "" && i.SponsorURL != "" && i.AppUUID != ""
}

// Config параметры кодека
type Config struct {
	// PrivateKeyPEM приватный RSA ключ (PKCS1 или PKCS8). Без него кодек умеет только проверять токены
	PrivateKeyPEM []byte
	// PublicKeyPEM публичный RSA ключ. Если не задан, берется из приватного
	PublicKeyPEM []byte
	Issuer       string
	TokenTTL     time.Duration
}

// Option настраивает кодек
type Option func(*Codec)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// Codec выпускает и проверяет RS256 токены
type Codec struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewCodec создает кодек из PEM ключей
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	if cfg.Issuer == "" {
		return nil, ErrMissingIssuer
	}
	if len(cfg.PrivateKeyPEM) == 0 && len(cfg.PublicKeyPEM) == 0 {
		return nil, ErrMissingKey
	}

	c := &Codec{
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTokenTTL
	}

	if len(cfg.PrivateKeyPEM) > 0 {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		c.privateKey = key
		c.publicKey = &key.PublicKey
	}

	if len(cfg.PublicKeyPEM) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		c.publicKey = key
	}

	for _, opt := range opts {
		opt(c)
	}

	// Часы передаются в парсер через замыкание, чтобы WithClock влиял и на проверку exp.
	// iat относительно локальных часов не проверяется: токен выпущенный соседним
	// экземпляром с часами впереди должен приниматься
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)

	return c, nil
}

// LoadKeyPair читает PEM файлы ключей. Пустой путь пропускается
func LoadKeyPair(privatePath, publicPath string) (privatePEM, publicPEM []byte, err error) {
	if privatePath != "" {
		privatePEM, err = os.ReadFile(privatePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read private key: %w", err)
		}
	}
	if publicPath != "" {
		publicPEM, err = os.ReadFile(publicPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read public key: %w", err)
		}
	}
	return privatePEM, publicPEM, nil
}

// TTL время жизни выпускаемых токенов
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Generate выпускает подписанный токен для идентичности
func (c *Codec) Generate(identity Identity) (string, error) {
	if c.privateKey == nil {
		return "", ErrNoSigningKey
	}
	if !identity.complete() {
		return "", ErrIncompleteIdentity
	}

	issuedAt := time.Unix(c.now().Unix(), 0)
	claims := &TokenClaims{
		Username:   identity.Username,
		SponsorID:  identity.SponsorID,
		SponsorURL: identity.SponsorURL,
		AppUUID:    identity.AppUUID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   identity.Subject,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify проверяет токен и возвращает его claims. Любая ошибка дает nil
func (c *Codec) Verify(token string) *TokenClaims {
	if token == "" || c.publicKey == nil {
		return nil
	}

	claims := &TokenClaims{}
	parsed, err := c.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return c.publicKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil
	}

	if claims.IssuedAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil
	}
	if !claims.Identity().complete() {
		return nil
	}

	return claims
}

// Refresh перевыпускает валидный токен с той же идентичностью и новыми iat/exp
func (c *Codec) Refresh(token string) (string, bool) {
	claims := c.Verify(token)
	if claims == nil {
		return "", false
	}

	refreshed, err := c.Generate(claims.Identity())
	if err != nil {
		return "", false
	}
	return refreshed, true
}

// ExtractTokenFromHeader достает токен из заголовка Authorization со схемой Bearer
func ExtractTokenFromHeader(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// ExtractTokenFromHeader метод-обертка для удобства передачи кодека как зависимости
func (c *Codec) ExtractTokenFromHeader(header string) (string, bool) {
	return ExtractTokenFromHeader(header)
}
