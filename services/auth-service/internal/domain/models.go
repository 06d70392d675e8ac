package domain

import (
	"strings"
	"time"
)

// WebUser учетная запись пациента в веб-дневнике
// Username хранится в нижнем регистре и уникален без учета регистра
// PasswordHash и Salt закодированы в base64 (Argon2id, 32 и 16 байт)
type WebUser struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"`
	Salt           string     `json:"-"`
	SponsorID      string     `json:"sponsorId"`
	SponsorURL     string     `json:"sponsorUrl"`
	LinkingCode    string     `json:"linkingCode"`
	AppUUID        string     `json:"appUuid"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
	FailedAttempts int        `json:"-"`
	LockedUntil    *time.Time `json:"-"`
}

// IsLocked сообщает, заблокирован ли вход на момент now
func (u *WebUser) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// SponsorPattern запись, по префиксу кода привязки определяющая спонсора
// Выведенный из эксплуатации шаблон (Active = false) не должен совпадать с новыми кодами
type SponsorPattern struct {
	PatternPrefix    string     `json:"patternPrefix"`
	SponsorID        string     `json:"sponsorId"`
	SponsorName      string     `json:"sponsorName"`
	PortalURL        string     `json:"portalUrl"`
	FirestoreProject string     `json:"firestoreProject,omitempty"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"createdAt"`
	DecommissionedAt *time.Time `json:"decommissionedAt,omitempty"`
}

// AuthFailureReason причина отказа в аутентификации
type AuthFailureReason string

const (
	ReasonInvalidInput       AuthFailureReason = "invalid_input"
	ReasonUsernameTaken      AuthFailureReason = "username_taken"
	ReasonInvalidLinkingCode AuthFailureReason = "invalid_linking_code"
	ReasonRateLimited        AuthFailureReason = "rate_limited"
	ReasonAccountLocked      AuthFailureReason = "account_locked"
	ReasonInvalidCredentials AuthFailureReason = "invalid_credentials"
	ReasonTokenInvalid       AuthFailureReason = "token_invalid"
	ReasonUnknown            AuthFailureReason = "unknown"
)

// NormalizeUsername приводит имя пользователя к виду, в котором оно хранится
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeLinkingCode приводит код привязки к верхнему регистру без внешних пробелов
func NormalizeLinkingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// MatchLinkingCode возвращает активный шаблон с самым длинным префиксом кода
//
// Сравнение без учета регистра. При равной длине побеждает шаблон, идущий раньше в списке
func MatchLinkingCode(code string, patterns []*SponsorPattern) *SponsorPattern {
	code = NormalizeLinkingCode(code)
	if code == "" {
		return nil
	}

	var best *SponsorPattern
	for _, pattern := range patterns {
		if pattern == nil || !pattern.Active || pattern.PatternPrefix == "" {
			continue
		}
		prefix := NormalizeLinkingCode(pattern.PatternPrefix)
		if !strings.HasPrefix(code, prefix) {
			continue
		}
		if best == nil || len(prefix) > len(NormalizeLinkingCode(best.PatternPrefix)) {
			best = pattern
		}
	}
	return best
}
