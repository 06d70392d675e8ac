package http

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "DiaryPlatform/pkg/errors"
	"DiaryPlatform/pkg/logger"
	"DiaryPlatform/pkg/ratelimit"
	"DiaryPlatform/services/auth-service/internal/middleware"
	"DiaryPlatform/services/auth-service/internal/service"
)

const maxBodyBytes = 1 << 20

// HTTPHandler обработчик HTTP запросов auth-service
type HTTPHandler struct {
	logger   logger.Logger
	auth     service.AuthService
	limiter  ratelimit.Limiter
	resolver *middleware.IPResolver
}

// NewHTTPHandler создает новый HTTP обработчик
//
// limiter ограничивает общее число запросов с одного IP к /auth/*, может быть nil.
// resolver определяет адрес клиента; nil означает что доверенных прокси нет
func NewHTTPHandler(log logger.Logger, auth service.AuthService, limiter ratelimit.Limiter, resolver *middleware.IPResolver) *HTTPHandler {
	return &HTTPHandler{
		logger:   log,
		auth:     auth,
		limiter:  limiter,
		resolver: resolver,
	}
}

// RegisterRoutes регистрирует маршруты /auth/*
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	bearer := middleware.BearerAuth(h.auth.Authenticate, h.logger)

	mux.Handle("POST /auth/register", h.guard(http.HandlerFunc(h.handleRegister)))
	mux.Handle("POST /auth/login", h.guard(http.HandlerFunc(h.handleLogin)))
	mux.Handle("POST /auth/refresh", h.guard(http.HandlerFunc(h.handleRefresh)))
	mux.Handle("POST /auth/linking-code/validate", h.guard(http.HandlerFunc(h.handleValidateLinkingCode)))
	mux.Handle("POST /auth/change-password", h.guard(bearer(http.HandlerFunc(h.handleChangePassword))))
	mux.Handle("GET /auth/session", h.guard(bearer(http.HandlerFunc(h.handleSession))))
}

// guard оборачивает маршрут ограничением частоты по IP
func (h *HTTPHandler) guard(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return middleware.RateLimitMiddleware(h.limiter, h.resolver, h.logger)(next)
}

func (h *HTTPHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *HTTPHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.ClientIP = h.resolver.ClientIP(r)

	result, err := h.auth.Login(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type tokenRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// handleRefresh принимает токен из заголовка Authorization или из тела запроса
func (h *HTTPHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var token string
	if header := r.Header.Get("Authorization"); header != "" {
		extracted, err := h.auth.ExtractTokenFromHeader(header)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		token = extracted
	} else {
		var req tokenRequest
		if !h.decode(w, r, &req) {
			return
		}
		token = req.Token
	}

	refreshed, err := h.auth.RefreshToken(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, tokenResponse{Token: refreshed})
}

func (h *HTTPHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		apperrors.WriteJSON(w, apperrors.New(apperrors.ErrUnauthorized, "Invalid token"))
		return
	}

	var req service.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Username = claims.Username
	req.SponsorID = claims.SponsorID
	req.ClientIP = h.resolver.ClientIP(r)

	if err := h.auth.ChangePassword(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

type linkingCodeRequest struct {
	LinkingCode string `json:"linkingCode"`
}

type linkingCodeResponse struct {
	SponsorID   string `json:"sponsorId"`
	SponsorName string `json:"sponsorName"`
	PortalURL   string `json:"portalUrl"`
}

func (h *HTTPHandler) handleValidateLinkingCode(w http.ResponseWriter, r *http.Request) {
	var req linkingCodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	pattern, err := h.auth.ValidateLinkingCode(r.Context(), req.LinkingCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, linkingCodeResponse{
		SponsorID:   pattern.SponsorID,
		SponsorName: pattern.SponsorName,
		PortalURL:   pattern.PortalURL,
	})
}

// handleSession возвращает данные текущего токена
func (h *HTTPHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		apperrors.WriteJSON(w, apperrors.New(apperrors.ErrUnauthorized, "Invalid token"))
		return
	}

	h.writeJSON(w, http.StatusOK, claims)
}

// decode читает JSON тело запроса, при ошибке сам отвечает 400
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		h.logger.Debug("Invalid request body",
			logger.CtxField(r.Context()),
			logger.String("path", r.URL.Path),
			logger.Error(err))
		apperrors.WriteJSON(w, apperrors.New(apperrors.ErrValidation, "Invalid request body"))
		return false
	}
	return true
}

// writeError переводит ошибку сервиса в HTTP ответ
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *service.AuthError
	if errors.As(err, &authErr) {
		apperrors.WriteJSONWithRetry(w, authErr.AppError(), authErr.RetryAfterSeconds())
		return
	}

	h.logger.Error("Unexpected handler error",
		logger.CtxField(r.Context()),
		logger.String("path", r.URL.Path),
		logger.Error(err))
	apperrors.WriteJSON(w, apperrors.New(apperrors.ErrInternal, "Internal error"))
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}
