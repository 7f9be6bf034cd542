package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authd/internal/apperrors"
	"github.com/nkiryanov/authd/internal/handlers/render"
	"github.com/nkiryanov/authd/internal/handlers/userctx"
	"github.com/nkiryanov/authd/internal/logger"
	"github.com/nkiryanov/authd/internal/models"
	"github.com/nkiryanov/authd/internal/service/auth"
	"github.com/nkiryanov/authd/internal/service/session"
)

type authService interface {
	Register(ctx context.Context, username string, password string, device auth.DeviceInfo) (models.TokenPair, error)
	Login(ctx context.Context, username string, password string, device auth.DeviceInfo) (models.TokenPair, error)
	Refresh(ctx context.Context, rawRefresh string, device auth.DeviceInfo) (models.TokenPair, error)
	Logout(ctx context.Context, rawRefresh string) error
	LogoutEverywhere(ctx context.Context, userID uuid.UUID) error
	ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) error
}

type sessionService interface {
	ListActive(ctx context.Context, userID uuid.UUID) ([]session.Session, error)
}

type AuthHandler struct {
	auth     authService
	sessions sessionService
	logger   logger.Logger
}

func NewAuth(auth authService, sessions sessionService, l logger.Logger) *AuthHandler {
	if l == nil {
		l = logger.NewNoOp()
	}
	return &AuthHandler{auth: auth, sessions: sessions, logger: l}
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func toTokenPairResponse(pair models.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	type registerRequest struct {
		Login    string `json:"login" validate:"required,min=2,max=150"`
		Password string `json:"password" validate:"required,min=8"`
	}

	data, err := render.BindAndValidate[registerRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.auth.Register(r.Context(), data.Login, data.Password, deviceInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
		default:
			h.logger.Error("register failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, toTokenPairResponse(pair))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	type loginRequest struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	data, err := render.BindAndValidate[loginRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.auth.Login(r.Context(), data.Login, data.Password, deviceInfo(r))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	render.JSON(w, toTokenPairResponse(pair))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	type refreshRequest struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	data, err := render.BindAndValidate[refreshRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.auth.Refresh(r.Context(), data.RefreshToken, deviceInfo(r))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	render.JSON(w, toTokenPairResponse(pair))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	type logoutRequest struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	type logoutResponse struct {
		Message string `json:"message"`
	}

	data, err := render.BindAndValidate[logoutRequest](w, r)
	if err != nil {
		return
	}

	err = h.auth.Logout(r.Context(), data.RefreshToken)
	if err != nil && !errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
		h.writeAuthError(w, err)
		return
	}

	render.JSON(w, logoutResponse{Message: "Logged out"})
}

func (h *AuthHandler) LogoutEverywhere(w http.ResponseWriter, r *http.Request) {
	type logoutEverywhereResponse struct {
		Message string `json:"message"`
	}

	userID, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.auth.LogoutEverywhere(r.Context(), userID); err != nil {
		h.logger.Error("logout everywhere failed", "user_id", userID, "error", err.Error())
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, logoutEverywhereResponse{Message: "All sessions revoked"})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	type changePasswordRequest struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8"`
	}
	type changePasswordResponse struct {
		Message string `json:"message"`
	}

	userID, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := render.BindAndValidate[changePasswordRequest](w, r)
	if err != nil {
		return
	}

	if err := h.auth.ChangePassword(r.Context(), userID, data.CurrentPassword, data.NewPassword); err != nil {
		h.writeAuthError(w, err)
		return
	}

	render.JSON(w, changePasswordResponse{Message: "Password changed, other sessions revoked"})
}

func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	type sessionResponse struct {
		ID         uuid.UUID  `json:"id"`
		Device     string     `json:"device"`
		IP         string     `json:"ip"`
		IssuedAt   time.Time  `json:"issued_at"`
		ExpiresAt  time.Time  `json:"expires_at"`
		LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	}

	userID, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessions, err := h.sessions.ListActive(r.Context(), userID)
	if err != nil {
		h.logger.Error("session listing failed", "error", err.Error())
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, sessionResponse{
			ID:         s.ID,
			Device:     s.Device,
			IP:         s.IP,
			IssuedAt:   s.IssuedAt,
			ExpiresAt:  s.ExpiresAt,
			LastUsedAt: s.LastUsedAt,
		})
	}

	render.JSON(w, response)
}

// writeAuthError maps service errors to statuses. Failures stay uniform:
// the response does not reveal which check rejected the credential, with
// the deliberate exception of a locked account
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrAccountLocked):
		render.ServiceError(w, "Account locked", http.StatusLocked)
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		h.logger.Error("auth operation indeterminate", "error", err.Error())
		render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, apperrors.ErrInvalidCredentials),
		errors.Is(err, apperrors.ErrTokenExpired),
		errors.Is(err, apperrors.ErrTokenMalformed),
		errors.Is(err, apperrors.ErrTokenVersionStale),
		errors.Is(err, apperrors.ErrTokenReuseDetected),
		errors.Is(err, apperrors.ErrRefreshTokenNotFound),
		errors.Is(err, apperrors.ErrRefreshTokenExpired):
		render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
	default:
		h.logger.Error("auth operation failed", "error", err.Error())
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func deviceInfo(r *http.Request) auth.DeviceInfo {
	return auth.DeviceInfo{
		Device: r.UserAgent(),
		IP:     userctx.ClientIP(r),
	}
}
