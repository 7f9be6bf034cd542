package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authd/internal/handlers/render"
	"github.com/nkiryanov/authd/internal/handlers/userctx"
	"github.com/nkiryanov/authd/internal/logger"
)

type rotationService interface {
	RotateUser(ctx context.Context, userID uuid.UUID, reason string, actor string) (int64, error)
	RotateGlobal(ctx context.Context, reason string, actor string, gracePeriod time.Duration) (int64, error)
}

// AdminHandler exposes the operator-triggered breach rotations
type AdminHandler struct {
	rotation rotationService
	logger   logger.Logger
}

func NewAdmin(rotation rotationService, l logger.Logger) *AdminHandler {
	if l == nil {
		l = logger.NewNoOp()
	}
	return &AdminHandler{rotation: rotation, logger: l}
}

type rotationResponse struct {
	NewVersion int64 `json:"new_version"`
}

func (h *AdminHandler) RotateUser(w http.ResponseWriter, r *http.Request) {
	type rotateUserRequest struct {
		UserID uuid.UUID `json:"user_id" validate:"required"`
		Reason string    `json:"reason" validate:"required,max=255"`
	}

	actorID, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := render.BindAndValidate[rotateUserRequest](w, r)
	if err != nil {
		return
	}

	version, err := h.rotation.RotateUser(r.Context(), data.UserID, data.Reason, actorID.String())
	if err != nil {
		h.logger.Error("user rotation failed", "user_id", data.UserID, "error", err.Error())
		render.ServiceError(w, "Rotation failed", http.StatusInternalServerError)
		return
	}

	render.JSON(w, rotationResponse{NewVersion: version})
}

func (h *AdminHandler) RotateGlobal(w http.ResponseWriter, r *http.Request) {
	type rotateGlobalRequest struct {
		Reason string `json:"reason" validate:"required,max=255"`

		// Advisory window communicated to users; enforcement is immediate
		GracePeriodSec int64 `json:"grace_period_sec" validate:"min=0"`
	}

	actorID, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := render.BindAndValidate[rotateGlobalRequest](w, r)
	if err != nil {
		return
	}

	grace := time.Duration(data.GracePeriodSec) * time.Second
	version, err := h.rotation.RotateGlobal(r.Context(), data.Reason, actorID.String(), grace)
	if err != nil {
		h.logger.Error("global rotation failed", "error", err.Error())
		render.ServiceError(w, "Rotation failed", http.StatusInternalServerError)
		return
	}

	render.JSON(w, rotationResponse{NewVersion: version})
}
