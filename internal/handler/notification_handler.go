package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ifindlife/internal/model"
)

// PushPermissions stores whether a user accepts platform pushes
type PushPermissions interface {
	Permitted(ctx context.Context, userID string) (bool, error)
	SetPermission(ctx context.Context, userID string, allowed bool) error
}

type NotificationHandler interface {
	GetPushPermission(c *gin.Context)
	SetPushPermission(c *gin.Context)
}

type notificationHandler struct {
	permissions PushPermissions
}

func NewNotificationHandler(permissions PushPermissions) NotificationHandler {
	return &notificationHandler{permissions: permissions}
}

func (h *notificationHandler) GetPushPermission(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	allowed, err := h.permissions.Permitted(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		respond(c, http.StatusServiceUnavailable, nil, "Could not read push permission")
		return
	}
	respond(c, http.StatusOK, model.PushPermissionPayload{Allowed: allowed}, "Push permission retrieved")
}

func (h *notificationHandler) SetPushPermission(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var payload model.PushPermissionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "Invalid push permission")
		return
	}

	if err := h.permissions.SetPermission(c.Request.Context(), userID, payload.Allowed); err != nil {
		_ = c.Error(err)
		respond(c, http.StatusServiceUnavailable, nil, "Could not update push permission")
		return
	}
	respond(c, http.StatusOK, payload, "Push permission updated")
}
