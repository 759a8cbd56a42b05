package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ifindlife/internal/model"
	"ifindlife/internal/service"
)

type MessageHandler interface {
	SendMessage(c *gin.Context)
	GetConversation(c *gin.Context)
	MarkRead(c *gin.Context)
}

type messageHandler struct {
	service service.MessageService
}

func NewMessageHandler(service service.MessageService) MessageHandler {
	return &messageHandler{
		service: service,
	}
}

func (h *messageHandler) SendMessage(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var payload model.SendMessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "Invalid message")
		return
	}

	msg, err := h.service.Send(c.Request.Context(), userID, payload)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, msg, "Message sent")
}

func (h *messageHandler) GetConversation(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	page, ok := pageParam(c)
	if !ok {
		return
	}

	msgs, err := h.service.Conversation(c.Request.Context(), userID, c.Param("otherId"), page)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, msgs, "Messages retrieved")
}

func (h *messageHandler) MarkRead(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	n, err := h.service.MarkRead(c.Request.Context(), userID, c.Param("otherId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, model.MarkReadResponse{Count: n}, "Messages marked as read")
}
