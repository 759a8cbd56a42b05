package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ifindlife/internal/model"
	"ifindlife/internal/service"
)

type CallHandler interface {
	CreateCall(c *gin.Context)
	RespondToIncoming(c *gin.Context)
	StartCall(c *gin.Context)
	EndCall(c *gin.Context)
	ToggleMute(c *gin.Context)
	ToggleVideo(c *gin.Context)
	GetState(c *gin.Context)
	SendChat(c *gin.Context)
	GetTranscript(c *gin.Context)
	GetToken(c *gin.Context)
	GetHistory(c *gin.Context)
}

type callHandler struct {
	service service.CallService
}

func NewCallHandler(service service.CallService) CallHandler {
	return &callHandler{
		service: service,
	}
}

// CreateCall starts a consultation and rings the other party
// @Router /api/calls [post]
func (h *callHandler) CreateCall(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var payload model.CreateCallPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "Invalid call request")
		return
	}

	resp, err := h.service.CreateCall(c.Request.Context(), userID, payload)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, resp, "Call created")
}

// RespondToIncoming accepts or rejects an incoming call request
// @Router /api/calls/incoming/{requestId}/respond [post]
func (h *callHandler) RespondToIncoming(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var payload model.RespondIncomingPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "Invalid response")
		return
	}

	req, err := h.service.RespondToIncoming(c.Request.Context(), c.Param("requestId"), userID, payload.Accept)
	if err != nil {
		respondError(c, err)
		return
	}
	message := "Call rejected"
	if payload.Accept {
		message = "Call accepted"
	}
	respond(c, http.StatusOK, req, message)
}

// StartCall joins the caller's participant session to the channel
// @Router /api/calls/{callId}/start [post]
func (h *callHandler) StartCall(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var payload model.StartCallPayload
	if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid start request")
		return
	}

	state, err := h.service.StartParticipant(c.Request.Context(), c.Param("callId"), userID, payload.DisplayName)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, state, "Joined call")
}

// EndCall ends the call for both participants
// @Router /api/calls/{callId}/end [post]
func (h *callHandler) EndCall(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	result, err := h.service.EndCall(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result, "Call ended")
}

func (h *callHandler) ToggleMute(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	muted, err := h.service.ToggleMute(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"muted": muted}, "Microphone updated")
}

func (h *callHandler) ToggleVideo(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	off, err := h.service.ToggleVideo(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"videoOff": off}, "Camera updated")
}

func (h *callHandler) GetState(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	state, err := h.service.ParticipantState(c.Param("callId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, state, "Call state retrieved")
}

func (h *callHandler) SendChat(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var payload model.SendChatPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "Invalid chat message")
		return
	}

	msg, err := h.service.SendChat(c.Request.Context(), c.Param("callId"), userID, payload.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, msg, "Message sent")
}

func (h *callHandler) GetTranscript(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	msgs, err := h.service.Transcript(c.Param("callId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, msgs, "Transcript retrieved")
}

// GetToken issues a channel token for the caller's browser
// @Router /api/calls/{callId}/token [get]
func (h *callHandler) GetToken(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	tok, err := h.service.IssueToken(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, tok, "Token issued")
}

func (h *callHandler) GetHistory(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	page, ok := pageParam(c)
	if !ok {
		return
	}

	result, err := h.service.History(c.Request.Context(), userID, page)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result, "Call history retrieved")
}
