package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ifindlife/internal/apperr"
	"ifindlife/internal/auth"
)

func respond(c *gin.Context, status int, body any, message string) {
	c.JSON(status, gin.H{
		"HttpStatusCode": status,
		"ResponseBody":   body,
		"IsSuccess":      status < http.StatusBadRequest,
		"Message":        message,
	})
}

// respondError writes err with the status of its application error code
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	message := "Internal server error"
	var code apperr.Code = apperr.CodeInternal

	var ae *apperr.Error
	if errors.As(err, &ae) {
		code = ae.Code
		if ae.Message != "" {
			message = ae.Message
		}
	}
	_ = c.Error(err)
	respond(c, status, gin.H{"code": code}, message)
}

func badRequest(c *gin.Context, message string) {
	respond(c, http.StatusBadRequest, gin.H{"code": apperr.CodeInvalidArgument}, message)
}

// caller returns the authenticated user or writes 401
func caller(c *gin.Context) (string, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		respond(c, http.StatusUnauthorized, gin.H{"code": apperr.CodeUnauthorized}, "Authentication required")
		return "", false
	}
	return userID, true
}

func pageParam(c *gin.Context) (int64, bool) {
	page, err := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	if err != nil || page < 1 {
		badRequest(c, "Invalid page number")
		return 0, false
	}
	return page, true
}
