package approuters

import (
	"github.com/gin-gonic/gin"

	"ifindlife/internal/configuration"
)

func CallRouters(api *gin.RouterGroup, container *configuration.Container) {
	h := container.CallHandler

	callRoute := api.Group("/calls")
	{
		callRoute.POST("", h.CreateCall)
		callRoute.GET("/history", h.GetHistory)
		callRoute.POST("/incoming/:requestId/respond", h.RespondToIncoming)
	}

	sessionRoute := callRoute.Group("/:callId")
	{
		sessionRoute.POST("/start", h.StartCall)
		sessionRoute.POST("/end", h.EndCall)
		sessionRoute.POST("/mute", h.ToggleMute)
		sessionRoute.POST("/video", h.ToggleVideo)
		sessionRoute.GET("/state", h.GetState)
		sessionRoute.POST("/chat", h.SendChat)
		sessionRoute.GET("/chat", h.GetTranscript)
		sessionRoute.GET("/token", h.GetToken)
	}
}
