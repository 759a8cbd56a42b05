package approuters

import (
	"github.com/gin-gonic/gin"

	"ifindlife/internal/configuration"
)

func MessageRouters(api *gin.RouterGroup, container *configuration.Container) {
	messageRoute := api.Group("/messages")
	{
		messageRoute.POST("", container.MessageHandler.SendMessage)
		messageRoute.GET("/:otherId", container.MessageHandler.GetConversation)
		messageRoute.PUT("/:otherId/read", container.MessageHandler.MarkRead)
	}

	// Push permissions live in Redis; without it the routes are not mounted
	if container.NotificationHandler == nil {
		return
	}
	notificationRoute := api.Group("/notifications")
	{
		notificationRoute.GET("/push-permission", container.NotificationHandler.GetPushPermission)
		notificationRoute.PUT("/push-permission", container.NotificationHandler.SetPushPermission)
	}
}
