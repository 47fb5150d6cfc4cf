package router

import (
	"github.com/gin-gonic/gin"

	"github.com/mendhq/mend/internal/http/handler"
	"github.com/mendhq/mend/internal/http/handler/webhook"
	"github.com/mendhq/mend/internal/store"
	hook "github.com/mendhq/mend/internal/webhook"
)

type RouterConfig struct {
	Verifier    *hook.Verifier
	EventRouter webhook.EventRouter
	Jobs        store.JobStore
}

func SetupRoutes(router *gin.Engine, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	webhookHandler := webhook.NewGitHubWebhookHandler(cfg.Verifier, cfg.EventRouter)
	router.POST("/webhooks/github", webhookHandler.HandleEvent)

	v1 := router.Group("/api/v1")
	{
		jobHandler := handler.NewJobHandler(cfg.Jobs)
		v1.GET("/jobs", jobHandler.List)
		v1.GET("/jobs/:id", jobHandler.Get)
	}
}
