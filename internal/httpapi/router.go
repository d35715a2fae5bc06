package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hferrand/chatstream/internal/chat"
	"github.com/hferrand/chatstream/internal/httpapi/handlers"
	"github.com/hferrand/chatstream/internal/store/rabbitmq"
)

func NewRouter(svc *chat.Service, jobs *rabbitmq.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	h := handlers.NewHandler(svc, jobs)

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:id/messages", h.ListConversationMessages)
	api.POST("/chat", h.Chat)
	api.POST("/chat/async", h.ChatAsync)
	api.GET("/jobs/:job_id", h.GetJob)

	r.GET("/ws/chat", h.ChatWebSocket)

	return r
}
