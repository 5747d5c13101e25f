package v1

import (
	"github.com/gin-gonic/gin"

	"jan-server/services/dm-api/internal/interfaces/httpserver/handlers"
)

// Routes holds the v1 route configuration.
type Routes struct {
	handlers *handlers.Provider
}

// NewRoutes creates a new v1 routes instance.
func NewRoutes(handlerProvider *handlers.Provider) *Routes {
	return &Routes{handlers: handlerProvider}
}

// Register registers all v1 routes on the engine behind authMiddleware.
func (r *Routes) Register(engine *gin.Engine, authMiddleware gin.HandlerFunc) {
	v1 := engine.Group("/v1")
	v1.Use(authMiddleware)
	RegisterConversationRoutes(v1, r.handlers.Conversation, r.handlers.Message, r.handlers.Stream)
}
