package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inok-dev/inok-console/internal/observability"
)

// NewRouter wires the console routes. origins lists the browser origins
// allowed to call them.
func NewRouter(h *Handler, logger *slog.Logger, origins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), observability.Middleware(logger), CORS(origins), RequireJSON())

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/session", h.GetSession)
		apiGroup.POST("/session/login", h.Login)
		apiGroup.POST("/session/logout", h.Logout)
		apiGroup.POST("/register", h.Register)
		apiGroup.GET("/notifications", h.Notifications)
	}

	guarded := apiGroup.Group("", RequireSession(h.Session))
	{
		guarded.POST("/session/refresh", h.Refresh)
		guarded.POST("/chat", h.Chat)

		resources := guarded.Group("/resources/:kind", ResolveCollection(h.Session, h.Client))
		resources.GET("", h.ListResources)
		resources.POST("", h.CreateResource)
		resources.GET("/:id", h.GetResource)
		resources.PUT("/:id", h.UpdateResource)
		resources.DELETE("/:id", h.DeleteResource)
	}

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "API route not found")
	})
	return r
}
