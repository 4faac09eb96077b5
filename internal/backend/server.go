// Package backend is a reference implementation of the INOK REST API, used
// for local development (cmd/inok-backend) and as the counterpart of the
// client and console integration tests.
//
// Every response is a schema.Envelope. Validation failures answer 422 with a
// Portuguese message, mirroring the production API.
package backend

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/inok-dev/inok-console/internal/engine"
	"github.com/inok-dev/inok-console/internal/observability"
	"github.com/inok-dev/inok-console/pkg/schema"
)

// timeLayout is fixed-width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Config configures a Server.
type Config struct {
	// Store holds every collection. Required.
	Store engine.Store
	// Logger defaults to the observability logger.
	Logger *slog.Logger
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// SessionTTL bounds token lifetime. Zero means tokens never expire.
	SessionTTL time.Duration
	// LoginsPerMinute throttles login attempts per client address. Zero
	// disables throttling.
	LoginsPerMinute int
}

// Server serves the API over an engine.Store.
type Server struct {
	store      engine.Store
	logger     *slog.Logger
	bcryptCost int
	sessionTTL time.Duration
	limiter    *loginLimiter
	now        func() time.Time
}

// New creates a Server.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = observability.Logger()
	}
	cost := config.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Server{
		store:      config.Store,
		logger:     logger,
		bcryptCost: cost,
		sessionTTL: config.SessionTTL,
		limiter:    newLoginLimiter(config.LoginsPerMinute),
		now:        time.Now,
	}
}

// Handler returns a gin engine serving the API under /api.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), observability.Middleware(s.logger))
	s.Mount(r.Group("/api"))
	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "Rota não encontrada")
	})
	return r
}

// Mount registers the API routes on group.
func (s *Server) Mount(group *gin.RouterGroup) {
	auth := group.Group("/auth")
	{
		auth.POST("/login", s.limiter.middleware(), s.login)
		auth.POST("/register", s.optionalAuth(), s.register)
		auth.POST("/logout", s.requireAuth(), s.logout)
		auth.GET("/profile", s.requireAuth(), s.profile)
	}

	protected := group.Group("", s.requireAuth())
	for _, spec := range collections {
		routes := protected.Group("/" + spec.name)
		if spec.name == collectionUsers {
			routes.Use(s.requireRole(schema.NewRoleSet(schema.RoleAdmin)))
		}
		routes.GET("", s.list(spec))
		routes.GET("/:id", s.get(spec))
		routes.DELETE("/:id", s.remove(spec))
		if spec.name == collectionUsers {
			routes.POST("", s.createUser)
			routes.PUT("/:id", s.updateUser)
			continue
		}
		routes.POST("", s.create(spec))
		routes.PUT("/:id", s.update(spec))
	}

	conversations := protected.Group("/" + collectionConversations + "/:id/messages")
	{
		conversations.GET("", s.listMessages)
		conversations.POST("", s.postMessage)
	}
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// ok writes a success envelope.
func ok(c *gin.Context, status int, data any, message string) {
	c.JSON(status, schema.Envelope[any]{Success: true, Data: data, Message: message})
}

// fail aborts with an error envelope.
func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, schema.Envelope[any]{Success: false, Message: message})
}

// internalError logs err and answers 500 without leaking details.
func (s *Server) internalError(c *gin.Context, err error) {
	observability.LoggerFromContext(c.Request.Context()).Error("backend failure",
		"path", c.Request.URL.Path, "error", err)
	fail(c, http.StatusInternalServerError, "Erro interno do servidor")
}
