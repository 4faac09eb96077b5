package api

import (
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inok-dev/inok-console/internal/session"
	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

const (
	ctxCollection = "collection"

	// RouteHeader lets the UI name the page it was on, so the user returns
	// there after logging in.
	RouteHeader = "X-Inok-Route"
)

var adminOnly = schema.NewRoleSet(schema.RoleAdmin)

// CORS lets the browser UI call the daemon from the listed origins. Requests
// carrying any other Origin, other than same-origin ones, are refused: the
// daemon acts with the logged-in operator's token, so a foreign page must not
// reach it.
func CORS(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[strings.TrimRight(o, "/")] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !origins[origin] && !sameOrigin(origin, c.Request.Host) {
			fail(c, http.StatusForbidden, "Origem não permitida")
			return
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Add("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, "+RouteHeader)
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && u.Host == host
}

// RequireJSON refuses request bodies that are not JSON, so a cross-site form
// post cannot pass as an API call.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			c.Next()
			return
		}
		if c.Request.ContentLength == 0 {
			c.Next()
			return
		}
		mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
		if err != nil || mediaType != "application/json" {
			fail(c, http.StatusUnsupportedMediaType, "Conteúdo deve ser application/json")
			return
		}
		c.Next()
	}
}

// RequireSession holds requests until the session is resolved and answers
// 401 with a login redirect when nobody is logged in.
func RequireSession(s *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Wait(c.Request.Context()); err != nil {
			fail(c, http.StatusServiceUnavailable, "Sessão ainda carregando")
			return
		}
		if !s.IsAuthenticated() {
			route := c.GetHeader(RouteHeader)
			if route == "" {
				route = c.Request.URL.Path
			}
			s.RememberRoute(route)
			unauthorized(c, "Não autenticado")
			return
		}
		c.Next()
	}
}

// ResolveCollection picks the collection named by :kind. The users
// collection is restricted to admins.
func ResolveCollection(s *session.Store, client *sdk.Client) gin.HandlerFunc {
	known := collections(client)
	return func(c *gin.Context) {
		kind := c.Param("kind")
		coll, ok := known[kind]
		if !ok {
			fail(c, http.StatusNotFound, "Recurso desconhecido")
			return
		}
		if kind == sdk.PathUsers && !s.HasRole(adminOnly) {
			fail(c, http.StatusForbidden, "Permissão negada")
			return
		}
		c.Set(ctxCollection, coll)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, schema.Envelope[any]{
		Success: false,
		Data:    gin.H{"redirect": LoginRoute},
		Message: message,
	})
}
