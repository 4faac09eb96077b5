// Package api serves the console daemon: the JSON routes a browser UI calls
// for its session, the admin collections, chat and notifications. Every call
// goes through the process-wide session store and API client.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/inok-dev/inok-console/internal/notify"
	"github.com/inok-dev/inok-console/internal/session"
	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

// LoginRoute is where unauthenticated browsers are sent.
const LoginRoute = "/login"

type Handler struct {
	Session   *session.Store
	Client    *sdk.Client
	Presenter notify.Presenter
	Feed      *notify.Feed
}

// sessionView is the data of GET /api/session.
type sessionView struct {
	State         string       `json:"state"`
	Loading       bool         `json:"loading"`
	Authenticated bool         `json:"authenticated"`
	User          *schema.User `json:"user,omitempty"`
	Notifications int          `json:"notifications"`
}

// GetSession answers at once, also while the stored session is still being
// verified; the UI shows its loading state until loading turns false.
func (h *Handler) GetSession(c *gin.Context) {
	ok(c, http.StatusOK, sessionView{
		State:         h.Session.State().String(),
		Loading:       h.Session.Loading(),
		Authenticated: h.Session.IsAuthenticated(),
		User:          h.Session.CurrentUser(),
		Notifications: h.Feed.Len(),
	}, "")
}

func (h *Handler) Login(c *gin.Context) {
	var input schema.LoginRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}

	redirect, err := h.Session.Login(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.Presenter.Success("Login realizado com sucesso")
	ok(c, http.StatusOK, gin.H{"user": h.Session.CurrentUser(), "redirect": redirect}, "")
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.Session.Logout(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"redirect": LoginRoute}, "Sessão encerrada")
}

func (h *Handler) Refresh(c *gin.Context) {
	if err := h.Session.Refresh(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, h.Session.CurrentUser(), "")
}

func (h *Handler) Register(c *gin.Context) {
	var input schema.RegisterRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	// Self-service sign-up only creates ordinary accounts. Privileged ones
	// go through the admin-only users collection.
	if input.Role != "" && input.Role != schema.RoleUser {
		fail(c, http.StatusForbidden, "Permissão negada")
		return
	}
	input.Role = schema.RoleUser
	user, err := h.Session.Register(c.Request.Context(), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.Presenter.Success("Cadastro realizado, faça login para continuar")
	ok(c, http.StatusCreated, user, "")
}

func (h *Handler) ListResources(c *gin.Context) {
	coll := h.collection(c)
	if coll == nil {
		return
	}
	q := sdk.ListQuery{Search: c.Query("search"), Filters: map[string]string{}}
	for key, values := range c.Request.URL.Query() {
		switch key {
		case "page":
			q.Page, _ = strconv.Atoi(values[0])
		case "per_page":
			q.PerPage, _ = strconv.Atoi(values[0])
		case "search":
		default:
			q.Filters[key] = values[0]
		}
	}

	data, meta, err := coll.list(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema.Envelope[any]{Success: true, Data: data, Meta: meta})
}

func (h *Handler) GetResource(c *gin.Context) {
	coll := h.collection(c)
	if coll == nil {
		return
	}
	data, err := coll.get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, data, "")
}

func (h *Handler) CreateResource(c *gin.Context) {
	coll := h.collection(c)
	if coll == nil {
		return
	}
	body, good := rawBody(c)
	if !good {
		return
	}
	data, message, err := coll.create(c.Request.Context(), body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.Presenter.Success(orDefault(message, "Registro criado com sucesso"))
	ok(c, http.StatusCreated, data, message)
}

func (h *Handler) UpdateResource(c *gin.Context) {
	coll := h.collection(c)
	if coll == nil {
		return
	}
	body, good := rawBody(c)
	if !good {
		return
	}
	data, message, err := coll.update(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.Presenter.Success(orDefault(message, "Registro atualizado com sucesso"))
	ok(c, http.StatusOK, data, message)
}

func (h *Handler) DeleteResource(c *gin.Context) {
	coll := h.collection(c)
	if coll == nil {
		return
	}
	if err := coll.remove(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	h.Presenter.Success("Registro removido com sucesso")
	ok(c, http.StatusOK, nil, "Registro removido com sucesso")
}

// Chat forwards one user message to its conversation.
func (h *Handler) Chat(c *gin.Context) {
	var input struct {
		ConversationID string `json:"conversation_id" binding:"required"`
		Content        string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "conversation_id e content são obrigatórios")
		return
	}
	env, err := sdk.SendMessage(c.Request.Context(), h.Client, input.ConversationID, input.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, env.Data, env.Message)
}

// Notifications drains the notification feed.
func (h *Handler) Notifications(c *gin.Context) {
	ok(c, http.StatusOK, h.Feed.Drain(), "")
}

func rawBody(c *gin.Context) (json.RawMessage, bool) {
	var body json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 || body[0] != '{' {
		fail(c, http.StatusBadRequest, "Corpo da requisição inválido")
		return nil, false
	}
	return body, true
}

// writeError maps a failed call onto the daemon's response and reports it
// once through the presenter.
func (h *Handler) writeError(c *gin.Context, err error) {
	notify.Report(h.Presenter, err)

	var apiErr *sdk.APIError
	switch {
	case errors.As(err, &apiErr):
		switch apiErr.Kind {
		case sdk.KindUnauthorized:
			unauthorized(c, apiErr.Message)
		case sdk.KindResponse:
			status := apiErr.Status
			if status < 400 {
				// success:false inside a 2xx answer
				status = http.StatusUnprocessableEntity
			}
			fail(c, status, apiErr.Message)
		default:
			fail(c, http.StatusBadGateway, apiErr.Message)
		}
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrSuperseded):
		unauthorized(c, "Não autenticado")
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

func orDefault(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}

func ok(c *gin.Context, status int, data any, message string) {
	c.JSON(status, schema.Envelope[any]{Success: true, Data: data, Message: message})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, schema.Envelope[any]{Success: false, Message: message})
}
