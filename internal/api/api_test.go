package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/inok-dev/inok-console/internal/backend"
	"github.com/inok-dev/inok-console/internal/engine"
	"github.com/inok-dev/inok-console/internal/notify"
	"github.com/inok-dev/inok-console/internal/session"
	"github.com/inok-dev/inok-console/internal/storage"
	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

const (
	testOrigin = "http://localhost:5173"
	evilOrigin = "https://evil.example"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Meta    *schema.Meta    `json:"meta"`
}

type testConsole struct {
	router   *gin.Engine
	upstream *httptest.Server
	backend  *backend.Server
	client   *sdk.Client
	session  *session.Store
	feed     *notify.Feed
}

func setupTestRouter(t *testing.T) *testConsole {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	be := backend.New(backend.Config{
		Store:      engine.NewMemStore(nil, nil),
		Logger:     logger,
		BcryptCost: bcrypt.MinCost,
	})
	if _, err := be.SeedAdmin("Admin", "admin@inok.dev", "secret"); err != nil {
		t.Fatalf("SeedAdmin failed: %v", err)
	}
	upstream := httptest.NewServer(be.Handler())
	t.Cleanup(upstream.Close)

	client, err := sdk.NewClient(sdk.ClientConfig{
		BaseURL: upstream.URL + "/api",
		Logger:  logger,
		Storage: storage.NewMemStore(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	store := session.New(client, session.Config{Logger: logger})
	store.Initialize(context.Background())

	feed := notify.NewFeed(0, time.Minute)
	h := &Handler{Session: store, Client: client, Presenter: feed, Feed: feed}
	return &testConsole{
		router:   NewRouter(h, logger, []string{testOrigin}),
		upstream: upstream,
		backend:  be,
		client:   client,
		session:  store,
		feed:     feed,
	}
}

func (tc *testConsole) do(t *testing.T, method, path string, body any, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	tc.router.ServeHTTP(w, req)

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func (tc *testConsole) login(t *testing.T, email, password string) string {
	t.Helper()
	w, env := tc.do(t, "POST", "/api/session/login", schema.LoginRequest{Email: email, Password: password})
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	var data struct {
		Redirect string `json:"redirect"`
	}
	json.Unmarshal(env.Data, &data)
	return data.Redirect
}

func TestSession_GuardAndRedirect(t *testing.T) {
	tc := setupTestRouter(t)

	w, env := tc.do(t, "GET", "/api/session", nil)
	if w.Code != http.StatusOK || !bytes.Contains(env.Data, []byte(`"state":"unauthenticated"`)) {
		t.Fatalf("unexpected session %d %s", w.Code, w.Body.String())
	}

	w, env = tc.do(t, "GET", "/api/resources/agents", nil, RouteHeader, "/agents")
	if w.Code != http.StatusUnauthorized || !bytes.Contains(env.Data, []byte(`"redirect":"/login"`)) {
		t.Fatalf("Expected 401 with a login redirect, got %d %s", w.Code, w.Body.String())
	}

	if redirect := tc.login(t, "admin@inok.dev", "secret"); redirect != "/agents" {
		t.Errorf("Expected to return to /agents, got %q", redirect)
	}

	w, env = tc.do(t, "GET", "/api/session", nil)
	if !bytes.Contains(env.Data, []byte(`"role":"admin"`)) {
		t.Errorf("Expected the admin in the session, got %s", w.Body.String())
	}
}

func TestLogin_Failure(t *testing.T) {
	tc := setupTestRouter(t)

	w, env := tc.do(t, "POST", "/api/session/login", schema.LoginRequest{Email: "admin@inok.dev", Password: "nope"})
	if w.Code != http.StatusUnauthorized || env.Message != "Credenciais inválidas" {
		t.Fatalf("Expected 401 Credenciais inválidas, got %d %s", w.Code, w.Body.String())
	}
	if tc.session.IsAuthenticated() {
		t.Error("failed login must not authenticate")
	}

	notes := tc.feed.Drain()
	if len(notes) != 1 || notes[0].Level != notify.LevelError || notes[0].Message != "Credenciais inválidas" {
		t.Errorf("Expected exactly one failure notification, got %+v", notes)
	}
}

func TestResources_CRUD(t *testing.T) {
	tc := setupTestRouter(t)
	tc.login(t, "admin@inok.dev", "secret")
	tc.feed.Drain()

	w, env := tc.do(t, "POST", "/api/resources/agents", map[string]any{"model": "gpt"})
	if w.Code != http.StatusUnprocessableEntity || env.Message != "Nome é obrigatório" {
		t.Fatalf("Expected 422 Nome é obrigatório, got %d %s", w.Code, w.Body.String())
	}

	w, env = tc.do(t, "POST", "/api/resources/agents", map[string]any{"name": "Atendente", "config": map[string]any{"temperature": 0.3}})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %s", w.Code, w.Body.String())
	}
	var agent schema.Agent
	json.Unmarshal(env.Data, &agent)

	w, env = tc.do(t, "PUT", "/api/resources/agents/"+string(agent.ID), map[string]any{"name": "Suporte"})
	json.Unmarshal(env.Data, &agent)
	if w.Code != http.StatusOK || agent.Name != "Suporte" {
		t.Errorf("update failed: %d %s", w.Code, w.Body.String())
	}

	w, env = tc.do(t, "GET", "/api/resources/agents?per_page=10", nil)
	want := schema.Meta{Total: 1, PerPage: 10, CurrentPage: 1, LastPage: 1}
	if w.Code != http.StatusOK || env.Meta == nil || *env.Meta != want {
		t.Errorf("unexpected list %d %s", w.Code, w.Body.String())
	}

	w, _ = tc.do(t, "GET", "/api/resources/agents/"+string(agent.ID), nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	w, _ = tc.do(t, "DELETE", "/api/resources/agents/"+string(agent.ID), nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	w, env = tc.do(t, "GET", "/api/resources/agents/"+string(agent.ID), nil)
	if w.Code != http.StatusNotFound || env.Message != "Registro não encontrado" {
		t.Errorf("Expected 404, got %d %s", w.Code, w.Body.String())
	}

	w, _ = tc.do(t, "GET", "/api/resources/robots", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown kind, got %d", w.Code)
	}

	// One notification per outcome: 422, create, update, delete, 404.
	if n := len(tc.feed.Drain()); n != 5 {
		t.Errorf("Expected 5 notifications, got %d", n)
	}
}

func TestResources_UsersRequireAdmin(t *testing.T) {
	tc := setupTestRouter(t)

	w, _ := tc.do(t, "POST", "/api/register", schema.RegisterRequest{Name: "Bia", Email: "b@c.com", Password: "pw"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %s", w.Code, w.Body.String())
	}
	if tc.session.IsAuthenticated() {
		t.Fatal("register must not log in")
	}

	tc.login(t, "b@c.com", "pw")
	w, env := tc.do(t, "GET", "/api/resources/users", nil)
	if w.Code != http.StatusForbidden || env.Message != "Permissão negada" {
		t.Errorf("Expected 403, got %d %s", w.Code, w.Body.String())
	}

	tc.do(t, "POST", "/api/session/logout", nil)
	tc.login(t, "admin@inok.dev", "secret")
	w, env = tc.do(t, "GET", "/api/resources/users", nil)
	if w.Code != http.StatusOK || env.Meta == nil || env.Meta.Total != 2 {
		t.Errorf("Expected both users, got %d %s", w.Code, w.Body.String())
	}
}

func TestChat(t *testing.T) {
	tc := setupTestRouter(t)
	tc.login(t, "admin@inok.dev", "secret")

	_, env := tc.do(t, "POST", "/api/resources/conversations", map[string]any{"name": "Suporte"})
	var conv schema.Conversation
	json.Unmarshal(env.Data, &conv)

	w, _ := tc.do(t, "POST", "/api/chat", map[string]any{"conversation_id": conv.ID})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without content, got %d", w.Code)
	}

	w, env = tc.do(t, "POST", "/api/chat", map[string]any{"conversation_id": conv.ID, "content": "Olá"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d %s", w.Code, w.Body.String())
	}
	var messages []schema.Message
	json.Unmarshal(env.Data, &messages)
	if len(messages) != 1 || messages[0].Content != "Olá" || messages[0].ConversationID != conv.ID {
		t.Errorf("unexpected messages %+v", messages)
	}
}

func TestExpiredUpstreamSession(t *testing.T) {
	tc := setupTestRouter(t)
	tc.login(t, "admin@inok.dev", "secret")

	// The backend forgets the token behind the console's back.
	if _, err := tc.client.Post(context.Background(), sdk.PathLogout, struct{}{}); err != nil {
		t.Fatalf("backend logout failed: %v", err)
	}

	w, env := tc.do(t, "GET", "/api/resources/agents", nil)
	if w.Code != http.StatusUnauthorized || !bytes.Contains(env.Data, []byte(`"redirect":"/login"`)) {
		t.Fatalf("Expected 401 with redirect, got %d %s", w.Code, w.Body.String())
	}
	if tc.session.IsAuthenticated() || tc.client.Token() != "" {
		t.Error("Expected the session to be cleared by the 401")
	}
}

func TestUpstreamDown(t *testing.T) {
	tc := setupTestRouter(t)
	tc.login(t, "admin@inok.dev", "secret")
	tc.upstream.Close()

	w, env := tc.do(t, "GET", "/api/resources/agents", nil)
	if w.Code != http.StatusBadGateway || env.Success {
		t.Errorf("Expected 502, got %d %s", w.Code, w.Body.String())
	}
	if !tc.session.IsAuthenticated() {
		t.Error("a transport failure must not end the session")
	}
}

func TestNotificationsAndCORS(t *testing.T) {
	tc := setupTestRouter(t)
	tc.feed.Success("olá")

	w, env := tc.do(t, "GET", "/api/notifications", nil)
	var notes []notify.Notification
	json.Unmarshal(env.Data, &notes)
	if w.Code != http.StatusOK || len(notes) != 1 || notes[0].Message != "olá" {
		t.Errorf("unexpected notifications %s", w.Body.String())
	}

	w, _ = tc.do(t, "OPTIONS", "/api/session", nil, "Origin", testOrigin)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != testOrigin {
		t.Errorf("Expected a CORS preflight answer for %s, got %d %q", testOrigin, w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORS_ForeignOrigin(t *testing.T) {
	tc := setupTestRouter(t)
	tc.login(t, "admin@inok.dev", "secret")

	for _, method := range []string{"OPTIONS", "GET", "POST"} {
		w, env := tc.do(t, method, "/api/resources/agents", map[string]any{"name": "x"}, "Origin", evilOrigin)
		if w.Code != http.StatusForbidden || env.Message != "Origem não permitida" {
			t.Errorf("%s: expected 403, got %d %s", method, w.Code, w.Body.String())
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("%s: foreign origin allowed with %q", method, got)
		}
	}

	// The console's own pages are same-origin.
	req, _ := http.NewRequest("GET", "http://127.0.0.1:7100/api/session", nil)
	req.Header.Set("Origin", "http://127.0.0.1:7100")
	w := httptest.NewRecorder()
	tc.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected same-origin access, got %d", w.Code)
	}
}

func TestRegister_OnlyOrdinaryAccounts(t *testing.T) {
	tc := setupTestRouter(t)
	tc.login(t, "admin@inok.dev", "secret")

	// Even with an admin logged in, self-service sign-up cannot grant a role.
	for _, role := range []schema.Role{schema.RoleAdmin, schema.RoleManager} {
		w, env := tc.do(t, "POST", "/api/register", schema.RegisterRequest{Name: "Eve", Email: "eve@evil.example", Password: "pw", Role: role})
		if w.Code != http.StatusForbidden || env.Message != "Permissão negada" {
			t.Errorf("%s: expected 403, got %d %s", role, w.Code, w.Body.String())
		}
	}
	w, _ := tc.do(t, "POST", "/api/register", schema.RegisterRequest{Name: "Eve", Email: "eve@evil.example", Password: "pw"}, "Origin", evilOrigin)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected a foreign origin refused, got %d", w.Code)
	}

	w, env := tc.do(t, "POST", "/api/register", schema.RegisterRequest{Name: "Bia", Email: "bia@inok.dev", Password: "pw"}, "Origin", testOrigin)
	var user schema.User
	json.Unmarshal(env.Data, &user)
	if w.Code != http.StatusCreated || user.Role != schema.RoleUser {
		t.Errorf("Expected an ordinary account, got %d %s", w.Code, w.Body.String())
	}
	if !tc.session.IsAuthenticated() || tc.session.CurrentUser().Email != "admin@inok.dev" {
		t.Error("registering must leave the admin session alone")
	}
}

func TestRequireJSON(t *testing.T) {
	tc := setupTestRouter(t)

	req, _ := http.NewRequest("POST", "/api/register", strings.NewReader("name=Eve&role=admin"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	tc.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected 415 for a form post, got %d", w.Code)
	}

	req, _ = http.NewRequest("POST", "/api/session/login", strings.NewReader(`{"email":"admin@inok.dev","password":"secret"}`))
	req.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	tc.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType || tc.session.IsAuthenticated() {
		t.Errorf("Expected 415 for text/plain, got %d", w.Code)
	}
}

func TestSession_Loading(t *testing.T) {
	tc := setupTestRouter(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pending := session.New(tc.client, session.Config{Logger: logger})
	h := &Handler{Session: pending, Client: tc.client, Presenter: tc.feed, Feed: tc.feed}
	router := NewRouter(h, logger, nil)
	tc.feed.Success("um")
	tc.feed.Success("dois")

	req, _ := http.NewRequest("GET", "/api/session", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	var view struct {
		Loading       bool `json:"loading"`
		Authenticated bool `json:"authenticated"`
		Notifications int  `json:"notifications"`
	}
	json.Unmarshal(env.Data, &view)
	if w.Code != http.StatusOK || !view.Loading || view.Authenticated || view.Notifications != 2 {
		t.Errorf("unexpected session view %s", w.Body.String())
	}

	pending.Initialize(context.Background())
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"loading":false`)) {
		t.Errorf("Expected loading to end, got %s", w.Body.String())
	}
}
