package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inok-dev/inok-console/internal/storage"
	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

var (
	adminOnly = schema.NewRoleSet(schema.RoleAdmin)
	userOnly  = schema.NewRoleSet(schema.RoleUser)
	staff     = schema.NewRoleSet(schema.RoleAdmin, schema.RoleManager)
)

// fakeAPI is a scripted backend. Handlers are keyed by "METHOD /path".
type fakeAPI struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
	auth     []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{handlers: map[string]http.HandlerFunc{}, hits: map[string]int{}}
}

func (f *fakeAPI) on(route string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[route] = h
}

func (f *fakeAPI) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[route]
}

func (f *fakeAPI) lastAuth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.auth) == 0 {
		return ""
	}
	return f.auth[len(f.auth)-1]
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.hits[route]++
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	h := f.handlers[route]
	f.mu.Unlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

const (
	adminProfile = `{"success":true,"data":{"id":"u1","name":"Ana","email":"a@b.com","role":"admin"}}`
	adminLogin   = `{"success":true,"data":{"user":{"id":"u1","name":"Ana","email":"a@b.com","role":"admin"},"token":"abc"}}`
)

type harness struct {
	api        *fakeAPI
	server     *httptest.Server
	storage    *storage.MemStore
	client     *sdk.Client
	store      *Store
	navigation atomic.Int32
}

func newHarness(t *testing.T, api *fakeAPI, store *storage.MemStore) *harness {
	t.Helper()
	if store == nil {
		store = storage.NewMemStore()
	}
	h := &harness{api: api, storage: store}
	h.server = httptest.NewServer(api)
	t.Cleanup(h.server.Close)

	client, err := sdk.NewClient(sdk.ClientConfig{
		BaseURL:   h.server.URL + "/api",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Storage:   store,
		Navigator: sdk.NavigatorFunc(func() { h.navigation.Add(1) }),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	h.client = client
	h.store = New(client, Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	return h
}

func (h *harness) storedToken(t *testing.T) string {
	t.Helper()
	token, err := h.storage.Get(sdk.TokenKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return ""
	}
	if err != nil {
		t.Fatalf("reading token: %v", err)
	}
	return token
}

func TestInitialize_NoToken(t *testing.T) {
	api := newFakeAPI()
	h := newHarness(t, api, nil)

	if !h.store.Loading() {
		t.Fatal("Expected the store to be loading before Initialize")
	}
	if got := h.store.Initialize(context.Background()); got != Unauthenticated {
		t.Fatalf("Expected unauthenticated, got %s", got)
	}
	if h.store.Loading() {
		t.Error("Expected loading to be over")
	}
	if api.count("GET /api/auth/profile") != 0 {
		t.Error("Profile must not be fetched without a token")
	}
}

func TestInitialize_TokenRoundTrip(t *testing.T) {
	api := newFakeAPI()
	api.on("GET /api/auth/profile", reply(200, adminProfile))
	api.on("GET /api/identities", reply(200, `{"success":true,"data":[]}`))

	shared := storage.NewMemStore()
	first := newHarness(t, api, shared)
	if err := first.client.SetToken("t-123"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	// A fresh client and store over the same storage simulate a restart.
	second := newHarness(t, api, shared)
	if got := second.store.Initialize(context.Background()); got != Authenticated {
		t.Fatalf("Expected authenticated, got %s", got)
	}
	if api.lastAuth() != "Bearer t-123" {
		t.Errorf("Profile sent %q", api.lastAuth())
	}

	if _, err := sdk.Identities(second.client).List(context.Background(), sdk.ListQuery{}); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if api.lastAuth() != "Bearer t-123" {
		t.Errorf("Expected restored token on the next request, got %q", api.lastAuth())
	}

	snap, err := second.store.Snapshot()
	if err != nil || snap == nil || snap.ID != "u1" {
		t.Errorf("Expected a persisted snapshot for u1, got %+v (%v)", snap, err)
	}
}

func TestInitialize_RejectedToken(t *testing.T) {
	api := newFakeAPI()
	api.on("GET /api/auth/profile", reply(401, `{"message":"expired"}`))

	shared := storage.NewMemStore()
	shared.Set(sdk.TokenKey, "stale")
	shared.Set(sdk.UserKey, `{"id":"u1"}`)
	h := newHarness(t, api, shared)

	if got := h.store.Initialize(context.Background()); got != Unauthenticated {
		t.Fatalf("Expected unauthenticated, got %s", got)
	}
	if tok := h.storedToken(t); tok != "" {
		t.Errorf("Expected storage to hold no token, got %q", tok)
	}
	if _, err := shared.Get(sdk.UserKey); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Error("Expected the user snapshot to be cleared")
	}
	if h.client.Token() != "" {
		t.Error("Expected no in-memory token")
	}
	if h.store.CurrentUser() != nil {
		t.Error("Expected no current user")
	}
}

func TestInitialize_FailureClearsToken(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", reply(500, `{"message":"boom"}`)},
		{"success false", reply(200, `{"success":false,"message":"no"}`)},
		{"missing user", reply(200, `{"success":true}`)},
		{"not json", reply(200, `<html>`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI()
			api.on("GET /api/auth/profile", tc.handler)
			shared := storage.NewMemStore()
			shared.Set(sdk.TokenKey, "t")
			h := newHarness(t, api, shared)

			if got := h.store.Initialize(context.Background()); got != Unauthenticated {
				t.Fatalf("Expected unauthenticated, got %s", got)
			}
			if tok := h.storedToken(t); tok != "" {
				t.Errorf("Expected token cleared, got %q", tok)
			}
		})
	}
}

func TestInitialize_RunsOnce(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	api.on("GET /api/auth/profile", func(w http.ResponseWriter, r *http.Request) {
		<-release
		reply(200, adminProfile)(w, r)
	})
	shared := storage.NewMemStore()
	shared.Set(sdk.TokenKey, "t")
	h := newHarness(t, api, shared)

	var wg sync.WaitGroup
	states := make([]State, 5)
	for i := range states {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i] = h.store.Initialize(context.Background())
		}(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.store.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected Wait to block while resolving, got %v", err)
	}

	close(release)
	wg.Wait()
	for i, s := range states {
		if s != Authenticated {
			t.Errorf("caller %d got %s", i, s)
		}
	}
	if err := h.store.Wait(context.Background()); err != nil {
		t.Errorf("Wait after resolution: %v", err)
	}
	h.store.Initialize(context.Background())
	if n := api.count("GET /api/auth/profile"); n != 1 {
		t.Errorf("Expected one profile fetch, got %d", n)
	}
}

func TestLogin_Admin(t *testing.T) {
	api := newFakeAPI()
	api.on("POST /api/auth/login", reply(200, adminLogin))
	h := newHarness(t, api, nil)

	redirect, err := h.store.Login(context.Background(), "a@b.com", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if redirect != DefaultRoute {
		t.Errorf("Expected default route, got %q", redirect)
	}
	if !h.store.IsAuthenticated() {
		t.Error("Expected authenticated")
	}
	if !h.store.HasRole(adminOnly) {
		t.Error("Expected HasRole(admin)")
	}
	if h.store.HasRole(userOnly) {
		t.Error("Expected !HasRole(user)")
	}
	if h.client.Token() != "abc" || h.storedToken(t) != "abc" {
		t.Errorf("Expected token abc in memory and storage")
	}
}

func TestLogin_RememberedRoute(t *testing.T) {
	api := newFakeAPI()
	api.on("POST /api/auth/login", reply(200, adminLogin))
	h := newHarness(t, api, nil)

	h.store.RememberRoute("/agents")
	redirect, err := h.store.Login(context.Background(), "a@b.com", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if redirect != "/agents" {
		t.Errorf("Expected /agents, got %q", redirect)
	}

	// The route is used once.
	redirect, _ = h.store.Login(context.Background(), "a@b.com", "secret")
	if redirect != DefaultRoute {
		t.Errorf("Expected default route on second login, got %q", redirect)
	}
}

func TestLogin_FailureKeepsState(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"bad credentials", reply(401, `{"success":false,"message":"Credenciais inválidas"}`)},
		{"validation", reply(422, `{"success":false,"message":"Email é obrigatório"}`)},
		{"success false", reply(200, `{"success":false,"message":"Conta bloqueada"}`)},
		{"missing token", reply(200, `{"success":true,"data":{"user":{"id":"x"}}}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI()
			api.on("POST /api/auth/login", reply(200, adminLogin))
			h := newHarness(t, api, nil)
			if _, err := h.store.Login(context.Background(), "a@b.com", "secret"); err != nil {
				t.Fatalf("first login failed: %v", err)
			}
			before := h.store.CurrentUser()

			api.on("POST /api/auth/login", tc.handler)
			if _, err := h.store.Login(context.Background(), "a@b.com", "wrong"); err == nil {
				t.Fatal("Expected login to fail")
			}

			after := h.store.CurrentUser()
			if after == nil || *after != *before {
				t.Errorf("user changed: %+v -> %+v", before, after)
			}
			if h.client.Token() != "abc" || h.storedToken(t) != "abc" {
				t.Error("token changed")
			}
			if !h.store.IsAuthenticated() {
				t.Error("state changed")
			}
			if h.navigation.Load() != 0 {
				t.Error("failed login must not navigate")
			}
		})
	}
}

func TestLogin_FailureWhenLoggedOut(t *testing.T) {
	api := newFakeAPI()
	api.on("POST /api/auth/login", reply(401, `{"message":"Credenciais inválidas"}`))
	h := newHarness(t, api, nil)

	_, err := h.store.Login(context.Background(), "a@b.com", "wrong")
	if err == nil || err.Error() != "Credenciais inválidas" {
		t.Fatalf("Expected the backend message, got %v", err)
	}
	if errors.Is(err, sdk.ErrReauthenticate) {
		t.Error("credential failure must not look like an expired session")
	}
	if h.store.State() != Unauthenticated || h.store.CurrentUser() != nil || h.client.Token() != "" {
		t.Error("state changed on failed login")
	}
}

func TestLogout_AlwaysClears(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"ok", reply(200, `{"success":true}`)},
		{"server error", reply(500, `boom`)},
		{"unauthorized", reply(401, ``)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI()
			api.on("POST /api/auth/login", reply(200, adminLogin))
			api.on("POST /api/auth/logout", tc.handler)
			h := newHarness(t, api, nil)
			h.store.Login(context.Background(), "a@b.com", "secret")

			if err := h.store.Logout(context.Background()); err != nil {
				t.Fatalf("Logout returned %v", err)
			}
			if h.client.Token() != "" || h.storedToken(t) != "" {
				t.Error("Expected token cleared")
			}
			if h.store.CurrentUser() != nil || h.store.IsAuthenticated() {
				t.Error("Expected user cleared")
			}
			if snap, _ := h.store.Snapshot(); snap != nil {
				t.Error("Expected snapshot cleared")
			}
		})
	}
}

func TestLogout_TransportFailure(t *testing.T) {
	api := newFakeAPI()
	api.on("POST /api/auth/login", reply(200, adminLogin))
	h := newHarness(t, api, nil)
	h.store.Login(context.Background(), "a@b.com", "secret")

	h.server.Close()
	if err := h.store.Logout(context.Background()); err != nil {
		t.Fatalf("Logout returned %v", err)
	}
	if h.client.Token() != "" || h.store.CurrentUser() != nil {
		t.Error("Expected a cleared session after an unreachable backend")
	}
}

func TestUnauthorizedCascade(t *testing.T) {
	api := newFakeAPI()
	api.on("POST /api/auth/login", reply(200, adminLogin))
	api.on("DELETE /api/agents/7", reply(401, `{"message":"expired"}`))
	h := newHarness(t, api, nil)
	h.store.Login(context.Background(), "a@b.com", "secret")

	err := sdk.Agents(h.client).Delete(context.Background(), "7")
	if !errors.Is(err, sdk.ErrReauthenticate) {
		t.Fatalf("Expected reauthenticate error, got %v", err)
	}
	if h.store.IsAuthenticated() || h.store.CurrentUser() != nil {
		t.Error("Expected the store to follow the token clear")
	}
	if h.store.HasRole(adminOnly) {
		t.Error("HasRole must be false after the session expired")
	}
	if h.navigation.Load() != 1 {
		t.Errorf("Expected one navigation, got %d", h.navigation.Load())
	}
}

func TestRefresh(t *testing.T) {
	api := newFakeAPI()
	api.on("POST /api/auth/login", reply(200, adminLogin))
	h := newHarness(t, api, nil)

	if err := h.store.Refresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Expected ErrNoSession, got %v", err)
	}

	h.store.Login(context.Background(), "a@b.com", "secret")
	api.on("GET /api/auth/profile", reply(200,
		`{"success":true,"data":{"id":"u1","name":"Ana","email":"a@b.com","role":"manager"}}`))
	if err := h.store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if h.store.HasRole(adminOnly) || !h.store.HasRole(staff) {
		t.Error("Expected the refreshed role to be manager")
	}

	api.on("GET /api/auth/profile", reply(500, `{"message":"down"}`))
	if err := h.store.Refresh(context.Background()); err == nil {
		t.Fatal("Expected Refresh to fail")
	}
	if h.store.IsAuthenticated() || h.client.Token() != "" {
		t.Error("Expected a failed refresh to log out")
	}
}

func TestRegister_DoesNotAuthenticate(t *testing.T) {
	api := newFakeAPI()
	var body schema.RegisterRequest
	api.on("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		reply(201, `{"success":true,"data":{"id":"u9","name":"Bia","email":"b@c.com","role":"user"}}`)(w, r)
	})
	h := newHarness(t, api, nil)
	h.store.Initialize(context.Background())

	user, err := h.store.Register(context.Background(), schema.RegisterRequest{Name: "Bia", Email: "b@c.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.ID != "u9" {
		t.Errorf("unexpected user %+v", user)
	}
	if body.Role != schema.RoleUser {
		t.Errorf("Expected default role user, got %q", body.Role)
	}
	if h.store.IsAuthenticated() || h.client.Token() != "" {
		t.Error("Register must not log in")
	}
}

func TestHasRole_TotalAndPure(t *testing.T) {
	sets := []schema.RoleSet{
		schema.NewRoleSet(),
		adminOnly,
		userOnly,
		staff,
		schema.NewRoleSet(schema.RoleAdmin, schema.RoleManager, schema.RoleUser),
	}

	api := newFakeAPI()
	h := newHarness(t, api, nil)
	for _, set := range sets {
		if h.store.HasRole(set) {
			t.Errorf("HasRole(%s) must be false without a user", set)
		}
	}

	for _, role := range []schema.Role{schema.RoleAdmin, schema.RoleManager, schema.RoleUser} {
		t.Run(string(role), func(t *testing.T) {
			api := newFakeAPI()
			api.on("POST /api/auth/login", reply(200,
				`{"success":true,"data":{"user":{"id":"u","email":"x@y.z","role":"`+string(role)+`"},"token":"t"}}`))
			h := newHarness(t, api, nil)
			h.store.Login(context.Background(), "x@y.z", "pw")

			for _, set := range sets {
				want := strings.Contains(set.String(), string(role))
				first, second := h.store.HasRole(set), h.store.HasRole(set)
				if first != want || second != first {
					t.Errorf("HasRole(%s) = %v, %v; want %v", set, first, second, want)
				}
			}
			if schema.NewRoleSet(role) != schema.NewRoleSet(role) {
				t.Error("equal role sets must compare equal")
			}
		})
	}
}

// gatedStorage blocks the first write of token until release is closed.
type gatedStorage struct {
	*storage.MemStore
	token   string
	gated   chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStorage) Set(key, value string) error {
	if key == sdk.TokenKey && value == g.token {
		g.once.Do(func() {
			close(g.gated)
			<-g.release
		})
	}
	return g.MemStore.Set(key, value)
}

func TestLogin_ConcurrentExpiry(t *testing.T) {
	api := newFakeAPI()
	api.on("POST /api/auth/login", reply(200, adminLogin))
	api.on("GET /api/agents", reply(401, `{"message":"expired"}`))
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	gs := &gatedStorage{MemStore: storage.NewMemStore(), token: "abc", gated: make(chan struct{}), release: make(chan struct{})}
	client, err := sdk.NewClient(sdk.ClientConfig{
		BaseURL: server.URL + "/api",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Storage: gs,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	store := New(client, Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	loginDone := make(chan error, 1)
	go func() {
		_, err := store.Login(context.Background(), "a@b.com", "secret")
		loginDone <- err
	}()
	<-gs.gated

	// The token is live in memory while its write is held, so this request
	// carries it and its 401 belongs to the new session.
	getDone := make(chan error, 1)
	go func() {
		_, err := client.Get(context.Background(), "agents")
		getDone <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for api.count("GET /api/agents") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gs.release)

	if err := <-getDone; !sdk.IsKind(err, sdk.KindUnauthorized) {
		t.Errorf("Expected an unauthorized error, got %v", err)
	}
	if err := <-loginDone; err != nil && !errors.Is(err, ErrSuperseded) {
		t.Errorf("unexpected login error %v", err)
	}

	if client.Token() != "" {
		t.Errorf("Expected the expired token cleared, got %q", client.Token())
	}
	if _, err := gs.Get(sdk.TokenKey); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Error("expired token left in storage")
	}
	if snap, err := store.Snapshot(); err != nil || snap != nil {
		t.Errorf("user snapshot left behind: %+v (%v)", snap, err)
	}
	if store.IsAuthenticated() || store.CurrentUser() != nil {
		t.Error("a user is set without a token")
	}
}

func TestLogin_StaleExpiryKeepsSession(t *testing.T) {
	received := make(chan struct{})
	release := make(chan struct{})
	api := newFakeAPI()
	api.on("POST /api/auth/login", reply(200, adminLogin))
	api.on("GET /api/agents", func(w http.ResponseWriter, r *http.Request) {
		close(received)
		<-release
		reply(401, `{"message":"expired"}`)(w, r)
	})
	store := storage.NewMemStore()
	store.Set(sdk.TokenKey, "old")
	h := newHarness(t, api, store)
	h.client.RestoreToken()

	getDone := make(chan error, 1)
	go func() {
		_, err := h.client.Get(context.Background(), "agents")
		getDone <- err
	}()
	<-received

	api.on("GET /api/auth/profile", reply(200, adminProfile))
	if _, err := h.store.Login(context.Background(), "a@b.com", "secret"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	close(release)
	<-getDone

	if !h.store.IsAuthenticated() || h.client.Token() != "abc" || h.storedToken(t) != "abc" {
		t.Error("a 401 for the previous token ended the new session")
	}
	if h.navigation.Load() != 0 {
		t.Errorf("Expected no navigation, got %d", h.navigation.Load())
	}
}
