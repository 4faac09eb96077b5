// Package session owns the authentication lifecycle of a console process:
// who is logged in, whether that has been verified yet, and what roles they
// hold.
//
// A Store is constructed once at bootstrap around an API client and shared by
// every front-end in the process. The bearer token itself lives in the
// client; the Store keeps the user and follows the client's token clears, so
// a 401 on any call drops the user as well.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

var (
	// ErrNoSession is returned by Refresh when there is no token to validate.
	ErrNoSession = errors.New("session: not logged in")
	// ErrSuperseded is returned when the token was cleared or replaced while
	// a login or refresh was completing.
	ErrSuperseded = errors.New("session: token changed while authenticating")
)

// DefaultRoute is where Login sends the user when no route was remembered.
const DefaultRoute = "/"

// State is the resolution state of the session.
type State int

const (
	// Unresolved: Initialize has not finished yet.
	Unresolved State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// Gateway is the part of the API client the Store depends on.
// *sdk.Client implements it.
type Gateway interface {
	Token() string
	SetToken(token string) error
	RestoreToken() (string, error)
	OnTokenCleared(fn func())
	Storage() sdk.Storage

	Login(ctx context.Context, email, password string) (*schema.LoginResult, error)
	Register(ctx context.Context, req schema.RegisterRequest) (*schema.User, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (*schema.User, error)
}

// Config holds the optional settings of a Store.
type Config struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// DefaultRoute defaults to DefaultRoute.
	DefaultRoute string
}

// Store is the session store. It is safe for concurrent use.
type Store struct {
	gateway      Gateway
	logger       *slog.Logger
	defaultRoute string

	once  sync.Once
	ready chan struct{}

	mu       sync.RWMutex // Protects state, user and intended
	state    State
	user     *schema.User
	intended string
}

// New builds a Store around gateway and subscribes it to token clears.
func New(gateway Gateway, config Config) *Store {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	route := config.DefaultRoute
	if route == "" {
		route = DefaultRoute
	}

	s := &Store{
		gateway:      gateway,
		logger:       logger,
		defaultRoute: route,
		ready:        make(chan struct{}),
	}
	gateway.OnTokenCleared(s.dropUser)
	return s
}

// Initialize resolves the session from the persisted token. It runs once per
// Store; concurrent callers block until the first run finishes, later callers
// get the resolved state immediately.
func (s *Store) Initialize(ctx context.Context) State {
	s.once.Do(func() {
		defer close(s.ready)
		s.resolve(ctx)
	})
	return s.State()
}

func (s *Store) resolve(ctx context.Context) {
	token, err := s.gateway.RestoreToken()
	if err != nil {
		s.logger.Warn("session token unreadable, starting logged out", "error", err)
		s.clear()
		return
	}
	if token == "" {
		s.setState(nil, Unauthenticated)
		return
	}

	user, err := s.gateway.Profile(ctx)
	if err != nil {
		s.logger.Info("stored session rejected", "error", err)
		s.clear()
		return
	}
	if !s.authenticate(user, token) {
		s.setState(nil, Unauthenticated)
	}
}

// Wait blocks until Initialize has resolved the session or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loading reports whether resolution is still pending.
func (s *Store) Loading() bool {
	select {
	case <-s.ready:
		return false
	default:
		return true
	}
}

// Login exchanges credentials for a session and returns the route to go to
// next. On failure the session is left exactly as it was.
func (s *Store) Login(ctx context.Context, email, password string) (string, error) {
	s.Initialize(ctx)

	result, err := s.gateway.Login(ctx, email, password)
	if err != nil {
		return "", err
	}

	if err := s.gateway.SetToken(result.Token); err != nil {
		// The token is live in memory; only persistence failed.
		s.logger.Warn("session token not persisted", "error", err)
	}
	if !s.authenticate(result.User, result.Token) {
		return "", ErrSuperseded
	}

	s.mu.Lock()
	redirect := s.intended
	s.intended = ""
	s.mu.Unlock()
	if redirect == "" {
		redirect = s.defaultRoute
	}
	s.logger.Info("logged in", "user", result.User.Email, "role", result.User.Role)
	return redirect, nil
}

// Register creates an account. It does not log the new user in.
func (s *Store) Register(ctx context.Context, req schema.RegisterRequest) (*schema.User, error) {
	return s.gateway.Register(ctx, req)
}

// Logout ends the session. The backend is told on a best-effort basis; the
// local token and user are cleared whatever it answers. The returned error
// only reports a failure to clear the persisted session.
func (s *Store) Logout(ctx context.Context) error {
	s.Initialize(ctx)

	if s.gateway.Token() != "" {
		if err := s.gateway.Logout(ctx); err != nil {
			s.logger.Warn("backend logout failed", "error", err)
		}
	}
	return s.clear()
}

// Refresh re-fetches the profile. A failure logs the user out.
func (s *Store) Refresh(ctx context.Context) error {
	s.Initialize(ctx)

	token := s.gateway.Token()
	if token == "" {
		return ErrNoSession
	}
	user, err := s.gateway.Profile(ctx)
	if err != nil {
		s.clear()
		return err
	}
	if !s.authenticate(user, token) {
		return ErrSuperseded
	}
	return nil
}

// HasRole reports whether the current user's role is in roles. It is false
// when nobody is logged in.
func (s *Store) HasRole(roles schema.RoleSet) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && roles.Contains(s.user.Role)
}

// RememberRoute records where to send the user after the next login.
func (s *Store) RememberRoute(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intended = route
}

// CurrentUser returns a copy of the logged-in user, or nil.
func (s *Store) CurrentUser() *schema.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// State returns the resolution state of the session.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsAuthenticated reports whether a verified user is logged in.
func (s *Store) IsAuthenticated() bool {
	return s.State() == Authenticated
}

// Snapshot reads the user persisted by the last successful login or profile
// fetch. It is for offline display only; nil means no snapshot.
func (s *Store) Snapshot() (*schema.User, error) {
	storage := s.gateway.Storage()
	if storage == nil {
		return nil, nil
	}
	raw, err := storage.Get(sdk.UserKey)
	if errors.Is(err, sdk.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: reading user snapshot: %w", err)
	}
	var user schema.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("session: decoding user snapshot: %w", err)
	}
	return &user, nil
}

// authenticate stores user as the owner of token. It refuses, and reports
// false, when the client no longer holds token, so a user is never kept
// without the token it was verified with.
func (s *Store) authenticate(user *schema.User, token string) bool {
	u := *user

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gateway.Token() != token {
		return false
	}
	s.user = &u
	s.state = Authenticated

	storage := s.gateway.Storage()
	if storage == nil {
		return true
	}
	encoded, err := json.Marshal(u)
	if err == nil {
		err = storage.Set(sdk.UserKey, string(encoded))
	}
	if err != nil {
		s.logger.Warn("user snapshot not persisted", "error", err)
	}
	// A clear that ran while the snapshot was written has already deleted
	// it; do not leave ours behind.
	if s.gateway.Token() != token {
		storage.Delete(sdk.UserKey)
	}
	return true
}

// clear drops the token (and with it the snapshot) and the user.
func (s *Store) clear() error {
	err := s.gateway.SetToken("")
	s.setState(nil, Unauthenticated)
	if err != nil {
		s.logger.Error("clearing session", "error", err)
	}
	return err
}

// dropUser follows a token clear made by the client, e.g. on a 401.
func (s *Store) dropUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	if s.state == Authenticated {
		s.state = Unauthenticated
	}
}

func (s *Store) setState(user *schema.User, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.state = state
}
