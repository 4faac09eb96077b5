package sdk

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/inok-dev/inok-console/internal/storage"
)

// Options configures Open.
type Options struct {
	// BaseURL of the API. Falls back to INOK_API_URL.
	BaseURL string
	// SessionFile is where the token is persisted. Falls back to
	// INOK_SESSION_FILE; when both are empty the session lives in memory.
	SessionFile string
	// Sealer encrypts persisted values. Optional.
	Sealer storage.Sealer
	// Timeout bounds each HTTP exchange. Zero means no client-side timeout.
	Timeout   time.Duration
	Navigator Navigator
	Logger    *slog.Logger
}

// Open builds a Client from options and the environment.
// It returns the Client wired to a file-backed store, so the front-end
// doesn't care where the token lives.
func Open(opts Options) (*Client, error) {
	// 1. Resolve the API location
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("INOK_API_URL")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("sdk: no API URL configured (set INOK_API_URL)")
	}

	// 2. Pick the persisted storage
	path := opts.SessionFile
	if path == "" {
		path = os.Getenv("INOK_SESSION_FILE")
	}
	var store Storage
	if path != "" {
		fs, err := storage.NewFileStore(path, opts.Sealer)
		if err != nil {
			return nil, fmt.Errorf("sdk: opening session file: %w", err)
		}
		store = fs
	} else {
		// Fallback to an in-process store; nothing survives a restart.
		store = storage.NewMemStore()
	}

	return NewClient(ClientConfig{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		Logger:     opts.Logger,
		Storage:    store,
		Navigator:  opts.Navigator,
	})
}
