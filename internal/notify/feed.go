package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inok-dev/inok-console/pkg/sdk"
)

// Level of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one entry of a Feed.
type Notification struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Kind    string    `json:"kind,omitempty"`
	Status  int       `json:"status,omitempty"`
	Time    time.Time `json:"time"`
}

// Feed buffers notifications until a browser polls for them. It keeps at most
// max entries and forgets entries older than ttl.
type Feed struct {
	mu    sync.Mutex
	items []Notification
	max   int
	ttl   time.Duration
	now   func() time.Time
}

// NewFeed creates a feed. Non-positive max or ttl select 50 entries and
// 30 seconds.
func NewFeed(max int, ttl time.Duration) *Feed {
	if max <= 0 {
		max = 50
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Feed{max: max, ttl: ttl, now: time.Now}
}

func (f *Feed) Success(message string) {
	f.push(Notification{Level: LevelSuccess, Message: message})
}

func (f *Feed) Failure(err error) {
	n := Notification{Level: LevelError, Message: err.Error()}
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		n.Kind = apiErr.Kind.String()
		n.Status = apiErr.Status
	}
	f.push(n)
}

func (f *Feed) push(n Notification) {
	n.ID = uuid.NewString()
	n.Time = f.now()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if len(f.items) > f.max {
		f.items = f.items[len(f.items)-f.max:]
	}
}

// Drain returns the live notifications, oldest first, and empties the feed.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := f.now().Add(-f.ttl)
	out := make([]Notification, 0, len(f.items))
	for _, n := range f.items {
		if n.Time.After(cutoff) {
			out = append(out, n)
		}
	}
	f.items = nil
	return out
}

// Len reports how many notifications are buffered, expired ones included.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
