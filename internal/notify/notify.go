// Package notify is the one place where call outcomes become user-facing
// notifications. The API client only returns typed errors; front-ends hand
// them to a Presenter through Report.
package notify

import (
	"context"
	"errors"

	"github.com/inok-dev/inok-console/pkg/sdk"
)

// Presenter displays transient notifications.
type Presenter interface {
	Success(message string)
	Failure(err error)
}

// Report shows err through p unless it was shown already. API errors carry a
// reported flag, so a failure handed to Report by several layers surfaces
// once. Cancellations are not failures the user needs to see.
func Report(p Presenter, err error) {
	if err == nil || p == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) && !apiErr.MarkReported() {
		return
	}
	p.Failure(err)
}

// Multi fans notifications out to several presenters.
type Multi []Presenter

func (m Multi) Success(message string) {
	for _, p := range m {
		p.Success(message)
	}
}

func (m Multi) Failure(err error) {
	for _, p := range m {
		p.Failure(err)
	}
}

// Discard drops every notification.
var Discard Presenter = discard{}

type discard struct{}

func (discard) Success(string) {}
func (discard) Failure(error) {}
