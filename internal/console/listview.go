// Package console holds the list workflow shared by every admin screen:
// load a page, search, paginate, and create/update/delete records, keeping a
// local copy that only changes once the backend confirms.
package console

import (
	"context"
	"sync"

	"github.com/inok-dev/inok-console/internal/notify"
	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

// Source is the collection a ListView works on. *sdk.Resource implements it.
type Source[T schema.Record] interface {
	List(ctx context.Context, q sdk.ListQuery) (*schema.Envelope[[]T], error)
	Create(ctx context.Context, input any) (*schema.Envelope[T], error)
	Update(ctx context.Context, id string, input any) (*schema.Envelope[T], error)
	Delete(ctx context.Context, id string) error
}

// ListView is the local state of one admin list. It is safe for concurrent
// use; when requests overlap, the last one to resolve wins.
type ListView[T schema.Record] struct {
	source    Source[T]
	presenter notify.Presenter

	mu    sync.RWMutex
	items []T
	meta  schema.Meta
	query sdk.ListQuery
}

// NewListView creates an empty view. p receives one notification per
// outcome; nil discards them.
func NewListView[T schema.Record](source Source[T], p notify.Presenter) *ListView[T] {
	if p == nil {
		p = notify.Discard
	}
	return &ListView[T]{source: source, presenter: p}
}

// Load fetches the page selected by q and replaces the local items and
// pagination with exactly what the backend returned.
func (v *ListView[T]) Load(ctx context.Context, q sdk.ListQuery) error {
	env, err := v.source.List(ctx, q)
	if err != nil {
		notify.Report(v.presenter, err)
		return err
	}

	meta := schema.Meta{Total: len(env.Data), PerPage: len(env.Data), CurrentPage: 1, LastPage: 1}
	if env.Meta != nil {
		meta = *env.Meta
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = append([]T(nil), env.Data...)
	v.meta = meta
	v.query = q
	return nil
}

// Reload repeats the last query.
func (v *ListView[T]) Reload(ctx context.Context) error {
	return v.Load(ctx, v.Query())
}

// Search loads the first page matching term.
func (v *ListView[T]) Search(ctx context.Context, term string) error {
	q := v.Query()
	q.Search = term
	q.Page = 1
	return v.Load(ctx, q)
}

// Page loads page n of the current query.
func (v *ListView[T]) Page(ctx context.Context, n int) error {
	q := v.Query()
	q.Page = n
	return v.Load(ctx, q)
}

// Create posts input and, once confirmed, puts the new record first.
func (v *ListView[T]) Create(ctx context.Context, input any) (T, error) {
	env, err := v.source.Create(ctx, input)
	if err != nil {
		notify.Report(v.presenter, err)
		var zero T
		return zero, err
	}

	v.mu.Lock()
	v.items = append([]T{env.Data}, v.items...)
	v.meta.Total++
	v.mu.Unlock()

	v.presenter.Success(successMessage(env.Message, "Registro criado com sucesso"))
	return env.Data, nil
}

// Update replaces record id and, once confirmed, swaps the local copy.
func (v *ListView[T]) Update(ctx context.Context, id string, input any) (T, error) {
	env, err := v.source.Update(ctx, id, input)
	if err != nil {
		notify.Report(v.presenter, err)
		var zero T
		return zero, err
	}

	v.mu.Lock()
	for i, item := range v.items {
		if item.RecordID() == id {
			v.items[i] = env.Data
			break
		}
	}
	v.mu.Unlock()

	v.presenter.Success(successMessage(env.Message, "Registro atualizado com sucesso"))
	return env.Data, nil
}

// Delete removes record id and, once confirmed, drops the local copy.
func (v *ListView[T]) Delete(ctx context.Context, id string) error {
	if err := v.source.Delete(ctx, id); err != nil {
		notify.Report(v.presenter, err)
		return err
	}

	v.mu.Lock()
	for i, item := range v.items {
		if item.RecordID() == id {
			v.items = append(v.items[:i:i], v.items[i+1:]...)
			if v.meta.Total > 0 {
				v.meta.Total--
			}
			break
		}
	}
	v.mu.Unlock()

	v.presenter.Success("Registro removido com sucesso")
	return nil
}

// Items returns a copy of the loaded records.
func (v *ListView[T]) Items() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]T(nil), v.items...)
}

// Meta returns the pagination state of the last load.
func (v *ListView[T]) Meta() schema.Meta {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.meta
}

// Query returns the query of the last successful load.
func (v *ListView[T]) Query() sdk.ListQuery {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.query
}

func successMessage(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}
