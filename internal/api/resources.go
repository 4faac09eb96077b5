package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

// collection erases the record type of an sdk.Resource so one set of
// handlers serves every kind.
type collection interface {
	list(ctx context.Context, q sdk.ListQuery) (any, *schema.Meta, error)
	get(ctx context.Context, id string) (any, error)
	create(ctx context.Context, body json.RawMessage) (any, string, error)
	update(ctx context.Context, id string, body json.RawMessage) (any, string, error)
	remove(ctx context.Context, id string) error
}

type typedCollection[T schema.Record] struct {
	resource *sdk.Resource[T]
}

func (t typedCollection[T]) list(ctx context.Context, q sdk.ListQuery) (any, *schema.Meta, error) {
	env, err := t.resource.List(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	data := env.Data
	if data == nil {
		data = []T{}
	}
	return data, env.Meta, nil
}

func (t typedCollection[T]) get(ctx context.Context, id string) (any, error) {
	env, err := t.resource.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (t typedCollection[T]) create(ctx context.Context, body json.RawMessage) (any, string, error) {
	env, err := t.resource.Create(ctx, body)
	if err != nil {
		return nil, "", err
	}
	return env.Data, env.Message, nil
}

func (t typedCollection[T]) update(ctx context.Context, id string, body json.RawMessage) (any, string, error) {
	env, err := t.resource.Update(ctx, id, body)
	if err != nil {
		return nil, "", err
	}
	return env.Data, env.Message, nil
}

func (t typedCollection[T]) remove(ctx context.Context, id string) error {
	return t.resource.Delete(ctx, id)
}

// collections returns the kinds served under /api/resources.
func collections(c *sdk.Client) map[string]collection {
	return map[string]collection{
		sdk.PathIdentities:    typedCollection[schema.Identity]{sdk.Identities(c)},
		sdk.PathConversations: typedCollection[schema.Conversation]{sdk.Conversations(c)},
		sdk.PathAgents:        typedCollection[schema.Agent]{sdk.Agents(c)},
		sdk.PathDatabases:     typedCollection[schema.Database]{sdk.Databases(c)},
		sdk.PathMemories:      typedCollection[schema.Memory]{sdk.Memories(c)},
		sdk.PathDataFlows:     typedCollection[schema.DataFlow]{sdk.DataFlows(c)},
		sdk.PathUsers:         typedCollection[schema.User]{sdk.Users(c)},
	}
}

// collection resolves :kind, answering 404 for unknown kinds.
func (h *Handler) collection(c *gin.Context) collection {
	v, _ := c.Get(ctxCollection)
	coll, _ := v.(collection)
	if coll == nil {
		fail(c, http.StatusNotFound, "Recurso desconhecido")
	}
	return coll
}
