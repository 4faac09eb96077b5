package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/inok-dev/inok-console/pkg/schema"
)

// Collection paths of the INOK API.
const (
	PathIdentities    = "identities"
	PathConversations = "conversations"
	PathAgents        = "agents"
	PathDatabases     = "databases"
	PathMemories      = "memories"
	PathDataFlows     = "data-flows"
	PathUsers         = "users"
)

// ListQuery selects a page of a collection.
type ListQuery struct {
	Page    int
	PerPage int
	Search  string
	Filters map[string]string
}

// Values encodes the query the way the backend expects it.
func (q ListQuery) Values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Set(k, q.Filters[k])
	}
	return v
}

// Resource is a client scoped to one collection. It "remembers" the
// collection path and decodes data into T.
type Resource[T schema.Record] struct {
	client *Client
	path   string
}

// NewResource scopes c to the collection at path.
func NewResource[T schema.Record](c *Client, path string) *Resource[T] {
	return &Resource[T]{client: c, path: path}
}

func Identities(c *Client) *Resource[schema.Identity] {
	return NewResource[schema.Identity](c, PathIdentities)
}

func Conversations(c *Client) *Resource[schema.Conversation] {
	return NewResource[schema.Conversation](c, PathConversations)
}

func Agents(c *Client) *Resource[schema.Agent] {
	return NewResource[schema.Agent](c, PathAgents)
}

func Databases(c *Client) *Resource[schema.Database] {
	return NewResource[schema.Database](c, PathDatabases)
}

func Memories(c *Client) *Resource[schema.Memory] {
	return NewResource[schema.Memory](c, PathMemories)
}

func DataFlows(c *Client) *Resource[schema.DataFlow] {
	return NewResource[schema.DataFlow](c, PathDataFlows)
}

func Users(c *Client) *Resource[schema.User] {
	return NewResource[schema.User](c, PathUsers)
}

// List fetches one page. The returned envelope carries the backend's Meta.
func (r *Resource[T]) List(ctx context.Context, q ListQuery) (*schema.Envelope[[]T], error) {
	return call[[]T](ctx, r.client, http.MethodGet, r.path, nil, WithQuery(q.Values()))
}

// Get fetches one record.
func (r *Resource[T]) Get(ctx context.Context, id string) (*schema.Envelope[T], error) {
	return call[T](ctx, r.client, http.MethodGet, r.itemPath(id), nil)
}

// Create posts input and returns the created record.
func (r *Resource[T]) Create(ctx context.Context, input any) (*schema.Envelope[T], error) {
	return call[T](ctx, r.client, http.MethodPost, r.path, input)
}

// Update replaces the record id with input.
func (r *Resource[T]) Update(ctx context.Context, id string, input any) (*schema.Envelope[T], error) {
	return call[T](ctx, r.client, http.MethodPut, r.itemPath(id), input)
}

// Delete removes the record id.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](ctx, r.client, http.MethodDelete, r.itemPath(id), nil)
	return err
}

func (r *Resource[T]) itemPath(id string) string {
	return r.path + "/" + url.PathEscape(id)
}

// SendMessage appends a user message to a conversation and returns the
// messages the backend produced for it.
func SendMessage(ctx context.Context, c *Client, conversationID, content string) (*schema.Envelope[[]schema.Message], error) {
	path := PathConversations + "/" + url.PathEscape(conversationID) + "/messages"
	body := map[string]string{"content": content, "role": "user"}
	return call[[]schema.Message](ctx, c, http.MethodPost, path, body)
}

// call performs one request and converts the envelope into a typed one. A
// well-formed envelope with success=false becomes a KindResponse error
// carrying its message, so callers of the typed helpers never see
// unsuccessful data.
func call[T any](ctx context.Context, c *Client, method, path string, body any, opts ...RequestOption) (*schema.Envelope[T], error) {
	env, err := c.Do(ctx, method, path, body, opts...)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request was not successful"
		}
		return nil, &APIError{Kind: KindResponse, Method: method, Path: path, Status: http.StatusOK, Message: msg}
	}
	typed, err := schema.As[T](env)
	if err != nil {
		return nil, &APIError{Kind: KindDecode, Method: method, Path: path, Message: "invalid response data", Err: err}
	}
	return typed, nil
}
