package schema

import (
	"encoding/json"
	"fmt"
)

// Envelope is the uniform response shape of every INOK API call. Data is
// only meaningful when Success is true.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta carries pagination state for list responses.
type Meta struct {
	Total       int `json:"total"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
}

// UnmarshalJSON accepts both the snake_case keys the backend emits and the
// camelCase keys older deployments used.
func (m *Meta) UnmarshalJSON(b []byte) error {
	var raw struct {
		Total        int  `json:"total"`
		PerPage      *int `json:"per_page"`
		CurrentPage  *int `json:"current_page"`
		LastPage     *int `json:"last_page"`
		PerPageC     *int `json:"perPage"`
		CurrentPageC *int `json:"currentPage"`
		LastPageC    *int `json:"lastPage"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Total = raw.Total
	m.PerPage = firstInt(raw.PerPage, raw.PerPageC)
	m.CurrentPage = firstInt(raw.CurrentPage, raw.CurrentPageC)
	m.LastPage = firstInt(raw.LastPage, raw.LastPageC)
	return nil
}

func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// NewMeta computes pagination for total records split into pages of perPage.
func NewMeta(total, perPage, page int) Meta {
	if perPage <= 0 {
		perPage = 1
	}
	last := (total + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	return Meta{Total: total, PerPage: perPage, CurrentPage: page, LastPage: last}
}

// As converts a raw envelope into a typed one. Data is decoded only when the
// envelope reports success and carries a payload.
func As[T any](env *Envelope[json.RawMessage]) (*Envelope[T], error) {
	out := &Envelope[T]{Success: env.Success, Message: env.Message, Meta: env.Meta}
	if !env.Success || len(env.Data) == 0 || string(env.Data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out.Data); err != nil {
		return nil, fmt.Errorf("decoding envelope data: %w", err)
	}
	return out, nil
}
