package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inok-dev/inok-console/internal/engine"
	"github.com/inok-dev/inok-console/pkg/schema"
)

const (
	collectionIdentities    = "identities"
	collectionConversations = "conversations"
	collectionAgents        = "agents"
	collectionDatabases     = "databases"
	collectionMemories      = "memories"
	collectionDataFlows     = "data-flows"
	collectionUsers         = "users"
	collectionMessages      = "messages"

	defaultPerPage = 20
	maxPerPage     = 100
)

type field struct {
	key     string
	message string
}

type collectionSpec struct {
	name     string
	required []field
}

var nameRequired = field{"name", "Nome é obrigatório"}

var collections = []collectionSpec{
	{name: collectionIdentities, required: []field{nameRequired}},
	{name: collectionConversations, required: []field{nameRequired}},
	{name: collectionAgents, required: []field{nameRequired}},
	{name: collectionDatabases, required: []field{nameRequired}},
	{name: collectionMemories, required: []field{nameRequired, {"content", "Conteúdo é obrigatório"}}},
	{name: collectionDataFlows, required: []field{nameRequired}},
	{name: collectionUsers},
}

// document is a stored record of a generic collection.
type document map[string]any

// immutable keys are owned by the server and ignored in request bodies.
var immutable = []string{"id", "created_at", "updated_at", "messages", "password_hash"}

func (s *Server) loadDocuments(collection string) ([]document, error) {
	raws, err := s.store.Collection(collection).All()
	if err != nil {
		return nil, err
	}
	docs := make([]document, 0, len(raws))
	for id, raw := range raws {
		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			s.logger.Warn("skipping corrupt document", "collection", collection, "id", id, "error", err)
			continue
		}
		docs = append(docs, sanitize(doc))
	}
	sort.Slice(docs, func(i, j int) bool {
		ci, cj := str(docs[i]["created_at"]), str(docs[j]["created_at"])
		if ci != cj {
			return ci < cj
		}
		return str(docs[i]["id"]) < str(docs[j]["id"])
	})
	return docs, nil
}

func (s *Server) loadDocument(collection, id string) (document, error) {
	var doc document
	if err := s.store.Collection(collection).Load(id, &doc); err != nil {
		return nil, err
	}
	return sanitize(doc), nil
}

func sanitize(doc document) document {
	delete(doc, "password_hash")
	return doc
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// pagination reads page and per_page, applying defaults and bounds.
func pagination(c *gin.Context) (page, perPage int, err error) {
	page, perPage = 1, defaultPerPage
	if v := c.Query("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("invalid page %q", v)
		}
	}
	if v := c.Query("per_page"); v != "" {
		if perPage, err = strconv.Atoi(v); err != nil || perPage < 1 {
			return 0, 0, fmt.Errorf("invalid per_page %q", v)
		}
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage, nil
}

// matches applies the search term and exact-match filters.
func matches(doc document, search string, filters map[string]string) bool {
	for key, want := range filters {
		v, ok := doc[key]
		if !ok || fmt.Sprint(v) != want {
			return false
		}
	}
	if search == "" {
		return true
	}
	for _, v := range doc {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), search) {
			return true
		}
	}
	return false
}

func (s *Server) list(spec collectionSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, err := pagination(c)
		if err != nil {
			fail(c, http.StatusUnprocessableEntity, "Parâmetros de paginação inválidos")
			return
		}
		docs, err := s.loadDocuments(spec.name)
		if err != nil {
			s.internalError(c, err)
			return
		}

		search := strings.ToLower(strings.TrimSpace(c.Query("search")))
		filters := map[string]string{}
		for key, values := range c.Request.URL.Query() {
			switch key {
			case "page", "per_page", "search":
				continue
			}
			filters[key] = values[0]
		}

		matched := make([]document, 0, len(docs))
		for _, doc := range docs {
			if matches(doc, search, filters) {
				matched = append(matched, doc)
			}
		}

		meta := schema.NewMeta(len(matched), perPage, page)
		start := (page - 1) * perPage
		if start > len(matched) {
			start = len(matched)
		}
		end := start + perPage
		if end > len(matched) {
			end = len(matched)
		}
		c.JSON(http.StatusOK, schema.Envelope[any]{Success: true, Data: matched[start:end], Meta: &meta})
	}
}

func (s *Server) get(spec collectionSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := s.loadDocument(spec.name, c.Param("id"))
		if errors.Is(err, engine.ErrNotFound) {
			fail(c, http.StatusNotFound, "Registro não encontrado")
			return
		}
		if err != nil {
			s.internalError(c, err)
			return
		}
		if spec.name == collectionConversations {
			messages, err := s.conversationMessages(c.Param("id"))
			if err != nil {
				s.internalError(c, err)
				return
			}
			doc["messages"] = messages
		}
		ok(c, http.StatusOK, doc, "")
	}
}

// bindDocument reads a JSON object body without the server-owned keys.
func bindDocument(c *gin.Context) (document, bool) {
	var input document
	if err := c.ShouldBindJSON(&input); err != nil || input == nil {
		fail(c, http.StatusUnprocessableEntity, "Corpo da requisição inválido")
		return nil, false
	}
	for _, key := range immutable {
		delete(input, key)
	}
	return input, true
}

// validate returns the message of the first missing required field.
func validate(spec collectionSpec, doc document) string {
	for _, f := range spec.required {
		if strings.TrimSpace(str(doc[f.key])) == "" {
			return f.message
		}
	}
	return ""
}

func (s *Server) create(spec collectionSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, good := bindDocument(c)
		if !good {
			return
		}
		if msg := validate(spec, doc); msg != "" {
			fail(c, http.StatusUnprocessableEntity, msg)
			return
		}
		if spec.name == collectionConversations {
			if _, set := doc["user_id"]; !set {
				doc["user_id"] = currentUser(c).ID
			}
			if _, set := doc["status"]; !set {
				doc["status"] = "active"
			}
		}

		now := s.timestamp()
		doc["id"] = uuid.NewString()
		doc["created_at"] = now
		doc["updated_at"] = now
		if err := s.store.Collection(spec.name).Save(str(doc["id"]), doc); err != nil {
			s.internalError(c, err)
			return
		}
		ok(c, http.StatusCreated, doc, "Registro criado com sucesso")
	}
}

func (s *Server) update(spec collectionSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		existing, err := s.loadDocument(spec.name, id)
		if errors.Is(err, engine.ErrNotFound) {
			fail(c, http.StatusNotFound, "Registro não encontrado")
			return
		}
		if err != nil {
			s.internalError(c, err)
			return
		}
		input, good := bindDocument(c)
		if !good {
			return
		}
		for key, v := range input {
			existing[key] = v
		}
		if msg := validate(spec, existing); msg != "" {
			fail(c, http.StatusUnprocessableEntity, msg)
			return
		}
		existing["updated_at"] = s.timestamp()
		if err := s.store.Collection(spec.name).Save(id, existing); err != nil {
			s.internalError(c, err)
			return
		}
		ok(c, http.StatusOK, existing, "Registro atualizado com sucesso")
	}
}

func (s *Server) remove(spec collectionSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if spec.name == collectionUsers && string(currentUser(c).ID) == id {
			fail(c, http.StatusUnprocessableEntity, "Você não pode remover a si mesmo")
			return
		}
		err := s.store.Delete(spec.name, id)
		if errors.Is(err, engine.ErrNotFound) {
			fail(c, http.StatusNotFound, "Registro não encontrado")
			return
		}
		if err != nil {
			s.internalError(c, err)
			return
		}

		switch spec.name {
		case collectionConversations:
			err = s.deleteWhere(collectionMessages, func(raw json.RawMessage) bool {
				var m schema.Message
				return json.Unmarshal(raw, &m) == nil && string(m.ConversationID) == id
			})
		case collectionUsers:
			err = s.deleteWhere(collectionSessions, func(raw json.RawMessage) bool {
				var session sessionRecord
				return json.Unmarshal(raw, &session) == nil && session.UserID == id
			})
		}
		if err != nil {
			s.internalError(c, err)
			return
		}
		ok(c, http.StatusOK, nil, "Registro removido com sucesso")
	}
}

func (s *Server) deleteWhere(collection string, match func(json.RawMessage) bool) error {
	docs, err := s.store.Collection(collection).All()
	if err != nil {
		return err
	}
	for id, raw := range docs {
		if !match(raw) {
			continue
		}
		if err := s.store.Delete(collection, id); err != nil && !errors.Is(err, engine.ErrNotFound) {
			return err
		}
	}
	return nil
}
