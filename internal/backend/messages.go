package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inok-dev/inok-console/internal/engine"
	"github.com/inok-dev/inok-console/pkg/schema"
)

// conversationMessages returns the messages of a conversation, oldest first.
func (s *Server) conversationMessages(conversationID string) ([]schema.Message, error) {
	raws, err := s.store.Collection(collectionMessages).All()
	if err != nil {
		return nil, err
	}
	messages := make([]schema.Message, 0)
	for _, raw := range raws {
		var m schema.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if string(m.ConversationID) == conversationID {
			messages = append(messages, m)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

func (s *Server) conversationExists(c *gin.Context, id string) bool {
	_, err := s.store.Get(collectionConversations, id)
	if errors.Is(err, engine.ErrNotFound) {
		fail(c, http.StatusNotFound, "Conversa não encontrada")
		return false
	}
	if err != nil {
		s.internalError(c, err)
		return false
	}
	return true
}

func (s *Server) listMessages(c *gin.Context) {
	id := c.Param("id")
	if !s.conversationExists(c, id) {
		return
	}
	messages, err := s.conversationMessages(id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	meta := schema.NewMeta(len(messages), len(messages), 1)
	c.JSON(http.StatusOK, schema.Envelope[any]{Success: true, Data: messages, Meta: &meta})
}

func (s *Server) postMessage(c *gin.Context) {
	id := c.Param("id")
	if !s.conversationExists(c, id) {
		return
	}

	var input struct {
		Content string `json:"content"`
		Role    string `json:"role"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Corpo da requisição inválido")
		return
	}
	if strings.TrimSpace(input.Content) == "" {
		fail(c, http.StatusUnprocessableEntity, "Conteúdo é obrigatório")
		return
	}
	switch input.Role {
	case "":
		input.Role = "user"
	case "user", "assistant", "system":
	default:
		fail(c, http.StatusUnprocessableEntity, "Papel inválido")
		return
	}

	now := s.now().UTC()
	message := schema.Message{
		ID:             schema.ID(uuid.NewString()),
		ConversationID: schema.ID(id),
		Role:           input.Role,
		Content:        input.Content,
		CreatedAt:      now,
	}
	if err := s.store.Collection(collectionMessages).Save(string(message.ID), message); err != nil {
		s.internalError(c, err)
		return
	}
	s.touchConversation(id, now)

	ok(c, http.StatusCreated, []schema.Message{message}, "Mensagem enviada")
}

func (s *Server) touchConversation(id string, at time.Time) {
	var doc document
	conversations := s.store.Collection(collectionConversations)
	if err := conversations.Load(id, &doc); err != nil {
		return
	}
	doc["updated_at"] = at.Format(timeLayout)
	if err := conversations.Save(id, doc); err != nil {
		s.logger.Warn("touching conversation", "id", id, "error", err)
	}
}
