package backend

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inok-dev/inok-console/internal/engine"
	"github.com/inok-dev/inok-console/pkg/schema"
)

func (s *Server) createUser(c *gin.Context) {
	var input schema.RegisterRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Corpo da requisição inválido")
		return
	}
	if input.Role == "" {
		input.Role = schema.RoleUser
	}
	user, status, message := s.insertUser(input)
	if status != 0 {
		fail(c, status, message)
		return
	}
	ok(c, http.StatusCreated, user, "Usuário criado com sucesso")
}

func (s *Server) updateUser(c *gin.Context) {
	id := c.Param("id")
	var record userRecord
	err := s.store.Collection(collectionUsers).Load(id, &record)
	if errors.Is(err, engine.ErrNotFound) {
		fail(c, http.StatusNotFound, "Registro não encontrado")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	var input struct {
		Name     *string `json:"name"`
		Email    *string `json:"email"`
		Password *string `json:"password"`
		Role     *string `json:"role"`
		Avatar   *string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Corpo da requisição inválido")
		return
	}

	if input.Name != nil {
		if record.Name = strings.TrimSpace(*input.Name); record.Name == "" {
			fail(c, http.StatusUnprocessableEntity, "Nome é obrigatório")
			return
		}
	}
	if input.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*input.Email))
		if email == "" {
			fail(c, http.StatusUnprocessableEntity, "Email é obrigatório")
			return
		}
		if !strings.Contains(email, "@") {
			fail(c, http.StatusUnprocessableEntity, "Email inválido")
			return
		}
		other, err := s.findUserByEmail(email)
		if err != nil && !errors.Is(err, engine.ErrNotFound) {
			s.internalError(c, err)
			return
		}
		if other != nil && string(other.ID) != id {
			fail(c, http.StatusUnprocessableEntity, "Email já cadastrado")
			return
		}
		record.Email = email
	}
	if input.Role != nil {
		role, err := schema.ParseRole(*input.Role)
		if err != nil {
			fail(c, http.StatusUnprocessableEntity, "Perfil inválido")
			return
		}
		record.Role = role
	}
	if input.Avatar != nil {
		record.Avatar = *input.Avatar
	}
	if input.Password != nil && *input.Password != "" {
		hash, err := s.hashPassword(*input.Password)
		if err != nil {
			fail(c, http.StatusUnprocessableEntity, "Senha inválida")
			return
		}
		record.PasswordHash = hash
	}

	record.UpdatedAt = s.timestamp()
	if err := s.store.Collection(collectionUsers).Save(id, record); err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, http.StatusOK, record.User, "Usuário atualizado com sucesso")
}
