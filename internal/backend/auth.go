package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/inok-dev/inok-console/internal/engine"
	"github.com/inok-dev/inok-console/pkg/schema"
)

const (
	collectionSessions = "sessions"
	ctxUser            = "user"
	ctxToken           = "token"
)

// userRecord is the stored form of a user.
type userRecord struct {
	schema.User
	PasswordHash string `json:"password_hash"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type sessionRecord struct {
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// extractToken extracts the token from the Authorization header.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// authenticate resolves the bearer token of the request to a user.
func (s *Server) authenticate(c *gin.Context) (*userRecord, string, error) {
	token := extractToken(c)
	if token == "" {
		return nil, "", engine.ErrNotFound
	}
	var session sessionRecord
	if err := s.store.Collection(collectionSessions).Load(token, &session); err != nil {
		return nil, "", err
	}
	if s.sessionTTL > 0 {
		created, err := time.Parse(timeLayout, session.CreatedAt)
		if err != nil || s.now().Sub(created) > s.sessionTTL {
			s.store.Delete(collectionSessions, token)
			return nil, "", engine.ErrNotFound
		}
	}
	var user userRecord
	if err := s.store.Collection(collectionUsers).Load(session.UserID, &user); err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

// requireAuth rejects requests without a valid session with 401.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, token, err := s.authenticate(c)
		if err != nil {
			if !errors.Is(err, engine.ErrNotFound) {
				s.internalError(c, err)
				return
			}
			fail(c, http.StatusUnauthorized, "Não autenticado")
			return
		}
		c.Set(ctxUser, user)
		c.Set(ctxToken, token)
		c.Next()
	}
}

// optionalAuth attaches the user when a valid token is sent.
func (s *Server) optionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, token, err := s.authenticate(c); err == nil {
			c.Set(ctxUser, user)
			c.Set(ctxToken, token)
		}
		c.Next()
	}
}

// requireRole answers 403 unless the user's role is in roles.
func (s *Server) requireRole(roles schema.RoleSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || !roles.Contains(user.Role) {
			fail(c, http.StatusForbidden, "Permissão negada")
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *userRecord {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil
	}
	user, _ := v.(*userRecord)
	return user
}

func (s *Server) login(c *gin.Context) {
	var input schema.LoginRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Corpo da requisição inválido")
		return
	}
	if strings.TrimSpace(input.Email) == "" {
		fail(c, http.StatusUnprocessableEntity, "Email é obrigatório")
		return
	}
	if input.Password == "" {
		fail(c, http.StatusUnprocessableEntity, "Senha é obrigatória")
		return
	}

	user, err := s.findUserByEmail(input.Email)
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		s.internalError(c, err)
		return
	}
	if user == nil || !checkPasswordHash(input.Password, user.PasswordHash) {
		fail(c, http.StatusUnauthorized, "Credenciais inválidas")
		return
	}

	token := uuid.NewString()
	err = s.store.Collection(collectionSessions).Save(token, sessionRecord{UserID: string(user.ID), CreatedAt: s.timestamp()})
	if err != nil {
		s.internalError(c, err)
		return
	}
	public := user.User
	ok(c, http.StatusOK, schema.LoginResult{User: &public, Token: token}, "Login realizado com sucesso")
}

func (s *Server) register(c *gin.Context) {
	var input schema.RegisterRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Corpo da requisição inválido")
		return
	}
	if input.Role == "" {
		input.Role = schema.RoleUser
	}
	// Only an admin may hand out elevated roles.
	if input.Role != schema.RoleUser {
		if caller := currentUser(c); caller == nil || caller.Role != schema.RoleAdmin {
			fail(c, http.StatusForbidden, "Permissão negada")
			return
		}
	}

	user, status, message := s.insertUser(input)
	if status != 0 {
		fail(c, status, message)
		return
	}
	ok(c, http.StatusCreated, user, "Usuário registrado com sucesso")
}

func (s *Server) logout(c *gin.Context) {
	token := c.GetString(ctxToken)
	if err := s.store.Delete(collectionSessions, token); err != nil && !errors.Is(err, engine.ErrNotFound) {
		s.internalError(c, err)
		return
	}
	ok(c, http.StatusOK, nil, "Logout realizado com sucesso")
}

func (s *Server) profile(c *gin.Context) {
	ok(c, http.StatusOK, currentUser(c).User, "")
}

// SeedAdmin creates an admin account unless a user with that email exists.
func (s *Server) SeedAdmin(name, email, password string) (*schema.User, error) {
	existing, err := s.findUserByEmail(email)
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return &existing.User, nil
	}
	user, status, message := s.insertUser(schema.RegisterRequest{
		Name: name, Email: email, Password: password, Role: schema.RoleAdmin,
	})
	if status != 0 {
		return nil, errors.New(message)
	}
	s.logger.Info("seeded admin account", "email", email)
	return user, nil
}

// insertUser validates and stores a new user. A non-zero status reports a
// rejected input.
func (s *Server) insertUser(input schema.RegisterRequest) (*schema.User, int, string) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	switch {
	case input.Name == "":
		return nil, http.StatusUnprocessableEntity, "Nome é obrigatório"
	case input.Email == "":
		return nil, http.StatusUnprocessableEntity, "Email é obrigatório"
	case !strings.Contains(input.Email, "@"):
		return nil, http.StatusUnprocessableEntity, "Email inválido"
	case input.Password == "":
		return nil, http.StatusUnprocessableEntity, "Senha é obrigatória"
	}
	role, err := schema.ParseRole(string(input.Role))
	if err != nil {
		return nil, http.StatusUnprocessableEntity, "Perfil inválido"
	}

	existing, err := s.findUserByEmail(input.Email)
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		return nil, http.StatusInternalServerError, "Erro interno do servidor"
	}
	if existing != nil {
		return nil, http.StatusUnprocessableEntity, "Email já cadastrado"
	}

	hash, err := s.hashPassword(input.Password)
	if err != nil {
		return nil, http.StatusUnprocessableEntity, "Senha inválida"
	}
	now := s.timestamp()
	record := userRecord{
		User: schema.User{
			ID:     schema.ID(uuid.NewString()),
			Name:   input.Name,
			Email:  input.Email,
			Role:   role,
			Avatar: input.Avatar,
		},
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Collection(collectionUsers).Save(string(record.ID), record); err != nil {
		return nil, http.StatusInternalServerError, "Erro interno do servidor"
	}
	return &record.User, 0, ""
}

func (s *Server) findUserByEmail(email string) (*userRecord, error) {
	docs, err := s.store.Collection(collectionUsers).All()
	if err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, raw := range docs {
		var user userRecord
		if err := json.Unmarshal(raw, &user); err != nil {
			continue
		}
		if user.Email == email {
			return &user, nil
		}
	}
	return nil, engine.ErrNotFound
}
