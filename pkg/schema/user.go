// Package schema defines the data structures exchanged with the INOK API.
package schema

import (
	"fmt"
	"strings"
)

// Role is the authorization level of a console user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

// ParseRole validates a role name coming from flags or request bodies.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleManager, RoleUser:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) bit() RoleSet {
	switch r {
	case RoleAdmin:
		return 1 << 0
	case RoleManager:
		return 1 << 1
	case RoleUser:
		return 1 << 2
	}
	return 0
}

// RoleSet is an immutable set of roles. It is a plain comparable value, so the
// same roles always produce an equal set and it can be declared once as a
// package variable and shared.
type RoleSet uint8

// NewRoleSet builds a set from roles. Unknown roles are ignored.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= r.bit()
	}
	return s
}

// Contains reports whether r is a member of s.
func (s RoleSet) Contains(r Role) bool {
	b := r.bit()
	return b != 0 && s&b != 0
}

func (s RoleSet) String() string {
	var names []string
	for _, r := range []Role{RoleAdmin, RoleManager, RoleUser} {
		if s.Contains(r) {
			names = append(names, string(r))
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// User is the identity of a console operator as returned by the profile and
// login endpoints.
type User struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

func (u User) RecordID() string { return string(u.ID) }

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the data of a successful login envelope.
type LoginResult struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// RegisterRequest is the body of POST /auth/register. Role defaults to user
// when empty.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}
