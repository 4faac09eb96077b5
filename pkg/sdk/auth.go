package sdk

import (
	"context"
	"net/http"

	"github.com/inok-dev/inok-console/pkg/schema"
)

// Authentication endpoints.
const (
	PathLogin    = "auth/login"
	PathRegister = "auth/register"
	PathLogout   = "auth/logout"
	PathProfile  = "auth/profile"
)

// Login exchanges credentials for a token and user. It does not store the
// token; that is the session store's job.
func (c *Client) Login(ctx context.Context, email, password string) (*schema.LoginResult, error) {
	env, err := call[schema.LoginResult](ctx, c, http.MethodPost, PathLogin,
		schema.LoginRequest{Email: email, Password: password}, WithoutAuthCascade(), WithoutToken())
	if err != nil {
		return nil, err
	}
	if env.Data.Token == "" || env.Data.User == nil {
		return nil, &APIError{Kind: KindDecode, Method: "POST", Path: PathLogin, Message: "login response is missing token or user"}
	}
	return &env.Data, nil
}

// Register creates a user account. The role defaults to user. Ordinary
// accounts are registered anonymously; only a privileged role carries the
// current token, which the backend requires to belong to an admin.
func (c *Client) Register(ctx context.Context, req schema.RegisterRequest) (*schema.User, error) {
	if req.Role == "" {
		req.Role = schema.RoleUser
	}
	opts := []RequestOption{WithoutAuthCascade()}
	if req.Role == schema.RoleUser {
		opts = append(opts, WithoutToken())
	}
	env, err := call[schema.User](ctx, c, http.MethodPost, PathRegister, req, opts...)
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// Logout tells the backend the session ended.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Post(ctx, PathLogout, struct{}{}, WithoutAuthCascade())
	return err
}

// Profile fetches the user the current token belongs to.
func (c *Client) Profile(ctx context.Context) (*schema.User, error) {
	env, err := call[*schema.User](ctx, c, http.MethodGet, PathProfile, nil)
	if err != nil {
		return nil, err
	}
	if env.Data == nil || env.Data.ID == "" {
		return nil, &APIError{Kind: KindDecode, Method: "GET", Path: PathProfile, Message: "profile response has no user"}
	}
	return env.Data, nil
}
