package backend

import (
	"context"
	"errors"
	"net/http"
)

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) (Tokens, error) {
	var t Tokens
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/login", body: credentials{username, password}}, &t)
	if err != nil {
		return Tokens{}, err
	}
	if t.Token == "" {
		return Tokens{}, errors.New("unexpected login response")
	}
	if t.Username == "" {
		t.Username = username
	}
	return t, nil
}

// Signup creates an account. It does not log in.
func (c *Client) Signup(ctx context.Context, username, password string) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/api/auth/signup", body: credentials{username, password}}, nil)
}

// Refresh trades a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	var t Tokens
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/refresh", body: body}, &t); err != nil {
		return Tokens{}, err
	}
	if t.Token == "" {
		return Tokens{}, errors.New("unexpected refresh response")
	}
	return t, nil
}
