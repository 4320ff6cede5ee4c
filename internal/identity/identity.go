// Package identity resolves which GitHub account a token belongs to and which scopes it carries.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-authgate/copilot-auth/internal/autherr"
)

// RequestTimeout bounds a single identity call.
const RequestTimeout = 10 * time.Second

// User is the account behind a token.
type User struct {
	Login string
	// Scopes are the classic OAuth scopes from the X-OAuth-Scopes header. Fine-grained
	// tokens report none.
	Scopes []string
}

// HasScope reports whether the user's token carries scope.
func (u *User) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Fetch calls the user endpoint with token.
func Fetch(ctx context.Context, client *http.Client, userURL, token string) (*User, error) {
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "copilot-auth")

	resp, err := client.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindNetwork, "identity", "user lookup failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindNetwork, "identity", "failed to read response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, autherr.New(autherr.KindCredential, "identity", "token was rejected (401 Unauthorized)").
			WithHint("check that the token is correct and has not been revoked")
	case http.StatusForbidden:
		return nil, autherr.New(autherr.KindCredential, "identity",
			"token validation failed (403 Forbidden): the token may lack permissions or you may be rate limited")
	default:
		return nil, autherr.New(autherr.KindNetwork, "identity",
			fmt.Sprintf("unexpected status %d from user endpoint", resp.StatusCode))
	}

	var payload struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, autherr.Wrap(autherr.KindNetwork, "identity", "failed to parse user response", err)
	}

	return &User{
		Login:  payload.Login,
		Scopes: ParseScopes(resp.Header.Get("X-OAuth-Scopes")),
	}, nil
}

// ParseScopes splits a comma separated scope header.
func ParseScopes(header string) []string {
	var scopes []string
	for _, s := range strings.Split(header, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
