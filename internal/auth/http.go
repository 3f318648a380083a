package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HTTPProvider signs in against a pinnit-server.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates an HTTPProvider for the server at baseURL.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Login(ctx context.Context, username, password string) (*Session, error) {
	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("login failed: %s", resp.Status)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}
	if s.Token == "" || s.Identity.ID == "" {
		return nil, fmt.Errorf("login response missing token or identity")
	}
	return &s, nil
}
