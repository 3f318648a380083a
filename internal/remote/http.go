package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pinnit-go/internal/pinnit"
)

// HTTPRemote talks to a pinnit-server, authenticating every request with
// the identity's bearer token.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemote creates a client for the server at baseURL.
func NewHTTPRemote(baseURL string, timeout time.Duration) *HTTPRemote {
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRemote) FetchAll(ctx context.Context, identity pinnit.Identity) ([]pinnit.Pin, error) {
	req, err := r.newRequest(ctx, http.MethodGet, identity, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET /pins: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("GET /pins", resp)
	}

	var pins []pinnit.Pin
	if err := json.NewDecoder(resp.Body).Decode(&pins); err != nil {
		return nil, fmt.Errorf("decoding pins: %w", err)
	}
	return pinnit.SortPins(pins), nil
}

func (r *HTTPRemote) ReplaceAll(ctx context.Context, identity pinnit.Identity, pins []pinnit.Pin) error {
	if pins == nil {
		pins = []pinnit.Pin{}
	}
	body, err := json.Marshal(pins)
	if err != nil {
		return fmt.Errorf("encoding pins: %w", err)
	}

	req, err := r.newRequest(ctx, http.MethodPut, identity, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("PUT /pins: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("PUT /pins", resp)
	}
	return nil
}

func (r *HTTPRemote) newRequest(ctx context.Context, method string, identity pinnit.Identity, body io.Reader) (*http.Request, error) {
	if identity.Token == "" {
		return nil, fmt.Errorf("no token for identity %s", identity.ID)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+"/pins", body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+identity.Token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// statusError reads the server's {"error": ...} body into the returned error.
func statusError(op string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8192)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: %s: %s", op, resp.Status, body.Error)
	}
	return fmt.Errorf("%s: %s", op, resp.Status)
}

// Compile-time check that HTTPRemote implements pinnit.RemoteStore
var _ pinnit.RemoteStore = (*HTTPRemote)(nil)
