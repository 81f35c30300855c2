package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pressmesh/pressmesh/internal/daemon"
)

// apiClient reaches the running PressMesh server. Commands other than
// serve operate on the live process, not a second in-process daemon.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

// newAPIClient builds a client from the local configuration.
func newAPIClient() (*apiClient, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base:  fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port),
		token: cfg.API.AuthToken,
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *apiClient) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, body, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *apiClient) do(method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("authentication failed: check api.auth_token in config.toml")
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
