// Package panelclient is the daemon's HTTP client for the two panel
// endpoints it consumes: fetching server config and
// validating live-session tokens.
package panelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/template"
)

// Client talks to the panel's documented endpoints only.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client. baseURL is the panel's {appUrl}.
func New(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{}}
}

// CargoEntry is one auxiliary artifact entry in a ServerConfig.
type CargoEntry struct {
	URL              string            `json:"url"`
	TargetPath       string            `json:"targetPath"`
	Hidden           bool              `json:"hidden"`
	NoDelete         bool              `json:"noDelete"`
	Readonly         bool              `json:"readonly"`
	CustomProperties map[string]string `json:"customProperties"`
}

// ServerConfig is the panel's authoritative template input snapshot.
type ServerConfig struct {
	Image          string               `json:"image"`
	Variables      []template.Variable  `json:"variables"`
	StartupCommand string               `json:"startupCommand"`
	InstallImage   string               `json:"installImage"`
	InstallEntry   string               `json:"installEntrypoint"`
	InstallScript  string               `json:"installScript"`
	Cargo          []CargoEntry         `json:"cargo"`
	ConfigFiles    []string             `json:"configFiles"`
}

// FetchConfig fetches a server's config with a 10s timeout and up to 3
// attempts, linear back-off (1s * attempt number) between them. Any
// non-2xx response or transport failure counts as a failed attempt;
// exhausting all attempts fails with PanelUnavailable.
func (c *Client) FetchConfig(ctx context.Context, serverID string) (*ServerConfig, error) {
	url := fmt.Sprintf("%s/api/servers/%s/config", c.baseURL, serverID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		cfg, err := c.fetchConfigOnce(ctx, url)
		if err == nil {
			return cfg, nil
		}
		lastErr = err

		if attempt < 3 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, argonerr.New(argonerr.KindPanelUnavailable, ctx.Err())
			}
		}
	}
	return nil, argonerr.New(argonerr.KindPanelUnavailable, lastErr)
}

func (c *Client) fetchConfigOnce(ctx context.Context, url string) (*ServerConfig, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("panel returned status %d", resp.StatusCode)
	}

	var cfg ServerConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &cfg, nil
}

// ValidationResult is the outcome of a live-session token validation.
type ValidationResult struct {
	Validated bool `json:"validated"`
	Server    struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		InternalID string `json:"internalId"`
		Node       struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			FQDN string `json:"fqdn"`
			Port int    `json:"port"`
		} `json:"node"`
	} `json:"server"`
}

// Validate validates a live-session token with a 5s timeout and a single
// attempt. A failed request is reported as unvalidated, not an error —
// callers are expected to close the socket rather than retry.
func (c *Client) Validate(ctx context.Context, serverID, token string) (*ValidationResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/servers/%s/validate/%s", c.baseURL, serverID, token)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return &ValidationResult{Validated: false}, nil
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &ValidationResult{Validated: false}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ValidationResult{Validated: false}, nil
	}

	var result ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &ValidationResult{Validated: false}, nil
	}
	return &result, nil
}
