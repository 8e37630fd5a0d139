// Package drone is a client for the Drone continuous-integration REST API:
// repository activation and per-repository secrets. All calls authenticate
// with the service's bearer token, not the user's.
package drone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/mscno/ginproc/pkg/errs"
)

// SecretName is the fixed name under which the private key is stored on
// every CI-enabled repository. Build jobs read it to clone and push.
const SecretName = "DRONE_PRIVATE_SSH_KEY"

// Repository is the CI host's view of a repository.
type Repository struct {
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Active bool   `json:"active"`
}

// Secret is a named value stored on a repository.
type Secret struct {
	Name string `json:"name"`
	Data string `json:"data,omitempty"`
}

// Client defines the operations the service needs from the CI host.
type Client interface {
	// Repos lists the repositories visible to the service account.
	Repos(ctx context.Context) ([]Repository, error)
	// EnableRepo activates CI for the repository. The host creates the push
	// hook on the git side itself; repeating the call is harmless.
	EnableRepo(ctx context.Context, slug string) error
	// Secrets lists the secrets stored on the repository.
	Secrets(ctx context.Context, slug string) ([]Secret, error)
	// CreateSecret registers a new secret on the repository.
	CreateSecret(ctx context.Context, slug, name, data string) error
	// UpdateSecret replaces an existing secret's value.
	UpdateSecret(ctx context.Context, slug, name, data string) error
}

// APIClient implements Client against a Drone server.
type APIClient struct {
	ServerURL  *url.URL
	AuthToken  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// ClientConfig holds configuration for creating a new APIClient.
type ClientConfig struct {
	ServerURL string
	AuthToken string
	Logger    *slog.Logger
}

// NewAPIClient creates a new API client instance.
func NewAPIClient(config ClientConfig) (*APIClient, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	serverURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if config.AuthToken == "" {
		config.Logger.Warn("CI auth token is empty, CI operations will fail")
	}
	return &APIClient{
		ServerURL:  serverURL,
		AuthToken:  config.AuthToken,
		HTTPClient: &http.Client{},
		Logger:     config.Logger,
	}, nil
}

func (c *APIClient) Repos(ctx context.Context) ([]Repository, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/user/repos", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, "failed to list CI repositories")
	}
	var repos []Repository
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, fmt.Errorf("failed to decode CI repository list: %w", err)
	}
	return repos, nil
}

func (c *APIClient) EnableRepo(ctx context.Context, slug string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/repos/"+slug, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp, fmt.Sprintf("failed to enable hook for %s", slug))
	}
	c.Logger.Debug("repository enabled on CI", "slug", slug)
	return nil
}

func (c *APIClient) Secrets(ctx context.Context, slug string) ([]Secret, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/repos/"+slug+"/secrets", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, fmt.Sprintf("failed to list secrets for %s", slug))
	}
	var secrets []Secret
	if err := json.NewDecoder(resp.Body).Decode(&secrets); err != nil {
		return nil, fmt.Errorf("failed to decode secret list: %w", err)
	}
	return secrets, nil
}

func (c *APIClient) CreateSecret(ctx context.Context, slug, name, data string) error {
	body, err := json.Marshal(map[string]any{
		"name":         name,
		"data":         data,
		"pull_request": false,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/repos/"+slug+"/secrets", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &errs.SecretPropagationError{Repo: slug, Status: resp.StatusCode, Err: readMessage(resp)}
	}
	c.Logger.Debug("secret installed", "slug", slug)
	return nil
}

func (c *APIClient) UpdateSecret(ctx context.Context, slug, name, data string) error {
	body, err := json.Marshal(map[string]any{
		"data":         data,
		"pull_request": false,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPatch, "/api/repos/"+slug+"/secrets/"+name, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &errs.SecretPropagationError{Repo: slug, Status: resp.StatusCode, Err: readMessage(resp)}
	}
	c.Logger.Debug("secret updated", "slug", slug)
	return nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	u := c.ServerURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &errs.ServerError{Status: http.StatusInternalServerError, Msg: "CI host unreachable", Err: fmt.Errorf("%w: %v", errs.ErrHostUnreachable, err)}
	}
	return resp, nil
}

func (c *APIClient) statusError(resp *http.Response, msg string) error {
	respBytes, _ := io.ReadAll(resp.Body)
	return &errs.ServerError{
		Status: http.StatusInternalServerError,
		Msg:    msg,
		Err:    fmt.Errorf("server error: %s: %s", resp.Status, string(respBytes)),
	}
}

// readMessage extracts the host's error message body, if any.
func readMessage(resp *http.Response) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Message == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("%s", payload.Message)
}

var _ Client = (*APIClient)(nil)
