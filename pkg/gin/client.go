// Package gin is a client for the GIN (Gogs-compatible) git-hosting REST
// API: token issuance, user profile, repositories and SSH key registry.
package gin

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

// TokenName is the label under which the service registers its personal
// access token and SSH public key on the host.
const TokenName = "gin-proc"

// Token is a personal access token as returned by the host.
type Token struct {
	Name string `json:"name"`
	Sha1 string `json:"sha1"`
}

// PublicKey is an SSH key registered on the user's account.
type PublicKey struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Key   string `json:"key"`
	URL   string `json:"url"`
}

// Repository is the host's repository metadata.
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
	SSHURL   string `json:"ssh_url"`
	Private  bool   `json:"private"`
	Owner    struct {
		Username string `json:"username"`
	} `json:"owner"`
}

// Client defines the operations the service needs from the git host.
type Client interface {
	// EnsureToken returns the access token labeled TokenName, registering a
	// fresh one when the account has none. Idempotent.
	EnsureToken(ctx context.Context, username, password string) (string, error)
	// User fetches the authenticated user's profile as raw JSON plus the
	// upstream status code, for passthrough to the caller.
	User(ctx context.Context, token string) (int, []byte, error)
	// Repos lists the user's repositories.
	Repos(ctx context.Context, token, username string) ([]Repository, error)
	// Repo fetches one repository's full metadata by owner and name.
	Repo(ctx context.Context, token, owner, name string) (Repository, error)
	// Keys lists the SSH public keys on the user's account.
	Keys(ctx context.Context, token string) ([]PublicKey, error)
	// AddKey registers a public key under the given title.
	AddKey(ctx context.Context, token, title, key string) error
	// DeleteKey removes a key from the user's account.
	DeleteKey(ctx context.Context, token string, id int64) error
}

// APIClient implements Client against a GIN server.
type APIClient struct {
	ServerURL  *url.URL
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// ClientConfig holds configuration for creating a new APIClient.
type ClientConfig struct {
	ServerURL string
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
	return &APIClient{
		ServerURL:  serverURL,
		HTTPClient: &http.Client{},
		Logger:     config.Logger,
	}, nil
}

func (c *APIClient) EnsureToken(ctx context.Context, username, password string) (string, error) {
	path := "/api/v1/users/" + username + "/tokens"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(username, password)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", &errs.ServerError{Status: http.StatusInternalServerError, Msg: "git host unreachable", Err: fmt.Errorf("%w: %v", errs.ErrHostUnreachable, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &errs.AuthError{Username: username, Err: fmt.Errorf("host returned %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp, "failed to list tokens")
	}
	var tokens []Token
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", fmt.Errorf("failed to decode token list: %w", err)
	}
	for _, t := range tokens {
		if t.Name == TokenName {
			c.Logger.Debug("reusing existing access token", "user", username)
			return t.Sha1, nil
		}
	}

	body, err := json.Marshal(map[string]string{"name": TokenName})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}
	req, err = c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("Content-Type", "application/json")
	resp, err = c.HTTPClient.Do(req)
	if err != nil {
		return "", &errs.ServerError{Status: http.StatusInternalServerError, Msg: "git host unreachable", Err: fmt.Errorf("%w: %v", errs.ErrHostUnreachable, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &errs.AuthError{Username: username, Err: fmt.Errorf("host returned %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", c.statusError(resp, "failed to register token")
	}
	var created Token
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode created token: %w", err)
	}
	c.Logger.Debug("registered fresh access token", "user", username)
	return created.Sha1, nil
}

func (c *APIClient) User(ctx context.Context, token string) (int, []byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/user", nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "token "+token)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, &errs.ServerError{Status: http.StatusInternalServerError, Msg: "git host unreachable", Err: fmt.Errorf("%w: %v", errs.ErrHostUnreachable, err)}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read user profile: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *APIClient) Repos(ctx context.Context, token, username string) ([]Repository, error) {
	resp, err := c.doTokenRequest(ctx, token, http.MethodGet, "/api/v1/users/"+username+"/repos", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, "failed to list repositories")
	}
	var repos []Repository
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, fmt.Errorf("failed to decode repository list: %w", err)
	}
	return repos, nil
}

func (c *APIClient) Repo(ctx context.Context, token, owner, name string) (Repository, error) {
	resp, err := c.doTokenRequest(ctx, token, http.MethodGet, "/api/v1/repos/"+owner+"/"+name, nil)
	if err != nil {
		return Repository{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Repository{}, c.statusError(resp, "failed to fetch repository")
	}
	var repo Repository
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return Repository{}, fmt.Errorf("failed to decode repository: %w", err)
	}
	return repo, nil
}

func (c *APIClient) Keys(ctx context.Context, token string) ([]PublicKey, error) {
	resp, err := c.doTokenRequest(ctx, token, http.MethodGet, "/api/v1/user/keys", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, "failed to list keys")
	}
	var keys []PublicKey
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("failed to decode key list: %w", err)
	}
	return keys, nil
}

func (c *APIClient) AddKey(ctx context.Context, token, title, key string) error {
	body, err := json.Marshal(map[string]string{"title": title, "key": key})
	if err != nil {
		return fmt.Errorf("failed to marshal key request: %w", err)
	}
	resp, err := c.doTokenRequest(ctx, token, http.MethodPost, "/api/v1/user/keys", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.statusError(resp, "failed to install key")
	}
	return nil
}

func (c *APIClient) DeleteKey(ctx context.Context, token string, id int64) error {
	resp, err := c.doTokenRequest(ctx, token, http.MethodDelete, fmt.Sprintf("/api/v1/user/keys/%d", id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return c.statusError(resp, "failed to delete key")
	}
	return nil
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.ServerURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return req, nil
}

func (c *APIClient) doTokenRequest(ctx context.Context, token, method, path string, body io.Reader) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &errs.ServerError{Status: http.StatusInternalServerError, Msg: "git host unreachable", Err: fmt.Errorf("%w: %v", errs.ErrHostUnreachable, err)}
	}
	return resp, nil
}

func (c *APIClient) statusError(resp *http.Response, msg string) error {
	respBytes, _ := io.ReadAll(resp.Body)
	return &errs.ServerError{
		Status: resp.StatusCode,
		Msg:    msg,
		Err:    fmt.Errorf("server error: %s: %s", resp.Status, string(respBytes)),
	}
}

var _ Client = (*APIClient)(nil)
