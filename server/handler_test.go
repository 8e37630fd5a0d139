package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mscno/ginproc/pkg/drone"
	"github.com/mscno/ginproc/pkg/errs"
	"github.com/mscno/ginproc/pkg/gin"
	"github.com/mscno/ginproc/pkg/keys"
	"github.com/mscno/ginproc/pkg/secrets"
	"github.com/mscno/ginproc/pkg/session"
	"github.com/mscno/ginproc/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	password string
	repos    []gin.Repository
	keys     []gin.PublicKey
	nextID   int64
}

func (f *fakeHost) EnsureToken(ctx context.Context, username, password string) (string, error) {
	if password != f.password {
		return "", &errs.AuthError{Username: username, Err: errors.New("bad credentials")}
	}
	return "tok-" + username, nil
}

func (f *fakeHost) User(ctx context.Context, token string) (int, []byte, error) {
	return http.StatusOK, []byte(`{"username":"alice"}`), nil
}

func (f *fakeHost) Repos(ctx context.Context, token, username string) ([]gin.Repository, error) {
	return f.repos, nil
}

func (f *fakeHost) Repo(ctx context.Context, token, owner, name string) (gin.Repository, error) {
	for _, r := range f.repos {
		if r.Name == name {
			return r, nil
		}
	}
	return gin.Repository{}, &errs.ServerError{Status: http.StatusNotFound, Msg: "repository not found"}
}

func (f *fakeHost) Keys(ctx context.Context, token string) ([]gin.PublicKey, error) {
	return f.keys, nil
}

func (f *fakeHost) AddKey(ctx context.Context, token, title, key string) error {
	f.nextID++
	f.keys = append(f.keys, gin.PublicKey{ID: f.nextID, Title: title, Key: key})
	return nil
}

func (f *fakeHost) DeleteKey(ctx context.Context, token string, id int64) error {
	for i, k := range f.keys {
		if k.ID == id {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeCI struct {
	repos   []drone.Repository
	enabled []string
	secrets map[string]string
}

func (f *fakeCI) Repos(ctx context.Context) ([]drone.Repository, error) { return f.repos, nil }

func (f *fakeCI) EnableRepo(ctx context.Context, slug string) error {
	f.enabled = append(f.enabled, slug)
	return nil
}

func (f *fakeCI) Secrets(ctx context.Context, slug string) ([]drone.Secret, error) {
	if _, ok := f.secrets[slug]; ok {
		return []drone.Secret{{Name: drone.SecretName}}, nil
	}
	return nil, nil
}

func (f *fakeCI) CreateSecret(ctx context.Context, slug, name, data string) error {
	if f.secrets == nil {
		f.secrets = map[string]string{}
	}
	f.secrets[slug] = data
	return nil
}

func (f *fakeCI) UpdateSecret(ctx context.Context, slug, name, data string) error {
	f.secrets[slug] = data
	return nil
}

type noopGit struct{}

func (noopGit) Run(ctx context.Context, dir string, env []string, args ...string) error {
	return nil
}

func newTestHandler(t *testing.T, host *fakeHost, ci *fakeCI) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &keys.LocalStore{Dir: filepath.Join(t.TempDir(), "ssh")}
	propagator := secrets.NewPropagator(ci, store, logger)
	pipeline := workflow.NewPipeline(host, ci, propagator, store, noopGit{}, logger)
	return NewHandler(host, session.NewStore(), keys.NewReconciler(host, store, logger), propagator, pipeline, logger)
}

func login(t *testing.T, h *Handler) {
	t.Helper()
	body := strings.NewReader(`{"username":"alice","password":"secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLogin(t *testing.T) {
	host := &fakeHost{password: "secret"}
	ci := &fakeCI{repos: []drone.Repository{{Slug: "alice/experiments", Active: true}}}
	h := newTestHandler(t, host, ci)

	body := strings.NewReader(`{"username":"alice","password":"secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tok-alice", resp["token"])

	sess, err := h.Sessions.Get()
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Username)
	assert.Equal(t, "tok-alice", sess.Token)

	require.Equal(t, 1, len(host.keys), "login must register exactly one key")
	assert.Equal(t, keys.KeyName, host.keys[0].Title)
	assert.Contains(t, ci.secrets, "alice/experiments")
}

func TestLoginBadCredentials(t *testing.T) {
	h := newTestHandler(t, &fakeHost{password: "secret"}, &fakeCI{})

	body := strings.NewReader(`{"username":"alice","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "login failed", strings.TrimSpace(rec.Body.String()))
	_, err := h.Sessions.Get()
	assert.Error(t, err, "failed login must not create a session")
}

func TestLoginInvalidJSON(t *testing.T) {
	h := newTestHandler(t, &fakeHost{password: "secret"}, &fakeCI{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	h := newTestHandler(t, &fakeHost{password: "secret"}, &fakeCI{})
	login(t, h)

	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "logged out", rec.Body.String())

	rec = httptest.NewRecorder()
	h.User(rec, httptest.NewRequest(http.MethodGet, "/auth/user", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "not logged in", strings.TrimSpace(rec.Body.String()))
}

func TestUser(t *testing.T) {
	h := newTestHandler(t, &fakeHost{password: "secret"}, &fakeCI{})
	login(t, h)

	rec := httptest.NewRecorder()
	h.User(rec, httptest.NewRequest(http.MethodGet, "/auth/user", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"username":"alice"}`, rec.Body.String())
}

func TestExecuteRequiresSession(t *testing.T) {
	h := newTestHandler(t, &fakeHost{password: "secret"}, &fakeCI{})

	rec := httptest.NewRecorder()
	h.Execute(rec, httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader("{}")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "not logged in", strings.TrimSpace(rec.Body.String()))
}

func TestExecute(t *testing.T) {
	host := &fakeHost{
		password: "secret",
		repos: []gin.Repository{{
			Name:     "experiments",
			FullName: "alice/experiments",
			CloneURL: "https://gin.example.org/alice/experiments.git",
		}},
	}
	ci := &fakeCI{}
	h := newTestHandler(t, host, ci)
	login(t, h)

	body := strings.NewReader(`{
		"repo": "experiments",
		"commitMessage": "configure workflow",
		"workflow": "wf1",
		"userInputs": {"cmd-1": "make", "cmd-0": "python run.py", "cmd-2": ""},
		"annexFiles": {"file-0": "data/raw.nix"},
		"backpushFiles": {}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/execute", body)
	rec := httptest.NewRecorder()
	h.Execute(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Success: workflow pushed to experiments", rec.Body.String())
	assert.Equal(t, []string{"alice/experiments"}, ci.enabled)
	assert.Contains(t, ci.secrets, "alice/experiments")
}

func TestExecuteUnknownRepo(t *testing.T) {
	h := newTestHandler(t, &fakeHost{password: "secret"}, &fakeCI{})
	login(t, h)

	body := strings.NewReader(`{"repo": "missing", "workflow": "wf1"}`)
	rec := httptest.NewRecorder()
	h.Execute(rec, httptest.NewRequest(http.MethodPost, "/api/execute", body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "repository not found", strings.TrimSpace(rec.Body.String()))
}

func TestRepos(t *testing.T) {
	host := &fakeHost{
		password: "secret",
		repos: []gin.Repository{
			{Name: "experiments", FullName: "alice/experiments"},
			{Name: "thesis", FullName: "alice/thesis"},
		},
	}
	h := newTestHandler(t, host, &fakeCI{})
	login(t, h)

	rec := httptest.NewRecorder()
	h.Repos(rec, httptest.NewRequest(http.MethodGet, "/api/repos", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []struct {
		Value string `json:"value"`
		Text  string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Equal(t, 2, len(entries))
	assert.Equal(t, "experiments", entries[0].Value)
	assert.Equal(t, "alice/experiments", entries[0].Text)
	assert.Equal(t, "alice/thesis", entries[1].Text)
}

func TestReposRequiresSession(t *testing.T) {
	h := newTestHandler(t, &fakeHost{password: "secret"}, &fakeCI{})
	rec := httptest.NewRecorder()
	h.Repos(rec, httptest.NewRequest(http.MethodGet, "/api/repos", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOrderedValues(t *testing.T) {
	got := orderedValues(map[string]string{"b": "second", "a": "first", "c": ""})
	assert.Equal(t, []string{"first", "second"}, got)
}
