package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/mscno/ginproc/pkg/errs"
	"github.com/mscno/ginproc/pkg/gin"
	"github.com/mscno/ginproc/pkg/keys"
	"github.com/mscno/ginproc/pkg/secrets"
	"github.com/mscno/ginproc/pkg/session"
	"github.com/mscno/ginproc/pkg/workflow"
)

// Handler translates the HTTP surface into calls on the domain services.
type Handler struct {
	Host       gin.Client
	Sessions   *session.Store
	Reconciler *keys.Reconciler
	Propagator *secrets.Propagator
	Pipeline   *workflow.Pipeline
	logger     *slog.Logger
}

func NewHandler(host gin.Client, sessions *session.Store, reconciler *keys.Reconciler, propagator *secrets.Propagator, pipeline *workflow.Pipeline, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Host:       host,
		Sessions:   sessions,
		Reconciler: reconciler,
		Propagator: propagator,
		Pipeline:   pipeline,
		logger:     logger,
	}
}

// Login handles POST /auth/login. It ensures the access token, reconciles
// the SSH keypair and refreshes the CI secrets, in that order, short-
// circuiting on the first failure.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	token, err := h.Host.EnsureToken(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Error("token ensure failed", "user", req.Username, "error", err)
		h.writeError(w, err)
		return
	}
	h.logger.Debug("access token ensured", "user", req.Username)

	if err := h.Reconciler.Ensure(r.Context(), token); err != nil {
		h.logger.Error("key reconciliation failed", "user", req.Username, "error", err)
		h.writeError(w, err)
		return
	}
	if err := h.Propagator.EnsureAll(r.Context()); err != nil {
		h.logger.Error("secret propagation failed", "user", req.Username, "error", err)
		h.writeError(w, err)
		return
	}

	h.Sessions.Set(req.Username, token)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// Logout handles POST /auth/logout. Clears the session unconditionally.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Clear()
	w.Write([]byte("logged out"))
}

// User handles GET /auth/user: passthrough of the host's profile response.
func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get()
	if err != nil {
		h.writeError(w, err)
		return
	}
	status, body, err := h.Host.User(r.Context(), sess.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if status == http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	w.Write(body)
}

// executeRequest mirrors the front-end's submission shape. The file and
// command maps come keyed by form-field id; values are what matters.
type executeRequest struct {
	Repo          string            `json:"repo"`
	Notifications bool              `json:"notifications"`
	CommitMessage string            `json:"commitMessage"`
	UserInputs    map[string]string `json:"userInputs"`
	Workflow      string            `json:"workflow"`
	AnnexFiles    map[string]string `json:"annexFiles"`
	BackpushFiles map[string]string `json:"backpushFiles"`
}

// Execute handles POST /api/execute: runs the workflow pipeline against
// the session's identity.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get()
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	wfReq := workflow.Request{
		Repo:          req.Repo,
		CommitMessage: req.CommitMessage,
		UserCommands:  orderedValues(req.UserInputs),
		Workflow:      req.Workflow,
		InputFiles:    orderedValues(req.AnnexFiles),
		OutputFiles:   orderedValues(req.BackpushFiles),
		Notifications: req.Notifications,
	}
	if err := h.Pipeline.Configure(r.Context(), wfReq, sess.Token, sess.Username); err != nil {
		h.logger.Error("workflow configuration failed", "repo", req.Repo, "error", err)
		h.writeError(w, err)
		return
	}
	fmt.Fprintf(w, "Success: workflow pushed to %s", req.Repo)
}

// Repos handles GET /api/repos: the user's repositories shaped for the
// front-end's picker.
func (h *Handler) Repos(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get()
	if err != nil {
		h.writeError(w, err)
		return
	}
	repos, err := h.Host.Repos(r.Context(), sess.Token, sess.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}
	type entry struct {
		Value string `json:"value"`
		Text  string `json:"text"`
	}
	out := make([]entry, 0, len(repos))
	for _, repo := range repos {
		out = append(out, entry{Value: repo.Name, Text: sess.Username + "/" + repo.Name})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// writeError maps a typed error onto a status code and message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var authErr *errs.AuthError
	var serverErr *errs.ServerError
	switch {
	case errors.Is(err, errs.ErrNoSession):
		http.Error(w, "not logged in", http.StatusUnauthorized)
	case errors.As(err, &authErr):
		http.Error(w, "login failed", http.StatusUnauthorized)
	case errors.As(err, &serverErr):
		http.Error(w, serverErr.Msg, serverErr.Status)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// orderedValues drops empty entries and returns the remaining values in
// key order, so identical submissions configure identical pipelines.
func orderedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
