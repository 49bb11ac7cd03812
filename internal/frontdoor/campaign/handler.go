// Package campaign is the HTTP front door for campaign generation. It
// validates requests, builds the user prompt, runs the pipeline once per
// request and answers synchronously or through a callback.
package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/campaign-gateway/internal/callback"
	domain "github.com/tjfontaine/campaign-gateway/internal/campaign"
	"github.com/tjfontaine/campaign-gateway/internal/completion"
	"github.com/tjfontaine/campaign-gateway/internal/pipeline"
	"github.com/tjfontaine/campaign-gateway/internal/prompts"
	"github.com/tjfontaine/campaign-gateway/internal/server"
	"github.com/tjfontaine/campaign-gateway/internal/storage"
)

const (
	// DefaultVersion is reported by GET / when Config.Version is empty.
	DefaultVersion = "1.0.0"

	maxBodyBytes     = 1 << 20
	defaultListLimit = 20
	maxListLimit     = 100

	msgGenerateFailed   = "Failed to generate campaign"
	msgRegenerateFailed = "Failed to regenerate campaign"
	msgRefineFailed     = "Failed to refine campaign"
	msgProcessing       = "Campaign generation started. You will receive a callback when ready."
	msgParseFailed      = "Failed to parse campaign result"
)

// Runner runs the full stage pipeline for one user prompt.
type Runner interface {
	Run(ctx context.Context, userPrompt string, opts ...pipeline.RunOption) (string, error)
}

// Dispatcher runs callback jobs in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, job callback.Job) error
}

// Config holds the handler's collaborators. Store and Dispatcher are optional:
// without a store runs are not recorded, and without a dispatcher callback
// URLs are rejected.
type Config struct {
	Runner     Runner
	Completer  completion.Completer
	Dispatcher Dispatcher
	Store      storage.RunStore
	Model      string
	Version    string
	// ParseResult embeds the presenter output as JSON instead of a string.
	ParseResult bool
	Logger      *slog.Logger
	NewID       func() string
}

type Handler struct {
	runner      Runner
	completer   completion.Completer
	dispatcher  Dispatcher
	store       storage.RunStore
	model       string
	version     string
	parseResult bool
	logger      *slog.Logger
	newID       func() string
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	return &Handler{
		runner:      cfg.Runner,
		completer:   cfg.Completer,
		dispatcher:  cfg.Dispatcher,
		store:       cfg.Store,
		model:       cfg.Model,
		version:     version,
		parseResult: cfg.ParseResult,
		logger:      logger,
		newID:       newID,
	}
}

// HandleRoot serves the service directory.
func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "running",
		"message": "Welcome to the Campaign Generator API",
		"version": h.version,
		"endpoints": map[string]any{
			"generate_campaign": endpoint(http.MethodPost, "/generate-campaign", "Generate a new marketing campaign"),
			"regenerate_campaign": endpoint(http.MethodPost, "/regenerate-campaign",
				"Regenerate a marketing campaign with modifications"),
			"refine_campaign": endpoint(http.MethodPost, "/refine-campaign",
				"Refine a finished campaign using client comments"),
			"get_campaign": endpoint(http.MethodGet, "/campaigns/{id}", "Look up a campaign run"),
			"health":       endpoint(http.MethodGet, "/health", "Service health"),
		},
	})
}

func endpoint(method, path, description string) map[string]string {
	return map[string]string{"method": method, "path": path, "description": description}
}

// HandleHealth reports liveness and the configured model.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"model":  h.model,
	})
}

// HandleGenerate validates a campaign request and runs the pipeline.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	req, err := domain.DecodeRequest(body)
	if err != nil {
		server.AddError(r.Context(), err)
		writeValidationError(w, err)
		return
	}

	server.AddLogField(r.Context(), "industry", req.Industry)
	h.logger.InfoContext(r.Context(), "received campaign generation request",
		slog.String("industry", req.Industry),
		slog.Bool("callback", req.CallbackURL != ""),
	)

	h.execute(w, r, execution{
		kind:           storage.KindGenerate,
		callbackURL:    req.CallbackURL,
		failureMessage: msgGenerateFailed,
		run:            h.pipelineRun(req.Prompt()),
	})
}

// HandleRegenerate runs the full pipeline again from arbitrary prior
// parameters.
func (h *Handler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	params, err := domain.RegenerationParams(body)
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format", err)
		return
	}

	callbackURL, err := callbackFromParams(params)
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, "Invalid callback_url", err)
		return
	}

	prompt, err := domain.RegenerationPrompt(params)
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, msgRegenerateFailed, err)
		return
	}

	h.logger.InfoContext(r.Context(), "received campaign regeneration request",
		slog.Int("parameters", len(params)),
		slog.Bool("callback", callbackURL != ""),
	)

	h.execute(w, r, execution{
		kind:           storage.KindRegenerate,
		callbackURL:    callbackURL,
		failureMessage: msgRegenerateFailed,
		run:            h.pipelineRun(prompt),
	})
}

func callbackFromParams(params map[string]any) (string, error) {
	raw, ok := params["callback_url"]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", errors.New("callback_url must be a string")
	}
	if s == "" {
		return "", nil
	}
	if err := domain.ValidateCallbackURL(s); err != nil {
		return "", fmt.Errorf("callback_url: %w", err)
	}
	return s, nil
}

// RefineRequest asks for a finished campaign to be reworked with client
// comments. PreviousCampaign may be a string or any JSON value.
type RefineRequest struct {
	PreviousCampaign json.RawMessage `json:"previous_campaign"`
	ClientComments   string          `json:"client_comments"`
	CallbackURL      string          `json:"callback_url,omitempty"`
}

// HandleRefine revises a finished campaign in a single completion call.
func (h *Handler) HandleRefine(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	var req RefineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", err)
		return
	}

	previous := previousCampaignText(req.PreviousCampaign)
	verr := &domain.ValidationError{}
	if strings.TrimSpace(previous) == "" {
		verr.Fields = append(verr.Fields, domain.FieldError{Field: "previous_campaign", Message: "field required"})
	}
	if strings.TrimSpace(req.ClientComments) == "" {
		verr.Fields = append(verr.Fields, domain.FieldError{Field: "client_comments", Message: "field required"})
	}
	if req.CallbackURL != "" {
		if err := domain.ValidateCallbackURL(req.CallbackURL); err != nil {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: "callback_url", Message: err.Error()})
		}
	}
	if len(verr.Fields) > 0 {
		server.AddError(r.Context(), verr)
		writeValidationError(w, verr)
		return
	}

	system, err := prompts.Render(prompts.Refine, prompts.Vars{
		PreviousCampaign: previous,
		ClientComments:   req.ClientComments,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, msgRefineFailed, err)
		return
	}

	h.execute(w, r, execution{
		kind:           storage.KindRefine,
		callbackURL:    req.CallbackURL,
		failureMessage: msgRefineFailed,
		run: func(ctx context.Context, _ pipeline.Observer) (string, error) {
			if h.completer == nil {
				return "", errors.New("refinement is not configured")
			}
			return h.completer.Complete(ctx, &completion.Request{
				System: system,
				User:   req.ClientComments,
			})
		},
	})
}

// previousCampaignText accepts the deck either as a JSON string or as the
// structured presenter output.
func previousCampaignText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// HandleGetCampaign returns a recorded run.
func (h *Handler) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "Campaign history is disabled", nil)
		return
	}

	id := chi.URLParam(r, "id")
	run, err := h.store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Campaign not found", nil)
		return
	}
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "Failed to load campaign", err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// HandleListCampaigns returns the most recent runs.
func (h *Handler) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"campaigns": []*storage.Run{}})
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := h.store.List(r.Context(), limit)
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "Failed to list campaigns", err)
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": runs})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}
