package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tjfontaine/campaign-gateway/internal/callback"
	domain "github.com/tjfontaine/campaign-gateway/internal/campaign"
	"github.com/tjfontaine/campaign-gateway/internal/pipeline"
	"github.com/tjfontaine/campaign-gateway/internal/server"
	"github.com/tjfontaine/campaign-gateway/internal/storage"
)

// execution is one accepted request, ready to run inline or in the
// background.
type execution struct {
	kind           storage.Kind
	callbackURL    string
	failureMessage string
	run            func(ctx context.Context, obs pipeline.Observer) (string, error)
}

func (h *Handler) pipelineRun(prompt string) func(context.Context, pipeline.Observer) (string, error) {
	return func(ctx context.Context, obs pipeline.Observer) (string, error) {
		if h.runner == nil {
			return "", errors.New("pipeline is not configured")
		}
		return h.runner.Run(ctx, prompt, pipeline.WithObserver(obs))
	}
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, ex execution) {
	ctx := r.Context()
	id := h.newID()
	server.AddLogField(ctx, "campaign_id", id)
	server.AddLogField(ctx, "campaign_kind", string(ex.kind))

	run := &storage.Run{
		ID:          id,
		Kind:        ex.kind,
		Status:      storage.StatusProcessing,
		CallbackURL: ex.callbackURL,
	}
	h.recordCreate(ctx, run)
	rec := &stageRecorder{}

	if ex.callbackURL != "" {
		h.executeAsync(w, r, ex, run, rec)
		return
	}

	// A client that hangs up does not abort the stages already paid for;
	// the run finishes and is recorded either way.
	text, err := ex.run(context.WithoutCancel(ctx), rec)
	h.recordFinish(ctx, run, rec, text, err)
	if err != nil {
		server.AddError(ctx, err)
		h.logger.ErrorContext(ctx, "campaign run failed",
			slog.String("campaign_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, ex.failureMessage, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      callback.StatusSuccess,
		"data":        h.resultData(text),
		"campaign_id": id,
	})
}

func (h *Handler) executeAsync(w http.ResponseWriter, r *http.Request, ex execution, run *storage.Run, rec *stageRecorder) {
	ctx := r.Context()
	if h.dispatcher == nil {
		err := errors.New("callbacks are not enabled")
		h.recordFinish(ctx, run, rec, "", err)
		writeError(w, http.StatusServiceUnavailable, ex.failureMessage, err)
		return
	}

	// Run and Finished are called in order on the job's goroutine.
	var text string
	err := h.dispatcher.Dispatch(ctx, callback.Job{
		ID:             run.ID,
		URL:            ex.callbackURL,
		FailureMessage: ex.failureMessage,
		Run: func(ctx context.Context) (any, error) {
			out, err := ex.run(ctx, rec)
			if err != nil {
				return nil, err
			}
			text = out
			return h.resultData(out), nil
		},
		Finished: func(ctx context.Context, _ any, err error) {
			h.recordFinish(ctx, run, rec, text, err)
		},
	})
	if err != nil {
		server.AddError(ctx, err)
		h.recordFinish(ctx, run, rec, "", err)
		writeError(w, http.StatusServiceUnavailable, ex.failureMessage, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "processing",
		"message":      msgProcessing,
		"callback_url": ex.callbackURL,
		"campaign_id":  run.ID,
	})
}

// resultData is the value placed in the response's data field.
func (h *Handler) resultData(text string) any {
	if !h.parseResult {
		return text
	}
	if !json.Valid([]byte(text)) {
		return map[string]string{"error": msgParseFailed}
	}
	return json.RawMessage(text)
}

func (h *Handler) recordCreate(ctx context.Context, run *storage.Run) {
	if h.store == nil {
		return
	}
	if err := h.store.Create(ctx, run); err != nil {
		h.logger.WarnContext(ctx, "failed to record campaign run",
			slog.String("campaign_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handler) recordFinish(ctx context.Context, run *storage.Run, rec *stageRecorder, text string, err error) {
	if h.store == nil {
		return
	}
	run.Stages = rec.snapshot()
	if err != nil {
		run.Status = storage.StatusError
		run.Error = err.Error()
	} else {
		run.Status = storage.StatusSuccess
		run.Result = text
	}
	if uerr := h.store.Update(context.WithoutCancel(ctx), run); uerr != nil {
		h.logger.WarnContext(ctx, "failed to update campaign run",
			slog.String("campaign_id", run.ID),
			slog.String("error", uerr.Error()),
		)
	}
}

// stageRecorder collects stage metadata for the run record.
type stageRecorder struct {
	mu     sync.Mutex
	stages []storage.StageTrace
}

func (s *stageRecorder) StageStarted(context.Context, pipeline.StageEvent) {}

func (s *stageRecorder) StageFinished(_ context.Context, ev pipeline.StageEvent) {
	trace := storage.StageTrace{
		Stage:        string(ev.Stage),
		Duration:     ev.Duration,
		PromptTokens: ev.PromptTokens,
		OutputBytes:  ev.OutputBytes,
	}
	if ev.Err != nil {
		trace.Error = ev.Err.Error()
	}
	s.mu.Lock()
	s.stages = append(s.stages, trace)
	s.mu.Unlock()
}

func (s *stageRecorder) snapshot() []storage.StageTrace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.StageTrace(nil), s.stages...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{
		"status":  callback.StatusError,
		"message": message,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, status, body)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		writeError(w, http.StatusUnprocessableEntity, "Invalid campaign request", err)
		return
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"status":  callback.StatusError,
		"message": "Invalid campaign request",
		"detail":  verr.Fields,
	})
}
