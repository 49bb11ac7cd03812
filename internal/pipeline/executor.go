package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/campaign-gateway/internal/campaign"
	"github.com/tjfontaine/campaign-gateway/internal/completion"
	"github.com/tjfontaine/campaign-gateway/internal/prompts"
	"github.com/tjfontaine/campaign-gateway/internal/tokens"
)

const tracerName = "github.com/tjfontaine/campaign-gateway/internal/pipeline"

// ErrEmptyPrompt is returned when Run is called without a user prompt.
var ErrEmptyPrompt = errors.New("user prompt is empty")

// StageEvent describes a stage as it starts or finishes. Output text is
// deliberately absent so observers only ever see metadata.
type StageEvent struct {
	Stage        Name
	Index        int
	PromptTokens int
	OutputBytes  int
	Duration     time.Duration
	Err          error
}

// Observer is notified as stages start and finish. Calls happen on the run's
// goroutine, in stage order.
type Observer interface {
	StageStarted(ctx context.Context, ev StageEvent)
	StageFinished(ctx context.Context, ev StageEvent)
}

// Options configures an Orchestrator.
type Options struct {
	Logger *slog.Logger
	// ValidateOutputs decodes every stage output against its schema and aborts
	// the run on a mismatch.
	ValidateOutputs bool
	// Observer is notified for every run.
	Observer Observer
	// Tokens, when set, estimates the prompt size of each stage using the
	// encoding for Model.
	Tokens *tokens.Counter
	Model  string
}

// Orchestrator runs the stages against a Completer. It holds no per-run
// state and is safe for concurrent use.
type Orchestrator struct {
	completer completion.Completer
	stages    []Stage
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates an Orchestrator over the standard six stages.
func New(c completion.Completer, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		completer: c,
		stages:    Stages(),
		opts:      opts,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// RunOption customizes a single run.
type RunOption func(*runConfig)

type runConfig struct {
	observers []Observer
}

// WithObserver adds an observer for one run only.
func WithObserver(obs Observer) RunOption {
	return func(rc *runConfig) {
		if obs != nil {
			rc.observers = append(rc.observers, obs)
		}
	}
}

// Run executes every stage and returns the presenter's output unchanged.
func (o *Orchestrator) Run(ctx context.Context, userPrompt string, opts ...RunOption) (string, error) {
	pc, err := o.RunWithContext(ctx, userPrompt, opts...)
	if err != nil {
		return "", err
	}
	return pc.Final(), nil
}

// RunWithContext executes every stage and returns all recorded outputs. On
// failure the partial context is discarded and only the error is returned.
func (o *Orchestrator) RunWithContext(ctx context.Context, userPrompt string, opts ...RunOption) (*Context, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return nil, ErrEmptyPrompt
	}

	rc := runConfig{}
	if o.opts.Observer != nil {
		rc.observers = append(rc.observers, o.opts.Observer)
	}
	for _, opt := range opts {
		opt(&rc)
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.Int("campaign.stages", len(o.stages))),
	)
	defer span.End()

	start := time.Now()
	pc := newContext(userPrompt)

	for i, stage := range o.stages {
		if err := o.runStage(ctx, pc, i, stage, rc.observers); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.logger.ErrorContext(ctx, "pipeline failed",
				slog.String("stage", string(stage.Name)),
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
	}

	o.logger.InfoContext(ctx, "pipeline completed",
		slog.Int("stages", len(o.stages)),
		slog.Duration("duration", time.Since(start)),
	)
	return pc, nil
}

func (o *Orchestrator) runStage(ctx context.Context, pc *Context, index int, stage Stage, observers []Observer) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.stage",
		trace.WithAttributes(
			attribute.String("campaign.stage", string(stage.Name)),
			attribute.Int("campaign.stage_index", index),
		),
	)
	defer span.End()

	vars, err := pc.vars(stage.Consumes)
	if err != nil {
		return &StageError{Stage: stage.Name, Err: err}
	}
	system, err := prompts.Render(stage.Template, vars)
	if err != nil {
		return &StageError{Stage: stage.Name, Err: err}
	}

	ev := StageEvent{Stage: stage.Name, Index: index}
	if o.opts.Tokens != nil {
		ev.PromptTokens, _ = o.opts.Tokens.Count(o.opts.Model, system+pc.UserPrompt)
		span.SetAttributes(attribute.Int("llm.prompt_tokens_estimate", ev.PromptTokens))
	}
	for _, obs := range observers {
		obs.StageStarted(ctx, ev)
	}

	o.logger.DebugContext(ctx, "stage started",
		slog.String("stage", string(stage.Name)),
		slog.Int("prompt_tokens", ev.PromptTokens),
	)

	start := time.Now()
	text, err := o.completer.Complete(ctx, &completion.Request{
		System:     system,
		User:       pc.UserPrompt,
		Schema:     stage.Schema,
		SchemaName: string(stage.Output),
	})
	if err == nil && o.opts.ValidateOutputs {
		_, err = campaign.DecodeOutput(stage.Output, text)
	}
	if err == nil {
		err = pc.record(stage.Name, text)
	}

	ev.Duration = time.Since(start)
	ev.OutputBytes = len(text)
	if err != nil {
		err = &StageError{Stage: stage.Name, Err: err}
		ev.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	for _, obs := range observers {
		obs.StageFinished(ctx, ev)
	}
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("campaign.output_bytes", ev.OutputBytes))
	o.logger.DebugContext(ctx, "stage finished",
		slog.String("stage", string(stage.Name)),
		slog.Duration("duration", ev.Duration),
		slog.Int("output_bytes", ev.OutputBytes),
	)
	return nil
}

// StageError identifies the stage a run failed in.
type StageError struct {
	Stage Name
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage reports which stage err came from, if any.
func FailedStage(err error) (Name, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
