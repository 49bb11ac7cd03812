package completion

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/campaign-gateway/internal/api/openai"
	"github.com/tjfontaine/campaign-gateway/internal/config"
	"github.com/tjfontaine/campaign-gateway/internal/tokens"
)

const tracerName = "github.com/tjfontaine/campaign-gateway/internal/completion"

// Options holds the sampling parameters sent with every call.
type Options struct {
	Model           string
	MaxTokens       int
	Temperature     float32
	TopP            float32
	PresencePenalty float32
	TopK            int
	EnableThinking  bool
	// GuidedJSON sends schemas as vLLM guided_json. When false they are sent
	// as an OpenAI response_format json_schema instead.
	GuidedJSON bool

	Logger *slog.Logger
	Tokens *tokens.Counter
}

// Client is a Completer backed by an OpenAI-compatible chat completion API.
type Client struct {
	api    *openai.Client
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// NewClient creates a Client that sends requests through api.
func NewClient(api *openai.Client, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    api,
		opts:   opts,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// NewFromConfig builds the upstream HTTP client (instrumented, with the
// configured timeout) and wraps it in a Client.
func NewFromConfig(cfg config.LLMConfig, logger *slog.Logger) *Client {
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	api := openai.NewClient(cfg.APIKey,
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithHTTPClient(httpClient),
	)

	return NewClient(api, Options{
		Model:           cfg.Model,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		PresencePenalty: cfg.PresencePenalty,
		TopK:            cfg.TopK,
		EnableThinking:  cfg.EnableThinking,
		GuidedJSON:      cfg.GuidedJSON,
		Logger:          logger,
		Tokens:          tokens.NewCounter(),
	})
}

// Model returns the model name requests are sent for.
func (c *Client) Model() string {
	return c.opts.Model
}

// Complete sends one chat completion with a system and a user message and
// returns the first choice's content. Failures are returned as *Error and are
// never retried.
func (c *Client) Complete(ctx context.Context, req *Request) (string, error) {
	if req == nil || req.System == "" || req.User == "" {
		return "", &Error{Err: ErrEmptyPrompt}
	}

	ctx, span := c.tracer.Start(ctx, "completion.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", c.opts.Model),
			attribute.Bool("llm.schema", req.Schema != nil),
		),
	)
	defer span.End()

	body := c.buildRequest(req)

	if c.opts.Tokens != nil {
		promptTokens, estimated := c.opts.Tokens.Count(c.opts.Model, req.System+"\n"+req.User)
		span.SetAttributes(attribute.Int("llm.prompt_tokens_estimate", promptTokens))
		c.logger.DebugContext(ctx, "sending completion",
			slog.String("model", c.opts.Model),
			slog.Int("prompt_tokens", promptTokens),
			slog.Bool("estimated", estimated),
		)
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &Error{Err: err}
	}

	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, ErrNoChoices.Error())
		return "", &Error{Err: ErrNoChoices}
	}

	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
		attribute.String("llm.finish_reason", resp.Choices[0].FinishReason),
	)
	c.logger.DebugContext(ctx, "completion received",
		slog.String("model", resp.Model),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.String("finish_reason", resp.Choices[0].FinishReason),
		slog.Duration("duration", time.Since(start)),
	)

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) buildRequest(req *Request) *openai.ChatCompletionRequest {
	temperature := c.opts.Temperature
	topP := c.opts.TopP

	body := &openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:       c.opts.MaxTokens,
		Temperature:     &temperature,
		TopP:            &topP,
		PresencePenalty: c.opts.PresencePenalty,
		TopK:            c.opts.TopK,
		ChatTemplateKwargs: map[string]any{
			"enable_thinking": c.opts.EnableThinking,
		},
	}

	if req.Schema == nil {
		return body
	}

	if c.opts.GuidedJSON {
		body.GuidedJSON = req.Schema
		return body
	}

	name := req.SchemaName
	if name == "" {
		name = "output"
	}
	body.ResponseFormat = &openai.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &openai.JSONSchemaSpec{
			Name:   name,
			Schema: req.Schema,
		},
	}
	return body
}

var _ Completer = (*Client)(nil)
