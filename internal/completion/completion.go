// Package completion defines the single capability the campaign pipeline needs
// from a language model: system prompt and user prompt in, optional output
// schema in, generated text out.
package completion

import (
	"context"
	"errors"
	"fmt"
)

// Request is one completion call.
type Request struct {
	// System is the stage's rendered system prompt.
	System string
	// User is the campaign prompt built from the client's request.
	User string
	// Schema optionally constrains the remote model to emit matching JSON.
	// The remote service enforces it; nothing is validated locally.
	Schema map[string]any
	// SchemaName labels the schema for servers that require one.
	SchemaName string
}

// Completer produces text for a Request.
type Completer interface {
	Complete(ctx context.Context, req *Request) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req *Request) (string, error)

// Complete calls f(ctx, req).
func (f CompleterFunc) Complete(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

// ErrNoChoices is returned when the upstream response carries no choices.
var ErrNoChoices = errors.New("response contained no choices")

// ErrEmptyPrompt is returned when either prompt is blank.
var ErrEmptyPrompt = errors.New("system and user prompts must not be empty")

// Error is the one failure kind surfaced by a Completer: transport errors,
// timeouts, non-success responses and undecodable bodies all end up here.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("completion failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsError reports whether err came from a Completer.
func IsError(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr)
}
