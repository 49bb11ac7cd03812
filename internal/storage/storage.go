// Package storage records campaign runs so their status can be looked up
// after the fact. Records carry stage metadata only; intermediate stage
// outputs are never stored.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Kind is the operation that started a run.
type Kind string

const (
	KindGenerate   Kind = "generate"
	KindRegenerate Kind = "regenerate"
	KindRefine     Kind = "refine"
)

// Status is where a run is in its lifecycle.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// StageTrace is the metadata of one completed or failed stage.
type StageTrace struct {
	Stage        string        `json:"stage"`
	Duration     time.Duration `json:"duration_ns"`
	PromptTokens int           `json:"prompt_tokens,omitempty"`
	OutputBytes  int           `json:"output_bytes"`
	Error        string        `json:"error,omitempty"`
}

// Run is one campaign run.
type Run struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	Status      Status       `json:"status"`
	CallbackURL string       `json:"callback_url,omitempty"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	Stages      []StageTrace `json:"stages"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RunStore persists runs.
type RunStore interface {
	// Create stores a new run and sets its timestamps.
	Create(ctx context.Context, run *Run) error
	// Update replaces the stored run with the same ID and bumps UpdatedAt.
	Update(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// List returns the most recent runs first.
	List(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}
