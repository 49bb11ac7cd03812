// Package callback runs campaign jobs in the background and delivers their
// result to a client-supplied URL.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	// DefaultFailureMessage prefixes the error text in failure envelopes.
	DefaultFailureMessage = "Failed to generate campaign"
)

// ErrClosed is returned by Dispatch after Wait has been called.
var ErrClosed = errors.New("callback dispatcher is shut down")

// Envelope is the body POSTed to a callback URL.
type Envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Job is one background run and the URL its result goes to.
type Job struct {
	ID  string
	URL string
	// Run produces the success payload. Its context is detached from the
	// request that submitted the job.
	Run func(ctx context.Context) (any, error)
	// Finished, if set, is called with Run's result before delivery.
	Finished func(ctx context.Context, data any, err error)
	// FailureMessage overrides DefaultFailureMessage.
	FailureMessage string
}

// Options configures a Dispatcher.
type Options struct {
	// Client sends callbacks. Defaults to a client built from Timeout and
	// BlockPrivate.
	Client *http.Client
	// Timeout bounds each delivery POST.
	Timeout time.Duration
	// MaxConcurrent bounds jobs running at once; further jobs queue.
	MaxConcurrent int
	// BlockPrivate refuses deliveries to loopback, private and link-local
	// addresses.
	BlockPrivate bool
	Logger       *slog.Logger
}

// Dispatcher runs jobs with bounded concurrency and POSTs exactly one
// envelope per job. Delivery failures are logged and never retried.
type Dispatcher struct {
	client *http.Client
	// base is the dialing transport under the otelhttp wrapper, kept so Wait
	// can drop its idle connections.
	base    *http.Transport
	timeout time.Duration
	sem     *semaphore.Weighted
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := opts.Client
	var base *http.Transport
	if client == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
		if opts.BlockPrivate {
			base = GuardedTransport()
		}
		client = &http.Client{Transport: otelhttp.NewTransport(base)}
	}

	return &Dispatcher{
		client:  client,
		base:    base,
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logger,
	}
}

// Dispatch starts job in the background and returns immediately. The job
// keeps running after ctx is cancelled; ctx only carries values such as the
// trace and request ID.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	if job.Run == nil {
		return errors.New("callback job has no Run function")
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		// bg is never cancelled, so Acquire only returns once a slot frees.
		if err := d.sem.Acquire(bg, 1); err != nil {
			d.logger.ErrorContext(bg, "callback job not started",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		defer d.sem.Release(1)
		d.run(bg, job)
	}()
	return nil
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	start := time.Now()
	data, err := job.Run(ctx)
	if job.Finished != nil {
		job.Finished(ctx, data, err)
	}

	env := Envelope{Status: StatusSuccess, Data: data}
	if err != nil {
		msg := job.FailureMessage
		if msg == "" {
			msg = DefaultFailureMessage
		}
		env = Envelope{Status: StatusError, Message: fmt.Sprintf("%s: %v", msg, err)}
		d.logger.ErrorContext(ctx, "callback job failed",
			slog.String("job_id", job.ID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
	}

	if derr := d.deliver(ctx, job.URL, env); derr != nil {
		d.logger.ErrorContext(ctx, "callback delivery failed",
			slog.String("job_id", job.ID),
			slog.String("callback_url", job.URL),
			slog.String("error", derr.Error()),
		)
		return
	}
	d.logger.InfoContext(ctx, "callback delivered",
		slog.String("job_id", job.ID),
		slog.String("status", env.Status),
		slog.Duration("duration", time.Since(start)),
	)
}

func (d *Dispatcher) deliver(ctx context.Context, url string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Wait stops accepting jobs and blocks until running jobs have delivered
// their callbacks or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.client.CloseIdleConnections()
		if d.base != nil {
			d.base.CloseIdleConnections()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
