package callback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// receiver is a callback endpoint that records every POST it gets.
type receiver struct {
	mu     sync.Mutex
	bodies []Envelope
	status int
	srv    *httptest.Server
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{status: status}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			t.Errorf("callback method = %s", req.Method)
		}
		if ct := req.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var env Envelope
		if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
			t.Errorf("callback body is not JSON: %v", err)
		}
		r.mu.Lock()
		r.bodies = append(r.bodies, env)
		r.mu.Unlock()
		w.WriteHeader(r.status)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *receiver) received() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.bodies))
	copy(out, r.bodies)
	return out
}

func waitFor(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestDispatcher_Success(t *testing.T) {
	recv := newReceiver(t, http.StatusOK)
	d := NewDispatcher(Options{Logger: quietLogger()})

	var finished atomic.Bool
	err := d.Dispatch(context.Background(), Job{
		ID:  "job-1",
		URL: recv.srv.URL,
		Run: func(ctx context.Context) (any, error) {
			return "the deck", nil
		},
		Finished: func(ctx context.Context, data any, err error) {
			if data != "the deck" || err != nil {
				t.Errorf("Finished(%v, %v)", data, err)
			}
			finished.Store(true)
		},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	waitFor(t, d)

	got := recv.received()
	if len(got) != 1 {
		t.Fatalf("expected exactly one callback, got %d", len(got))
	}
	if got[0].Status != StatusSuccess || got[0].Data != "the deck" {
		t.Errorf("envelope = %+v", got[0])
	}
	if !finished.Load() {
		t.Error("Finished was not called")
	}
}

func TestDispatcher_FailureEnvelope(t *testing.T) {
	recv := newReceiver(t, http.StatusOK)
	d := NewDispatcher(Options{Logger: quietLogger()})

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{name: "default message", want: "Failed to generate campaign: upstream timed out"},
		{name: "custom message", message: "Failed to regenerate campaign", want: "Failed to regenerate campaign: upstream timed out"},
	}
	for _, tt := range tests {
		err := d.Dispatch(context.Background(), Job{
			URL:            recv.srv.URL,
			FailureMessage: tt.message,
			Run: func(ctx context.Context) (any, error) {
				return nil, errors.New("upstream timed out")
			},
		})
		if err != nil {
			t.Fatalf("%s: Dispatch() error = %v", tt.name, err)
		}
	}
	waitFor(t, d)

	got := recv.received()
	if len(got) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(got))
	}
	messages := map[string]bool{}
	for _, env := range got {
		if env.Status != StatusError {
			t.Errorf("Status = %q", env.Status)
		}
		if env.Data != nil {
			t.Errorf("error envelope carries data: %v", env.Data)
		}
		messages[env.Message] = true
	}
	for _, tt := range tests {
		if !messages[tt.want] {
			t.Errorf("missing message %q in %v", tt.want, messages)
		}
	}
}

func TestDispatcher_DeliveryFailureNotRetried(t *testing.T) {
	recv := newReceiver(t, http.StatusInternalServerError)
	d := NewDispatcher(Options{Logger: quietLogger()})

	err := d.Dispatch(context.Background(), Job{
		URL: recv.srv.URL,
		Run: func(ctx context.Context) (any, error) { return "ok", nil },
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	waitFor(t, d)

	if n := len(recv.received()); n != 1 {
		t.Errorf("expected exactly one delivery attempt, got %d", n)
	}
}

func TestDispatcher_DetachedFromRequestContext(t *testing.T) {
	recv := newReceiver(t, http.StatusOK)
	d := NewDispatcher(Options{Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	err := d.Dispatch(ctx, Job{
		URL: recv.srv.URL,
		Run: func(runCtx context.Context) (any, error) {
			close(started)
			<-release
			if runCtx.Err() != nil {
				return nil, runCtx.Err()
			}
			return "done", nil
		},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	<-started
	cancel()
	close(release)
	waitFor(t, d)

	got := recv.received()
	if len(got) != 1 || got[0].Status != StatusSuccess {
		t.Errorf("expected success after request cancel, got %+v", got)
	}
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	recv := newReceiver(t, http.StatusOK)
	d := NewDispatcher(Options{Logger: quietLogger(), MaxConcurrent: 2})

	var running, peak atomic.Int32
	for i := 0; i < 6; i++ {
		err := d.Dispatch(context.Background(), Job{
			URL: recv.srv.URL,
			Run: func(ctx context.Context) (any, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				running.Add(-1)
				return "ok", nil
			},
		})
		if err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}
	waitFor(t, d)

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
	if n := len(recv.received()); n != 6 {
		t.Errorf("expected 6 callbacks, got %d", n)
	}
}

func TestDispatcher_ClosedAfterWait(t *testing.T) {
	d := NewDispatcher(Options{Logger: quietLogger()})
	waitFor(t, d)

	err := d.Dispatch(context.Background(), Job{
		URL: "http://example.com",
		Run: func(ctx context.Context) (any, error) { return nil, nil },
	})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDispatcher_RequiresRun(t *testing.T) {
	d := NewDispatcher(Options{Logger: quietLogger()})
	defer waitFor(t, d)

	if err := d.Dispatch(context.Background(), Job{URL: "http://example.com"}); err == nil {
		t.Error("expected error for job without Run")
	}
}

func TestDispatcher_DefaultClientInstrumented(t *testing.T) {
	for _, blockPrivate := range []bool{false, true} {
		d := NewDispatcher(Options{Logger: quietLogger(), BlockPrivate: blockPrivate})
		if _, ok := d.client.Transport.(*otelhttp.Transport); !ok {
			t.Errorf("BlockPrivate=%v: transport = %T, want *otelhttp.Transport", blockPrivate, d.client.Transport)
		}
		if d.base == nil {
			t.Errorf("BlockPrivate=%v: base transport not kept", blockPrivate)
		}
		if err := d.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	custom := &http.Client{}
	d := NewDispatcher(Options{Logger: quietLogger(), Client: custom})
	if d.client != custom || d.base != nil {
		t.Error("a caller supplied client should be used as is")
	}
}

func TestDispatcher_BlockPrivate(t *testing.T) {
	recv := newReceiver(t, http.StatusOK)
	d := NewDispatcher(Options{Logger: quietLogger(), BlockPrivate: true})

	err := d.Dispatch(context.Background(), Job{
		URL: recv.srv.URL,
		Run: func(ctx context.Context) (any, error) { return "secret", nil },
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	waitFor(t, d)

	if n := len(recv.received()); n != 0 {
		t.Errorf("loopback callback should be refused, got %d deliveries", n)
	}
}

func TestBlockedIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"169.254.169.254", true},
		{"::1", true},
		{"0.0.0.0", true},
		{"93.184.216.34", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		if got := blockedIP(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("blockedIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}
