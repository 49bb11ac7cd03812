package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/goleak"

	"github.com/tjfontaine/campaign-gateway/internal/callback"
	domain "github.com/tjfontaine/campaign-gateway/internal/campaign"
	"github.com/tjfontaine/campaign-gateway/internal/completion"
	"github.com/tjfontaine/campaign-gateway/internal/pipeline"
	"github.com/tjfontaine/campaign-gateway/internal/ratelimit"
	"github.com/tjfontaine/campaign-gateway/internal/server"
	"github.com/tjfontaine/campaign-gateway/internal/storage"
	"github.com/tjfontaine/campaign-gateway/internal/storage/memory"
	"github.com/tjfontaine/campaign-gateway/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockCompleter struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []*completion.Request
}

func (m *mockCompleter) Complete(ctx context.Context, req *completion.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if err := m.errs[req.SchemaName]; err != nil {
		return "", err
	}
	return m.outputs[req.SchemaName], nil
}

func (m *mockCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockCompleter) call(i int) *completion.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

func fixtureCompleter() *mockCompleter {
	return &mockCompleter{
		outputs: map[string]string{
			string(domain.KindStrategy):     testutil.StrategyFixture,
			string(domain.KindConcept):      testutil.ConceptFixture,
			string(domain.KindChannel):      testutil.ChannelFixture,
			string(domain.KindKPI):          testutil.KPIFixture,
			string(domain.KindEvaluation):   testutil.EvaluationFixture,
			string(domain.KindPresentation): testutil.PresentationFixture,
			"":                              "refined deck",
		},
		errs: map[string]error{},
	}
}

type fixture struct {
	mock       *mockCompleter
	store      *memory.Store
	dispatcher *callback.Dispatcher
	router     *chi.Mux
}

type fixtureOption func(*Config)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock := fixtureCompleter()
	store := memory.New()
	dispatcher := callback.NewDispatcher(callback.Options{Timeout: 5 * time.Second, Logger: logger})

	cfg := Config{
		Runner:     pipeline.New(mock, pipeline.Options{Logger: logger}),
		Completer:  mock,
		Dispatcher: dispatcher,
		Store:      store,
		Model:      "test-model",
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	router := chi.NewRouter()
	Mount(router, CreateHandlerRegistrations(NewHandler(cfg), ""), nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Wait(ctx)
	})

	return &fixture{mock: mock, store: store, dispatcher: dispatcher, router: router}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) waitCallbacks(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.dispatcher.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

// callbackReceiver records envelopes POSTed to it.
type callbackReceiver struct {
	mu        sync.Mutex
	envelopes []callback.Envelope
	srv       *httptest.Server
}

func newCallbackReceiver(t *testing.T) *callbackReceiver {
	t.Helper()
	cr := &callbackReceiver{}
	cr.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env callback.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("callback body: %v", err)
		}
		cr.mu.Lock()
		cr.envelopes = append(cr.envelopes, env)
		cr.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cr.srv.Close)
	return cr
}

func (cr *callbackReceiver) received() []callback.Envelope {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return append([]callback.Envelope(nil), cr.envelopes...)
}

func TestHandleRoot(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "running" || body["version"] != DefaultVersion {
		t.Errorf("unexpected root payload: %v", body)
	}
	endpoints, ok := body["endpoints"].(map[string]any)
	if !ok {
		t.Fatalf("endpoints missing: %v", body)
	}
	gen, ok := endpoints["generate_campaign"].(map[string]any)
	if !ok || gen["method"] != "POST" || gen["path"] != "/generate-campaign" {
		t.Errorf("generate_campaign endpoint = %v", endpoints["generate_campaign"])
	}
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" || body["model"] != "test-model" {
		t.Errorf("health = %v", body)
	}
}

func TestHandleGenerate_Sync(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/generate-campaign", testutil.HealthyFoodRequest)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := decodeBody(t, rec)
	if body["status"] != "success" {
		t.Errorf("status = %v, want success", body["status"])
	}
	if body["data"] != testutil.PresentationFixture {
		t.Errorf("data = %v, want presenter output verbatim", body["data"])
	}

	if got := f.mock.callCount(); got != 6 {
		t.Fatalf("completion calls = %d, want 6", got)
	}
	first := f.mock.call(0)
	if !strings.Contains(first.User, "Industry: Healthy Food Delivery") {
		t.Errorf("strategy user prompt = %q", first.User)
	}

	id, _ := body["campaign_id"].(string)
	run, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", id, err)
	}
	if run.Status != storage.StatusSuccess || run.Kind != storage.KindGenerate {
		t.Errorf("run = %+v", run)
	}
	if len(run.Stages) != 6 {
		t.Errorf("recorded %d stages, want 6", len(run.Stages))
	}
	if run.Result != testutil.PresentationFixture {
		t.Errorf("recorded result mismatch")
	}
}

func TestHandleGenerate_ValidationError(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/generate-campaign",
		`{"industry":"","target_audience":{"age":"25-35"},"genders":["robot"],"budget_range":"1","campaign_objective":"x"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	body := decodeBody(t, rec)
	detail, ok := body["detail"].([]any)
	if !ok || len(detail) != 2 {
		t.Fatalf("detail = %v, want 2 field errors", body["detail"])
	}
	if f.mock.callCount() != 0 {
		t.Errorf("pipeline ran for an invalid request")
	}
}

func TestHandleGenerate_MalformedJSON(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/generate-campaign", `{"industry":`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandleGenerate_StageFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.errs[string(domain.KindConcept)] = errors.New("upstream unavailable")

	rec := f.do(http.MethodPost, "/generate-campaign", testutil.HealthyFoodRequest)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "error" || body["message"] != "Failed to generate campaign" {
		t.Errorf("body = %v", body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "upstream unavailable") {
		t.Errorf("error = %q", msg)
	}
	if f.mock.callCount() != 2 {
		t.Errorf("calls = %d, want 2", f.mock.callCount())
	}

	runs, err := f.store.List(context.Background(), 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("List() = %v, %v", runs, err)
	}
	if runs[0].Status != storage.StatusError || runs[0].Result != "" {
		t.Errorf("failed run recorded as %+v", runs[0])
	}
}

type runnerFunc func(ctx context.Context, prompt string, opts ...pipeline.RunOption) (string, error)

func (f runnerFunc) Run(ctx context.Context, prompt string, opts ...pipeline.RunOption) (string, error) {
	return f(ctx, prompt, opts...)
}

func TestHandleGenerate_ClientDisconnect(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Runner = runnerFunc(func(ctx context.Context, prompt string, opts ...pipeline.RunOption) (string, error) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "finished deck", nil
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/generate-campaign",
		strings.NewReader(testutil.HealthyFoodRequest)).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["data"] != "finished deck" {
		t.Errorf("data = %v", body["data"])
	}

	id, _ := body["campaign_id"].(string)
	run, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", id, err)
	}
	if run.Status != storage.StatusSuccess {
		t.Errorf("run status = %s, want success", run.Status)
	}
}

func TestHandleGenerate_Callback(t *testing.T) {
	f := newFixture(t)
	receiver := newCallbackReceiver(t)

	var req map[string]any
	if err := json.Unmarshal([]byte(testutil.HealthyFoodRequest), &req); err != nil {
		t.Fatal(err)
	}
	req["callback_url"] = receiver.srv.URL + "/hook"
	payload, _ := json.Marshal(req)

	rec := f.do(http.MethodPost, "/generate-campaign", string(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "processing" {
		t.Errorf("status = %v, want processing", body["status"])
	}
	if body["message"] != "Campaign generation started. You will receive a callback when ready." {
		t.Errorf("message = %v", body["message"])
	}
	if body["callback_url"] != receiver.srv.URL+"/hook" {
		t.Errorf("callback_url = %v", body["callback_url"])
	}

	f.waitCallbacks(t)

	got := receiver.received()
	if len(got) != 1 {
		t.Fatalf("received %d callbacks, want 1", len(got))
	}
	if got[0].Status != "success" || got[0].Data != testutil.PresentationFixture {
		t.Errorf("callback = %+v", got[0])
	}

	id, _ := body["campaign_id"].(string)
	run, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if run.Status != storage.StatusSuccess || run.CallbackURL == "" {
		t.Errorf("run = %+v", run)
	}
}

func TestHandleGenerate_CallbackFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.errs[string(domain.KindStrategy)] = errors.New("model offline")
	receiver := newCallbackReceiver(t)

	var req map[string]any
	_ = json.Unmarshal([]byte(testutil.HealthyFoodRequest), &req)
	req["callback_url"] = receiver.srv.URL
	payload, _ := json.Marshal(req)

	rec := f.do(http.MethodPost, "/generate-campaign", string(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 acknowledgement", rec.Code)
	}

	f.waitCallbacks(t)

	got := receiver.received()
	if len(got) != 1 {
		t.Fatalf("received %d callbacks, want 1", len(got))
	}
	if got[0].Status != "error" || !strings.HasPrefix(got[0].Message, "Failed to generate campaign: ") {
		t.Errorf("callback = %+v", got[0])
	}
	if !strings.Contains(got[0].Message, "model offline") {
		t.Errorf("message = %q", got[0].Message)
	}
}

func TestHandleGenerate_CallbackWithoutDispatcher(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Dispatcher = nil })

	var req map[string]any
	_ = json.Unmarshal([]byte(testutil.HealthyFoodRequest), &req)
	req["callback_url"] = "https://example.com/hook"
	payload, _ := json.Marshal(req)

	rec := f.do(http.MethodPost, "/generate-campaign", string(payload))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if f.mock.callCount() != 0 {
		t.Errorf("pipeline ran without a dispatcher")
	}
}

func TestHandleGenerate_ParseResult(t *testing.T) {
	t.Run("valid JSON", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.ParseResult = true })
		rec := f.do(http.MethodPost, "/generate-campaign", testutil.HealthyFoodRequest)
		body := decodeBody(t, rec)
		data, ok := body["data"].(map[string]any)
		if !ok {
			t.Fatalf("data = %T, want object", body["data"])
		}
		if _, ok := data["big_idea"]; !ok {
			t.Errorf("data = %v", data)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.ParseResult = true })
		f.mock.outputs[string(domain.KindPresentation)] = "not json"
		rec := f.do(http.MethodPost, "/generate-campaign", testutil.HealthyFoodRequest)
		body := decodeBody(t, rec)
		data, ok := body["data"].(map[string]any)
		if !ok || data["error"] != "Failed to parse campaign result" {
			t.Errorf("data = %v", body["data"])
		}
	})
}

func TestHandleRegenerate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/regenerate-campaign", `{"industry":"Fintech","budget_range":"1M THB"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "success" || body["data"] != testutil.PresentationFixture {
		t.Errorf("body = %v", body)
	}

	user := f.mock.call(0).User
	if !strings.HasPrefix(user, "Regenerate marketing campaign with the following modifications:") {
		t.Errorf("user prompt = %q", user)
	}
	if !strings.Contains(user, `"is_regeneration": true`) || !strings.Contains(user, `"industry": "Fintech"`) {
		t.Errorf("user prompt = %q", user)
	}
}

func TestHandleRegenerate_InvalidJSON(t *testing.T) {
	for _, body := range []string{`{"industry":`, `[1,2]`, `null`, `"text"`} {
		t.Run(body, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/regenerate-campaign", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeBody(t, rec)["message"]; got != "Invalid JSON format" {
				t.Errorf("message = %v", got)
			}
			if f.mock.callCount() != 0 {
				t.Errorf("pipeline ran for invalid JSON")
			}
		})
	}
}

func TestHandleRegenerate_Callback(t *testing.T) {
	f := newFixture(t)
	f.mock.errs[string(domain.KindKPI)] = errors.New("quota")
	receiver := newCallbackReceiver(t)

	rec := f.do(http.MethodPost, "/regenerate-campaign", `{"industry":"Fintech","callback_url":"`+receiver.srv.URL+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	f.waitCallbacks(t)

	got := receiver.received()
	if len(got) != 1 || !strings.HasPrefix(got[0].Message, "Failed to regenerate campaign: ") {
		t.Errorf("callbacks = %+v", got)
	}
	if strings.Contains(f.mock.call(0).User, "callback_url") {
		t.Errorf("callback_url leaked into the prompt")
	}
}

func TestHandleRegenerate_BadCallbackURL(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/regenerate-campaign", `{"industry":"Fintech","callback_url":"ftp://x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRefine(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/refine-campaign",
		`{"previous_campaign":{"big_idea":"Eat Well"},"client_comments":"Make it more playful"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["data"] != "refined deck" {
		t.Errorf("data = %v", body["data"])
	}

	if f.mock.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", f.mock.callCount())
	}
	call := f.mock.call(0)
	if !strings.Contains(call.System, "Eat Well") || !strings.Contains(call.System, "Make it more playful") {
		t.Errorf("refine prompt = %q", call.System)
	}
	if call.User != "Make it more playful" {
		t.Errorf("user = %q", call.User)
	}

	id, _ := body["campaign_id"].(string)
	run, err := f.store.Get(context.Background(), id)
	if err != nil || run.Kind != storage.KindRefine {
		t.Errorf("Get() = %+v, %v", run, err)
	}
}

func TestHandleRefine_Validation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/refine-campaign", `{"previous_campaign":"","client_comments":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	detail, _ := decodeBody(t, rec)["detail"].([]any)
	if len(detail) != 2 {
		t.Errorf("detail = %v", detail)
	}
}

func TestHandleCampaignLookup(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/campaigns/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	gen := decodeBody(t, f.do(http.MethodPost, "/generate-campaign", testutil.HealthyFoodRequest))
	id, _ := gen["campaign_id"].(string)

	rec = f.do(http.MethodGet, "/campaigns/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var run storage.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if run.ID != id || run.Status != storage.StatusSuccess {
		t.Errorf("run = %+v", run)
	}

	rec = f.do(http.MethodGet, "/campaigns?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list, _ := decodeBody(t, rec)["campaigns"].([]any)
	if len(list) != 1 {
		t.Errorf("listed %d runs, want 1", len(list))
	}

	if rec := f.do(http.MethodGet, "/campaigns?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestHandleCampaignLookup_NoStore(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Store = nil })

	rec := f.do(http.MethodPost, "/generate-campaign", testutil.HealthyFoodRequest)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate without a store: status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/campaigns/anything", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMount_RateLimitsCampaignRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock := fixtureCompleter()
	h := NewHandler(Config{
		Runner: pipeline.New(mock, pipeline.Options{Logger: logger}),
		Model:  "test-model",
		Logger: logger,
	})

	limiter := ratelimit.NewFixedWindow(10)
	router := chi.NewRouter()
	Mount(router, CreateHandlerRegistrations(h, ""),
		server.RateLimitMiddleware(limiter, server.RateLimitOptions{Logger: logger}))

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/generate-campaign", strings.NewReader(testutil.HealthyFoodRequest))
		req.RemoteAddr = "203.0.113.7:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 10; i++ {
		if rec := post(); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	rec := post()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request: status = %d, want 429", rec.Code)
	}
	if mock.callCount() != 60 {
		t.Errorf("calls = %d, want 60", mock.callCount())
	}

	// Read-only routes are not limited.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	health := httptest.NewRecorder()
	router.ServeHTTP(health, req)
	if health.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", health.Code)
	}
}
