package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/concord/internal/ai"
	"github.com/Iron-Ham/concord/internal/contextstore"
	"github.com/Iron-Ham/concord/internal/debate"
	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/Iron-Ham/concord/internal/pool"
	"github.com/Iron-Ham/concord/internal/testutil"
)

// fakeFactory builds a fresh pool of fakes for every run.
func fakeFactory(build func() []*testutil.FakeClient, opts ...debate.Option) Factory {
	return func(ctx context.Context) (Runner, func(), error) {
		p := pool.New(ai.Deps{})
		for _, c := range build() {
			p.Add(c)
		}
		return debate.New(p, nil, opts...), func() { _ = p.Close() }, nil
	}
}

func agreeing() []*testutil.FakeClient {
	return []*testutil.FakeClient{
		testutil.NewFakeClient("gpt", "Hold the write lock", "acquire lock"),
		testutil.NewFakeClient("gemini", "Hold the write lock", "acquire lock"),
	}
}

func slowDisagreeing() []*testutil.FakeClient {
	a := testutil.NewFakeClient("gpt", "mutex guards shared state", "wrap writes")
	b := testutil.NewFakeClient("gemini", "channels pass ownership", "spawn owner")
	a.Delay, b.Delay = 20*time.Millisecond, 20*time.Millisecond
	return []*testutil.FakeClient{a, b}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

// waitDone polls a run until it finishes.
func waitDone(t *testing.T, h http.Handler, id string) RunView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		v := decode[RunView](t, do(t, h, http.MethodGet, "/v1/runs/"+id, ""))
		if !v.Running {
			return v
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return RunView{}
}

func TestServer_RunToConsensus(t *testing.T) {
	s := New(fakeFactory(agreeing))
	defer s.Shutdown()
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/v1/runs", `{"task":"Should the flush hold the lock?"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /v1/runs = %d %s", rec.Code, rec.Body.String())
	}
	created := decode[RunView](t, rec)
	if !strings.HasPrefix(created.ID, "debate_") || !created.Running {
		t.Errorf("created = %+v", created)
	}

	v := waitDone(t, h, created.ID)
	if v.Result == nil || v.Result.ExitState != debate.ExitConsensusReached {
		t.Fatalf("result = %+v", v.Result)
	}
	if v.Status == nil || v.Status.State != debate.StateTerminated {
		t.Errorf("status = %+v", v.Status)
	}

	list := decode[[]RunView](t, do(t, h, http.MethodGet, "/v1/runs", ""))
	if len(list) != 1 || list[0].ID != created.ID || list[0].Result != nil {
		t.Errorf("GET /v1/runs = %+v", list)
	}

	if rec := do(t, h, http.MethodPost, "/v1/runs/"+created.ID+"/cancel", ""); rec.Code != http.StatusConflict {
		t.Errorf("cancel finished run = %d, want 409", rec.Code)
	}
}

func TestServer_Cancel(t *testing.T) {
	s := New(fakeFactory(slowDisagreeing, debate.WithPreflight(false), debate.WithMaxRounds(50)))
	defer s.Shutdown()
	h := s.Handler()

	created := decode[RunView](t, do(t, h, http.MethodPost, "/v1/runs", `{"task":"pick a sync primitive"}`))
	if rec := do(t, h, http.MethodPost, "/v1/runs/"+created.ID+"/cancel", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("cancel = %d %s", rec.Code, rec.Body.String())
	}

	v := waitDone(t, h, created.ID)
	if v.Result == nil || v.Result.ExitState != debate.ExitUserTerminated {
		t.Errorf("result = %+v, want USER_TERMINATED", v.Result)
	}
}

func TestServer_BadRequests(t *testing.T) {
	s := New(fakeFactory(agreeing))
	defer s.Shutdown()
	h := s.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"not json", http.MethodPost, "/v1/runs", "{", http.StatusBadRequest},
		{"empty task", http.MethodPost, "/v1/runs", `{"task":"  "}`, http.StatusBadRequest},
		{"unknown run", http.MethodGet, "/v1/runs/debate_nope", "", http.StatusNotFound},
		{"cancel unknown run", http.MethodPost, "/v1/runs/debate_nope/cancel", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
			if body := decode[map[string]string](t, rec); body["error"] == "" {
				t.Error("error body missing")
			}
		})
	}
}

func TestServer_StoredReports(t *testing.T) {
	store := contextstore.NewArtifacts(contextstore.NewFileStore(t.TempDir()))
	id := "debate_20260101_000000_deadbeef"
	if err := store.SaveFinal(context.Background(), id, &debate.RunResult{
		Task:      debate.Task{ID: id, Description: "stored"},
		ExitState: debate.ExitStrategiesExhausted,
	}); err != nil {
		t.Fatal(err)
	}

	s := New(fakeFactory(agreeing), WithReports(store))
	defer s.Shutdown()

	rec := do(t, s.Handler(), http.MethodGet, "/v1/runs/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET stored run = %d %s", rec.Code, rec.Body.String())
	}
	v := decode[RunView](t, rec)
	if v.Result == nil || v.Result.ExitState != debate.ExitStrategiesExhausted || v.Task != "stored" {
		t.Errorf("stored run = %+v", v)
	}
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name string
		fn   HealthFunc
		want int
	}{
		{
			name: "healthy",
			fn: func(context.Context) (map[string]pool.Health, error) {
				return map[string]pool.Health{"gpt": {Available: true}}, nil
			},
			want: http.StatusOK,
		},
		{
			name: "no clients",
			fn: func(context.Context) (map[string]pool.Health, error) {
				return map[string]pool.Health{"gpt": {Error: "401"}}, errors.NewNoAvailableClientsError(false, map[string]string{"gpt": "401"})
			},
			want: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(fakeFactory(agreeing), WithHealth(tt.fn))
			defer s.Shutdown()
			if rec := do(t, s.Handler(), http.MethodGet, "/v1/health", ""); rec.Code != tt.want {
				t.Errorf("GET /v1/health = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	s := New(fakeFactory(agreeing))
	defer s.Shutdown()
	if rec := do(t, s.Handler(), http.MethodGet, "/health", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestServer_CORS(t *testing.T) {
	s := New(fakeFactory(agreeing), WithCORSOrigins([]string{"https://app.example.com"}))
	defer s.Shutdown()

	req := httptest.NewRequest(http.MethodOptions, "/v1/runs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewNotFoundError("run", "x"), http.StatusNotFound},
		{errors.NewValidationError("bad"), http.StatusBadRequest},
		{errors.ErrRunInProgress, http.StatusConflict},
		{errors.NewNoAvailableClientsError(true, nil), http.StatusServiceUnavailable},
		{errors.NewTokenExpiredError("gpt", time.Time{}, nil), http.StatusBadGateway},
		{errors.NewTimeoutError("analyze gpt", time.Second), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"client error", errors.NewValidationError("task is empty"), errors.NewValidationError("task is empty").Error()},
		{"user facing 5xx", errors.NewTimeoutError("analyze gpt", time.Second), "timeout error: analyze gpt (timeout: 1s)"},
		{"internal", errors.New("open /var/lib/concord: permission denied"), "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := publicMessage(tt.err, statusFor(tt.err)); got != tt.want {
				t.Errorf("publicMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
