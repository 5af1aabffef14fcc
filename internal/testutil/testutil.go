// Package testutil provides testing utilities for concord tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/concord/internal/ai"
)

// Padding makes generated analyses long enough to pass validation.
const Padding = " The reasoning covers failure modes, ordering constraints and the expected behavior under load."

// Analysis builds a valid analysis result.
func Analysis(backend, conclusion string, steps ...string) *ai.AnalysisResult {
	return &ai.AnalysisResult{
		Backend:      backend,
		ModelVersion: backend + "-test",
		Analysis:     "Analysis by " + backend + ": " + conclusion + "." + Padding,
		Conclusion:   conclusion,
		Confidence:   0.8,
		Steps:        steps,
	}
}

// FakeClient is a scripted ai.Client. By default it answers every analyze
// call with its current position, reviews by comparing steps, and in a debate
// adopts the first opposing position when asked to reconcile.
type FakeClient struct {
	name  string
	kind  ai.BackendName
	model string

	mu         sync.Mutex
	conclusion string
	steps      []string
	script     []*ai.AnalysisResult
	calls      map[string]int
	contexts   []ai.AnalysisContext
	closed     bool

	// AuthErr fails Authenticate.
	AuthErr error
	// HealthErr fails health check pings.
	HealthErr error
	// Delay is applied to every call and honors context cancellation.
	Delay time.Duration
	// AnalyzeErr fails analyze calls for the listed rounds (0 means all).
	AnalyzeErr   error
	AnalyzeFails map[int]bool
	// DebateErr fails every debate call.
	DebateErr error
}

// NewFakeClient creates a fake holding a position.
func NewFakeClient(name, conclusion string, steps ...string) *FakeClient {
	return &FakeClient{
		name:       name,
		kind:       ai.BackendOpenAI,
		model:      name + "-test",
		conclusion: conclusion,
		steps:      steps,
		calls:      make(map[string]int),
	}
}

// WithKind sets the backend kind.
func (f *FakeClient) WithKind(kind ai.BackendName) *FakeClient {
	f.kind = kind
	return f
}

// Script queues analyze results returned in order before falling back to
// the current position.
func (f *FakeClient) Script(results ...*ai.AnalysisResult) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, results...)
	return f
}

// Position returns the current conclusion and steps.
func (f *FakeClient) Position() (string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conclusion, append([]string(nil), f.steps...)
}

// Calls returns how often method was called.
func (f *FakeClient) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Contexts returns the analysis contexts received, excluding health checks.
func (f *FakeClient) Contexts() []ai.AnalysisContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ai.AnalysisContext(nil), f.contexts...)
}

// Closed reports whether Close was called.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeClient) Name() string         { return f.name }
func (f *FakeClient) Kind() ai.BackendName { return f.kind }
func (f *FakeClient) Model() string        { return f.model }

func (f *FakeClient) record(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *FakeClient) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(f.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeClient) Authenticate(ctx context.Context) error {
	f.record("authenticate")
	return f.AuthErr
}

func (f *FakeClient) Analyze(ctx context.Context, task string, actx ai.AnalysisContext) (*ai.AnalysisResult, error) {
	if actx.HealthCheck {
		f.record("health")
		if err := f.wait(ctx); err != nil {
			return nil, err
		}
		if f.HealthErr != nil {
			return nil, f.HealthErr
		}
		return &ai.AnalysisResult{Backend: f.name, ModelVersion: f.model, Conclusion: "ok", Confidence: 1}, nil
	}

	f.record("analyze")
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts = append(f.contexts, actx)
	if f.AnalyzeErr != nil && (len(f.AnalyzeFails) == 0 || f.AnalyzeFails[actx.Round]) {
		return nil, f.AnalyzeErr
	}
	if len(f.script) > 0 {
		next := f.script[0]
		f.script = f.script[1:]
		f.conclusion, f.steps = next.Conclusion, next.Steps
		out := *next
		out.Backend = f.name
		return &out, nil
	}
	return Analysis(f.name, f.conclusion, f.steps...), nil
}

func (f *FakeClient) Review(ctx context.Context, task string, peer, own *ai.AnalysisResult) (*ai.ReviewResult, error) {
	f.record("review")
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	mine := make(map[string]bool, len(own.Steps))
	for _, s := range own.Steps {
		mine[strings.ToLower(s)] = true
	}
	res := &ai.ReviewResult{Reviewer: f.name, Peer: peer.Backend, Feedback: "reviewed " + peer.Backend}
	for _, s := range peer.Steps {
		if mine[strings.ToLower(s)] {
			res.Agreed = append(res.Agreed, s)
		} else {
			res.Disputed = append(res.Disputed, s)
		}
	}
	return res, nil
}

func (f *FakeClient) Debate(ctx context.Context, task string, own *ai.AnalysisResult, opposing []*ai.AnalysisResult, opts ai.DebateOptions) (*ai.DebateResult, error) {
	f.record("debate")
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.DebateErr != nil {
		return nil, f.DebateErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	pos := ai.Position{Conclusion: own.Conclusion, Confidence: own.Confidence, Steps: own.Steps}
	res := &ai.DebateResult{Backend: f.name}
	if opts.Reconcile && len(opposing) > 0 {
		pos = ai.Position{Conclusion: opposing[0].Conclusion, Confidence: 0.9, Steps: opposing[0].Steps}
		res.Concessions = []string{fmt.Sprintf("adopted %s's position", opposing[0].Backend)}
		f.conclusion, f.steps = pos.Conclusion, pos.Steps
	} else {
		res.Rebuttals = []string{"position unchanged"}
	}
	res.UpdatedPosition = pos
	return res, nil
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ ai.Client = (*FakeClient)(nil)
