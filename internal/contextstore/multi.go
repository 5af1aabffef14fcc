package contextstore

import (
	"context"

	"github.com/Iron-Ham/concord/internal/ai"
	"github.com/Iron-Ham/concord/internal/comparison"
	"github.com/Iron-Ham/concord/internal/debate"
	"github.com/Iron-Ham/concord/internal/errors"
)

// Multi writes every artifact to all stores and reads from the first store
// that has it.
type Multi []Store

func (m Multi) each(fn func(Store) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SaveTask(ctx context.Context, task debate.Task) error {
	return m.each(func(s Store) error { return s.SaveTask(ctx, task) })
}

func (m Multi) SaveRound(ctx context.Context, taskID string, round int, backend string, result *ai.AnalysisResult) error {
	return m.each(func(s Store) error { return s.SaveRound(ctx, taskID, round, backend, result) })
}

func (m Multi) SaveComparison(ctx context.Context, taskID string, round int, cmp *comparison.Result) error {
	return m.each(func(s Store) error { return s.SaveComparison(ctx, taskID, round, cmp) })
}

func (m Multi) SaveReview(ctx context.Context, taskID string, round int, review *ai.ReviewResult) error {
	return m.each(func(s Store) error { return s.SaveReview(ctx, taskID, round, review) })
}

func (m Multi) SaveDebate(ctx context.Context, taskID string, round int, result *ai.DebateResult) error {
	return m.each(func(s Store) error { return s.SaveDebate(ctx, taskID, round, result) })
}

func (m Multi) SaveFinal(ctx context.Context, taskID string, result *debate.RunResult) error {
	return m.each(func(s Store) error { return s.SaveFinal(ctx, taskID, result) })
}

func (m Multi) LoadFinal(ctx context.Context, taskID string) (*debate.RunResult, error) {
	var lastErr error = errors.NewNotFoundError("run", taskID)
	for _, s := range m {
		res, err := s.LoadFinal(ctx, taskID)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (m Multi) Close() error {
	return m.each(func(s Store) error { return s.Close() })
}

// Nop discards artifacts.
type Nop struct{}

func (Nop) SaveTask(context.Context, debate.Task) error { return nil }
func (Nop) SaveRound(context.Context, string, int, string, *ai.AnalysisResult) error {
	return nil
}
func (Nop) SaveComparison(context.Context, string, int, *comparison.Result) error { return nil }
func (Nop) SaveReview(context.Context, string, int, *ai.ReviewResult) error { return nil }
func (Nop) SaveDebate(context.Context, string, int, *ai.DebateResult) error { return nil }
func (Nop) SaveFinal(context.Context, string, *debate.RunResult) error { return nil }
func (Nop) Close() error { return nil }

func (Nop) LoadFinal(_ context.Context, taskID string) (*debate.RunResult, error) {
	return nil, errors.NewNotFoundError("run", taskID)
}

var (
	_ Store = Multi(nil)
	_ Store = Nop{}
)
