package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"

	"github.com/Iron-Ham/concord/internal/ai"
	"github.com/Iron-Ham/concord/internal/comparison"
	"github.com/Iron-Ham/concord/internal/debate"
	"github.com/Iron-Ham/concord/internal/errors"
)

// Blobs is a key/value backend for JSON documents. Put overwrites; Get
// returns a NotFoundError for a missing key.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Store is the full artifact store used by runs and by the run API.
type Store interface {
	debate.ContextStore
	debate.ArtifactStore
	LoadFinal(ctx context.Context, taskID string) (*debate.RunResult, error)
	Close() error
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func segment(kind, s string) error {
	if !segmentPattern.MatchString(s) {
		return errors.NewValidationError(fmt.Sprintf("invalid %s for artifact key", kind)).
			WithField(kind).WithValue(s)
	}
	return nil
}

// Key layout.

func taskKey(taskID string) string  { return path.Join(taskID, "task.json") }
func finalKey(taskID string) string { return path.Join(taskID, "final.json") }

func roundKey(taskID string, round int, name string) string {
	return path.Join(taskID, fmt.Sprintf("round_%d", round), name+".json")
}

// Artifacts adapts Blobs to Store.
type Artifacts struct {
	blobs Blobs
}

// NewArtifacts wraps b.
func NewArtifacts(b Blobs) *Artifacts {
	return &Artifacts{blobs: b}
}

// Blobs returns the underlying backend.
func (a *Artifacts) Blobs() Blobs { return a.blobs }

func (a *Artifacts) put(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("contextstore: marshal %s: %w", key, err)
	}
	if err := a.blobs.Put(ctx, key, data); err != nil {
		return fmt.Errorf("contextstore: put %s: %w", key, err)
	}
	return nil
}

// SaveTask stores the task description.
func (a *Artifacts) SaveTask(ctx context.Context, task debate.Task) error {
	if err := segment("task_id", task.ID); err != nil {
		return err
	}
	return a.put(ctx, taskKey(task.ID), task)
}

// SaveRound stores one backend's analysis for a round.
func (a *Artifacts) SaveRound(ctx context.Context, taskID string, round int, backend string, result *ai.AnalysisResult) error {
	if err := errors.Join(segment("task_id", taskID), segment("backend", backend)); err != nil {
		return err
	}
	return a.put(ctx, roundKey(taskID, round, backend), result)
}

// SaveComparison stores a round's comparison.
func (a *Artifacts) SaveComparison(ctx context.Context, taskID string, round int, cmp *comparison.Result) error {
	if err := segment("task_id", taskID); err != nil {
		return err
	}
	return a.put(ctx, roundKey(taskID, round, "comparison"), cmp)
}

// SaveReview stores one cross-review.
func (a *Artifacts) SaveReview(ctx context.Context, taskID string, round int, review *ai.ReviewResult) error {
	if err := errors.Join(segment("task_id", taskID), segment("reviewer", review.Reviewer), segment("peer", review.Peer)); err != nil {
		return err
	}
	return a.put(ctx, roundKey(taskID, round, "review_"+review.Reviewer+"_"+review.Peer), review)
}

// SaveDebate stores one debate turn.
func (a *Artifacts) SaveDebate(ctx context.Context, taskID string, round int, result *ai.DebateResult) error {
	if err := errors.Join(segment("task_id", taskID), segment("backend", result.Backend)); err != nil {
		return err
	}
	return a.put(ctx, roundKey(taskID, round, "debate_"+result.Backend), result)
}

// SaveFinal stores the final report.
func (a *Artifacts) SaveFinal(ctx context.Context, taskID string, result *debate.RunResult) error {
	if err := segment("task_id", taskID); err != nil {
		return err
	}
	return a.put(ctx, finalKey(taskID), result)
}

// LoadFinal reads a final report back.
func (a *Artifacts) LoadFinal(ctx context.Context, taskID string) (*debate.RunResult, error) {
	if err := segment("task_id", taskID); err != nil {
		return nil, err
	}
	data, err := a.blobs.Get(ctx, finalKey(taskID))
	if err != nil {
		return nil, err
	}
	var res debate.RunResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("contextstore: decode final report for %s: %w", taskID, err)
	}
	return &res, nil
}

// Close releases the backend when it holds resources.
func (a *Artifacts) Close() error {
	if c, ok := a.blobs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ Store = (*Artifacts)(nil)
