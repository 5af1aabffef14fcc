package debate

import (
	"context"
	"time"

	"github.com/Iron-Ham/concord/internal/ai"
	"github.com/Iron-Ham/concord/internal/comparison"
	"github.com/Iron-Ham/concord/internal/consensus"
	"github.com/Iron-Ham/concord/internal/pool"
	"github.com/Iron-Ham/concord/internal/retry"
)

// State is the orchestrator's position in the round cycle.
type State string

const (
	StateIdle           State = "idle"
	StateAnalyzing      State = "analyzing"
	StateComparing      State = "comparing"
	StateCrossReviewing State = "cross_reviewing"
	StateDebating       State = "debating"
	StateTerminated     State = "terminated"
)

// ExitState is why a run ended.
type ExitState string

const (
	ExitConsensusReached    ExitState = "CONSENSUS_REACHED"
	ExitUserTerminated      ExitState = "USER_TERMINATED"
	ExitStrategiesExhausted ExitState = "STRATEGIES_EXHAUSTED"
)

// Round is everything one round produced.
type Round struct {
	Number          int                  `json:"number"`
	Plan            consensus.Plan       `json:"plan"`
	Results         []*ai.AnalysisResult `json:"results"`
	Failures        []pool.Failure       `json:"failures,omitempty"`
	Comparison      *comparison.Result   `json:"comparison"`
	Decision        consensus.Decision   `json:"decision"`
	Update          consensus.Update     `json:"update"`
	Minority        []string             `json:"minority,omitempty"`
	Reviews         []*ai.ReviewResult   `json:"reviews,omitempty"`
	ReviewAgreement float64              `json:"review_agreement,omitempty"`
	Debates         []*ai.DebateResult   `json:"debates,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	Duration        time.Duration        `json:"duration"`
}

// Responders returns the backends that produced a valid analysis.
func (r *Round) Responders() []string {
	names := make([]string, len(r.Results))
	for i, res := range r.Results {
		names[i] = res.Backend
	}
	return names
}

// RunResult is the final report of a run.
type RunResult struct {
	Task         Task                           `json:"task"`
	ExitState    ExitState                      `json:"exit_state,omitempty"`
	Rounds       []Round                        `json:"rounds"`
	FinalLevel   consensus.Level                `json:"final_level"`
	Strategy     consensus.Strategy             `json:"strategy"`
	Trend        consensus.Trend                `json:"trend"`
	Conclusion   string                         `json:"conclusion"`
	Steps        []string                       `json:"steps,omitempty"`
	Supporters   []string                       `json:"supporters,omitempty"`
	Agreed       []string                       `json:"agreed,omitempty"`
	Disputed     []string                       `json:"disputed,omitempty"`
	Participants []string                       `json:"participants"`
	Failures     []pool.Failure                 `json:"failures,omitempty"`
	Retries      map[string]retry.BackendTotals `json:"retries,omitempty"`
	StartedAt    time.Time                      `json:"started_at"`
	FinishedAt   time.Time                      `json:"finished_at"`
}

// RoundCount returns the number of completed rounds.
func (r *RunResult) RoundCount() int { return len(r.Rounds) }

// Last returns the final round, or nil when none completed.
func (r *RunResult) Last() *Round {
	if len(r.Rounds) == 0 {
		return nil
	}
	return &r.Rounds[len(r.Rounds)-1]
}

// Status is a point-in-time snapshot of a run.
type Status struct {
	TaskID       string             `json:"task_id,omitempty"`
	State        State              `json:"state"`
	Round        int                `json:"round"`
	MaxRounds    int                `json:"max_rounds"`
	Strategy     consensus.Strategy `json:"strategy,omitempty"`
	Level        consensus.Level    `json:"level"`
	Participants []string           `json:"participants"`
	Failures     []pool.Failure     `json:"failures,omitempty"`
	Canceled     bool               `json:"canceled"`
	ExitState    ExitState          `json:"exit_state,omitempty"`
	StartedAt    time.Time          `json:"started_at,omitempty"`
}

// ContextStore persists round artifacts. Implementations must be safe for
// concurrent use; each save for a given key overwrites the previous one.
type ContextStore interface {
	SaveRound(ctx context.Context, taskID string, round int, backend string, result *ai.AnalysisResult) error
	SaveComparison(ctx context.Context, taskID string, round int, cmp *comparison.Result) error
	SaveFinal(ctx context.Context, taskID string, result *RunResult) error
}

// ArtifactStore is implemented by stores that also keep the task, review
// and debate artifacts.
type ArtifactStore interface {
	SaveTask(ctx context.Context, task Task) error
	SaveReview(ctx context.Context, taskID string, round int, review *ai.ReviewResult) error
	SaveDebate(ctx context.Context, taskID string, round int, result *ai.DebateResult) error
}
