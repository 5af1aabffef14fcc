// Package consensus decides what a comparison means and when to change
// tactics.
//
// The Protocol maps a comparison to a level from 0 (no agreement) to 3 (full
// consensus) and the action that level calls for. The Tracker watches the
// composite score across rounds and rotates through debate strategies when
// progress stalls.
package consensus

import (
	"github.com/Iron-Ham/concord/internal/ai"
	"github.com/Iron-Ham/concord/internal/comparison"
)

// Level is the consensus level of a round.
type Level int

const (
	LevelNone    Level = 0
	LevelPartial Level = 1
	LevelNear    Level = 2
	LevelFull    Level = 3
)

func (l Level) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelNear:
		return "near"
	case LevelPartial:
		return "partial"
	default:
		return "none"
	}
}

// Action is what the orchestrator does next.
type Action string

const (
	ActionTerminate   Action = "terminate"
	ActionMicroReview Action = "micro_review"
	ActionRedebate    Action = "full_redebate"
	ActionReanalyze   Action = "fundamental_reanalysis"
)

// Thresholds tune the level mapping.
type Thresholds struct {
	// FullSemantic is the semantic score level 3 needs alongside a
	// unanimous hash and zero disputes.
	FullSemantic float64
	// Near is the score every layer needs for level 2.
	Near float64
	// Partial is the semantic and structural score level 1 needs.
	Partial float64
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{FullSemantic: 0.9, Near: 0.9, Partial: 0.5}
}

// Decision is the protocol's verdict on one comparison.
type Decision struct {
	Level      Level              `json:"level"`
	Action     Action             `json:"action"`
	Comparison *comparison.Result `json:"-"`
}

// Protocol maps comparisons to decisions.
type Protocol struct {
	th Thresholds
}

// NewProtocol creates a Protocol.
func NewProtocol(th Thresholds) *Protocol {
	return &Protocol{th: th}
}

// Thresholds returns the active thresholds.
func (p *Protocol) Thresholds() Thresholds { return p.th }

// Decide maps a comparison to a level and action. The level never increases
// as the semantic score decreases.
func (p *Protocol) Decide(res *comparison.Result) Decision {
	level := p.level(res)
	return Decision{Level: level, Action: ActionFor(level), Comparison: res}
}

func (p *Protocol) level(res *comparison.Result) Level {
	if res == nil || len(res.Backends) < 2 {
		return LevelNone
	}
	semantic := res.Semantic.Score
	structural := res.Structural.Ratio
	hash := res.Hash.MatchRatio

	switch {
	case hash == 1 && len(res.Structural.Disputed) == 0 && semantic >= p.th.FullSemantic:
		return LevelFull
	case semantic >= p.th.Near && structural >= p.th.Near && hash >= p.th.Near:
		return LevelNear
	case semantic >= p.th.Partial && structural >= p.th.Partial:
		return LevelPartial
	default:
		return LevelNone
	}
}

// ActionFor returns the action a level calls for.
func ActionFor(l Level) Action {
	switch l {
	case LevelFull:
		return ActionTerminate
	case LevelNear:
		return ActionMicroReview
	case LevelPartial:
		return ActionRedebate
	default:
		return ActionReanalyze
	}
}

// CrossReviewAgreement is the share of agreed points across reviews, or 0
// when the reviews raised no points.
func CrossReviewAgreement(reviews []*ai.ReviewResult) float64 {
	var agreed, disputed int
	for _, r := range reviews {
		if r == nil {
			continue
		}
		agreed += len(r.Agreed)
		disputed += len(r.Disputed)
	}
	if agreed+disputed == 0 {
		return 0
	}
	return float64(agreed) / float64(agreed+disputed)
}
