package consensus

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/concord/internal/comparison"
)

// Strategy is a debate tactic.
type Strategy string

const (
	StrategyPlain            Strategy = "plain"
	StrategyMediated         Strategy = "mediated"
	StrategyScopeReduced     Strategy = "scope_reduced"
	StrategyPerspectiveShift Strategy = "perspective_shift"
)

// DefaultStrategies returns the rotation order.
func DefaultStrategies() []Strategy {
	return []Strategy{StrategyPlain, StrategyMediated, StrategyScopeReduced, StrategyPerspectiveShift}
}

// ParseStrategies converts names, dropping unknown ones.
func ParseStrategies(names []string) []Strategy {
	var out []Strategy
	for _, n := range names {
		s := Strategy(strings.ToLower(strings.TrimSpace(n)))
		switch s {
		case StrategyPlain, StrategyMediated, StrategyScopeReduced, StrategyPerspectiveShift:
			out = append(out, s)
		}
	}
	return out
}

// Usable reports whether the strategy can run with n participants.
func (s Strategy) Usable(n int) bool {
	if s == StrategyPerspectiveShift {
		return n >= 2
	}
	return true
}

// Perspectives are the evaluative lenses handed out by perspective_shift.
var Perspectives = []string{
	"correctness and edge cases",
	"security and abuse resistance",
	"performance and scalability",
	"maintainability and simplicity",
	"operational risk and rollback",
}

// Plan shapes one round under a strategy.
type Plan struct {
	Strategy     Strategy          `json:"strategy"`
	Instructions string            `json:"instructions,omitempty"`
	Mediator     string            `json:"mediator,omitempty"`
	Perspectives map[string]string `json:"perspectives,omitempty"`
	Frozen       []string          `json:"frozen,omitempty"`
	Scope        []string          `json:"scope,omitempty"`
}

// PlanFor builds the round plan. participants must be in a stable order;
// last is the previous round's comparison, if any.
func PlanFor(s Strategy, round int, participants []string, last *comparison.Result) Plan {
	p := Plan{Strategy: s}
	switch s {
	case StrategyMediated:
		if len(participants) > 0 {
			p.Mediator = participants[(round-1)%len(participants)]
		}
		p.Instructions = "Focus on common ground. Acknowledge valid points from every analyst and seek a compromise where you disagree."
	case StrategyScopeReduced:
		if last != nil {
			p.Frozen = last.Structural.Agreed
			p.Scope = last.Structural.Disputed
		}
		p.Instructions = "Agreed items are frozen. Reconsider only the disputed items."
		if len(p.Scope) > 0 {
			p.Instructions = fmt.Sprintf("Agreed items are frozen. Reconsider only: %s.", strings.Join(p.Scope, "; "))
		}
	case StrategyPerspectiveShift:
		p.Perspectives = make(map[string]string, len(participants))
		for i, name := range participants {
			p.Perspectives[name] = Perspectives[(i+round)%len(Perspectives)]
		}
		p.Instructions = "Argue from the assigned perspective, not your previous position, to expose weaknesses in every view."
	}
	return p
}
