package consensus

import (
	"math"
	"testing"

	"github.com/Iron-Ham/concord/internal/comparison"
)

func decision(level Level, composite float64) Decision {
	return Decision{Level: level, Comparison: synthetic(composite, composite, composite, 1)}
}

func TestSlope(t *testing.T) {
	tests := []struct {
		name string
		ys   []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{0.5}, 0},
		{"rising", []float64{0.1, 0.2, 0.3}, 0.1},
		{"flat", []float64{0.4, 0.4, 0.4}, 0},
		{"falling", []float64{0.9, 0.5}, -0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slope(tt.ys); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Slope() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTracker_ContinuesWhileImproving(t *testing.T) {
	tr := NewTracker()
	for _, score := range []float64{0.5, 0.6, 0.7} {
		u := tr.Observe(decision(LevelPartial, score), 3)
		if u.Rotated {
			t.Fatalf("rotated at score %v with rising trend", score)
		}
	}
	if tr.Current() != StrategyPlain {
		t.Errorf("Current() = %s, want plain", tr.Current())
	}
	if got := tr.Trend(); got != TrendConverging {
		t.Errorf("Trend() = %s, want CONVERGING", got)
	}
}

func TestTracker_RotatesOnStall(t *testing.T) {
	tr := NewTracker()
	tr.Observe(decision(LevelPartial, 0.6), 3)
	u := tr.Observe(decision(LevelPartial, 0.6), 3)
	if !u.Rotated || u.From != StrategyPlain || u.To != StrategyMediated {
		t.Fatalf("Observe() = %+v, want rotation plain -> mediated", u)
	}
	// Rotation clears the window, so one more sample is not enough to judge.
	if u := tr.Observe(decision(LevelPartial, 0.5), 3); u.Rotated {
		t.Errorf("rotated on a single sample after reset: %+v", u)
	}
}

func TestTracker_LevelZeroRotatesImmediately(t *testing.T) {
	tr := NewTracker()
	want := []Strategy{StrategyMediated, StrategyScopeReduced, StrategyPerspectiveShift}
	for i, next := range want {
		u := tr.Observe(decision(LevelNone, 0.1), 3)
		if !u.Rotated || u.To != next || u.Exhausted {
			t.Fatalf("round %d: Observe() = %+v, want rotation to %s", i+1, u, next)
		}
	}
	u := tr.Observe(decision(LevelNone, 0.1), 3)
	if !u.Exhausted || !tr.Exhausted() {
		t.Errorf("Observe() = %+v, want exhausted after the last strategy", u)
	}
}

func TestTracker_SkipsPerspectiveShiftForOneParticipant(t *testing.T) {
	tr := NewTracker(WithStrategies([]Strategy{StrategyScopeReduced, StrategyPerspectiveShift}))
	u := tr.Observe(decision(LevelNone, 0), 1)
	if !u.Exhausted {
		t.Errorf("Observe() = %+v, perspective_shift needs two participants", u)
	}
}

func TestTracker_FullLevelNeverRotates(t *testing.T) {
	tr := NewTracker()
	tr.Observe(decision(LevelPartial, 0.9), 2)
	if u := tr.Observe(decision(LevelFull, 0.9), 2); u.Rotated {
		t.Errorf("Observe(full) rotated: %+v", u)
	}
}

func TestTracker_Trend(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   Trend
	}{
		{"too few", []float64{0.1, 0.2}, TrendUnknown},
		{"diverging", []float64{0.9, 0.8, 0.7}, TrendDiverging},
		{"stable", []float64{0.50, 0.52, 0.49}, TrendStable},
		{"noisy", []float64{0.2, 0.9, 0.3}, TrendUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A steep min slope keeps the window from being reset.
			tr := NewTracker(WithMinSlope(-10))
			for _, s := range tt.scores {
				tr.Observe(decision(LevelPartial, s), 2)
			}
			if got := tr.Trend(); got != tt.want {
				t.Errorf("Trend() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTracker_History(t *testing.T) {
	tr := NewTracker(WithWindowSize(2))
	for _, s := range []float64{0.1, 0.2, 0.3} {
		tr.Observe(decision(LevelPartial, s), 2)
	}
	if got := tr.History(); len(got) != 3 {
		t.Errorf("History() = %v", got)
	}
}

func TestPlanFor(t *testing.T) {
	last := &comparison.Result{}
	last.Structural.Agreed = []string{"add index"}
	last.Structural.Disputed = []string{"drop column"}
	participants := []string{"claude", "gemini", "gpt"}

	t.Run("mediator rotates", func(t *testing.T) {
		seen := map[string]bool{}
		for round := 1; round <= 3; round++ {
			seen[PlanFor(StrategyMediated, round, participants, last).Mediator] = true
		}
		if len(seen) != 3 {
			t.Errorf("mediators = %v, want each participant once", seen)
		}
	})

	t.Run("scope reduced freezes agreed items", func(t *testing.T) {
		p := PlanFor(StrategyScopeReduced, 2, participants, last)
		if len(p.Frozen) != 1 || p.Frozen[0] != "add index" || len(p.Scope) != 1 || p.Scope[0] != "drop column" {
			t.Errorf("Plan = %+v", p)
		}
	})

	t.Run("distinct perspectives", func(t *testing.T) {
		p := PlanFor(StrategyPerspectiveShift, 4, participants, last)
		seen := map[string]bool{}
		for _, v := range p.Perspectives {
			seen[v] = true
		}
		if len(seen) != len(participants) {
			t.Errorf("Perspectives = %v, want distinct", p.Perspectives)
		}
	})

	t.Run("plain has no instructions", func(t *testing.T) {
		if p := PlanFor(StrategyPlain, 1, participants, nil); p.Instructions != "" {
			t.Errorf("Instructions = %q", p.Instructions)
		}
	})
}

func TestParseStrategies(t *testing.T) {
	got := ParseStrategies([]string{"Plain", "bogus", " scope_reduced "})
	if len(got) != 2 || got[0] != StrategyPlain || got[1] != StrategyScopeReduced {
		t.Errorf("ParseStrategies() = %v", got)
	}
}
