package consensus

import (
	"math"
	"slices"
)

// Trend labels the recent score history.
type Trend string

const (
	TrendConverging Trend = "CONVERGING"
	TrendDiverging  Trend = "DIVERGING"
	TrendStable     Trend = "STABLE"
	TrendUnknown    Trend = "UNKNOWN"
)

// Tracker defaults.
const (
	DefaultWindowSize      = 3
	DefaultMinSlope        = 0.0
	DefaultStableTolerance = 0.05
)

// Update is what the tracker concluded from one round.
type Update struct {
	Score     float64  `json:"score"`
	Slope     float64  `json:"slope"`
	Trend     Trend    `json:"trend"`
	Rotated   bool     `json:"rotated"`
	From      Strategy `json:"from"`
	To        Strategy `json:"to,omitempty"`
	Exhausted bool     `json:"exhausted"`
}

// Tracker keeps a sliding window of composite scores and owns the strategy
// rotation.
type Tracker struct {
	windowSize      int
	minSlope        float64
	stableTolerance float64
	strategies      []Strategy

	window    []float64
	history   []float64
	index     int
	exhausted bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithWindowSize sets the sliding window length.
func WithWindowSize(n int) TrackerOption {
	return func(t *Tracker) { t.windowSize = n }
}

// WithMinSlope sets the slope a window must exceed to keep the strategy.
func WithMinSlope(v float64) TrackerOption {
	return func(t *Tracker) { t.minSlope = v }
}

// WithStableTolerance sets the deviation still labeled stable.
func WithStableTolerance(v float64) TrackerOption {
	return func(t *Tracker) { t.stableTolerance = v }
}

// WithStrategies sets the rotation order.
func WithStrategies(s []Strategy) TrackerOption {
	return func(t *Tracker) { t.strategies = slices.Clone(s) }
}

// NewTracker creates a Tracker starting at the first strategy.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		windowSize:      DefaultWindowSize,
		minSlope:        DefaultMinSlope,
		stableTolerance: DefaultStableTolerance,
		strategies:      DefaultStrategies(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.windowSize < 2 {
		t.windowSize = 2
	}
	if len(t.strategies) == 0 {
		t.strategies = DefaultStrategies()
	}
	return t
}

// Current returns the active strategy.
func (t *Tracker) Current() Strategy {
	if t.exhausted {
		return t.strategies[len(t.strategies)-1]
	}
	return t.strategies[t.index]
}

// Exhausted reports whether every strategy has been tried.
func (t *Tracker) Exhausted() bool { return t.exhausted }

// History returns every observed score.
func (t *Tracker) History() []float64 { return slices.Clone(t.history) }

// Observe records a round's decision. Level 0 rotates immediately; otherwise
// a window slope at or below the minimum rotates. participants is the number
// of clients available for the next round.
func (t *Tracker) Observe(d Decision, participants int) Update {
	var score float64
	if d.Comparison != nil {
		score = d.Comparison.Composite()
	}
	t.history = append(t.history, score)
	t.window = append(t.window, score)
	if len(t.window) > t.windowSize {
		t.window = t.window[len(t.window)-t.windowSize:]
	}

	u := Update{Score: score, Slope: Slope(t.window), Trend: t.Trend(), From: t.Current()}
	if t.exhausted || d.Level == LevelFull {
		u.Exhausted = t.exhausted
		return u
	}

	stalled := len(t.window) >= 2 && u.Slope <= t.minSlope
	if d.Level == LevelNone || stalled {
		u.Rotated = true
		u.Exhausted = !t.rotate(participants)
		if !u.Exhausted {
			u.To = t.Current()
		}
	}
	return u
}

// rotate advances to the next usable strategy and clears the window. It
// returns false once the list is exhausted.
func (t *Tracker) rotate(participants int) bool {
	t.window = t.window[:0]
	for t.index+1 < len(t.strategies) {
		t.index++
		if t.strategies[t.index].Usable(participants) {
			return true
		}
	}
	t.exhausted = true
	return false
}

// Trend labels the current window. A full window is needed.
func (t *Tracker) Trend() Trend {
	if len(t.window) < t.windowSize {
		return TrendUnknown
	}
	up, down := true, true
	var mean float64
	for i, s := range t.window {
		mean += s
		if i > 0 {
			up = up && s > t.window[i-1]
			down = down && s < t.window[i-1]
		}
	}
	mean /= float64(len(t.window))

	switch {
	case up:
		return TrendConverging
	case down:
		return TrendDiverging
	}
	for _, s := range t.window {
		if math.Abs(s-mean) > t.stableTolerance {
			return TrendUnknown
		}
	}
	return TrendStable
}

// Slope is the least-squares slope of ys over 0..n-1, or 0 below two points.
func Slope(ys []float64) float64 {
	n := float64(len(ys))
	if len(ys) < 2 {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	return (n*sxy - sx*sy) / (n*sxx - sx*sx)
}
