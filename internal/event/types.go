package event

import "time"

// Wildcard is the event type matched by SubscribeAll handlers.
const Wildcard = "*"

// Event type identifiers, "category.action".
const (
	TypeRunStarted         = "run.started"
	TypeRunFinished        = "run.finished"
	TypeRoundStarted       = "round.started"
	TypeRoundCompleted     = "round.completed"
	TypeConsensusEvaluated = "consensus.evaluated"
	TypeStrategyRotated    = "strategy.rotated"
	TypeClientExcluded     = "client.excluded"
	TypeCallFailed         = "call.failed"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Run Lifecycle Events
// -----------------------------------------------------------------------------

// RunStartedEvent is emitted once preflight has selected the participants.
type RunStartedEvent struct {
	baseEvent
	TaskID       string
	Topic        string
	Participants []string
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(taskID, topic string, participants []string) RunStartedEvent {
	return RunStartedEvent{
		baseEvent:    newBaseEvent(TypeRunStarted),
		TaskID:       taskID,
		Topic:        topic,
		Participants: participants,
	}
}

// RunFinishedEvent is emitted when a run reaches an exit state or fails.
type RunFinishedEvent struct {
	baseEvent
	TaskID    string
	ExitState string // CONSENSUS_REACHED, USER_TERMINATED, STRATEGIES_EXHAUSTED or FAILED
	Rounds    int
	Level     int
	Err       error
}

// NewRunFinishedEvent creates a RunFinishedEvent.
func NewRunFinishedEvent(taskID, exitState string, rounds, level int, err error) RunFinishedEvent {
	return RunFinishedEvent{
		baseEvent: newBaseEvent(TypeRunFinished),
		TaskID:    taskID,
		ExitState: exitState,
		Rounds:    rounds,
		Level:     level,
		Err:       err,
	}
}

// -----------------------------------------------------------------------------
// Round Events
// -----------------------------------------------------------------------------

// RoundStartedEvent is emitted before the analyze fan-out of a round.
type RoundStartedEvent struct {
	baseEvent
	TaskID   string
	Round    int
	Strategy string
}

// NewRoundStartedEvent creates a RoundStartedEvent.
func NewRoundStartedEvent(taskID string, round int, strategy string) RoundStartedEvent {
	return RoundStartedEvent{
		baseEvent: newBaseEvent(TypeRoundStarted),
		TaskID:    taskID,
		Round:     round,
		Strategy:  strategy,
	}
}

// RoundCompletedEvent is emitted after a round's results are collected.
type RoundCompletedEvent struct {
	baseEvent
	TaskID    string
	Round     int
	Responded []string // backends with a valid result
	Failed    []string // backends recorded in the failure ledger
}

// NewRoundCompletedEvent creates a RoundCompletedEvent.
func NewRoundCompletedEvent(taskID string, round int, responded, failed []string) RoundCompletedEvent {
	return RoundCompletedEvent{
		baseEvent: newBaseEvent(TypeRoundCompleted),
		TaskID:    taskID,
		Round:     round,
		Responded: responded,
		Failed:    failed,
	}
}

// ConsensusEvaluatedEvent carries the comparison scores and decided level.
type ConsensusEvaluatedEvent struct {
	baseEvent
	TaskID     string
	Round      int
	Level      int
	Action     string
	Semantic   float64
	Structural float64
	Hash       float64
	Trend      string
}

// NewConsensusEvaluatedEvent creates a ConsensusEvaluatedEvent.
func NewConsensusEvaluatedEvent(taskID string, round, level int, action string, semantic, structural, hash float64, trend string) ConsensusEvaluatedEvent {
	return ConsensusEvaluatedEvent{
		baseEvent:  newBaseEvent(TypeConsensusEvaluated),
		TaskID:     taskID,
		Round:      round,
		Level:      level,
		Action:     action,
		Semantic:   semantic,
		Structural: structural,
		Hash:       hash,
		Trend:      trend,
	}
}

// StrategyRotatedEvent is emitted when the convergence tracker moves on.
type StrategyRotatedEvent struct {
	baseEvent
	TaskID    string
	Round     int
	From      string
	To        string // empty when the strategies are exhausted
	Exhausted bool
}

// NewStrategyRotatedEvent creates a StrategyRotatedEvent.
func NewStrategyRotatedEvent(taskID string, round int, from, to string, exhausted bool) StrategyRotatedEvent {
	return StrategyRotatedEvent{
		baseEvent: newBaseEvent(TypeStrategyRotated),
		TaskID:    taskID,
		Round:     round,
		From:      from,
		To:        to,
		Exhausted: exhausted,
	}
}

// -----------------------------------------------------------------------------
// Client Events
// -----------------------------------------------------------------------------

// ClientExcludedEvent is emitted when preflight drops a backend.
type ClientExcludedEvent struct {
	baseEvent
	Backend string
	Reason  string
}

// NewClientExcludedEvent creates a ClientExcludedEvent.
func NewClientExcludedEvent(backend, reason string) ClientExcludedEvent {
	return ClientExcludedEvent{
		baseEvent: newBaseEvent(TypeClientExcluded),
		Backend:   backend,
		Reason:    reason,
	}
}

// CallFailedEvent is emitted when an analyze, review or debate call fails.
type CallFailedEvent struct {
	baseEvent
	TaskID  string
	Round   int
	Backend string
	Phase   string
	Err     error
}

// NewCallFailedEvent creates a CallFailedEvent.
func NewCallFailedEvent(taskID string, round int, backend, phase string, err error) CallFailedEvent {
	return CallFailedEvent{
		baseEvent: newBaseEvent(TypeCallFailed),
		TaskID:    taskID,
		Round:     round,
		Backend:   backend,
		Phase:     phase,
		Err:       err,
	}
}
