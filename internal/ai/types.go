package ai

import "strings"

// AnalysisResult is one backend's structured answer to a task.
type AnalysisResult struct {
	Backend      string   `json:"backend"`
	ModelVersion string   `json:"model_version"`
	Analysis     string   `json:"analysis"`
	Conclusion   string   `json:"conclusion"`
	Confidence   float64  `json:"confidence"`
	KeyPoints    []string `json:"key_points,omitempty"`
	Steps        []string `json:"suggested_steps,omitempty"`
}

// AnalysisContext carries prior-round state into an analyze call.
type AnalysisContext struct {
	Round    int
	Strategy string
	// Instructions are strategy-specific guidance appended to the prompt.
	Instructions string
	// Perspective is the evaluative lens assigned to this participant.
	Perspective string
	Previous    *AnalysisResult
	Peers       []*AnalysisResult
	Agreed      []string
	Disputed    []string
	// HealthCheck sends a minimal ping instead of the task and skips
	// response validation.
	HealthCheck bool
}

// Empty reports whether there is no prior-round state to share.
func (c AnalysisContext) Empty() bool {
	return c.Previous == nil && len(c.Peers) == 0 && len(c.Agreed) == 0 &&
		len(c.Disputed) == 0 && c.Instructions == "" && c.Perspective == ""
}

// ReviewResult is one backend's critique of a peer's analysis.
type ReviewResult struct {
	Reviewer     string   `json:"reviewer"`
	Peer         string   `json:"peer"`
	Feedback     string   `json:"feedback"`
	Agreed       []string `json:"agreement_points"`
	Disputed     []string `json:"disagreement_points"`
	Improvements []string `json:"suggested_improvements,omitempty"`
}

// Position is a participant's stance after a debate turn.
type Position struct {
	Conclusion string   `json:"conclusion"`
	Confidence float64  `json:"confidence"`
	KeyPoints  []string `json:"key_points,omitempty"`
	Steps      []string `json:"suggested_steps,omitempty"`
}

// DebateResult is one backend's debate turn.
type DebateResult struct {
	Backend         string   `json:"backend"`
	UpdatedPosition Position `json:"updated_position"`
	Rebuttals       []string `json:"rebuttals"`
	Concessions     []string `json:"concessions"`
	Remaining       []string `json:"remaining_disagreements,omitempty"`
}

// Apply folds the updated position into a copy of prior.
func (d *DebateResult) Apply(prior *AnalysisResult) *AnalysisResult {
	next := *prior
	if c := strings.TrimSpace(d.UpdatedPosition.Conclusion); c != "" {
		next.Conclusion = c
	}
	if d.UpdatedPosition.Confidence > 0 {
		next.Confidence = d.UpdatedPosition.Confidence
	}
	if len(d.UpdatedPosition.KeyPoints) > 0 {
		next.KeyPoints = d.UpdatedPosition.KeyPoints
	}
	if len(d.UpdatedPosition.Steps) > 0 {
		next.Steps = d.UpdatedPosition.Steps
	}
	return &next
}

// DebateOptions narrows a debate turn.
type DebateOptions struct {
	// Scope restricts the debate to these disputed items. Empty means open.
	Scope []string
	// Frozen items are agreed and must not be reopened.
	Frozen []string
	// Reconcile asks a minority participant to reconcile with the majority.
	Reconcile bool
	// Mediator marks this participant as the neutral facilitator.
	Mediator     bool
	Instructions string
}
