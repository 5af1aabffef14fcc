package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const analyzeSystemPrompt = `You are an expert performing technical analysis and code review.
Analyze the given task and respond with a single JSON object:

{
  "analysis": "detailed analysis",
  "conclusion": "the core conclusion in one sentence",
  "confidence": 0.0 to 1.0,
  "key_points": ["key point", ...],
  "suggested_steps": ["step", ...]
}

Keep each suggested step short and concrete so that it can be compared with
other analysts' steps. If you cannot analyze the task without more input,
respond with {"requires_input": true}.`

const reviewSystemPrompt = `Review another analyst's analysis of the same task and give feedback.
Separate what you agree with from what you dispute. Respond with a single JSON object:

{
  "feedback": "overall feedback",
  "agreement_points": ["point you agree with", ...],
  "disagreement_points": ["point you dispute: reason", ...],
  "suggested_improvements": ["improvement", ...]
}`

const debateSystemPrompt = `Take part in a debate and refine your position.
Separate rebuttals of opposing views from points you concede. Respond with a single JSON object:

{
  "updated_position": {
    "conclusion": "updated conclusion",
    "confidence": 0.0 to 1.0,
    "key_points": ["key point", ...],
    "suggested_steps": ["step", ...]
  },
  "rebuttals": ["rebuttal", ...],
  "concessions": ["concession: reason", ...],
  "remaining_disagreements": ["disagreement", ...]
}`

// HealthCheckPrompt is the task sent by pool health checks.
const HealthCheckPrompt = "health check ping"

const healthCheckSystemPrompt = `Respond with {"status": "ok"} and nothing else.`

// Prompt is a system and user message pair sent to a backend.
type Prompt struct {
	System string
	User   string
	// JSON requests a JSON object response where the backend supports it.
	JSON bool
}

func analyzePrompt(task string, actx AnalysisContext) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task)

	if actx.Perspective != "" {
		fmt.Fprintf(&b, "\nEvaluate the task strictly from this perspective: %s\n", actx.Perspective)
	}
	if actx.Instructions != "" {
		fmt.Fprintf(&b, "\n%s\n", actx.Instructions)
	}
	if actx.Round > 1 {
		fmt.Fprintf(&b, "\nThis is round %d", actx.Round)
		if actx.Strategy != "" {
			fmt.Fprintf(&b, " (strategy: %s)", actx.Strategy)
		}
		b.WriteString(".\n")
	}
	if actx.Previous != nil {
		b.WriteString("\nYour previous position:\n")
		writeJSON(&b, actx.Previous)
	}
	if len(actx.Peers) > 0 {
		b.WriteString("\nOther analysts' positions:\n")
		for _, peer := range actx.Peers {
			writeJSON(&b, peer)
		}
	}
	writeList(&b, "Agreed items (do not reopen)", actx.Agreed)
	writeList(&b, "Disputed items", actx.Disputed)

	return Prompt{System: analyzeSystemPrompt, User: b.String(), JSON: true}
}

func reviewPrompt(task string, peer, own *AnalysisResult) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nPeer analysis:\n", task)
	writeJSON(&b, peer)
	b.WriteString("\nYour analysis:\n")
	writeJSON(&b, own)
	return Prompt{System: reviewSystemPrompt, User: b.String(), JSON: true}
}

func debatePrompt(task string, own *AnalysisResult, opposing []*AnalysisResult, opts DebateOptions) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nYour position:\n", task)
	writeJSON(&b, own)

	b.WriteString("\nOpposing views:\n")
	for i, view := range opposing {
		fmt.Fprintf(&b, "Analyst %d:\n", i+1)
		writeJSON(&b, view)
	}

	if opts.Mediator {
		b.WriteString("\nYou are the mediator for this round. Act as a neutral facilitator: " +
			"identify common ground and propose a position every analyst can accept.\n")
	}
	if opts.Reconcile {
		b.WriteString("\nYour position is in the minority. Reconcile it with the majority " +
			"unless you can show the majority is wrong.\n")
	}
	writeList(&b, "Frozen agreed items (do not reopen)", opts.Frozen)
	writeList(&b, "Debate only these disputed items", opts.Scope)
	if opts.Instructions != "" {
		fmt.Fprintf(&b, "\n%s\n", opts.Instructions)
	}

	return Prompt{System: debateSystemPrompt, User: b.String(), JSON: true}
}

func healthPrompt() Prompt {
	return Prompt{System: healthCheckSystemPrompt, User: HealthCheckPrompt, JSON: true}
}

func writeJSON(b *strings.Builder, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(b, "%v\n", v)
		return
	}
	b.Write(data)
	b.WriteByte('\n')
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
