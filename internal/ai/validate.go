package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Iron-Ham/concord/internal/errors"
)

// DefaultMinAnalysisLength is the shortest analysis accepted as a genuine
// response.
const DefaultMinAnalysisLength = 50

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// Sanitize strips the usual LLM wrapping around a JSON object: markdown code
// fences, leading or trailing prose and trailing commas.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)

	if start := strings.Index(s, "```"); start >= 0 {
		body := s[start+3:]
		// Drop the info string ("json") on the opening fence line.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsRune(body[:nl], '{') {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		s = strings.TrimSpace(body)
	}

	if open, last := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); open >= 0 && last > open {
		s = s[open : last+1]
	}

	return trailingComma.ReplaceAllString(s, "$1")
}

// decode unmarshals a sanitized payload, converting decode failures into
// validation errors attributed to backend.
func decode(backend, raw string, v any) error {
	clean := Sanitize(raw)
	if clean == "" {
		return errors.NewValidationError("empty response").WithBackend(backend)
	}
	if err := json.Unmarshal([]byte(clean), v); err != nil {
		verr := errors.NewValidationError("response is not valid JSON").WithBackend(backend).WithCause(err)
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			verr = verr.WithField(typeErr.Field).WithValue(typeErr.Value)
		}
		return verr
	}
	return nil
}

type analysisPayload struct {
	Analysis      *string  `json:"analysis"`
	Conclusion    *string  `json:"conclusion"`
	Confidence    *float64 `json:"confidence"`
	KeyPoints     []string `json:"key_points"`
	Steps         []string `json:"suggested_steps"`
	RequiresInput bool     `json:"requires_input"`
}

// ParseAnalysis decodes and validates an analyze response. Missing fields,
// confidence outside [0,1], an analysis shorter than minLength or a
// requires_input placeholder are all validation errors.
func ParseAnalysis(backend, model, raw string, minLength int) (*AnalysisResult, error) {
	var p analysisPayload
	if err := decode(backend, raw, &p); err != nil {
		return nil, err
	}
	if p.RequiresInput {
		return nil, errors.NewValidationError("placeholder response").
			WithBackend(backend).WithField("requires_input").WithValue(true)
	}

	switch {
	case p.Analysis == nil:
		return nil, missingField(backend, "analysis")
	case p.Conclusion == nil:
		return nil, missingField(backend, "conclusion")
	case p.Confidence == nil:
		return nil, missingField(backend, "confidence")
	}

	result := &AnalysisResult{
		Backend:      backend,
		ModelVersion: model,
		Analysis:     strings.TrimSpace(*p.Analysis),
		Conclusion:   strings.TrimSpace(*p.Conclusion),
		Confidence:   *p.Confidence,
		KeyPoints:    compact(p.KeyPoints),
		Steps:        compact(p.Steps),
	}
	if err := Validate(result, minLength); err != nil {
		return nil, err
	}
	return result, nil
}

// Validate checks the invariants every AnalysisResult must hold.
func Validate(r *AnalysisResult, minLength int) error {
	if minLength <= 0 {
		minLength = DefaultMinAnalysisLength
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.NewValidationError("confidence must be within [0, 1]").
			WithBackend(r.Backend).WithField("confidence").WithValue(r.Confidence)
	}
	if n := len([]rune(r.Analysis)); n < minLength {
		return errors.NewValidationError(fmt.Sprintf("analysis too short (%d < %d characters)", n, minLength)).
			WithBackend(r.Backend).WithField("analysis").WithValue(n)
	}
	if r.Conclusion == "" {
		return errors.NewValidationError("conclusion is empty").
			WithBackend(r.Backend).WithField("conclusion")
	}
	return nil
}

type reviewPayload struct {
	Feedback     *string  `json:"feedback"`
	Agreed       []string `json:"agreement_points"`
	Disputed     []string `json:"disagreement_points"`
	Improvements []string `json:"suggested_improvements"`
}

// ParseReview decodes a review response.
func ParseReview(reviewer, peer, raw string) (*ReviewResult, error) {
	var p reviewPayload
	if err := decode(reviewer, raw, &p); err != nil {
		return nil, err
	}
	if p.Feedback == nil {
		return nil, missingField(reviewer, "feedback")
	}
	return &ReviewResult{
		Reviewer:     reviewer,
		Peer:         peer,
		Feedback:     strings.TrimSpace(*p.Feedback),
		Agreed:       compact(p.Agreed),
		Disputed:     compact(p.Disputed),
		Improvements: compact(p.Improvements),
	}, nil
}

type debatePayload struct {
	UpdatedPosition *Position `json:"updated_position"`
	Rebuttals       []string  `json:"rebuttals"`
	Concessions     []string  `json:"concessions"`
	Remaining       []string  `json:"remaining_disagreements"`
}

// ParseDebate decodes and validates a debate response.
func ParseDebate(backend, raw string) (*DebateResult, error) {
	var p debatePayload
	if err := decode(backend, raw, &p); err != nil {
		return nil, err
	}
	if p.UpdatedPosition == nil {
		return nil, missingField(backend, "updated_position")
	}
	pos := *p.UpdatedPosition
	pos.Conclusion = strings.TrimSpace(pos.Conclusion)
	if pos.Conclusion == "" {
		return nil, missingField(backend, "updated_position.conclusion")
	}
	if pos.Confidence < 0 || pos.Confidence > 1 {
		return nil, errors.NewValidationError("confidence must be within [0, 1]").
			WithBackend(backend).WithField("updated_position.confidence").WithValue(pos.Confidence)
	}
	pos.KeyPoints = compact(pos.KeyPoints)
	pos.Steps = compact(pos.Steps)
	return &DebateResult{
		Backend:         backend,
		UpdatedPosition: pos,
		Rebuttals:       compact(p.Rebuttals),
		Concessions:     compact(p.Concessions),
		Remaining:       compact(p.Remaining),
	}, nil
}

func missingField(backend, field string) error {
	return errors.NewValidationError("missing required field").WithBackend(backend).WithField(field)
}

// compact trims items and drops empty ones.
func compact(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
