package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/concord/internal/comparison"
	"github.com/Iron-Ham/concord/internal/consensus"
	"github.com/Iron-Ham/concord/internal/debate"
	"github.com/Iron-Ham/concord/internal/event"
	"github.com/Iron-Ham/concord/internal/pool"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens s to maxWidth terminal columns, keeping escape
// sequences intact.
func truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

func levelStyle(l consensus.Level) string {
	label := fmt.Sprintf("L%d %s", int(l), l)
	switch l {
	case consensus.LevelFull:
		return successStyle.Render(label)
	case consensus.LevelNear, consensus.LevelPartial:
		return warningStyle.Render(label)
	default:
		return errorStyle.Render(label)
	}
}

func exitStyle(s debate.ExitState) string {
	switch s {
	case debate.ExitConsensusReached:
		return successStyle.Render(string(s))
	case debate.ExitUserTerminated:
		return warningStyle.Render(string(s))
	case "":
		return mutedStyle.Render("-")
	default:
		return errorStyle.Render(string(s))
	}
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), value)
}

// renderResult prints a run summary.
func renderResult(w io.Writer, res *debate.RunResult) {
	fmt.Fprintln(w, titleStyle.Render("Debate "+res.Task.ID))
	field(w, "Task", res.Task.Description)
	field(w, "Outcome", exitStyle(res.ExitState))
	field(w, "Level", levelStyle(res.FinalLevel))
	field(w, "Rounds", fmt.Sprintf("%d", res.RoundCount()))
	if res.Strategy != "" {
		field(w, "Strategy", string(res.Strategy))
	}
	if res.Trend != "" {
		field(w, "Trend", string(res.Trend))
	}
	field(w, "Participants", strings.Join(res.Participants, ", "))
	if last := res.Last(); last != nil && last.Comparison != nil {
		field(w, "Scores", scores(last.Comparison))
	}
	fmt.Fprintln(w)

	if res.Conclusion != "" {
		body := res.Conclusion
		for i, s := range res.Steps {
			body += fmt.Sprintf("\n%d. %s", i+1, s)
		}
		fmt.Fprintln(w, conclusionStyle.Render(body))
		if len(res.Supporters) > 0 {
			fmt.Fprintln(w, mutedStyle.Render("supported by "+strings.Join(res.Supporters, ", ")))
		}
		fmt.Fprintln(w)
	}

	if len(res.Disputed) > 0 {
		fmt.Fprintln(w, warningStyle.Render("Disputed"))
		for _, d := range res.Disputed {
			fmt.Fprintf(w, "  - %s\n", d)
		}
		fmt.Fprintln(w)
	}

	renderFailures(w, res.Failures)
}

func scores(c *comparison.Result) string {
	return fmt.Sprintf("semantic %.2f  structural %.2f  hash %.2f",
		comparison.Round(c.Semantic.Score),
		comparison.Round(c.Structural.Ratio),
		comparison.Round(c.Hash.MatchRatio))
}

func renderFailures(w io.Writer, failures []pool.Failure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(w, errorStyle.Render("Failed clients"))
	for _, f := range failures {
		where := string(f.Phase)
		if f.Round > 0 {
			where = fmt.Sprintf("%s, round %d", f.Phase, f.Round)
		}
		fmt.Fprintf(w, "  %s (%s): %s\n", f.Backend, where, f.Reason)
		if f.Auth {
			fmt.Fprintln(w, mutedStyle.Render("    run `concord auth login "+f.Backend+"` to sign in again"))
		}
	}
}

// renderHealth prints one line per backend, sorted by name.
func renderHealth(w io.Writer, report map[string]pool.Health) {
	for _, name := range slices.Sorted(maps.Keys(report)) {
		h := report[name]
		if h.Available {
			detail := h.Latency.Round(time.Millisecond).String()
			if h.ModelVersion != "" {
				detail += "  " + h.ModelVersion
			}
			fmt.Fprintf(w, "%s %s %s\n", successStyle.Render("✓"), labelStyle.Render(name), mutedStyle.Render(detail))
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", errorStyle.Render("✗"), labelStyle.Render(name), h.Error)
	}
}

// progress prints round-by-round events while a run is in flight.
func progress(w io.Writer, bus *event.Bus) {
	event.On(bus, event.TypeRunStarted, func(ev event.RunStartedEvent) {
		fmt.Fprintf(w, "%s %s with %s\n", titleStyle.Render("▶"), ev.TaskID, strings.Join(ev.Participants, ", "))
	})
	event.On(bus, event.TypeRoundStarted, func(ev event.RoundStartedEvent) {
		fmt.Fprintf(w, "round %d %s\n", ev.Round, mutedStyle.Render(ev.Strategy))
	})
	event.On(bus, event.TypeConsensusEvaluated, func(ev event.ConsensusEvaluatedEvent) {
		fmt.Fprintf(w, "  %s  semantic %.2f  structural %.2f  hash %.2f  %s\n",
			levelStyle(consensus.Level(ev.Level)), ev.Semantic, ev.Structural, ev.Hash, mutedStyle.Render(ev.Trend))
	})
	event.On(bus, event.TypeStrategyRotated, func(ev event.StrategyRotatedEvent) {
		if ev.Exhausted {
			fmt.Fprintln(w, warningStyle.Render("  strategies exhausted"))
			return
		}
		fmt.Fprintf(w, "  %s %s → %s\n", warningStyle.Render("rotating"), ev.From, ev.To)
	})
	event.On(bus, event.TypeClientExcluded, func(ev event.ClientExcludedEvent) {
		fmt.Fprintf(w, "%s %s: %s\n", errorStyle.Render("excluded"), ev.Backend, ev.Reason)
	})
	event.On(bus, event.TypeCallFailed, func(ev event.CallFailedEvent) {
		fmt.Fprintf(w, "  %s %s %s: %v\n", errorStyle.Render("failed"), ev.Backend, ev.Phase, ev.Err)
	})
}
