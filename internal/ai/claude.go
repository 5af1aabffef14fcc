package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// SelfModel is the configured model of the self-participating claude backend.
// It is reported as is unless the CLI names the model it used.
const SelfModel = "claude-code-self"

// runFunc executes a command with stdin and returns its stdout.
type runFunc func(ctx context.Context, name string, args []string, stdin string) ([]byte, error)

func execRun(ctx context.Context, name string, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// cliCompleter runs the local claude CLI as a one-shot print command.
type cliCompleter struct {
	backend string
	command string
	model   string
	run     runFunc
}

func newCLICompleter(backend, command, model string) *cliCompleter {
	if command == "" {
		command = "claude"
	}
	return &cliCompleter{backend: backend, command: command, model: model, run: execRun}
}

// args builds the print-mode invocation. The prompt goes on stdin.
func (c *cliCompleter) args(p Prompt) []string {
	args := []string{"--print", "--output-format", "json"}
	if c.model != "" && c.model != SelfModel {
		args = append(args, "--model", c.model)
	}
	if p.System != "" {
		args = append(args, "--append-system-prompt", p.System)
	}
	return args
}

type cliResult struct {
	Type       string                     `json:"type"`
	Subtype    string                     `json:"subtype"`
	IsError    bool                       `json:"is_error"`
	Result     string                     `json:"result"`
	ModelUsage map[string]json.RawMessage `json:"modelUsage"`
}

func (c *cliCompleter) complete(ctx context.Context, _ Credential, p Prompt) (completion, error) {
	out, err := c.run(ctx, c.command, c.args(p), p.User)
	if err != nil {
		return completion{}, fmt.Errorf("%s: %s failed: %w", c.backend, c.command, err)
	}

	var res cliResult
	if err := json.Unmarshal(out, &res); err != nil || res.Type == "" {
		// Older CLIs print plain text.
		return completion{Text: string(out)}, nil
	}
	if res.IsError {
		return completion{}, fmt.Errorf("%s: %s reported %s: %s", c.backend, c.command, res.Subtype, res.Result)
	}

	var model string
	if len(res.ModelUsage) > 0 {
		models := make([]string, 0, len(res.ModelUsage))
		for m := range res.ModelUsage {
			models = append(models, m)
		}
		sort.Strings(models)
		model = models[0]
	}
	return completion{Text: res.Result, Model: model}, nil
}

func (c *cliCompleter) close() error { return nil }
