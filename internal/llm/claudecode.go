package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Veraticus/taxflow/internal/common"
)

// claudeCodeClient implements the Client interface using Claude Code CLI.
type claudeCodeClient struct {
	model    string
	cliPath  string
	maxTurns int
}

// newClaudeCodeClient creates a new Claude Code CLI client.
func newClaudeCodeClient(cfg Config) (Client, error) {
	cliPath := cfg.ClaudeCodePath
	if cliPath == "" {
		cliPath = "claude"
	}

	if _, err := exec.LookPath(cliPath); err != nil {
		return nil, fmt.Errorf("%w: claude CLI not found at %s: ensure @anthropic-ai/claude-code is installed", common.ErrConfiguration, cliPath)
	}

	model := cfg.Model
	if model == "" {
		model = "sonnet"
	}

	return &claudeCodeClient{
		model:    model,
		cliPath:  cliPath,
		maxTurns: 1,
	}, nil
}

// Complete runs one non-interactive Claude Code turn.
func (c *claudeCodeClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	args := []string{
		"-p", req.System + "\n\n" + req.Prompt,
		"--output-format", "json",
		"--model", c.model,
		"--max-turns", strconv.Itoa(c.maxTurns),
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.cliPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: claude code timed out: %w", common.ErrTransient, ctx.Err())
		}
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%w: claude code error: %s", common.ErrTransient, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%w: failed to execute claude: %w", common.ErrTransient, err)
	}

	return parseClaudeCodeOutput(stdout.Bytes())
}

// claudeCodeResponse represents the JSON response from Claude Code CLI.
type claudeCodeResponse struct {
	Result    string  `json:"result"`
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	IsError   bool    `json:"is_error"`
	TotalCost float64 `json:"total_cost_usd"`
}

func parseClaudeCodeOutput(out []byte) (string, error) {
	var response claudeCodeResponse
	if err := json.Unmarshal(out, &response); err != nil || response.Type != "result" {
		// Older CLI versions print the model's text unwrapped
		return strings.TrimSpace(string(out)), nil
	}
	if response.IsError {
		return "", common.Permanent(fmt.Errorf("claude code error in response: %s", response.Result))
	}
	if response.Result == "" {
		return "", common.Permanent(fmt.Errorf("empty response from claude code"))
	}
	return response.Result, nil
}
