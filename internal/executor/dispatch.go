package executor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mendhq/mend/common/logger"
	"github.com/mendhq/mend/internal/model"
)

// changedFilePattern matches the agent's change reporting lines.
var changedFilePattern = regexp.MustCompile(`(?m)^\s*(?:Modified|Created|Updated):\s*(.+?)\s*$`)

// readOnlyCommands never produce a commit; their value is the analysis text.
var readOnlyCommands = map[string]bool{
	"analyze": true,
	"review":  true,
}

// instructionTemplates map command names to agent instructions. Unrecognized
// commands fall through to a generic instruction.
var instructionTemplates = map[string]string{
	"fix":           "Fix the following problem: %s",
	"add":           "Add the following feature: %s",
	"optimize":      "Optimize the code as described: %s",
	"refactor":      "Refactor the code as described: %s",
	"test":          "Write tests covering: %s",
	"doc":           "Improve documentation: %s",
	"security":      "Address the following security concern: %s",
	"accessibility": "Improve accessibility: %s",
	"analyze":       "Analyze the codebase and report findings: %s. Do not modify any files.",
	"review":        "Review the code and report findings: %s. Do not modify any files.",
}

// IsReadOnly reports whether the command is analysis-only by convention.
func IsReadOnly(name string) bool {
	return readOnlyCommands[name]
}

// BuildAgentArgs maps a parsed command onto the external tool's invocation.
func BuildAgentArgs(cmd *model.ParsedCommand) []string {
	args := []string{"--non-interactive", "--quiet"}
	if cmd.Target != "" {
		args = append(args, "--target", cmd.Target)
	}
	return append(args, AgentInstruction(cmd))
}

// AgentInstruction renders the natural-language instruction for the agent.
func AgentInstruction(cmd *model.ParsedCommand) string {
	template, ok := instructionTemplates[cmd.Name]
	if !ok {
		template = "Apply the following change: %s"
	}
	description := cmd.Description
	if description == "" {
		description = cmd.Name
	}
	return fmt.Sprintf(template, description)
}

// ParseChangedFiles extracts the changed-file list from the agent's combined
// output, deduplicated in reported order.
func ParseChangedFiles(output string) []string {
	matches := changedFilePattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		file := m[1]
		if seen[file] {
			continue
		}
		seen[file] = true
		files = append(files, file)
	}
	return files
}

// runAgent dispatches the command to the code-modification tool and builds
// the preliminary result from its output.
func (e *Executor) runAgent(ctx context.Context, tc *model.TaskContext, cmd *model.ParsedCommand) (*model.CommandResult, string, error) {
	agentCtx, cancel := context.WithTimeout(ctx, e.cfg.AgentTimeout)
	defer cancel()

	output, err := e.runner.Run(agentCtx, Command{
		Name: e.cfg.AgentBinary,
		Args: BuildAgentArgs(cmd),
		Dir:  tc.WorkingDirectory,
	})
	text := string(output)
	if err != nil {
		return nil, text, fmt.Errorf("agent command failed: %w: %s", err, firstLines(text, 20))
	}
	slog.InfoContext(ctx, "agent run finished",
		"command", cmd.Name, "output", logger.Truncate(text, 500))

	result := &model.CommandResult{
		Success:       true,
		Summary:       summaryFor(cmd),
		Files:         ParseChangedFiles(text),
		ShouldComment: true,
	}
	if IsReadOnly(cmd.Name) {
		result.Analysis = strings.TrimSpace(text)
		result.Files = nil
	}
	return result, text, nil
}

func summaryFor(cmd *model.ParsedCommand) string {
	if cmd.Description != "" {
		return fmt.Sprintf("`%s`: %s", cmd.Name, cmd.Description)
	}
	return fmt.Sprintf("`%s` completed", cmd.Name)
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n")
}
