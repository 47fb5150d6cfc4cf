// Package mention recognizes the bot trigger in comment and issue bodies and
// parses the embedded command.
//
// The accepted shapes are:
//
//	@<bot> <command>: <description>
//	@<bot> <command> <target>: <description>
//	@<bot> <command> <description words...> [--with-tests]
package mention

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mendhq/mend/internal/model"
)

// KnownCommands are the commands the executor maps to dedicated agent
// invocations. Anything else parses fine and is dispatched generically.
var KnownCommands = []string{
	"fix", "add", "optimize", "refactor", "test",
	"doc", "security", "accessibility", "analyze", "review",
}

const withTestsFlag = "--with-tests"

type Parser struct {
	botLogin string
	pattern  *regexp.Regexp
}

func NewParser(botLogin string) *Parser {
	return &Parser{
		botLogin: botLogin,
		// Word boundary keeps "email@mendel.com" from matching "@mend".
		pattern: regexp.MustCompile(`(?m)(?:^|\s)@` + regexp.QuoteMeta(botLogin) + `\b[ \t]*(.*)$`),
	}
}

// HasMarker reports whether the trigger string appears at all, regardless of
// whether a command parses after it.
func (p *Parser) HasMarker(text string) bool {
	return p.pattern.MatchString(text)
}

// Extract returns the mention embedded in text, or nil when the trigger is
// absent. Only the first mention per body is honored.
func (p *Parser) Extract(text string) *model.Mention {
	match := p.pattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}

	fields := strings.Fields(match[1])
	if len(fields) == 0 {
		return &model.Mention{}
	}

	command := strings.ToLower(strings.TrimSuffix(fields[0], ":"))
	return &model.Mention{
		Command: command,
		Args:    fields[1:],
	}
}

// ParseCommand resolves a mention into a dispatchable command. It returns nil
// when the mention carries no command token at all; an unknown command name
// still parses and is handled generically downstream.
func (p *Parser) ParseCommand(m *model.Mention) *model.ParsedCommand {
	if m == nil || m.Command == "" {
		return nil
	}

	args := make([]string, 0, len(m.Args))
	runTests := false
	for _, a := range m.Args {
		if a == withTestsFlag {
			runTests = true
			continue
		}
		args = append(args, a)
	}

	cmd := &model.ParsedCommand{
		Name:     m.Command,
		RunTests: runTests,
	}

	// "<target>: <description>" puts the token before the colon in Target.
	if len(args) > 0 && strings.HasSuffix(args[0], ":") && len(args) > 1 {
		cmd.Target = strings.TrimSuffix(args[0], ":")
		cmd.Description = strings.Join(args[1:], " ")
	} else {
		cmd.Description = strings.Join(args, " ")
	}

	return cmd
}

// UsageHelp is posted back when the trigger is present but nothing parses.
func (p *Parser) UsageHelp() string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Usage:** `@%s <command>: <description>`\n\n", p.botLogin)
	b.WriteString("Available commands:\n")
	for _, c := range KnownCommands {
		fmt.Fprintf(&b, "- `%s`\n", c)
	}
	fmt.Fprintf(&b, "\nExample: `@%s fix: crash on null input`\n", p.botLogin)
	fmt.Fprintf(&b, "Append `%s` to run the project's tests after the change.\n", withTestsFlag)
	return b.String()
}

// IsKnown reports whether name is one of the dedicated commands.
func IsKnown(name string) bool {
	for _, c := range KnownCommands {
		if c == name {
			return true
		}
	}
	return false
}
