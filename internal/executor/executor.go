// Package executor turns an accepted job into a published pull request:
// context discovery, isolated clone, command dispatch, advisory verification,
// and publication. Each step runs under its own deadline so a hung shell-out
// cannot wedge a worker.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mendhq/mend/common/id"
	"github.com/mendhq/mend/common/logger"
	"github.com/mendhq/mend/internal/ghapi"
	"github.com/mendhq/mend/internal/model"
	"github.com/mendhq/mend/internal/store"
)

// ProgressNotifier is the slice of the feedback notifier the executor drives.
type ProgressNotifier interface {
	Started(ctx context.Context, job *model.Job)
	Running(ctx context.Context, job *model.Job)
	Succeeded(ctx context.Context, job *model.Job)
	Failed(ctx context.Context, job *model.Job)
}

// CommandParser resolves a stored mention back into a dispatchable command.
type CommandParser interface {
	ParseCommand(m *model.Mention) *model.ParsedCommand
}

type Config struct {
	AgentBinary string
	WorkDir     string

	CloneTimeout time.Duration
	AgentTimeout time.Duration
	TestTimeout  time.Duration
	PushTimeout  time.Duration

	// TestsAreAdvisory keeps test failures from gating publication. Kept
	// as an explicit flag so a stricter mode can flip it without
	// restructuring the pipeline.
	TestsAreAdvisory bool
}

type Executor struct {
	gh       ghapi.Client
	jobs     store.JobStore
	notifier ProgressNotifier
	parser   CommandParser
	runner   CommandRunner
	cfg      Config
	token    string
}

func New(gh ghapi.Client, jobs store.JobStore, notifier ProgressNotifier, parser CommandParser, runner CommandRunner, cfg Config, token string) *Executor {
	if runner == nil {
		runner = ExecCommandRunner{}
	}
	return &Executor{
		gh:       gh,
		jobs:     jobs,
		notifier: notifier,
		parser:   parser,
		runner:   runner,
		cfg:      cfg,
		token:    token,
	}
}

// Process drives one job to a terminal state. Errors are absorbed here: any
// failure marks the job failed and posts the error back to the requester,
// never crashing the worker.
func (e *Executor) Process(ctx context.Context, job *model.Job) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:      logger.Ptr(job.ID),
		Repository: logger.Ptr(job.Repository),
		Author:     logger.Ptr(job.Author),
		Component:  "mend.executor",
	})

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in job processing", "panic", r)
			e.fail(ctx, job, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := job.TransitionTo(model.JobStatusProcessing); err != nil {
		slog.ErrorContext(ctx, "job not in a runnable state", "error", err, "status", job.Status)
		return
	}
	job.RunID = id.New()
	e.put(ctx, job)

	e.notifier.Started(ctx, job)
	e.notifier.Running(ctx, job)

	result, err := e.execute(ctx, job)
	if err != nil {
		slog.ErrorContext(ctx, "job execution failed", "error", err)
		e.fail(ctx, job, err)
		return
	}

	job.Result = result
	if err := job.TransitionTo(model.JobStatusCompleted); err != nil {
		slog.ErrorContext(ctx, "completion transition rejected", "error", err)
		return
	}
	e.put(ctx, job)
	e.notifier.Succeeded(ctx, job)

	slog.InfoContext(ctx, "job completed",
		"command", job.Mention.Command,
		"files", len(result.Files),
		"pr_url", result.PRURL,
		"duration", job.Duration().Round(time.Millisecond).String())
}

func (e *Executor) execute(ctx context.Context, job *model.Job) (*model.CommandResult, error) {
	cmd := e.parser.ParseCommand(&job.Mention)
	if cmd == nil {
		return nil, fmt.Errorf("job mention does not parse to a command")
	}

	owner, name, ok := strings.Cut(job.Repository, "/")
	if !ok {
		return nil, fmt.Errorf("malformed repository %q", job.Repository)
	}

	rc, err := DiscoverContext(ctx, e.gh, e.cfg.WorkDir, owner, name)
	if err != nil {
		return nil, err
	}
	defer cleanupWorkspace(rc.ClonePath)

	slog.InfoContext(ctx, "repository context discovered",
		"default_branch", rc.DefaultBranch,
		"languages", rc.Languages,
		"package_manager", rc.PackageManager,
		"framework", rc.Framework,
		"has_tests", rc.HasTests,
		"has_ci", rc.HasCI)

	tc, err := e.setupWorkspace(ctx, job, rc, cmd)
	if err != nil {
		return nil, err
	}

	result, _, err := e.runAgent(ctx, tc, cmd)
	if err != nil {
		return nil, err
	}

	if cmd.RunTests && !IsReadOnly(cmd.Name) && rc.PackageManager != "" {
		if err := e.runTests(ctx, tc, rc.PackageManager); err != nil {
			if !e.cfg.TestsAreAdvisory {
				return nil, fmt.Errorf("tests failed: %w", err)
			}
			slog.WarnContext(ctx, "tests failed, publishing anyway (advisory mode)", "error", err)
			result.Details = fmt.Sprintf("Tests failed (advisory): %v", err)
		}
	}

	if IsReadOnly(cmd.Name) {
		return result, nil
	}

	if err := e.publish(ctx, tc, cmd, result); err != nil {
		return nil, err
	}
	return result, nil
}

var testCommands = map[string][]string{
	"npm":     {"npm", "test"},
	"yarn":    {"yarn", "test"},
	"pnpm":    {"pnpm", "test"},
	"bun":     {"bun", "test"},
	"go":      {"go", "test", "./..."},
	"cargo":   {"cargo", "test"},
	"poetry":  {"poetry", "run", "pytest"},
	"pip":     {"pytest"},
	"bundler": {"bundle", "exec", "rake", "test"},
}

func (e *Executor) runTests(ctx context.Context, tc *model.TaskContext, packageManager string) error {
	argv, ok := testCommands[packageManager]
	if !ok {
		slog.DebugContext(ctx, "no test command for package manager", "package_manager", packageManager)
		return nil
	}

	testCtx, cancel := context.WithTimeout(ctx, e.cfg.TestTimeout)
	defer cancel()

	output, err := e.runner.Run(testCtx, Command{
		Name: argv[0],
		Args: argv[1:],
		Dir:  tc.WorkingDirectory,
	})
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, firstLines(string(output), 10))
	}
	return nil
}

// publish stages everything, commits, pushes the temp branch, and opens the
// pull request against the default branch. A run with no working-tree
// changes publishes nothing and says so in the summary.
func (e *Executor) publish(ctx context.Context, tc *model.TaskContext, cmd *model.ParsedCommand, result *model.CommandResult) error {
	porcelain, err := e.gitOutput(ctx, tc.WorkingDirectory, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(porcelain) == "" {
		result.Summary += " (no changes were necessary)"
		result.Files = nil
		return nil
	}

	if len(result.Files) == 0 {
		result.Files = filesFromPorcelain(porcelain)
	}

	if err := e.runGit(ctx, tc.WorkingDirectory, "add", "-A"); err != nil {
		return err
	}
	if err := e.runGit(ctx, tc.WorkingDirectory,
		"-c", "user.name=mend", "-c", "user.email=mend@users.noreply.github.com",
		"commit", "-m", commitMessage(tc.Job, cmd, result.Files)); err != nil {
		return err
	}

	pushCtx, cancel := context.WithTimeout(ctx, e.cfg.PushTimeout)
	defer cancel()
	if err := e.runGit(pushCtx, tc.WorkingDirectory, "push", "origin", tc.TempBranch); err != nil {
		return err
	}

	prURL, err := e.gh.CreatePullRequest(ctx, tc.Repository.Owner, tc.Repository.Repo, ghapi.NewPullRequest{
		Title: prTitle(cmd),
		Head:  tc.TempBranch,
		Base:  tc.Repository.DefaultBranch,
		Body:  prBody(tc.Job, cmd, result),
	})
	if err != nil {
		return err
	}
	result.PRURL = prURL
	return nil
}

func filesFromPorcelain(porcelain string) []string {
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(porcelain), "\n") {
		if len(line) < 4 {
			continue
		}
		files = append(files, strings.TrimSpace(line[3:]))
	}
	return files
}

func commitMessage(job *model.Job, cmd *model.ParsedCommand, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n\n", cmd.Name, cmd.Description)
	fmt.Fprintf(&b, "Requested by @%s in %s#%d\n", job.Author, job.Repository, job.IssueNumber)
	if len(files) > 0 {
		b.WriteString("\nFiles:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func prTitle(cmd *model.ParsedCommand) string {
	if cmd.Description != "" {
		return fmt.Sprintf("[mend] %s: %s", cmd.Name, cmd.Description)
	}
	return fmt.Sprintf("[mend] %s", cmd.Name)
}

func prBody(job *model.Job, cmd *model.ParsedCommand, result *model.CommandResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Summary\n\n%s\n", result.Summary)
	if len(result.Files) > 0 {
		b.WriteString("\n## Changed files\n\n")
		for _, f := range result.Files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
	}
	if result.Analysis != "" {
		fmt.Fprintf(&b, "\n## Analysis\n\n%s\n", result.Analysis)
	}
	fmt.Fprintf(&b, "\n---\nRequested by @%s via `@mend %s` in %s#%d.\n",
		job.Author, cmd.Name, job.Repository, job.IssueNumber)
	return b.String()
}

func (e *Executor) fail(ctx context.Context, job *model.Job, cause error) {
	if job.Status == model.JobStatusQueued {
		_ = job.TransitionTo(model.JobStatusProcessing)
	}
	if !job.Status.Terminal() {
		_ = job.TransitionTo(model.JobStatusFailed)
	}
	job.Error = redactToken(cause.Error(), e.token)
	e.put(ctx, job)
	e.notifier.Failed(ctx, job)
}

func (e *Executor) put(ctx context.Context, job *model.Job) {
	if err := e.jobs.Put(ctx, job); err != nil {
		slog.ErrorContext(ctx, "failed to persist job", "error", err)
	}
}
