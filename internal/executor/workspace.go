package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mendhq/mend/internal/model"
)

// BranchPrefix namespaces every branch the bot pushes.
const BranchPrefix = "bot"

// TempBranchName derives the per-job branch. The timestamp keeps concurrent
// jobs for the same command from colliding.
func TempBranchName(command string, now time.Time) string {
	return fmt.Sprintf("%s/%s-%d", BranchPrefix, command, now.Unix())
}

// setupWorkspace shallow-clones the default branch into the job-unique
// directory and checks out the temp branch. The returned TaskContext owns
// the clone directory for the rest of the job.
func (e *Executor) setupWorkspace(ctx context.Context, job *model.Job, rc *model.RepositoryContext, cmd *model.ParsedCommand) (*model.TaskContext, error) {
	cloneCtx, cancel := context.WithTimeout(ctx, e.cfg.CloneTimeout)
	defer cancel()

	cloneURL := e.authenticatedCloneURL(rc)
	if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}

	if err := e.runGit(cloneCtx, "", "clone", "--depth", "1", "--branch", rc.DefaultBranch, cloneURL, rc.ClonePath); err != nil {
		return nil, fmt.Errorf("cloning %s: %w", rc.FullName(), err)
	}

	tempBranch := TempBranchName(cmd.Name, time.Now().UTC())
	if err := e.runGit(cloneCtx, rc.ClonePath, "checkout", "-b", tempBranch); err != nil {
		return nil, fmt.Errorf("creating branch %s: %w", tempBranch, err)
	}

	return &model.TaskContext{
		Job:              job,
		Repository:       rc,
		WorkingDirectory: rc.ClonePath,
		TempBranch:       tempBranch,
	}, nil
}

func (e *Executor) authenticatedCloneURL(rc *model.RepositoryContext) string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", e.token, rc.Owner, rc.Repo)
}

func (e *Executor) runGit(ctx context.Context, dir string, args ...string) error {
	output, err := e.runner.Run(ctx, Command{
		Name: "git",
		Args: args,
		Dir:  dir,
		Env: []string{
			"GIT_TERMINAL_PROMPT=0",
		},
	})
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", redactToken(strings.Join(args, " "), e.token), err, redactToken(string(output), e.token))
	}
	return nil
}

func (e *Executor) gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	output, err := e.runner.Run(ctx, Command{
		Name: "git",
		Args: args,
		Dir:  dir,
		Env: []string{
			"GIT_TERMINAL_PROMPT=0",
		},
	})
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", redactToken(strings.Join(args, " "), e.token), err, redactToken(string(output), e.token))
	}
	return string(output), nil
}

// redactToken keeps the access token out of error messages and comments.
func redactToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}

func cleanupWorkspace(path string) {
	if path == "" {
		return
	}
	_ = os.RemoveAll(path)
}
