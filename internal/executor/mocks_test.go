package executor_test

import (
	"context"
	"strings"
	"sync"

	"github.com/mendhq/mend/internal/executor"
	"github.com/mendhq/mend/internal/ghapi"
	"github.com/mendhq/mend/internal/model"
)

type fakeGitHub struct {
	files            map[string]string // path -> content; presence means FileExists
	languages        map[string]int
	defaultBranch    string
	createdPRs       []ghapi.NewPullRequest
	createPRErr      error
	getRepositoryErr error
	prURL            string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		defaultBranch: "main",
		files:         map[string]string{},
		languages:     map[string]int{"Go": 1000},
		prURL:         "https://github.com/acme/widgets/pull/101",
	}
}

func (f *fakeGitHub) GetRepository(ctx context.Context, owner, repo string) (*ghapi.RepositoryInfo, error) {
	if f.getRepositoryErr != nil {
		return nil, f.getRepositoryErr
	}
	return &ghapi.RepositoryInfo{Owner: owner, Name: repo, DefaultBranch: f.defaultBranch}, nil
}

func (f *fakeGitHub) ListLanguages(ctx context.Context, owner, repo string) (map[string]int, error) {
	return f.languages, nil
}

func (f *fakeGitHub) FileExists(ctx context.Context, owner, repo, path string) (bool, error) {
	_, ok := f.files[path]
	return ok, nil
}

func (f *fakeGitHub) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	return f.files[path], nil
}

func (f *fakeGitHub) GetPullRequest(ctx context.Context, owner, repo string, number int) (*model.PullRequestRef, error) {
	return &model.PullRequestRef{Number: number}, nil
}

func (f *fakeGitHub) IsOrgMember(ctx context.Context, org, user string) (bool, error) {
	return true, nil
}

func (f *fakeGitHub) CreateIssueComment(ctx context.Context, owner, repo string, issueNumber int, body string) (int64, error) {
	return 1, nil
}

func (f *fakeGitHub) UpdateIssueComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	return nil
}

func (f *fakeGitHub) CreateIssueCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	return nil
}

func (f *fakeGitHub) CreateIssueReaction(ctx context.Context, owner, repo string, issueNumber int, content string) error {
	return nil
}

func (f *fakeGitHub) CreateReviewCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	return nil
}

func (f *fakeGitHub) CreatePullRequest(ctx context.Context, owner, repo string, pr ghapi.NewPullRequest) (string, error) {
	if f.createPRErr != nil {
		return "", f.createPRErr
	}
	f.createdPRs = append(f.createdPRs, pr)
	return f.prURL, nil
}

// scriptedRunner routes shell-outs to canned responses and records every
// invocation in order.
type scriptedRunner struct {
	mu    sync.Mutex
	calls []executor.Command

	agentOutput string
	agentErr    error
	porcelain   string
	gitErr      error
	testErr     error
}

func (r *scriptedRunner) Run(ctx context.Context, cmd executor.Command) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	switch cmd.Name {
	case "git":
		if len(cmd.Args) > 0 && cmd.Args[0] == "status" {
			return []byte(r.porcelain), nil
		}
		return nil, r.gitErr
	case "mend-agent":
		return []byte(r.agentOutput), r.agentErr
	default:
		return nil, r.testErr
	}
}

func (r *scriptedRunner) invocations(name string, firstArgs ...string) []executor.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []executor.Command
	for _, c := range r.calls {
		if c.Name != name {
			continue
		}
		if len(firstArgs) > 0 && !strings.HasPrefix(strings.Join(c.Args, " "), strings.Join(firstArgs, " ")) {
			continue
		}
		out = append(out, c)
	}
	return out
}

type recordingNotifier struct {
	started   []string
	running   []string
	succeeded []string
	failed    []string
}

func (n *recordingNotifier) Started(ctx context.Context, job *model.Job) {
	n.started = append(n.started, job.ID)
}

func (n *recordingNotifier) Running(ctx context.Context, job *model.Job) {
	n.running = append(n.running, job.ID)
}

func (n *recordingNotifier) Succeeded(ctx context.Context, job *model.Job) {
	n.succeeded = append(n.succeeded, job.ID)
}

func (n *recordingNotifier) Failed(ctx context.Context, job *model.Job) {
	n.failed = append(n.failed, job.ID)
}
