package service_test

import (
	"context"

	"github.com/mendhq/mend/internal/ghapi"
	"github.com/mendhq/mend/internal/model"
	"github.com/mendhq/mend/internal/notify"
)

type mockGitHub struct {
	isOrgMemberFn    func(ctx context.Context, org, user string) (bool, error)
	getPullRequestFn func(ctx context.Context, owner, repo string, number int) (*model.PullRequestRef, error)
}

func (m *mockGitHub) GetRepository(ctx context.Context, owner, repo string) (*ghapi.RepositoryInfo, error) {
	return &ghapi.RepositoryInfo{Owner: owner, Name: repo, DefaultBranch: "main"}, nil
}

func (m *mockGitHub) ListLanguages(ctx context.Context, owner, repo string) (map[string]int, error) {
	return nil, nil
}

func (m *mockGitHub) FileExists(ctx context.Context, owner, repo, path string) (bool, error) {
	return false, nil
}

func (m *mockGitHub) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	return "", nil
}

func (m *mockGitHub) GetPullRequest(ctx context.Context, owner, repo string, number int) (*model.PullRequestRef, error) {
	if m.getPullRequestFn != nil {
		return m.getPullRequestFn(ctx, owner, repo, number)
	}
	return &model.PullRequestRef{Number: number}, nil
}

func (m *mockGitHub) IsOrgMember(ctx context.Context, org, user string) (bool, error) {
	if m.isOrgMemberFn != nil {
		return m.isOrgMemberFn(ctx, org, user)
	}
	return true, nil
}

func (m *mockGitHub) CreateIssueComment(ctx context.Context, owner, repo string, issueNumber int, body string) (int64, error) {
	return 1, nil
}

func (m *mockGitHub) UpdateIssueComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	return nil
}

func (m *mockGitHub) CreateIssueCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	return nil
}

func (m *mockGitHub) CreateIssueReaction(ctx context.Context, owner, repo string, issueNumber int, content string) error {
	return nil
}

func (m *mockGitHub) CreateReviewCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	return nil
}

func (m *mockGitHub) CreatePullRequest(ctx context.Context, owner, repo string, pr ghapi.NewPullRequest) (string, error) {
	return "https://github.com/" + owner + "/" + repo + "/pull/1", nil
}

type mockNotifier struct {
	acks      []string
	denials   []string
	usageHelp int
	failed    []string
	chatCalls []notify.MentionEvent
	threadTS  string
}

func (m *mockNotifier) Ack(ctx context.Context, job *model.Job) {
	m.acks = append(m.acks, job.ID)
}

func (m *mockNotifier) Deny(ctx context.Context, job *model.Job, reason string) {
	m.denials = append(m.denials, reason)
}

func (m *mockNotifier) UsageHelp(ctx context.Context, job *model.Job, help string) {
	m.usageHelp++
}

func (m *mockNotifier) NotifyChat(ctx context.Context, ev notify.MentionEvent) string {
	m.chatCalls = append(m.chatCalls, ev)
	return m.threadTS
}

func (m *mockNotifier) Failed(ctx context.Context, job *model.Job) {
	m.failed = append(m.failed, job.ID)
}

type mockDispatcher struct {
	submitted []*model.Job
	submitErr error
}

func (m *mockDispatcher) Submit(job *model.Job) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submitted = append(m.submitted, job)
	return nil
}

type allowAllGate struct{}

func (allowAllGate) ValidateAccess(ctx context.Context, repo, author string) bool { return true }

type denyGate struct{}

func (denyGate) ValidateAccess(ctx context.Context, repo, author string) bool { return false }

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(ctx context.Context, author string) bool { return true }

type throttleLimiter struct{}

func (throttleLimiter) Allow(ctx context.Context, author string) bool { return false }
