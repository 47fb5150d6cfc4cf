// Package ghapi wraps the GitHub REST surface the bot consumes. Reactions on
// issue comments and on PR review comments are different API endpoints and
// are kept as distinct methods so callers cannot conflate them.
package ghapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"

	"github.com/mendhq/mend/internal/model"
)

// Reaction contents accepted by the GitHub reactions API.
const (
	ReactionThumbsUp   = "+1"
	ReactionThumbsDown = "-1"
	ReactionEyes       = "eyes"
	ReactionRocket     = "rocket"
	ReactionConfused   = "confused"
)

// RepositoryInfo is the repo metadata needed for context discovery.
type RepositoryInfo struct {
	Owner         string
	Name          string
	DefaultBranch string
	CloneURL      string
}

// NewPullRequest describes a PR to open after publication.
type NewPullRequest struct {
	Title string
	Head  string
	Base  string
	Body  string
}

// Client is the GitHub surface consumed by the router, notifier, and
// executor. Defined as an interface so tests can stub it.
type Client interface {
	GetRepository(ctx context.Context, owner, repo string) (*RepositoryInfo, error)
	ListLanguages(ctx context.Context, owner, repo string) (map[string]int, error)
	FileExists(ctx context.Context, owner, repo, path string) (bool, error)
	GetFileContent(ctx context.Context, owner, repo, path string) (string, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*model.PullRequestRef, error)
	IsOrgMember(ctx context.Context, org, user string) (bool, error)

	CreateIssueComment(ctx context.Context, owner, repo string, issueNumber int, body string) (int64, error)
	UpdateIssueComment(ctx context.Context, owner, repo string, commentID int64, body string) error
	CreateIssueCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error
	CreateIssueReaction(ctx context.Context, owner, repo string, issueNumber int, content string) error
	CreateReviewCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error

	CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (string, error)
}

type restClient struct {
	gh *github.Client
}

// New builds a Client authenticated with the given token.
func New(ctx context.Context, token string) Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, src)
	return &restClient{gh: github.NewClient(httpClient)}
}

// NewFromHTTPClient is used by tests pointing at a fake server.
func NewFromHTTPClient(httpClient *http.Client) Client {
	return &restClient{gh: github.NewClient(httpClient)}
}

func (c *restClient) GetRepository(ctx context.Context, owner, repo string) (*RepositoryInfo, error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("fetching repository %s/%s: %w", owner, repo, err)
	}
	return &RepositoryInfo{
		Owner:         owner,
		Name:          repo,
		DefaultBranch: r.GetDefaultBranch(),
		CloneURL:      r.GetCloneURL(),
	}, nil
}

func (c *restClient) ListLanguages(ctx context.Context, owner, repo string) (map[string]int, error) {
	langs, _, err := c.gh.Repositories.ListLanguages(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("listing languages for %s/%s: %w", owner, repo, err)
	}
	return langs, nil
}

func (c *restClient) FileExists(ctx context.Context, owner, repo, path string) (bool, error) {
	_, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("probing %s in %s/%s: %w", path, owner, repo, err)
	}
	return true, nil
}

func (c *restClient) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", fmt.Errorf("fetching %s from %s/%s: %w", path, owner, repo, err)
	}
	if file == nil {
		return "", nil
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return content, nil
}

func (c *restClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*model.PullRequestRef, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching pull request %s/%s#%d: %w", owner, repo, number, err)
	}
	return &model.PullRequestRef{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
		URL:     pr.GetHTMLURL(),
	}, nil
}

func (c *restClient) IsOrgMember(ctx context.Context, org, user string) (bool, error) {
	member, _, err := c.gh.Organizations.IsMember(ctx, org, user)
	if err != nil {
		return false, fmt.Errorf("checking membership of %s in %s: %w", user, org, err)
	}
	return member, nil
}

func (c *restClient) CreateIssueComment(ctx context.Context, owner, repo string, issueNumber int, body string) (int64, error) {
	comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, issueNumber, &github.IssueComment{Body: &body})
	if err != nil {
		return 0, fmt.Errorf("creating comment on %s/%s#%d: %w", owner, repo, issueNumber, err)
	}
	return comment.GetID(), nil
}

func (c *restClient) UpdateIssueComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	_, _, err := c.gh.Issues.EditComment(ctx, owner, repo, commentID, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("updating comment %d on %s/%s: %w", commentID, owner, repo, err)
	}
	return nil
}

func (c *restClient) CreateIssueCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	_, _, err := c.gh.Reactions.CreateIssueCommentReaction(ctx, owner, repo, commentID, content)
	if err != nil {
		return fmt.Errorf("reacting to comment %d on %s/%s: %w", commentID, owner, repo, err)
	}
	return nil
}

func (c *restClient) CreateIssueReaction(ctx context.Context, owner, repo string, issueNumber int, content string) error {
	_, _, err := c.gh.Reactions.CreateIssueReaction(ctx, owner, repo, issueNumber, content)
	if err != nil {
		return fmt.Errorf("reacting to issue %s/%s#%d: %w", owner, repo, issueNumber, err)
	}
	return nil
}

func (c *restClient) CreateReviewCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	_, _, err := c.gh.Reactions.CreatePullRequestCommentReaction(ctx, owner, repo, commentID, content)
	if err != nil {
		return fmt.Errorf("reacting to review comment %d on %s/%s: %w", commentID, owner, repo, err)
	}
	return nil
}

func (c *restClient) CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (string, error) {
	created, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: &pr.Title,
		Head:  &pr.Head,
		Base:  &pr.Base,
		Body:  &pr.Body,
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request on %s/%s: %w", owner, repo, err)
	}
	return created.GetHTMLURL(), nil
}
