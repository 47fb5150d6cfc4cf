package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v58/github"

	"github.com/mendhq/mend/common/logger"
	"github.com/mendhq/mend/internal/model"
	"github.com/mendhq/mend/internal/notify"
	"github.com/mendhq/mend/internal/store"
)

// MentionParser is the command-language collaborator contract.
type MentionParser interface {
	HasMarker(text string) bool
	Extract(text string) *model.Mention
	ParseCommand(m *model.Mention) *model.ParsedCommand
	UsageHelp() string
}

// AccessValidator gates repository and author access.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, repo, author string) bool
}

// Limiter enforces the per-author quota.
type Limiter interface {
	Allow(ctx context.Context, author string) bool
}

// FeedbackNotifier is the slice of the notifier the router needs.
type FeedbackNotifier interface {
	Ack(ctx context.Context, job *model.Job)
	Deny(ctx context.Context, job *model.Job, reason string)
	UsageHelp(ctx context.Context, job *model.Job, help string)
	NotifyChat(ctx context.Context, ev notify.MentionEvent) string
	Failed(ctx context.Context, job *model.Job)
}

// Dispatcher hands accepted jobs to the worker pool.
type Dispatcher interface {
	Submit(job *model.Job) error
}

// PullRequestFetcher loads full PR metadata for jobs originating on a PR.
type PullRequestFetcher interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*model.PullRequestRef, error)
}

// EventRouter dispatches verified webhook payloads to handlers keyed by
// (eventType, action), creating jobs for qualifying mentions. Everything up
// to the acknowledgment reaction happens synchronously; execution is handed
// to the dispatcher and not awaited.
type EventRouter struct {
	parser   MentionParser
	gate     AccessValidator
	limiter  Limiter
	jobs     store.JobStore
	notifier FeedbackNotifier
	pool     Dispatcher
	prs      PullRequestFetcher
	botLogin string
}

func NewEventRouter(
	parser MentionParser,
	gate AccessValidator,
	limiter Limiter,
	jobs store.JobStore,
	notifier FeedbackNotifier,
	pool Dispatcher,
	prs PullRequestFetcher,
	botLogin string,
) *EventRouter {
	return &EventRouter{
		parser:   parser,
		gate:     gate,
		limiter:  limiter,
		jobs:     jobs,
		notifier: notifier,
		pool:     pool,
		prs:      prs,
		botLogin: botLogin,
	}
}

// Route handles one verified webhook delivery. A nil return means the event
// was accepted or deliberately ignored; an error means synchronous processing
// failed before acceptance.
func (r *EventRouter) Route(ctx context.Context, eventType string, payload []byte) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventType: logger.Ptr(eventType),
		Component: "mend.router",
	})

	switch eventType {
	case "issue_comment":
		var ev github.IssueCommentEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decoding issue_comment payload: %w", err)
		}
		return r.handleIssueComment(ctx, &ev)
	case "pull_request_review_comment":
		var ev github.PullRequestReviewCommentEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decoding review comment payload: %w", err)
		}
		return r.handleReviewComment(ctx, &ev)
	case "issues":
		var ev github.IssuesEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decoding issues payload: %w", err)
		}
		return r.handleIssueOpened(ctx, &ev)
	default:
		slog.DebugContext(ctx, "ignoring unsupported event type")
		return nil
	}
}

func (r *EventRouter) handleIssueComment(ctx context.Context, ev *github.IssueCommentEvent) error {
	if ev.GetAction() != "created" {
		slog.DebugContext(ctx, "ignoring issue_comment action", "action", ev.GetAction())
		return nil
	}

	body := ev.GetComment().GetBody()
	author := ev.GetComment().GetUser().GetLogin()
	repo := ev.GetRepo().GetFullName()
	issueNumber := ev.GetIssue().GetNumber()
	commentID := ev.GetComment().GetID()

	job := &model.Job{
		ID:          model.IssueCommentJobID(repo, issueNumber, commentID),
		Repository:  repo,
		IssueNumber: issueNumber,
		CommentID:   commentID,
		Author:      author,
		IsPR:        ev.GetIssue().IsPullRequest(),
	}

	return r.routeMention(ctx, job, body, ev.GetComment().GetHTMLURL())
}

func (r *EventRouter) handleReviewComment(ctx context.Context, ev *github.PullRequestReviewCommentEvent) error {
	if ev.GetAction() != "created" {
		slog.DebugContext(ctx, "ignoring review comment action", "action", ev.GetAction())
		return nil
	}

	body := ev.GetComment().GetBody()
	author := ev.GetComment().GetUser().GetLogin()
	repo := ev.GetRepo().GetFullName()
	prNumber := ev.GetPullRequest().GetNumber()
	commentID := ev.GetComment().GetID()

	job := &model.Job{
		ID:          model.ReviewCommentJobID(repo, prNumber, commentID),
		Repository:  repo,
		IssueNumber: prNumber,
		CommentID:   commentID,
		Author:      author,
		IsPR:        true,
		IsPRReview:  true,
	}

	return r.routeMention(ctx, job, body, ev.GetComment().GetHTMLURL())
}

func (r *EventRouter) handleIssueOpened(ctx context.Context, ev *github.IssuesEvent) error {
	if ev.GetAction() != "opened" {
		slog.DebugContext(ctx, "ignoring issues action", "action", ev.GetAction())
		return nil
	}

	// The mention lives in the issue body itself, not a comment.
	body := ev.GetIssue().GetBody()
	author := ev.GetIssue().GetUser().GetLogin()
	repo := ev.GetRepo().GetFullName()
	issueNumber := ev.GetIssue().GetNumber()

	job := &model.Job{
		ID:          model.IssueOpenedJobID(repo, issueNumber),
		Repository:  repo,
		IssueNumber: issueNumber,
		Author:      author,
		IsIssue:     true,
	}

	return r.routeMention(ctx, job, body, ev.GetIssue().GetHTMLURL())
}

func (r *EventRouter) routeMention(ctx context.Context, job *model.Job, body, commentURL string) error {
	if !r.parser.HasMarker(body) {
		return nil
	}
	if job.Author == r.botLogin {
		// Never react to our own comments.
		return nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:      logger.Ptr(job.ID),
		Repository: logger.Ptr(job.Repository),
		Author:     logger.Ptr(job.Author),
	})

	mention := r.parser.Extract(body)
	cmd := r.parser.ParseCommand(mention)
	if cmd == nil {
		slog.InfoContext(ctx, "mention present but no command parsed, replying with usage")
		r.notifier.UsageHelp(ctx, job, r.parser.UsageHelp())
		return nil
	}
	job.Mention = *mention

	if !r.gate.ValidateAccess(ctx, job.Repository, job.Author) {
		r.notifier.Deny(ctx, job, fmt.Sprintf("Access denied: `%s` is not permitted to run commands on `%s`.", job.Author, job.Repository))
		return nil
	}

	if !r.limiter.Allow(ctx, job.Author) {
		r.notifier.Deny(ctx, job, fmt.Sprintf("Rate limit exceeded for `%s`. Try again later.", job.Author))
		return nil
	}

	if job.IsPR {
		pr, err := r.prs.GetPullRequest(ctx, ownerOf(job.Repository), nameOf(job.Repository), job.IssueNumber)
		if err != nil {
			return fmt.Errorf("fetching pull request metadata: %w", err)
		}
		job.PullRequest = pr
	}

	job.Status = model.JobStatusQueued
	job.CreatedAt = nowUTC()

	if existing, err := r.jobs.Get(ctx, job.ID); err == nil && existing != nil {
		slog.InfoContext(ctx, "duplicate delivery for existing job, ignoring", "status", existing.Status)
		return nil
	}

	r.notifier.Ack(ctx, job)

	job.SlackThreadTS = r.notifier.NotifyChat(ctx, notify.MentionEvent{
		Repository:  job.Repository,
		IssueNumber: job.IssueNumber,
		CommentURL:  commentURL,
		Author:      job.Author,
		Command:     job.Mention.Command,
	})

	if err := r.jobs.Put(ctx, job); err != nil {
		return fmt.Errorf("registering job: %w", err)
	}

	if err := r.pool.Submit(job); err != nil {
		// A full queue is an execution failure the requester must see;
		// the bounded pool must not silently drop work.
		slog.WarnContext(ctx, "dispatch failed", "error", err)
		_ = job.TransitionTo(model.JobStatusProcessing)
		_ = job.TransitionTo(model.JobStatusFailed)
		job.Error = fmt.Sprintf("dispatch failed: %v", err)
		if putErr := r.jobs.Put(ctx, job); putErr != nil {
			slog.ErrorContext(ctx, "failed to persist dispatch failure", "error", putErr)
		}
		r.notifier.Failed(ctx, job)
		return nil
	}

	slog.InfoContext(ctx, "job accepted", "command", job.Mention.Command)
	return nil
}
