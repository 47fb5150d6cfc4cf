// Package notify posts reactions and status comments back to the origin
// thread, and optionally relays a summary to Slack. Notification failures are
// logged and swallowed; they never fail a job.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mendhq/mend/internal/ghapi"
	"github.com/mendhq/mend/internal/model"
)

// ChatNotifier relays a mention summary to a chat channel. Nil when no chat
// service is configured; absence is a compile-time-visible state rather than
// a hidden runtime branch.
type ChatNotifier interface {
	NotifyMention(ctx context.Context, ev MentionEvent) (threadTS string, err error)
}

// MentionEvent is the summary forwarded to chat on job creation.
type MentionEvent struct {
	Repository  string
	IssueNumber int
	CommentURL  string
	Author      string
	Command     string
}

type Notifier struct {
	gh   ghapi.Client
	chat ChatNotifier // nil when unconfigured

	mu             sync.Mutex
	statusComments map[string]int64 // job ID -> status comment ID
}

func New(gh ghapi.Client, chat ChatNotifier) *Notifier {
	return &Notifier{
		gh:             gh,
		chat:           chat,
		statusComments: make(map[string]int64),
	}
}

// Ack adds the "+1" acknowledgment reaction before async processing starts,
// giving the requester synchronous confirmation of acceptance.
func (n *Notifier) Ack(ctx context.Context, job *model.Job) {
	n.react(ctx, job, ghapi.ReactionThumbsUp)
}

// Deny posts a user-visible rejection comment plus a "-1" reaction. Used for
// access-denied and rate-limited outcomes, before any job exists in the store.
func (n *Notifier) Deny(ctx context.Context, job *model.Job, reason string) {
	n.comment(ctx, job, fmt.Sprintf("🚫 %s", reason))
	n.react(ctx, job, ghapi.ReactionThumbsDown)
}

// UsageHelp replies with the command reference when the trigger is present
// but nothing parses.
func (n *Notifier) UsageHelp(ctx context.Context, job *model.Job, help string) {
	n.comment(ctx, job, help)
}

// Started posts the initial status comment and the "eyes" reaction once the
// job enters processing.
func (n *Notifier) Started(ctx context.Context, job *model.Job) {
	n.react(ctx, job, ghapi.ReactionEyes)

	body := fmt.Sprintf("⏳ **mend** is working on `%s` for @%s...", job.Mention.Command, job.Author)
	owner, repo, ok := splitRepo(job.Repository)
	if !ok {
		return
	}
	commentID, err := n.gh.CreateIssueComment(ctx, owner, repo, job.IssueNumber, body)
	if err != nil {
		slog.WarnContext(ctx, "failed to post status comment", "error", err, "job_id", job.ID)
		return
	}
	n.mu.Lock()
	n.statusComments[job.ID] = commentID
	n.mu.Unlock()
}

// Running updates the status comment once an execution identifier exists.
func (n *Notifier) Running(ctx context.Context, job *model.Job) {
	body := fmt.Sprintf("⚙️ **mend** is running `%s` (run `%d`)...", job.Mention.Command, job.RunID)
	n.updateStatus(ctx, job, body)
}

// Succeeded posts the result comment and the "rocket" reaction.
func (n *Notifier) Succeeded(ctx context.Context, job *model.Job) {
	n.react(ctx, job, ghapi.ReactionRocket)

	result := job.Result
	if result == nil || !result.ShouldComment {
		n.updateStatus(ctx, job, fmt.Sprintf("✅ **mend** finished `%s`.", job.Mention.Command))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ **mend** finished `%s`\n\n%s\n", job.Mention.Command, result.Summary)
	if result.PRURL != "" {
		fmt.Fprintf(&b, "\n**Pull request:** %s\n", result.PRURL)
	}
	if len(result.Files) > 0 {
		b.WriteString("\n**Changed files:**\n")
		for _, f := range result.Files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
	}
	if result.Analysis != "" {
		fmt.Fprintf(&b, "\n%s\n", result.Analysis)
	}
	if d := job.Duration(); d > 0 {
		fmt.Fprintf(&b, "\n_Completed in %s._", d.Round(time.Second))
	}

	n.updateStatus(ctx, job, b.String())
}

// Failed posts the error comment and the "confused" reaction. Duration
// metadata is best effort.
func (n *Notifier) Failed(ctx context.Context, job *model.Job) {
	n.react(ctx, job, ghapi.ReactionConfused)

	var b strings.Builder
	fmt.Fprintf(&b, "❌ **mend** could not complete `%s`\n\n```\n%s\n```\n", job.Mention.Command, job.Error)
	if d := job.Duration(); d > 0 {
		fmt.Fprintf(&b, "\n_Failed after %s._", d.Round(time.Second))
	}

	n.updateStatus(ctx, job, b.String())
}

// NotifyChat forwards the mention summary to the configured chat service,
// returning the thread identifier. A nil chat notifier or a chat failure
// yields an empty thread and nothing else.
func (n *Notifier) NotifyChat(ctx context.Context, ev MentionEvent) string {
	if n.chat == nil {
		return ""
	}
	threadTS, err := n.chat.NotifyMention(ctx, ev)
	if err != nil {
		slog.WarnContext(ctx, "chat notification failed", "error", err, "repository", ev.Repository)
		return ""
	}
	return threadTS
}

func (n *Notifier) updateStatus(ctx context.Context, job *model.Job, body string) {
	owner, repo, ok := splitRepo(job.Repository)
	if !ok {
		return
	}

	n.mu.Lock()
	commentID, tracked := n.statusComments[job.ID]
	n.mu.Unlock()

	if tracked {
		if err := n.gh.UpdateIssueComment(ctx, owner, repo, commentID, body); err != nil {
			slog.WarnContext(ctx, "failed to update status comment", "error", err, "job_id", job.ID)
		}
		return
	}

	commentID, err := n.gh.CreateIssueComment(ctx, owner, repo, job.IssueNumber, body)
	if err != nil {
		slog.WarnContext(ctx, "failed to post status comment", "error", err, "job_id", job.ID)
		return
	}
	n.mu.Lock()
	n.statusComments[job.ID] = commentID
	n.mu.Unlock()
}

func (n *Notifier) comment(ctx context.Context, job *model.Job, body string) {
	owner, repo, ok := splitRepo(job.Repository)
	if !ok {
		return
	}
	if _, err := n.gh.CreateIssueComment(ctx, owner, repo, job.IssueNumber, body); err != nil {
		slog.WarnContext(ctx, "failed to post comment", "error", err, "job_id", job.ID)
	}
}

// react routes to the correct reactions endpoint for the originating
// surface: PR review comments, plain issue/PR comments, and issue bodies all
// use different API routes.
func (n *Notifier) react(ctx context.Context, job *model.Job, content string) {
	owner, repo, ok := splitRepo(job.Repository)
	if !ok {
		return
	}

	var err error
	switch {
	case job.IsPRReview:
		err = n.gh.CreateReviewCommentReaction(ctx, owner, repo, job.CommentID, content)
	case job.IsIssue && job.CommentID == 0:
		err = n.gh.CreateIssueReaction(ctx, owner, repo, job.IssueNumber, content)
	default:
		err = n.gh.CreateIssueCommentReaction(ctx, owner, repo, job.CommentID, content)
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to add reaction", "error", err, "job_id", job.ID, "content", content)
	}
}

func splitRepo(full string) (owner, repo string, ok bool) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
