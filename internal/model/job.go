package model

import (
	"fmt"
	"time"
)

// JobStatus tracks a job through its lifecycle. Transitions are strictly
// queued -> processing -> {completed | failed}; terminal states never leave.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// Mention is the recognized trigger plus command name and arguments embedded
// in a comment or issue body.
type Mention struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// ParsedCommand is a mention resolved against the command table.
type ParsedCommand struct {
	Name        string `json:"name"`
	Target      string `json:"target,omitempty"`
	Description string `json:"description"`
	RunTests    bool   `json:"run_tests"`
}

// PullRequestRef is the subset of PR metadata a job needs when the
// triggering comment lives on a pull request.
type PullRequestRef struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HeadRef string `json:"head_ref"`
	BaseRef string `json:"base_ref"`
	URL     string `json:"url"`
}

// Job is the unit of tracked work created per qualifying mention.
type Job struct {
	ID          string     `json:"id"`
	Repository  string     `json:"repository"` // owner/name
	IssueNumber int        `json:"issue_number"`
	CommentID   int64      `json:"comment_id,omitempty"`
	Mention     Mention    `json:"mention"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Author      string     `json:"author"`

	IsPR       bool `json:"is_pr"`
	IsIssue    bool `json:"is_issue"`
	IsPRReview bool `json:"is_pr_review"`

	PullRequest   *PullRequestRef `json:"pull_request,omitempty"`
	SlackThreadTS string          `json:"slack_thread_ts,omitempty"`

	// RunID is the execution identifier assigned when a worker picks the
	// job up, surfaced in the "running" status comment.
	RunID int64 `json:"run_id,omitempty"`

	Result *CommandResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// TransitionTo moves the job to the next lifecycle state, rejecting any edge
// the state machine does not define.
func (j *Job) TransitionTo(next JobStatus) error {
	for _, allowed := range validTransitions[j.Status] {
		if allowed == next {
			j.Status = next
			now := time.Now().UTC()
			switch next {
			case JobStatusProcessing:
				j.StartedAt = &now
			case JobStatusCompleted, JobStatusFailed:
				j.CompletedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("invalid job transition %s -> %s", j.Status, next)
}

// Duration reports wall time from start to completion, best effort.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Job IDs are deterministic from the triggering event so webhook redelivery
// maps onto the same identity and dedupes in the store.

func IssueCommentJobID(repo string, issueNumber int, commentID int64) string {
	return fmt.Sprintf("%s-%d-%d", repo, issueNumber, commentID)
}

func ReviewCommentJobID(repo string, prNumber int, commentID int64) string {
	return fmt.Sprintf("%s-pr-%d-%d", repo, prNumber, commentID)
}

func IssueOpenedJobID(repo string, issueNumber int) string {
	return fmt.Sprintf("%s-issue-%d", repo, issueNumber)
}

// CommandResult is produced by command dispatch and consumed by the
// feedback notifier.
type CommandResult struct {
	Success       bool     `json:"success"`
	Summary       string   `json:"summary"`
	Files         []string `json:"files"`
	ShouldComment bool     `json:"should_comment"`
	Analysis      string   `json:"analysis,omitempty"`
	PRURL         string   `json:"pr_url,omitempty"`
	Details       string   `json:"details,omitempty"`
}

// RepositoryContext is a read-mostly snapshot of the target repository,
// built once per job before the clone and never mutated afterward.
type RepositoryContext struct {
	Owner          string
	Repo           string
	DefaultBranch  string
	ClonePath      string
	Languages      []string
	PackageManager string
	Framework      string
	HasTests       bool
	HasCI          bool
}

func (rc *RepositoryContext) FullName() string {
	return rc.Owner + "/" + rc.Repo
}

// TaskContext owns the lifetime of a single isolated clone. The working
// directory belongs exclusively to the job that created it.
type TaskContext struct {
	Job              *Job
	Repository       *RepositoryContext
	WorkingDirectory string
	TempBranch       string
}
