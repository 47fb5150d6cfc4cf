package service_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mendhq/mend/internal/dispatch"
	"github.com/mendhq/mend/internal/mention"
	"github.com/mendhq/mend/internal/model"
	"github.com/mendhq/mend/internal/service"
	"github.com/mendhq/mend/internal/store"
)

func issueCommentPayload(action, body, author string, commentID int64, isPR bool) []byte {
	prField := ""
	if isPR {
		prField = `"pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/42"},`
	}
	return []byte(fmt.Sprintf(`{
		"action": %q,
		"issue": {"number": 42, %s "user": {"login": "someone"}},
		"comment": {"id": %d, "body": %q, "user": {"login": %q}, "html_url": "https://github.com/acme/widgets/issues/42#issuecomment-%d"},
		"repository": {"full_name": "acme/widgets"}
	}`, action, prField, commentID, body, author, commentID))
}

func reviewCommentPayload(action, body, author string, commentID int64) []byte {
	return []byte(fmt.Sprintf(`{
		"action": %q,
		"pull_request": {"number": 42, "title": "A change"},
		"comment": {"id": %d, "body": %q, "user": {"login": %q}, "html_url": "https://github.com/acme/widgets/pull/42#discussion_r%d"},
		"repository": {"full_name": "acme/widgets"}
	}`, action, commentID, body, author, commentID))
}

func issuesPayload(action, body, author string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": %q,
		"issue": {"number": 7, "body": %q, "user": {"login": %q}, "html_url": "https://github.com/acme/widgets/issues/7"},
		"repository": {"full_name": "acme/widgets"}
	}`, action, body, author))
}

var _ = Describe("EventRouter", func() {
	var (
		ctx      context.Context
		jobs     *store.MemoryStore
		notifier *mockNotifier
		pool     *mockDispatcher
		gh       *mockGitHub
	)

	newRouter := func(gate service.AccessValidator, limiter service.Limiter) *service.EventRouter {
		return service.NewEventRouter(
			mention.NewParser("mend"),
			gate,
			limiter,
			jobs,
			notifier,
			pool,
			gh,
			"mend",
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		jobs = store.NewMemoryStore()
		notifier = &mockNotifier{threadTS: "1724941000.123456"}
		pool = &mockDispatcher{}
		gh = &mockGitHub{}
	})

	Describe("issue comments", func() {
		It("creates and dispatches a job for a qualifying mention", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issue_comment", issueCommentPayload("created", "@mend fix: crash on null input", "alice", 9001, false))
			Expect(err).NotTo(HaveOccurred())

			Expect(pool.submitted).To(HaveLen(1))
			job := pool.submitted[0]
			Expect(job.ID).To(Equal("acme/widgets-42-9001"))
			Expect(job.Repository).To(Equal("acme/widgets"))
			Expect(job.Author).To(Equal("alice"))
			Expect(job.Mention.Command).To(Equal("fix"))
			Expect(job.Status).To(Equal(model.JobStatusQueued))
			Expect(job.SlackThreadTS).To(Equal("1724941000.123456"))

			Expect(notifier.acks).To(ConsistOf("acme/widgets-42-9001"))
			Expect(notifier.chatCalls).To(HaveLen(1))
			Expect(notifier.chatCalls[0].Command).To(Equal("fix"))

			stored, err := jobs.Get(ctx, job.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.JobStatusQueued))
		})

		It("ignores comments without the trigger", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issue_comment", issueCommentPayload("created", "looks good to me", "alice", 9002, false))
			Expect(err).NotTo(HaveOccurred())
			Expect(pool.submitted).To(BeEmpty())
			Expect(notifier.acks).To(BeEmpty())
		})

		It("ignores the bot's own comments", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issue_comment", issueCommentPayload("created", "@mend fix: everything", "mend", 9003, false))
			Expect(err).NotTo(HaveOccurred())
			Expect(pool.submitted).To(BeEmpty())
		})

		It("ignores non-created actions", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issue_comment", issueCommentPayload("edited", "@mend fix: the bug", "alice", 9004, false))
			Expect(err).NotTo(HaveOccurred())
			Expect(pool.submitted).To(BeEmpty())
		})

		It("replies with usage help when no command parses", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issue_comment", issueCommentPayload("created", "@mend", "alice", 9005, false))
			Expect(err).NotTo(HaveOccurred())
			Expect(notifier.usageHelp).To(Equal(1))
			Expect(pool.submitted).To(BeEmpty())
		})

		It("denies when the security gate rejects", func() {
			router := newRouter(denyGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issue_comment", issueCommentPayload("created", "@mend fix: the bug", "alice", 9006, false))
			Expect(err).NotTo(HaveOccurred())
			Expect(notifier.denials).To(HaveLen(1))
			Expect(notifier.denials[0]).To(ContainSubstring("Access denied"))
			Expect(pool.submitted).To(BeEmpty())
		})

		It("denies when the rate limit is exceeded", func() {
			router := newRouter(allowAllGate{}, throttleLimiter{})

			err := router.Route(ctx, "issue_comment", issueCommentPayload("created", "@mend fix: the bug", "alice", 9007, false))
			Expect(err).NotTo(HaveOccurred())
			Expect(notifier.denials).To(HaveLen(1))
			Expect(notifier.denials[0]).To(ContainSubstring("Rate limit"))
			Expect(pool.submitted).To(BeEmpty())
		})

		It("dedupes redelivered webhooks by job identity", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})
			payload := issueCommentPayload("created", "@mend fix: the bug", "alice", 9008, false)

			Expect(router.Route(ctx, "issue_comment", payload)).To(Succeed())
			Expect(router.Route(ctx, "issue_comment", payload)).To(Succeed())

			Expect(pool.submitted).To(HaveLen(1))
			Expect(notifier.acks).To(HaveLen(1))
		})

		It("fetches PR metadata for comments on pull requests", func() {
			fetched := false
			gh.getPullRequestFn = func(ctx context.Context, owner, repo string, number int) (*model.PullRequestRef, error) {
				fetched = true
				Expect(owner).To(Equal("acme"))
				Expect(repo).To(Equal("widgets"))
				Expect(number).To(Equal(42))
				return &model.PullRequestRef{Number: 42, HeadRef: "feature", BaseRef: "main"}, nil
			}
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issue_comment", issueCommentPayload("created", "@mend review", "alice", 9009, true))
			Expect(err).NotTo(HaveOccurred())
			Expect(fetched).To(BeTrue())
			Expect(pool.submitted).To(HaveLen(1))
			Expect(pool.submitted[0].IsPR).To(BeTrue())
			Expect(pool.submitted[0].PullRequest.HeadRef).To(Equal("feature"))
		})

		It("fails the job visibly when the queue is full", func() {
			pool.submitErr = dispatch.ErrQueueFull
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issue_comment", issueCommentPayload("created", "@mend fix: the bug", "alice", 9010, false))
			Expect(err).NotTo(HaveOccurred())

			Expect(notifier.failed).To(ConsistOf("acme/widgets-42-9010"))
			stored, err := jobs.Get(ctx, "acme/widgets-42-9010")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.JobStatusFailed))
			Expect(stored.Error).To(ContainSubstring("dispatch failed"))
		})
	})

	Describe("review comments", func() {
		It("creates a PR-review job with its own identity", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "pull_request_review_comment", reviewCommentPayload("created", "@mend fix: off-by-one here", "alice", 555))
			Expect(err).NotTo(HaveOccurred())

			Expect(pool.submitted).To(HaveLen(1))
			job := pool.submitted[0]
			Expect(job.ID).To(Equal("acme/widgets-pr-42-555"))
			Expect(job.IsPRReview).To(BeTrue())
			Expect(job.IsPR).To(BeTrue())
		})
	})

	Describe("issue bodies", func() {
		It("creates a job when a new issue body carries the mention", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issues", issuesPayload("opened", "Steps to reproduce...\n\n@mend fix: crash on empty config", "alice"))
			Expect(err).NotTo(HaveOccurred())

			Expect(pool.submitted).To(HaveLen(1))
			job := pool.submitted[0]
			Expect(job.ID).To(Equal("acme/widgets-issue-7"))
			Expect(job.IsIssue).To(BeTrue())
			Expect(job.CommentID).To(BeZero())
		})

		It("ignores issue edits", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})

			err := router.Route(ctx, "issues", issuesPayload("edited", "@mend fix: it", "alice"))
			Expect(err).NotTo(HaveOccurred())
			Expect(pool.submitted).To(BeEmpty())
		})
	})

	Describe("unsupported input", func() {
		It("ignores unsupported event types", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})
			Expect(router.Route(ctx, "push", []byte(`{}`))).To(Succeed())
			Expect(pool.submitted).To(BeEmpty())
		})

		It("returns an error for malformed payloads", func() {
			router := newRouter(allowAllGate{}, allowAllLimiter{})
			err := router.Route(ctx, "issue_comment", []byte(`{not json`))
			Expect(err).To(HaveOccurred())
		})
	})

	It("surfaces PR metadata fetch failures", func() {
		gh.getPullRequestFn = func(ctx context.Context, owner, repo string, number int) (*model.PullRequestRef, error) {
			return nil, errors.New("boom")
		}
		router := newRouter(allowAllGate{}, allowAllLimiter{})

		err := router.Route(ctx, "issue_comment", issueCommentPayload("created", "@mend review", "alice", 9011, true))
		Expect(err).To(HaveOccurred())
		Expect(pool.submitted).To(BeEmpty())
	})
})
