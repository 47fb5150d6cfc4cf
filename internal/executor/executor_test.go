package executor_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mendhq/mend/internal/executor"
	"github.com/mendhq/mend/internal/mention"
	"github.com/mendhq/mend/internal/model"
	"github.com/mendhq/mend/internal/store"
)

var _ = Describe("Executor", func() {
	var (
		ctx      context.Context
		gh       *fakeGitHub
		runner   *scriptedRunner
		jobs     *store.MemoryStore
		notifier *recordingNotifier
		exec     *executor.Executor
	)

	newJob := func(command string, args ...string) *model.Job {
		return &model.Job{
			ID:          "acme/widgets-42-9001",
			Repository:  "acme/widgets",
			IssueNumber: 42,
			CommentID:   9001,
			Author:      "alice",
			Status:      model.JobStatusQueued,
			CreatedAt:   time.Now().UTC(),
			Mention:     model.Mention{Command: command, Args: args},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		gh = newFakeGitHub()
		runner = &scriptedRunner{
			agentOutput: "Modified: internal/auth/login.go\nCreated: internal/auth/login_test.go\n",
			porcelain:   " M internal/auth/login.go\n?? internal/auth/login_test.go\n",
		}
		jobs = store.NewMemoryStore()
		notifier = &recordingNotifier{}
		exec = executor.New(gh, jobs, notifier, mention.NewParser("mend"), runner, executor.Config{
			AgentBinary:      "mend-agent",
			WorkDir:          GinkgoT().TempDir(),
			CloneTimeout:     time.Minute,
			AgentTimeout:     time.Minute,
			TestTimeout:      time.Minute,
			PushTimeout:      time.Minute,
			TestsAreAdvisory: true,
		}, "gh-token")
	})

	It("drives a mutating command through clone, agent, and publication", func() {
		job := newJob("fix", "crash", "on", "null", "input")
		exec.Process(ctx, job)

		Expect(job.Status).To(Equal(model.JobStatusCompleted))
		Expect(job.RunID).NotTo(BeZero())
		Expect(job.Result).NotTo(BeNil())
		Expect(job.Result.Success).To(BeTrue())
		Expect(job.Result.Files).To(ConsistOf("internal/auth/login.go", "internal/auth/login_test.go"))
		Expect(job.Result.PRURL).To(Equal("https://github.com/acme/widgets/pull/101"))

		Expect(runner.invocations("git", "clone")).To(HaveLen(1))
		Expect(runner.invocations("git", "checkout", "-b")).To(HaveLen(1))
		Expect(runner.invocations("mend-agent")).To(HaveLen(1))
		Expect(runner.invocations("git", "push")).To(HaveLen(1))

		Expect(gh.createdPRs).To(HaveLen(1))
		Expect(gh.createdPRs[0].Base).To(Equal("main"))
		Expect(gh.createdPRs[0].Title).To(ContainSubstring("fix"))

		Expect(notifier.started).To(ConsistOf(job.ID))
		Expect(notifier.running).To(ConsistOf(job.ID))
		Expect(notifier.succeeded).To(ConsistOf(job.ID))
		Expect(notifier.failed).To(BeEmpty())

		stored, err := jobs.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(model.JobStatusCompleted))
	})

	It("never pushes the clone token into error messages", func() {
		runner.gitErr = errors.New("exit status 128")
		job := newJob("fix", "it")
		exec.Process(ctx, job)

		Expect(job.Status).To(Equal(model.JobStatusFailed))
		Expect(job.Error).NotTo(ContainSubstring("gh-token"))
	})

	It("keeps read-only commands from publishing anything", func() {
		runner.agentOutput = "The auth flow has a race in session renewal.\n"
		job := newJob("analyze", "the", "auth", "flow")
		exec.Process(ctx, job)

		Expect(job.Status).To(Equal(model.JobStatusCompleted))
		Expect(job.Result.Analysis).To(ContainSubstring("race in session renewal"))
		Expect(job.Result.Files).To(BeEmpty())
		Expect(job.Result.PRURL).To(BeEmpty())

		Expect(runner.invocations("git", "push")).To(BeEmpty())
		Expect(gh.createdPRs).To(BeEmpty())
	})

	It("completes without a pull request when the agent changed nothing", func() {
		runner.agentOutput = "Nothing to do.\n"
		runner.porcelain = ""
		job := newJob("fix", "phantom", "bug")
		exec.Process(ctx, job)

		Expect(job.Status).To(Equal(model.JobStatusCompleted))
		Expect(job.Result.PRURL).To(BeEmpty())
		Expect(job.Result.Summary).To(ContainSubstring("no changes"))
		Expect(gh.createdPRs).To(BeEmpty())
	})

	It("fails the job when the agent command fails", func() {
		runner.agentErr = errors.New("exit status 2")
		job := newJob("fix", "the", "bug")
		exec.Process(ctx, job)

		Expect(job.Status).To(Equal(model.JobStatusFailed))
		Expect(job.Error).To(ContainSubstring("agent command failed"))
		Expect(notifier.failed).To(ConsistOf(job.ID))
		Expect(notifier.succeeded).To(BeEmpty())

		stored, err := jobs.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(model.JobStatusFailed))
	})

	It("runs the project's tests when requested and publishes despite failures", func() {
		gh.files["go.sum"] = "present"
		runner.testErr = errors.New("exit status 1")
		job := newJob("fix", "the", "bug", "--with-tests")
		exec.Process(ctx, job)

		// Advisory mode: the failed test run is reported, not fatal.
		Expect(job.Status).To(Equal(model.JobStatusCompleted))
		Expect(job.Result.Details).To(ContainSubstring("Tests failed"))
		Expect(runner.invocations("go", "test")).To(HaveLen(1))
		Expect(gh.createdPRs).To(HaveLen(1))
	})

	It("gates publication on tests when advisory mode is off", func() {
		strict := executor.New(gh, jobs, notifier, mention.NewParser("mend"), runner, executor.Config{
			AgentBinary:  "mend-agent",
			WorkDir:      GinkgoT().TempDir(),
			CloneTimeout: time.Minute,
			AgentTimeout: time.Minute,
			TestTimeout:  time.Minute,
			PushTimeout:  time.Minute,
		}, "gh-token")

		gh.files["go.sum"] = "present"
		runner.testErr = errors.New("exit status 1")
		job := newJob("fix", "the", "bug", "--with-tests")
		strict.Process(ctx, job)

		Expect(job.Status).To(Equal(model.JobStatusFailed))
		Expect(job.Error).To(ContainSubstring("tests failed"))
		Expect(gh.createdPRs).To(BeEmpty())
	})

	It("fails cleanly when repository discovery fails", func() {
		gh.getRepositoryErr = errors.New("404 not found")
		job := newJob("fix", "it")
		exec.Process(ctx, job)

		Expect(job.Status).To(Equal(model.JobStatusFailed))
		Expect(notifier.failed).To(ConsistOf(job.ID))
	})

	It("refuses to run a job that is not queued", func() {
		job := newJob("fix", "it")
		job.Status = model.JobStatusCompleted
		exec.Process(ctx, job)

		Expect(job.Status).To(Equal(model.JobStatusCompleted))
		Expect(notifier.started).To(BeEmpty())
	})
})
