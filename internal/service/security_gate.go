package service

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/mendhq/mend/internal/ghapi"
)

// SecurityGate enforces repository allow-listing and the optional
// organization-membership requirement.
type SecurityGate struct {
	allowedRepos []string
	requireOrg   bool
	gh           ghapi.Client
}

func NewSecurityGate(allowedRepos []string, requireOrg bool, gh ghapi.Client) *SecurityGate {
	return &SecurityGate{
		allowedRepos: allowedRepos,
		requireOrg:   requireOrg,
		gh:           gh,
	}
}

// ValidateAccess reports whether author may run commands against repo.
// An empty allow-list allows every repository (fail-open by configuration).
// The org-membership lookup fails closed: an API error counts as "not a
// member".
func (g *SecurityGate) ValidateAccess(ctx context.Context, repo, author string) bool {
	if !g.repoAllowed(repo) {
		slog.InfoContext(ctx, "repository not allow-listed", "repository", repo)
		return false
	}

	if g.requireOrg {
		org, _, ok := strings.Cut(repo, "/")
		if !ok {
			return false
		}
		member, err := g.gh.IsOrgMember(ctx, org, author)
		if err != nil {
			slog.WarnContext(ctx, "org membership lookup failed, denying",
				"error", err, "org", org, "author", author)
			return false
		}
		if !member {
			slog.InfoContext(ctx, "author not an org member", "org", org, "author", author)
			return false
		}
	}

	return true
}

func (g *SecurityGate) repoAllowed(repo string) bool {
	if len(g.allowedRepos) == 0 {
		return true
	}
	for _, pattern := range g.allowedRepos {
		if MatchRepoPattern(pattern, repo) {
			return true
		}
	}
	return false
}

// MatchRepoPattern matches owner/name against an exact or glob-style
// pattern. The wildcard does not cross the owner/name separator, so
// "acme/*" matches "acme/widgets" but never "other/widgets".
func MatchRepoPattern(pattern, repo string) bool {
	matched, err := path.Match(pattern, repo)
	return err == nil && matched
}
