package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/mendhq/mend/internal/ghapi"
	"github.com/mendhq/mend/internal/model"
)

// lockfileManagers is ordered by lockfile resolution speed; the first match
// wins when a repository carries more than one.
var lockfileManagers = []struct {
	file    string
	manager string
}{
	{"bun.lockb", "bun"},
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"package-lock.json", "npm"},
	{"Cargo.lock", "cargo"},
	{"go.sum", "go"},
	{"poetry.lock", "poetry"},
	{"requirements.txt", "pip"},
	{"Gemfile.lock", "bundler"},
}

// knownFrameworks maps package.json dependency names to framework labels,
// checked in order so meta-frameworks win over their underlying library.
var knownFrameworks = []struct {
	dependency string
	framework  string
}{
	{"next", "nextjs"},
	{"nuxt", "nuxt"},
	{"@angular/core", "angular"},
	{"svelte", "svelte"},
	{"vue", "vue"},
	{"react", "react"},
	{"express", "express"},
	{"fastify", "fastify"},
	{"nestjs", "nestjs"},
}

var testMarkers = []string{
	"test", "tests", "__tests__", "spec",
}

var ciPaths = []string{
	".github/workflows",
	".gitlab-ci.yml",
	".circleci/config.yml",
	"Jenkinsfile",
}

// DiscoverContext builds the read-only repository snapshot driving command
// dispatch. All probing goes through the remote API before any clone exists,
// and missing files never fail the job.
func DiscoverContext(ctx context.Context, gh ghapi.Client, workDir, owner, repo string) (*model.RepositoryContext, error) {
	info, err := gh.GetRepository(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("discovering repository: %w", err)
	}

	rc := &model.RepositoryContext{
		Owner:         owner,
		Repo:          repo,
		DefaultBranch: info.DefaultBranch,
		ClonePath:     filepath.Join(workDir, fmt.Sprintf("mend-%s-%s-%d", owner, repo, time.Now().UnixNano())),
	}

	langs, err := gh.ListLanguages(ctx, owner, repo)
	if err != nil {
		slog.WarnContext(ctx, "language listing failed, continuing without", "error", err)
	} else {
		rc.Languages = sortedLanguages(langs)
	}

	for _, lm := range lockfileManagers {
		exists, err := gh.FileExists(ctx, owner, repo, lm.file)
		if err != nil {
			slog.DebugContext(ctx, "lockfile probe failed", "file", lm.file, "error", err)
			continue
		}
		if exists {
			rc.PackageManager = lm.manager
			break
		}
	}

	manifest, err := gh.GetFileContent(ctx, owner, repo, "package.json")
	if err != nil {
		slog.DebugContext(ctx, "package.json probe failed", "error", err)
	} else if manifest != "" {
		if rc.PackageManager == "" {
			rc.PackageManager = "npm"
		}
		rc.Framework = detectFramework(manifest)
		if hasTestScript(manifest) {
			rc.HasTests = true
		}
	}

	if !rc.HasTests {
		for _, marker := range testMarkers {
			exists, err := gh.FileExists(ctx, owner, repo, marker)
			if err != nil {
				continue
			}
			if exists {
				rc.HasTests = true
				break
			}
		}
	}

	for _, path := range ciPaths {
		exists, err := gh.FileExists(ctx, owner, repo, path)
		if err != nil {
			continue
		}
		if exists {
			rc.HasCI = true
			break
		}
	}

	return rc, nil
}

func sortedLanguages(langs map[string]int) []string {
	names := make([]string, 0, len(langs))
	for name := range langs {
		names = append(names, name)
	}
	// Dominant language first.
	sort.Slice(names, func(i, j int) bool {
		if langs[names[i]] != langs[names[j]] {
			return langs[names[i]] > langs[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

type packageManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

func detectFramework(manifestJSON string) string {
	var manifest packageManifest
	if err := json.Unmarshal([]byte(manifestJSON), &manifest); err != nil {
		return ""
	}
	for _, kf := range knownFrameworks {
		if _, ok := manifest.Dependencies[kf.dependency]; ok {
			return kf.framework
		}
		if _, ok := manifest.DevDependencies[kf.dependency]; ok {
			return kf.framework
		}
	}
	return ""
}

func hasTestScript(manifestJSON string) bool {
	var manifest packageManifest
	if err := json.Unmarshal([]byte(manifestJSON), &manifest); err != nil {
		return false
	}
	_, ok := manifest.Scripts["test"]
	return ok
}
