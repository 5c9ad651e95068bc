package phasegraph

import (
	"log/slog"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// Standard phase identifiers
const (
	Init    = "init"
	Lint    = "lint"
	Build   = "build"
	Test    = "test"
	Run     = "run"
	Release = "release"
	Publish = "publish"

	CodeLint  = "code-lint"
	CodeBuild = "code-build"
	CodeTest  = "code-test"

	PreCommit = "pre-commit"
	CommitMsg = "commit-msg"
	PrePush   = "pre-push"
)

// Defaults returns the built-in phase families in registration order
func Defaults() []domain.Phase {
	return []domain.Phase{
		domain.NewPhase(Init, "Prepare the workspace"),
		domain.NewPhase(Lint, "Check sources for style and correctness issues", Init),
		domain.NewPhase(Build, "Compile and package the project", Lint),
		domain.NewPhase(Test, "Run the test suites", Build),
		domain.NewPhase(Run, "Run the built project locally", Build),
		domain.NewPhase(Release, "Cut a release", Test),
		domain.NewPhase(Publish, "Publish released artifacts", Release),

		domain.NewPhase(CodeLint, "Lint source code assets").Specializing(Lint).InFamily(domain.FamilyCode),
		domain.NewPhase(CodeBuild, "Build source code assets").Specializing(Build).InFamily(domain.FamilyCode),
		domain.NewPhase(CodeTest, "Test source code assets").Specializing(Test).InFamily(domain.FamilyCode),

		domain.NewPhase(PreCommit, "Git pre-commit hook").InFamily(domain.FamilyHook),
		domain.NewPhase(CommitMsg, "Git commit-msg hook").InFamily(domain.FamilyHook),
		domain.NewPhase(PrePush, "Git pre-push hook", Test).InFamily(domain.FamilyHook),
	}
}

// NewDefault creates a graph populated with Defaults
func NewDefault(logger *slog.Logger) *Graph {
	g := New(logger)
	for _, p := range Defaults() {
		// Defaults are unique by construction
		_ = g.Register(p)
	}
	return g
}
