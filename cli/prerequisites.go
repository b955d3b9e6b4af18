package cli

import (
	"context"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"

	"github.com/zhubert/taskspace/exec"
)

// Prerequisite is an external tool taskspace shells out to.
type Prerequisite struct {
	Name        string
	Required    bool
	Description string
	InstallURL  string
	VersionArgs []string
}

// DefaultPrerequisites lists the tools taskspace uses. git creates and
// removes worktrees; gh only supplies a token when GITHUB_TOKEN is unset.
func DefaultPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        "git",
			Required:    true,
			Description: "Git version control",
			InstallURL:  "https://git-scm.com/downloads",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "gh",
			Required:    false,
			Description: "GitHub CLI (optional, token source for status sync)",
			InstallURL:  "https://cli.github.com",
			VersionArgs: []string{"--version"},
		},
	}
}

// CheckResult is the outcome of checking one prerequisite.
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string
	Version      string
	Error        error
}

// Checker locates tools on PATH and asks them for their version.
type Checker struct {
	lookPath func(string) (string, error)
	executor exec.CommandExecutor
	timeout  time.Duration
}

// NewChecker returns a Checker using the real PATH. A nil executor runs
// commands for real.
func NewChecker(executor exec.CommandExecutor) *Checker {
	if executor == nil {
		executor = exec.NewRealExecutor()
	}
	return &Checker{lookPath: osexec.LookPath, executor: executor, timeout: 5 * time.Second}
}

// Check verifies that prereq is on PATH and records its version.
func (c *Checker) Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := c.lookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}
	result.Found = true
	result.Path = path

	if len(prereq.VersionArgs) > 0 {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if out, err := c.executor.Output(ctx, "", prereq.Name, prereq.VersionArgs...); err == nil {
			result.Version = firstLine(string(out))
		}
	}
	return result
}

// CheckAll checks every prerequisite in order.
func (c *Checker) CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, p := range prereqs {
		results[i] = c.Check(ctx, p)
	}
	return results
}

// MissingRequired returns an error naming every required tool that was not
// found, or nil.
func MissingRequired(results []CheckResult) error {
	var missing []string
	for _, r := range results {
		if r.Prerequisite.Required && !r.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				r.Prerequisite.Name, r.Prerequisite.Description, r.Prerequisite.InstallURL))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required tools:\n%s", strings.Join(missing, "\n"))
}

// FormatCheckResults renders results one per line using the glyphs of g.
func FormatCheckResults(results []CheckResult, g glyphs) string {
	var sb strings.Builder
	sb.WriteString("Tools:\n")
	for _, r := range results {
		mark := g.ok
		switch {
		case !r.Found && r.Prerequisite.Required:
			mark = g.fail
		case !r.Found:
			mark = g.skip
		}

		fmt.Fprintf(&sb, "  %s %s", mark, r.Prerequisite.Name)
		switch {
		case r.Found && r.Version != "":
			fmt.Fprintf(&sb, " (%s)", r.Version)
		case !r.Found && r.Prerequisite.Required:
			sb.WriteString(" [REQUIRED]")
		case !r.Found:
			sb.WriteString(" [optional]")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	line = strings.TrimSpace(line)
	if len(line) > 100 {
		line = line[:100] + "..."
	}
	return line
}
