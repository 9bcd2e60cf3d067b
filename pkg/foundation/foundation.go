// Package foundation implements the Foundation Verifier: the gate every
// execution attempt must clear before EXECUTOR transitions a workflow from
// PENDING to RUNNING. It asserts the repository's test suite is green and
// that no registered constitutional rule is violated, fails fast on either,
// and never mutates repository state itself.
package foundation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/trinity-os/trinity/internal/obslog"
)

// TestStatus reports the outcome of the full test-suite run.
type TestStatus string

const (
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestTimeout TestStatus = "timeout"
)

// FoundationHealth is the result of one verify() call.
type FoundationHealth struct {
	IsHealthy      bool
	Branch         string
	TestStatus     TestStatus
	ViolationCount int
	ErrorMessage   string
	CheckedAt      time.Time
}

// BrokenFoundationError is returned by Verify when IsHealthy is false.
// EXECUTOR must abort the workflow and publish telemetry.foundation_failed
// on receiving it rather than attempt the requested transition.
type BrokenFoundationError struct {
	Health FoundationHealth
}

func (e *BrokenFoundationError) Error() string {
	return fmt.Sprintf("foundation: broken (tests=%s violations=%d): %s",
		e.Health.TestStatus, e.Health.ViolationCount, e.Health.ErrorMessage)
}

// Verifier runs the full test suite and the constitutional rule scan
// against a repository, caching the result by HEAD commit for a TTL so a
// burst of accept() calls in one orchestration cycle doesn't re-run the
// suite redundantly.
type Verifier struct {
	repoDir     string
	testCmd     []string
	testTimeout time.Duration
	cacheTTL    time.Duration
	rules       []ViolationRule

	mu          sync.Mutex
	cachedHead  string
	cachedAt    time.Time
	cachedValue FoundationHealth
}

// Option configures a Verifier at construction time.
type Option func(*Verifier)

// WithTestCommand overrides the default `go test -failfast ./...`. Tests use this to
// substitute a synthetic command so verification logic can be exercised
// without a real module build.
func WithTestCommand(cmd []string) Option {
	return func(v *Verifier) { v.testCmd = cmd }
}

// WithCacheTTL overrides the default cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(v *Verifier) { v.cacheTTL = ttl }
}

// WithRules replaces the default rule set with rules.
func WithRules(rules ...ViolationRule) Option {
	return func(v *Verifier) { v.rules = rules }
}

// AddRule appends a rule to whatever set is already registered, mirroring
// the teacher's explicit-registration idiom: new Article-II rules are
// added here, never by branching inside Verify.
func AddRule(rule ViolationRule) Option {
	return func(v *Verifier) { v.rules = append(v.rules, rule) }
}

// New returns a Verifier for the repository rooted at repoDir.
func New(repoDir string, testTimeout time.Duration, opts ...Option) *Verifier {
	v := &Verifier{
		repoDir:     repoDir,
		testCmd:     []string{"go", "test", "-failfast", "./..."},
		testTimeout: testTimeout,
		cacheTTL:    30 * time.Second,
		rules:       DefaultRules(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the Foundation Verifier algorithm: capture branch/HEAD, run
// the test suite with fail-fast semantics under testTimeout, run the
// constitutional scan, and return structured health. A cached result is
// returned instead of re-running when HEAD is unchanged and within TTL.
//
// Verify itself issues only read-only git plumbing commands and `go test`;
// neither mutates repository state.
func (v *Verifier) Verify(ctx context.Context) (FoundationHealth, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	head, err := v.gitHead(ctx)
	if err != nil {
		health := FoundationHealth{IsHealthy: false, ErrorMessage: fmt.Sprintf("resolve HEAD: %v", err), CheckedAt: time.Now()}
		return health, &BrokenFoundationError{Health: health}
	}

	if v.cachedHead == head && time.Since(v.cachedAt) < v.cacheTTL {
		if v.cachedValue.IsHealthy {
			return v.cachedValue, nil
		}
		return v.cachedValue, &BrokenFoundationError{Health: v.cachedValue}
	}

	branch, err := v.gitBranch(ctx)
	if err != nil {
		branch = "HEAD"
	}

	health := FoundationHealth{Branch: branch, CheckedAt: time.Now()}

	status, testErr := v.runTests(ctx)
	health.TestStatus = status

	violations, scanErr := v.scanViolations()
	health.ViolationCount = len(violations)

	switch {
	case testErr != nil:
		health.IsHealthy = false
		health.ErrorMessage = testErr.Error()
	case scanErr != nil:
		health.IsHealthy = false
		health.ErrorMessage = fmt.Sprintf("constitutional scan: %v", scanErr)
	case health.ViolationCount > 0:
		health.IsHealthy = false
		health.ErrorMessage = fmt.Sprintf("%d constitutional violation(s): %s", len(violations), summarizeViolations(violations))
	default:
		health.IsHealthy = true
	}

	v.cachedHead = head
	v.cachedAt = health.CheckedAt
	v.cachedValue = health

	if !health.IsHealthy {
		obslog.Get().Warn("foundation: verification failed", "branch", branch, "test_status", status, "violations", health.ViolationCount, "reason", health.ErrorMessage)
		return health, &BrokenFoundationError{Health: health}
	}
	return health, nil
}

func (v *Verifier) runTests(ctx context.Context) (TestStatus, error) {
	if len(v.testCmd) == 0 {
		return TestPassed, nil
	}

	testCtx, cancel := context.WithTimeout(ctx, v.testTimeout)
	defer cancel()

	cmd := exec.CommandContext(testCtx, v.testCmd[0], v.testCmd[1:]...)
	cmd.Dir = v.repoDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if testCtx.Err() == context.DeadlineExceeded {
		return TestTimeout, fmt.Errorf("test suite exceeded %s timeout", v.testTimeout)
	}
	if err != nil {
		return TestFailed, fmt.Errorf("test suite failed: %w: %s", err, lastLines(out.String(), 20))
	}
	return TestPassed, nil
}

func (v *Verifier) scanViolations() ([]Violation, error) {
	var all []Violation
	for _, rule := range v.rules {
		violations, err := rule.Check(v.repoDir)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name(), err)
		}
		all = append(all, violations...)
	}
	return all, nil
}

func (v *Verifier) gitHead(ctx context.Context) (string, error) {
	return v.git(ctx, "rev-parse", "HEAD")
}

func (v *Verifier) gitBranch(ctx context.Context) (string, error) {
	return v.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func (v *Verifier) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = v.repoDir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func summarizeViolations(violations []Violation) string {
	var b strings.Builder
	for i, v := range violations {
		if i > 0 {
			b.WriteString("; ")
		}
		if i >= 3 {
			fmt.Fprintf(&b, "(+%d more)", len(violations)-i)
			break
		}
		fmt.Fprintf(&b, "%s:%s:%d %s", v.Rule, v.File, v.Line, v.Message)
	}
	return b.String()
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
