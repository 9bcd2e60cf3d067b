package foundation

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-q", "-m", "init")
	return dir
}

// countingScript writes a shell script that appends one line to counter
// each time it runs, so tests can observe whether Verify actually re-ran
// the test command or served a cached result.
func countingScript(t *testing.T, dir string, exitCode int) (script, counter string) {
	t.Helper()
	counter = filepath.Join(dir, "counter.txt")
	script = filepath.Join(dir, "run.sh")
	content := "#!/bin/sh\necho x >> '" + counter + "'\nexit " + itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script, counter
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestVerifyHealthyRepoPasses(t *testing.T) {
	dir := initRepo(t)
	v := New(dir, time.Second, WithTestCommand([]string{"true"}), WithRules())

	health, err := v.Verify(context.Background())
	require.NoError(t, err)
	require.True(t, health.IsHealthy)
	require.Equal(t, TestPassed, health.TestStatus)
	require.Zero(t, health.ViolationCount)
}

func TestVerifyFailingTestsMarksUnhealthy(t *testing.T) {
	dir := initRepo(t)
	v := New(dir, time.Second, WithTestCommand([]string{"false"}), WithRules())

	health, err := v.Verify(context.Background())
	require.Error(t, err)
	var broken *BrokenFoundationError
	require.ErrorAs(t, err, &broken)
	require.False(t, health.IsHealthy)
	require.Equal(t, TestFailed, health.TestStatus)
}

func TestVerifyTimeoutDistinctFromFailure(t *testing.T) {
	dir := initRepo(t)
	v := New(dir, 20*time.Millisecond, WithTestCommand([]string{"sleep", "2"}), WithRules())

	health, err := v.Verify(context.Background())
	require.Error(t, err)
	require.False(t, health.IsHealthy)
	require.Equal(t, TestTimeout, health.TestStatus)
}

func TestVerifyConstitutionalViolationFlagged(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg", "widget"), 0o755))
	src := "package widget\n\nfunc Do() {\n\tpanic(\"boom\")\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "widget", "widget.go"), []byte(src), 0o644))

	v := New(dir, time.Second, WithTestCommand([]string{"true"}), WithRules(noPanicOutsideCmdRule{}))

	health, err := v.Verify(context.Background())
	require.Error(t, err)
	require.False(t, health.IsHealthy)
	require.Equal(t, 1, health.ViolationCount)
}

func TestVerifyIgnoresPanicInTestFiles(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg", "widget"), 0o755))
	src := "package widget\n\nimport \"testing\"\n\nfunc TestDo(t *testing.T) {\n\tpanic(\"boom\")\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "widget", "widget_test.go"), []byte(src), 0o644))

	v := New(dir, time.Second, WithTestCommand([]string{"true"}), WithRules(noPanicOutsideCmdRule{}))

	health, err := v.Verify(context.Background())
	require.NoError(t, err)
	require.True(t, health.IsHealthy)
}

func TestVerifyCachesWithinTTL(t *testing.T) {
	dir := initRepo(t)
	script, counter := countingScript(t, dir, 0)
	v := New(dir, time.Second, WithTestCommand([]string{"sh", script}), WithRules(), WithCacheTTL(time.Minute))

	_, err := v.Verify(context.Background())
	require.NoError(t, err)
	_, err = v.Verify(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, countLines(t, counter))
}

func TestVerifyRerunsAfterTTLExpires(t *testing.T) {
	dir := initRepo(t)
	script, counter := countingScript(t, dir, 0)
	v := New(dir, time.Second, WithTestCommand([]string{"sh", script}), WithRules(), WithCacheTTL(5*time.Millisecond))

	_, err := v.Verify(context.Background())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = v.Verify(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, countLines(t, counter))
}

func TestVerifyRerunsAfterNewCommit(t *testing.T) {
	dir := initRepo(t)
	script, counter := countingScript(t, dir, 0)
	v := New(dir, time.Second, WithTestCommand([]string{"sh", script}), WithRules(), WithCacheTTL(time.Minute))

	_, err := v.Verify(context.Background())
	require.NoError(t, err)

	cmd := exec.Command("git", "commit", "--allow-empty", "-q", "-m", "second")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	_, err = v.Verify(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, countLines(t, counter))
}
