package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 5, cfg.MaxConcurrency)
	require.Nil(t, cfg.BudgetUSD)
	require.Equal(t, StorageLocal, cfg.StorageBackend)
	require.Equal(t, 300, cfg.HITLTimeoutSeconds)
	require.Equal(t, 3600, cfg.QuietHoursIntervalSec)
	require.Equal(t, 600, cfg.FoundationTimeoutSecond)
	require.Equal(t, 10, cfg.RetentionCheckpoints)
	require.True(t, cfg.LearnerRequireApproval)
	require.Equal(t, 200, cfg.WitnessWindowSize)
	require.Equal(t, 3600, cfg.WitnessWindowSeconds)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRINITY_MAX_CONCURRENCY", "8")
	t.Setenv("TRINITY_BUDGET_USD", "12.50")
	t.Setenv("TRINITY_STORAGE_BACKEND", "remote")
	t.Setenv("TRINITY_HITL_TIMEOUT_S", "60")

	cfg, err := LoadEnv("")
	require.NoError(t, err)
	require.Equal(t, 8, cfg.MaxConcurrency)
	require.NotNil(t, cfg.BudgetUSD)
	require.InDelta(t, 12.50, *cfg.BudgetUSD, 0.001)
	require.Equal(t, StorageRemote, cfg.StorageBackend)
	require.Equal(t, 60, cfg.HITLTimeoutSeconds)
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TRINITY_TEST_FOO", "bar")
	defer os.Unsetenv("TRINITY_TEST_FOO")

	require.Equal(t, "bar", expandEnvVars("${TRINITY_TEST_FOO}"))
	require.Equal(t, "bar", expandEnvVars("$TRINITY_TEST_FOO"))
	require.Equal(t, "fallback", expandEnvVars("${TRINITY_TEST_MISSING:-fallback}"))
}

func TestBootstrapLoaderDefaults(t *testing.T) {
	loader := NewBootstrapLoader(BootstrapFile, "")
	err := loader.LoadDefaults(map[string]interface{}{
		"roles": []map[string]interface{}{
			{"name": "code_writer", "factory": "code_writer_v1"},
		},
		"queues": []map[string]interface{}{
			{"name": "signal_queue", "visibility_timeout_s": 300, "dead_letter_threshold": 5},
		},
		"budgets": map[string]interface{}{"default": 25.0},
	})
	require.NoError(t, err)

	b, err := loader.unmarshal()
	require.NoError(t, err)
	require.Len(t, b.Roles, 1)
	require.Equal(t, "code_writer", b.Roles[0].Name)
	require.Len(t, b.Queues, 1)
	require.Equal(t, 300, b.Queues[0].VisibilityTimeoutSeconds)
	require.InDelta(t, 25.0, b.Budgets["default"], 0.001)
}
