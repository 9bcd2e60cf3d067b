// Package config loads the Trinity core's runtime configuration: the
// environment variables named in the specification, plus a bootstrap
// registration file (agent roles, queues, budgets, HITL gates) that replaces
// decorator-/annotation-based wiring with an explicit registration step.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// StorageBackend selects where durable state is persisted.
type StorageBackend string

const (
	StorageLocal  StorageBackend = "local"
	StorageRemote StorageBackend = "remote"
)

// VectorBackend selects the Pattern Store's semantic-search backend when
// StorageBackend is remote.
type VectorBackend string

const (
	VectorBackendChromem  VectorBackend = "chromem"
	VectorBackendQdrant   VectorBackend = "qdrant"
	VectorBackendPinecone VectorBackend = "pinecone"
)

// LedgerBackend selects the Cost Ledger's durable store.
type LedgerBackend string

const (
	LedgerBackendLog      LedgerBackend = "log"
	LedgerBackendSQLite   LedgerBackend = "sqlite"
	LedgerBackendPostgres LedgerBackend = "postgres"
	LedgerBackendMySQL    LedgerBackend = "mysql"
)

// Config is the core's environment-derived runtime configuration, per spec §6.
type Config struct {
	MaxConcurrency          int
	BudgetUSD               *float64 // nil = no cap
	StorageBackend          StorageBackend
	VectorBackend           VectorBackend
	LedgerBackend           LedgerBackend
	HITLTimeoutSeconds      int
	QuietHoursIntervalSec   int
	FoundationTimeoutSecond int
	RetentionCheckpoints    int
	StateDir                string
	PatternStalenessDays    int
	MaxDeferralsBeforeNo    int
	LearnerRequireApproval  bool
	OTelEnabled             bool
	WitnessWindowSize       int
	WitnessWindowSeconds    int
}

// Defaults returns the configuration with every spec §6 default applied.
func Defaults() *Config {
	return &Config{
		MaxConcurrency:          5,
		BudgetUSD:               nil,
		StorageBackend:          StorageLocal,
		VectorBackend:           VectorBackendChromem,
		LedgerBackend:           LedgerBackendLog,
		HITLTimeoutSeconds:      300,
		QuietHoursIntervalSec:   3600,
		FoundationTimeoutSecond: 600,
		RetentionCheckpoints:    10,
		StateDir:                "state",
		PatternStalenessDays:    90,
		MaxDeferralsBeforeNo:    0,
		LearnerRequireApproval:  true,
		OTelEnabled:             false,
		WitnessWindowSize:       200,
		WitnessWindowSeconds:    3600,
	}
}

// LoadEnv overlays environment variables (each value first passed through
// expandEnvVars, so ${VAR}, ${VAR:-default} and $VAR references inside a
// value are resolved) onto the defaults. A preceding
// .env file, if present, is loaded into the process environment first.
func LoadEnv(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			if err := godotenv.Load(dotenvPath); err != nil {
				return nil, err
			}
		}
	}

	cfg := Defaults()

	if v := expandEnvVars(os.Getenv("TRINITY_MAX_CONCURRENCY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.MaxConcurrency = n
	}

	if v := expandEnvVars(os.Getenv("TRINITY_BUDGET_USD")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		cfg.BudgetUSD = &f
	}

	if v := expandEnvVars(os.Getenv("TRINITY_STORAGE_BACKEND")); v != "" {
		cfg.StorageBackend = StorageBackend(v)
	}

	if v := expandEnvVars(os.Getenv("TRINITY_VECTOR_BACKEND")); v != "" {
		cfg.VectorBackend = VectorBackend(v)
	}

	if v := expandEnvVars(os.Getenv("TRINITY_LEDGER_BACKEND")); v != "" {
		cfg.LedgerBackend = LedgerBackend(v)
	}

	if v := expandEnvVars(os.Getenv("TRINITY_HITL_TIMEOUT_S")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.HITLTimeoutSeconds = n
	}

	if v := expandEnvVars(os.Getenv("TRINITY_QUIET_HOURS_INTERVAL_S")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.QuietHoursIntervalSec = n
	}

	if v := expandEnvVars(os.Getenv("TRINITY_MAX_DEFERRALS_BEFORE_NO")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.MaxDeferralsBeforeNo = n
	}

	if v := expandEnvVars(os.Getenv("TRINITY_FOUNDATION_TIMEOUT_S")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.FoundationTimeoutSecond = n
	}

	if v := expandEnvVars(os.Getenv("TRINITY_RETENTION_CHECKPOINTS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.RetentionCheckpoints = n
	}

	if v := expandEnvVars(os.Getenv("TRINITY_STATE_DIR")); v != "" {
		cfg.StateDir = v
	}

	if v := expandEnvVars(os.Getenv("TRINITY_OTEL_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, err
		}
		cfg.OTelEnabled = b
	}

	if v := expandEnvVars(os.Getenv("TRINITY_WITNESS_WINDOW_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.WitnessWindowSize = n
	}

	if v := expandEnvVars(os.Getenv("TRINITY_WITNESS_WINDOW_S")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.WitnessWindowSeconds = n
	}

	return cfg, nil
}
