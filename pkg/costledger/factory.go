package costledger

import (
	"fmt"
	"path/filepath"

	"github.com/trinity-os/trinity/pkg/config"
)

// OpenFromConfig builds the configured Backend and returns a ready Ledger.
// sqlDSN is ignored for the log backend and required for the SQL backends.
func OpenFromConfig(cfg *config.Config, sqlDSN string, opts ...Option) (*Ledger, error) {
	var backend Backend
	var err error

	switch cfg.LedgerBackend {
	case config.LedgerBackendLog, "":
		backend, err = OpenLogBackend(filepath.Join(cfg.StateDir, "cost"))
	case config.LedgerBackendSQLite, config.LedgerBackendPostgres, config.LedgerBackendMySQL:
		if sqlDSN == "" {
			return nil, fmt.Errorf("costledger: DSN required for backend %q", cfg.LedgerBackend)
		}
		backend, err = OpenSQLBackend(cfg.LedgerBackend, sqlDSN)
	default:
		return nil, fmt.Errorf("costledger: unsupported backend %q", cfg.LedgerBackend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.BudgetUSD != nil {
		opts = append(opts, WithBudget(scopeGlobal, *cfg.BudgetUSD))
	}
	return New(backend, opts...), nil
}
