package costledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/trinity-os/trinity/pkg/config"
)

// SQLBackend implements Backend against sqlite, postgres, or mysql,
// grounded on the teacher's pkg/config.DBPool: SQLite is pinned to a single
// connection to avoid "database is locked", and WAL mode plus a busy
// timeout are enabled the same way.
type SQLBackend struct {
	db     *sql.DB
	driver string
}

// OpenSQLBackend opens a SQL-backed ledger for the given database driver.
func OpenSQLBackend(driver config.LedgerBackend, dsn string) (*SQLBackend, error) {
	driverName := sqlDriverName(driver)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("costledger: open database: %w", err)
	}

	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("costledger: connect to database: %w", err)
	}

	if driverName == "sqlite3" {
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=10000")
	}

	b := &SQLBackend{db: db, driver: driverName}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func sqlDriverName(b config.LedgerBackend) string {
	switch b {
	case config.LedgerBackendSQLite:
		return "sqlite3"
	case config.LedgerBackendPostgres:
		return "postgres"
	case config.LedgerBackendMySQL:
		return "mysql"
	default:
		return string(b)
	}
}

func (b *SQLBackend) migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS cost_entries (
	task_id         TEXT NOT NULL,
	correlation_id  TEXT,
	agent           TEXT NOT NULL,
	model           TEXT NOT NULL,
	input_tokens    BIGINT NOT NULL,
	output_tokens   BIGINT NOT NULL,
	currency_amount DOUBLE PRECISION NOT NULL,
	created_at      TIMESTAMP NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("costledger: migrate schema: %w", err)
	}
	return nil
}

// placeholders rewrites n "?" placeholders into "$1".."$n" for postgres,
// which (unlike mysql/sqlite3) doesn't accept "?" bind parameters.
func (b *SQLBackend) placeholders(query string, n int) string {
	if b.driver != "postgres" {
		return query
	}
	out := query
	for i := 1; i <= n; i++ {
		out = strings.Replace(out, "?", fmt.Sprintf("$%d", i), 1)
	}
	return out
}

func (b *SQLBackend) Append(entry CostEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := b.placeholders(`INSERT INTO cost_entries
			(task_id, correlation_id, agent, model, input_tokens, output_tokens, currency_amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, 8)
	_, err := b.db.ExecContext(ctx, query,
		entry.TaskID, entry.CorrelationID, entry.Agent, entry.Model,
		entry.InputTokens, entry.OutputTokens, entry.CurrencyAmount, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("costledger: insert entry: %w", err)
	}
	return nil
}

func (b *SQLBackend) Sum(scope string) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var total sql.NullFloat64
	var err error
	if scope == "" || scope == scopeGlobal {
		err = b.db.QueryRowContext(ctx, `SELECT SUM(currency_amount) FROM cost_entries`).Scan(&total)
	} else {
		query := b.placeholders(`SELECT SUM(currency_amount) FROM cost_entries WHERE correlation_id = ? OR task_id = ?`, 2)
		err = b.db.QueryRowContext(ctx, query, scope, scope).Scan(&total)
	}
	if err != nil {
		return 0, fmt.Errorf("costledger: sum entries: %w", err)
	}
	return total.Float64, nil
}

func (b *SQLBackend) Entries(scope string) ([]CostEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rows *sql.Rows
	var err error
	const cols = `task_id, correlation_id, agent, model, input_tokens, output_tokens, currency_amount, created_at`
	if scope == "" || scope == scopeGlobal {
		rows, err = b.db.QueryContext(ctx, `SELECT `+cols+` FROM cost_entries`)
	} else {
		query := b.placeholders(`SELECT `+cols+` FROM cost_entries WHERE correlation_id = ? OR task_id = ?`, 2)
		rows, err = b.db.QueryContext(ctx, query, scope, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("costledger: query entries: %w", err)
	}
	defer rows.Close()

	var out []CostEntry
	for rows.Next() {
		var e CostEntry
		var correlationID sql.NullString
		if err := rows.Scan(&e.TaskID, &correlationID, &e.Agent, &e.Model,
			&e.InputTokens, &e.OutputTokens, &e.CurrencyAmount, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("costledger: scan entry: %w", err)
		}
		e.CorrelationID = correlationID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *SQLBackend) Close() error { return b.db.Close() }

var _ Backend = (*SQLBackend)(nil)
