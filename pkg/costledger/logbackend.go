package costledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// scopeGlobal sums every entry regardless of correlation id.
const scopeGlobal = "global"

// LogBackend is the default Cost Ledger backend: an append-only,
// fsync'd, one-JSON-object-per-line log at state/cost/ledger.log (spec §6),
// grounded on the same append+fsync discipline as pkg/bus's WAL.
type LogBackend struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenLogBackend opens (or creates) the ledger log under dir.
func OpenLogBackend(dir string) (*LogBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("costledger: create state dir: %w", err)
	}
	path := filepath.Join(dir, "ledger.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("costledger: open ledger log: %w", err)
	}
	return &LogBackend{path: path, file: f}, nil
}

func (b *LogBackend) Append(entry CostEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("costledger: marshal entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := b.file.Write(data); err != nil {
		return fmt.Errorf("costledger: write entry: %w", err)
	}
	return b.file.Sync()
}

func (b *LogBackend) Sum(scope string) (float64, error) {
	entries, err := b.Entries(scope)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, e := range entries {
		total += e.CurrencyAmount
	}
	return total, nil
}

func (b *LogBackend) Entries(scope string) ([]CostEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("costledger: open ledger log for read: %w", err)
	}
	defer f.Close()

	var out []CostEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry CostEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A trailing partial line means a crash mid-write; stop rather
			// than error the whole read out, same discipline as the bus WAL.
			break
		}
		if scope == "" || scope == scopeGlobal || entry.CorrelationID == scope || entry.TaskID == scope {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (b *LogBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

var _ Backend = (*LogBackend)(nil)
