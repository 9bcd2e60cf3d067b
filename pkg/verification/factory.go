package verification

import (
	"fmt"
	"path/filepath"

	"github.com/trinity-os/trinity/pkg/foundation"
)

// NewFromConfig wires a Gate from an already-constructed Foundation Verifier
// and the core's state directory, opening (or creating) the gate's audit
// log at <stateDir>/verification/force_overrides.log.
func NewFromConfig(verifier *foundation.Verifier, stateDir string) (*Gate, error) {
	audit, err := OpenAuditLog(filepath.Join(stateDir, "verification"))
	if err != nil {
		return nil, fmt.Errorf("verification: open audit log: %w", err)
	}
	return New(verifier, audit), nil
}
