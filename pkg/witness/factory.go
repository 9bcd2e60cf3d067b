package witness

import (
	"time"

	"github.com/trinity-os/trinity/pkg/bus"
	"github.com/trinity-os/trinity/pkg/config"
	"github.com/trinity-os/trinity/pkg/pattern"
)

// NewFromConfig builds a Witness using the core's configured evidence
// window.
func NewFromConfig(cfg *config.Config, b *bus.Bus, store *pattern.Store) *Witness {
	return New(b, store, WithWindow(cfg.WitnessWindowSize, time.Duration(cfg.WitnessWindowSeconds)*time.Second))
}
