package hitl

import (
	"time"

	"github.com/trinity-os/trinity/pkg/bus"
	"github.com/trinity-os/trinity/pkg/config"
)

// NewFromConfig builds Gates from bootstrap-registered risk thresholds and
// the core's environment-derived timeouts.
func NewFromConfig(cfg *config.Config, b *bus.Bus, gates []config.GateSpec) *Gates {
	return New(b,
		WithTimeout(time.Duration(cfg.HITLTimeoutSeconds)*time.Second),
		WithQuietHoursInterval(time.Duration(cfg.QuietHoursIntervalSec)*time.Second),
		WithMaxDeferralsBeforeNo(cfg.MaxDeferralsBeforeNo),
		WithRiskPolicy(RiskPolicyFromGates(gates)),
	)
}
