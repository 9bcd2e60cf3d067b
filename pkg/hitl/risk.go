package hitl

import "github.com/trinity-os/trinity/pkg/config"

// RiskPolicy decides which risk categories require a HITL gate.
type RiskPolicy struct {
	require map[string]bool
}

// DefaultRiskPolicy returns the spec's documented default thresholds:
// security-impacting work and a >10% performance-impact change both
// require a gate.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{require: map[string]bool{
		"security-impacting":          true,
		"performance_impact_gt_10pct": true,
	}}
}

// RiskPolicyFromGates builds a RiskPolicy from bootstrap-registered gate
// specs, overriding (not merging with) the defaults — an explicit
// registration replaces the implicit one, per the bootstrap's own model.
func RiskPolicyFromGates(gates []config.GateSpec) RiskPolicy {
	p := RiskPolicy{require: map[string]bool{}}
	for _, g := range gates {
		p.require[g.RiskCategory] = g.Required
	}
	return p
}

// RequiresGate reports whether category requires human approval. Unknown
// categories default to not requiring a gate.
func (p RiskPolicy) RequiresGate(category string) bool {
	return p.require[category]
}
