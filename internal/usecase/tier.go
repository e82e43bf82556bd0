package usecase

import (
	"conductor/internal/infra/config"
)

// TierDomain selects which threshold table applies to a decision.
type TierDomain string

const (
	TierDomainDispatch TierDomain = "dispatch"
	TierDomainSkill    TierDomain = "skill"
	TierDomainPruning  TierDomain = "pruning"
)

// Tier names shared across domains. Each domain uses a subset.
const (
	TierAutoDispatch    = "auto-dispatch"
	TierStrongRecommend = "strong-recommend"
	TierSuggest         = "suggest"
	TierSilentInject    = "silent-inject"
	TierNotifyInject    = "notify-inject"
	TierHint            = "hint"
	TierCritical        = "critical"
	TierAdvisory        = "advisory"
	TierNone            = "none"
)

// TierResolver maps a confidence score to a discrete action tier. The
// tables are configuration; boundaries are inclusive on the lower edge.
// Pure function of (domain, confidence).
type TierResolver struct {
	tables map[TierDomain][]config.TierBoundary
}

// NewTierResolver creates a resolver from validated configuration.
func NewTierResolver(cfg config.TiersConfig) *TierResolver {
	return &TierResolver{
		tables: map[TierDomain][]config.TierBoundary{
			TierDomainDispatch: cfg.Dispatch,
			TierDomainSkill:    cfg.Skill,
			TierDomainPruning:  cfg.Pruning,
		},
	}
}

// Resolve returns the tier for confidence in the given domain. Unknown
// domains and out-of-range scores resolve to "none".
func (r *TierResolver) Resolve(domain TierDomain, confidence int) string {
	table, ok := r.tables[domain]
	if !ok {
		return TierNone
	}
	if confidence < 0 {
		confidence = 0
	}
	for _, b := range table {
		if confidence >= b.Min {
			return b.Tier
		}
	}
	return TierNone
}

// TopTierMin returns the minimum confidence of the domain's strongest
// tier (used for shouldAutoAct).
func (r *TierResolver) TopTierMin(domain TierDomain) int {
	table, ok := r.tables[domain]
	if !ok || len(table) == 0 {
		return 101 // unreachable: nothing auto-acts
	}
	return table[0].Min
}

// Actionable reports whether a tier implies any user-visible action.
func Actionable(tier string) bool {
	return tier != TierNone && tier != ""
}
