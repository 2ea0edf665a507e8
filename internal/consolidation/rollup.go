package consolidation

import (
	"regexp"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
)

// RollupPolicy decides whether a child client belongs to the roll-up
// cluster, whose members are billed through their parent. A parent link is
// still required for folding.
type RollupPolicy func(client *models.CanonicalClient) bool

// NoRollup keeps every client standalone
func NoRollup(*models.CanonicalClient) bool { return false }

// CyclePolicy selects the clients of the given billing cycles
func CyclePolicy(cycleIDs ...string) RollupPolicy {
	set := make(map[string]bool, len(cycleIDs))
	for _, id := range cycleIDs {
		if id != "" {
			set[id] = true
		}
	}
	return func(client *models.CanonicalClient) bool {
		return client != nil && set[client.BillingCycleID]
	}
}

// NamePatternPolicy selects the clients whose legal, trade, short or
// platform name matches pattern. Matching ignores case.
func NamePatternPolicy(pattern string) (RollupPolicy, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "rollup_pattern", pattern, err)
	}
	return func(client *models.CanonicalClient) bool {
		if client == nil {
			return false
		}
		for _, name := range []string{client.BillingPlatformName, client.LegalName, client.TradeName, client.ShortName} {
			if name != "" && re.MatchString(name) {
				return true
			}
		}
		return false
	}, nil
}

// AnyPolicy selects a client when any of the policies selects it
func AnyPolicy(policies ...RollupPolicy) RollupPolicy {
	return func(client *models.CanonicalClient) bool {
		for _, p := range policies {
			if p != nil && p(client) {
				return true
			}
		}
		return false
	}
}
