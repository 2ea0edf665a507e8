// Package consolidation aggregates classified records into one total per
// billed client.
//
// A record contributes only when it is matched and its effective status is
// OK or CORRECTION. Pending adjustments are applied once per client present
// in the batch. Children of the roll-up cluster fold into their parent: the
// parent's totals include theirs and they are kept under it for audit,
// marked as not billable. Parent links are one level deep; self references,
// chains and unknown parents leave the child standalone and are reported.
//
// Consolidation is a pure function of its inputs. Records and adjustments
// are never modified, so it can be re-run after every manual decision.
//
// Example usage:
//
//	engine := consolidation.NewEngine(consolidation.CyclePolicy("franchise"))
//	result := engine.Consolidate(records, adjustments, index)
//	for _, id := range result.ConsumedAdjustments {
//		store.MarkApplied(id)
//	}
package consolidation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/logger"
)

// ClientLookup finds a client by id
type ClientLookup interface {
	Client(id string) (*models.CanonicalClient, bool)
}

// Result holds the consolidated records of a batch
type Result struct {
	// Records are the top-level records ordered by client id. Folded
	// children appear only under their parent.
	Records []*models.ConsolidatedStoreRecord `json:"records"`

	// ConsumedAdjustments lists the adjustment ids applied by this run so the
	// caller can mark them applied.
	ConsumedAdjustments []string `json:"consumed_adjustments,omitempty"`

	Exceptions []models.Exception `json:"exceptions,omitempty"`
}

// Record returns the top-level or folded record of a client
func (r *Result) Record(clientID string) (*models.ConsolidatedStoreRecord, bool) {
	for _, rec := range r.Records {
		if rec.ClientID == clientID {
			return rec, true
		}
		for _, child := range rec.Children {
			if child.ClientID == clientID {
				return child, true
			}
		}
	}
	return nil, false
}

// BillableTotal sums the base amount of the billable records
func (r *Result) BillableTotal() decimal.Decimal {
	total := decimal.Zero
	for _, rec := range r.Records {
		if rec.Billable {
			total = total.Add(rec.BaseAmount())
		}
	}
	return total
}

// Engine consolidates records under a roll-up policy
type Engine struct {
	policy RollupPolicy
	logger logger.Logger
}

// NewEngine creates an engine. A nil policy keeps every client standalone.
func NewEngine(policy RollupPolicy) *Engine {
	if policy == nil {
		policy = NoRollup
	}
	return &Engine{
		policy: policy,
		logger: logger.GetGlobalLogger().WithComponent("consolidation"),
	}
}

// Consolidate builds the per-client totals
func (e *Engine) Consolidate(records []*models.RawRecord, adjustments []*models.Adjustment, clients ClientLookup) *Result {
	result := &Result{}
	nodes := make(map[string]*models.ConsolidatedStoreRecord)

	node := func(clientID string) *models.ConsolidatedStoreRecord {
		n, ok := nodes[clientID]
		if !ok {
			n = &models.ConsolidatedStoreRecord{
				ClientID:     clientID,
				GrossTotal:   decimal.Zero,
				CreditsTotal: decimal.Zero,
				DebitsTotal:  decimal.Zero,
				Billable:     true,
			}
			nodes[clientID] = n
		}
		return n
	}

	for _, r := range records {
		if r == nil || !r.Contributes() {
			continue
		}
		n := node(r.Match.ClientID)
		n.GrossTotal = n.GrossTotal.Add(r.Amount())
		n.RecordCount++
	}

	parents := e.resolveParents(sortedKeys(nodes), clients, result)
	for _, parentID := range parents {
		node(parentID)
	}

	result.ConsumedAdjustments = applyAdjustments(nodes, adjustments, e.logger)

	for _, childID := range sortedKeys(parents) {
		child := nodes[childID]
		parent := nodes[parents[childID]]
		parent.GrossTotal = parent.GrossTotal.Add(child.GrossTotal)
		parent.CreditsTotal = parent.CreditsTotal.Add(child.CreditsTotal)
		parent.DebitsTotal = parent.DebitsTotal.Add(child.DebitsTotal)
		parent.RecordCount += child.RecordCount
		parent.Children = append(parent.Children, child)
		child.FoldedInto = parent.ClientID
		child.Billable = false
	}

	for _, id := range sortedKeys(nodes) {
		if _, folded := parents[id]; !folded {
			result.Records = append(result.Records, nodes[id])
		}
	}

	e.logger.WithFields(logger.Fields{
		"clients":     len(result.Records),
		"folded":      len(parents),
		"adjustments": len(result.ConsumedAdjustments),
		"exceptions":  len(result.Exceptions),
	}).Info("Consolidation completed")

	return result
}

// resolveParents maps every foldable child to its parent. Invalid links
// are reported and the child stays standalone.
func (e *Engine) resolveParents(ids []string, clients ClientLookup, result *Result) map[string]string {
	parents := make(map[string]string)
	if clients == nil {
		return parents
	}

	reject := func(child *models.CanonicalClient, reason string) {
		result.Exceptions = append(result.Exceptions, models.Exception{
			Kind:     models.ExceptionInvalidParentLink,
			Severity: models.SeverityWarning,
			ClientID: child.ID,
			Field:    "parent_entity_id",
			Message:  fmt.Sprintf("client %s not folded into %s: %s", child.ID, child.ParentEntityID, reason),
		})
	}

	for _, id := range ids {
		child, ok := clients.Client(id)
		if !ok || child.ParentEntityID == "" || !e.policy(child) {
			continue
		}
		if child.ParentEntityID == child.ID {
			reject(child, "self reference")
			continue
		}
		parent, ok := clients.Client(child.ParentEntityID)
		if !ok {
			reject(child, "parent is not an active client")
			continue
		}
		if parent.ParentEntityID != "" {
			reject(child, fmt.Sprintf("parent has its own parent %s", parent.ParentEntityID))
			continue
		}
		parents[child.ID] = parent.ID
	}
	return parents
}

// applyAdjustments applies each pending adjustment once to the client it
// targets, when that client is present. It returns the consumed ids.
func applyAdjustments(nodes map[string]*models.ConsolidatedStoreRecord, adjustments []*models.Adjustment, log logger.Logger) []string {
	var consumed []string
	seen := make(map[string]bool)

	for i, adj := range adjustments {
		if adj == nil || adj.Applied {
			continue
		}
		key := adj.ID
		if key == "" {
			key = fmt.Sprintf("#%d", i)
		}
		if seen[key] {
			continue
		}
		if err := adj.Validate(); err != nil {
			log.WithError(err).WithField("adjustment", key).Warn("Skipping invalid adjustment")
			continue
		}
		n, ok := nodes[adj.ClientID]
		if !ok {
			continue
		}
		seen[key] = true

		switch adj.Kind {
		case models.AdjustmentCredit:
			n.CreditsTotal = n.CreditsTotal.Add(adj.Amount)
		case models.AdjustmentDebit:
			n.DebitsTotal = n.DebitsTotal.Add(adj.Amount)
		}
		n.AppliedAdjustments = append(n.AppliedAdjustments, key)
		consumed = append(consumed, key)
	}
	return consumed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
