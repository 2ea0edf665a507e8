package consolidation

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"store-billing-reconciler/internal/models"
)

type clientMap map[string]*models.CanonicalClient

func (m clientMap) Client(id string) (*models.CanonicalClient, bool) {
	c, ok := m[id]
	return c, ok
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func record(id, clientID, amount string, status models.ValidationStatus) *models.RawRecord {
	r := &models.RawRecord{
		ID:          id,
		GrossAmount: dec(amount),
		RuleStatus:  status,
	}
	if clientID != "" {
		r.Match = models.MatchResult{ClientID: clientID, Tier: models.TierPlatformName}
	}
	return r
}

func testClients() clientMap {
	return clientMap{
		"P":  {ID: "P", LegalName: "Rede Matriz", BillingCycleID: "monthly", Active: true},
		"K1": {ID: "K1", LegalName: "Rede Filial 1", BillingCycleID: "franchise", ParentEntityID: "P", Active: true},
		"K2": {ID: "K2", LegalName: "Rede Filial 2", BillingCycleID: "monthly", ParentEntityID: "P", Active: true},
		"S":  {ID: "S", LegalName: "Loja Solo", BillingCycleID: "monthly", Active: true},
		"X":  {ID: "X", LegalName: "Auto Ref", BillingCycleID: "franchise", ParentEntityID: "X", Active: true},
		"G":  {ID: "G", LegalName: "Neta", BillingCycleID: "franchise", ParentEntityID: "K1", Active: true},
		"O":  {ID: "O", LegalName: "Orfa", BillingCycleID: "franchise", ParentEntityID: "MISSING", Active: true},
	}
}

func TestConsolidate_ContributionRule(t *testing.T) {
	correction := record("R2", "S", "100", models.StatusCorrection)
	correction.Suggestion = &models.CorrectionSuggestion{Duration: dec("6"), Amount: dec("75")}
	manual := record("R3", "S", "50", models.StatusOK)
	manualValue := dec("40")
	manual.ManualValue = &manualValue

	records := []*models.RawRecord{
		record("R1", "S", "10", models.StatusOK),
		correction,
		manual,
		record("R4", "S", "999", models.StatusCancel),
		record("R5", "S", "999", models.StatusOutOfPeriod),
		record("R6", "S", "999", models.StatusWrongCycle),
		record("R7", "", "999", models.StatusOK),
	}
	removed := record("R8", "S", "999", models.StatusOK)
	removed.Override = &models.StatusOverride{Status: models.StatusRemoved}
	pending := record("R9", "S", "999", models.StatusOK)
	pending.DuplicateOf = "R1"
	records = append(records, removed, pending)

	result := NewEngine(nil).Consolidate(records, nil, testClients())
	require.Len(t, result.Records, 1)

	s := result.Records[0]
	assert.Equal(t, "S", s.ClientID)
	assert.True(t, s.GrossTotal.Equal(dec("125")), "got %s", s.GrossTotal)
	assert.Equal(t, 3, s.RecordCount)
	assert.True(t, s.Billable)
}

func TestConsolidate_Conservation(t *testing.T) {
	var records []*models.RawRecord
	statuses := []models.ValidationStatus{models.StatusOK, models.StatusCancel, models.StatusOK, models.StatusRemoved}
	clients := []string{"S", "P", "K2", ""}
	expected := decimal.Zero
	for i := 0; i < 40; i++ {
		r := record(fmt.Sprintf("R%d", i), clients[i%4], fmt.Sprintf("%d.%02d", i, i), statuses[i%3])
		records = append(records, r)
		if r.Contributes() {
			expected = expected.Add(r.Amount())
		}
	}

	result := NewEngine(nil).Consolidate(records, nil, testClients())
	total := decimal.Zero
	for _, rec := range result.Records {
		total = total.Add(rec.GrossTotal)
		assert.Empty(t, rec.Children, "no folding without a policy")
	}
	assert.True(t, expected.Equal(total), "expected %s, got %s", expected, total)
}

func TestConsolidate_Adjustments(t *testing.T) {
	records := []*models.RawRecord{
		record("R1", "S", "100", models.StatusOK),
		record("R2", "S", "100", models.StatusOK),
	}
	adjustments := []*models.Adjustment{
		{ID: "A1", ClientID: "S", Kind: models.AdjustmentCredit, Amount: dec("20")},
		{ID: "A1", ClientID: "S", Kind: models.AdjustmentCredit, Amount: dec("20")},
		{ID: "A2", ClientID: "S", Kind: models.AdjustmentDebit, Amount: dec("5")},
		{ID: "A3", ClientID: "S", Kind: models.AdjustmentDebit, Amount: dec("7"), Applied: true},
		{ID: "A4", ClientID: "P", Kind: models.AdjustmentCredit, Amount: dec("9")},
		{ID: "A5", ClientID: "S", Kind: "BONUS", Amount: dec("9")},
	}

	engine := NewEngine(nil)
	result := engine.Consolidate(records, adjustments, testClients())
	require.Len(t, result.Records, 1)

	s := result.Records[0]
	assert.True(t, s.CreditsTotal.Equal(dec("20")), "credits %s", s.CreditsTotal)
	assert.True(t, s.DebitsTotal.Equal(dec("5")), "debits %s", s.DebitsTotal)
	assert.True(t, s.BaseAmount().Equal(dec("215")), "base %s", s.BaseAmount())
	assert.Equal(t, []string{"A1", "A2"}, result.ConsumedAdjustments)
	assert.Equal(t, []string{"A1", "A2"}, s.AppliedAdjustments)

	again := engine.Consolidate(records, adjustments, testClients())
	assert.Equal(t, result, again, "consolidation must be idempotent")
	assert.False(t, adjustments[0].Applied, "the engine never marks adjustments itself")
}

func TestConsolidate_Folding(t *testing.T) {
	records := []*models.RawRecord{
		record("R1", "P", "100", models.StatusOK),
		record("R2", "K1", "30", models.StatusOK),
		record("R3", "K1", "20", models.StatusOK),
		record("R4", "K2", "50", models.StatusOK),
	}
	adjustments := []*models.Adjustment{
		{ID: "A1", ClientID: "K1", Kind: models.AdjustmentDebit, Amount: dec("10")},
	}

	result := NewEngine(CyclePolicy("franchise")).Consolidate(records, adjustments, testClients())

	ids := make([]string, len(result.Records))
	for i, rec := range result.Records {
		ids[i] = rec.ClientID
	}
	assert.Equal(t, []string{"K2", "P"}, ids, "K1 folds into P, K2 is outside the cluster")

	p, _ := result.Record("P")
	assert.True(t, p.GrossTotal.Equal(dec("150")), "parent gross %s", p.GrossTotal)
	assert.True(t, p.DebitsTotal.Equal(dec("10")))
	assert.Equal(t, 3, p.RecordCount)
	require.Len(t, p.Children, 1)

	k1 := p.Children[0]
	assert.Equal(t, "K1", k1.ClientID)
	assert.Equal(t, "P", k1.FoldedInto)
	assert.False(t, k1.Billable)
	assert.True(t, k1.GrossTotal.Equal(dec("50")), "child keeps its own totals")

	k2, _ := result.Record("K2")
	assert.True(t, k2.Billable)
	assert.Empty(t, k2.FoldedInto)

	// The child's money is billed exactly once.
	assert.True(t, result.BillableTotal().Equal(dec("190")), "billable %s", result.BillableTotal())
}

func TestConsolidate_ParentWithoutOwnRecords(t *testing.T) {
	records := []*models.RawRecord{record("R1", "K1", "30", models.StatusOK)}
	result := NewEngine(CyclePolicy("franchise")).Consolidate(records, nil, testClients())

	require.Len(t, result.Records, 1)
	assert.Equal(t, "P", result.Records[0].ClientID)
	assert.True(t, result.Records[0].GrossTotal.Equal(dec("30")))
	assert.Equal(t, 0, len(result.Exceptions))
}

func TestConsolidate_InvalidParentLinks(t *testing.T) {
	records := []*models.RawRecord{
		record("R1", "X", "10", models.StatusOK),
		record("R2", "G", "20", models.StatusOK),
		record("R3", "O", "30", models.StatusOK),
	}
	result := NewEngine(CyclePolicy("franchise")).Consolidate(records, nil, testClients())

	assert.Len(t, result.Records, 3, "invalid links leave children standalone")
	for _, rec := range result.Records {
		assert.True(t, rec.Billable)
		assert.Empty(t, rec.Children)
	}
	require.Len(t, result.Exceptions, 3)
	for _, e := range result.Exceptions {
		assert.Equal(t, models.ExceptionInvalidParentLink, e.Kind)
	}
}

func TestRollupPolicies(t *testing.T) {
	clients := testClients()

	byName, err := NamePatternPolicy(`filial`)
	require.NoError(t, err)
	assert.True(t, byName(clients["K1"]))
	assert.False(t, byName(clients["S"]))

	_, err = NamePatternPolicy(`([`)
	assert.Error(t, err)

	combined := AnyPolicy(CyclePolicy("franchise"), byName)
	assert.True(t, combined(clients["K2"]))
	assert.True(t, combined(clients["X"]))
	assert.False(t, combined(clients["S"]))
	assert.False(t, NoRollup(clients["K1"]))
	assert.False(t, CyclePolicy("franchise")(nil))
}
