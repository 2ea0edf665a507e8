package fiscal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
)

type clientMap map[string]*models.CanonicalClient

func (m clientMap) Client(id string) (*models.CanonicalClient, bool) {
	c, ok := m[id]
	return c, ok
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func consolidated(clientID, gross string) *models.ConsolidatedStoreRecord {
	return &models.ConsolidatedStoreRecord{
		ClientID:     clientID,
		GrossTotal:   dec(gross),
		CreditsTotal: decimal.Zero,
		DebitsTotal:  decimal.Zero,
		Billable:     true,
	}
}

func testClients() clientMap {
	return clientMap{
		"A": {ID: "A", LegalName: "Alfa", TaxID: "11.111.111/0001-11", BillingCycleID: "monthly", Active: true},
		"B": {ID: "B", LegalName: "Beta", TaxID: "22222222000122", BillingCycleID: "special", Active: true},
		"C": {ID: "C", LegalName: "Gama", TaxID: "33333333000133", InvoiceSuppressed: true, Active: true},
		"D": {ID: "D", LegalName: "Delta", Active: true},
	}
}

func specialCycle(c *models.CanonicalClient) bool { return c.BillingCycleID == "special" }

func TestReconcile_Split(t *testing.T) {
	docs := []*models.FiscalDocument{
		{TaxID: "11111111000111", DocumentNumber: "NF-1", WithholdingTaxAmount: dec("1.73")},
	}
	result := NewReconciler(nil).Reconcile([]*models.ConsolidatedStoreRecord{consolidated("A", "1000.00")}, docs, testClients())
	require.Len(t, result.Results, 1)

	res := result.Results[0]
	assert.Equal(t, models.MatchStateMatched, res.MatchState)
	assert.Equal(t, "NF-1", res.FiscalDocument.DocumentNumber)
	assert.True(t, res.InvoiceAmount.Equal(dec("115.00")), "invoice %s", res.InvoiceAmount)
	assert.True(t, res.CreditNoteAmount.Equal(dec("885.00")), "credit note %s", res.CreditNoteAmount)
	assert.True(t, res.WithholdingTax.Equal(dec("1.73")))
	assert.False(t, res.WithholdingEstimated)
	assert.True(t, res.FinalPayable.Equal(dec("1000")), "gross policy bills the whole base")
	assert.Empty(t, result.Exceptions)
}

func TestReconcile_BaseIncludesAdjustments(t *testing.T) {
	rec := consolidated("A", "1000")
	rec.CreditsTotal = dec("100")
	rec.DebitsTotal = dec("300")

	result := NewReconciler(nil).Reconcile([]*models.ConsolidatedStoreRecord{rec}, nil, testClients())
	res := result.Results[0]
	assert.True(t, res.BaseAmount.Equal(dec("800")))
	assert.True(t, res.InvoiceAmount.Equal(dec("92")))
	assert.True(t, res.CreditNoteAmount.Equal(dec("708")))
}

func TestReconcile_MissingDocuments(t *testing.T) {
	config := DefaultConfig()
	config.SpecialCluster = specialCycle
	records := []*models.ConsolidatedStoreRecord{
		consolidated("A", "1000"),
		consolidated("B", "1000"),
		consolidated("D", "500"),
	}

	result := NewReconciler(config).Reconcile(records, nil, testClients())
	require.Len(t, result.Results, 3)

	a, b, d := result.Results[0], result.Results[1], result.Results[2]
	assert.Equal(t, models.MatchStateMissing, a.MatchState)
	assert.True(t, a.WithholdingTax.IsZero(), "regular clients get zero withholding")

	assert.Equal(t, models.MatchStateMissing, b.MatchState)
	assert.True(t, b.WithholdingEstimated)
	assert.True(t, b.WithholdingTax.Equal(dec("1.73")), "round(115 * 0.015, 2), got %s", b.WithholdingTax)

	assert.Equal(t, models.MatchStateMissing, d.MatchState)
	kinds := map[models.ExceptionKind]int{}
	for _, e := range result.Exceptions {
		kinds[e.Kind]++
	}
	assert.Equal(t, 2, kinds[models.ExceptionMissingFiscalDoc])
	assert.Equal(t, 1, kinds[models.ExceptionMissingTaxID])
	assert.Len(t, result.Missing(), 3)
}

func TestReconcile_InvoiceSuppressed(t *testing.T) {
	result := NewReconciler(nil).Reconcile([]*models.ConsolidatedStoreRecord{consolidated("C", "1000")}, nil, testClients())
	res := result.Results[0]
	assert.True(t, res.InvoiceAmount.IsZero())
	assert.True(t, res.CreditNoteAmount.Equal(dec("885")))
}

func TestReconcile_PayablePolicies(t *testing.T) {
	docs := []*models.FiscalDocument{
		{TaxID: "11111111000111", DocumentNumber: "NF-1", WithholdingTaxAmount: dec("10")},
		{TaxID: "22222222000122", DocumentNumber: "NF-2", WithholdingTaxAmount: dec("20")},
	}
	records := []*models.ConsolidatedStoreRecord{consolidated("A", "1000"), consolidated("B", "1000")}

	tests := []struct {
		policy PayablePolicy
		a, b   string
	}{
		{PayableGross, "1000", "1000"},
		{PayableNetOfWithholding, "990", "980"},
		{PayableNetForSpecialCluster, "1000", "980"},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			config := DefaultConfig()
			config.SpecialCluster = specialCycle
			config.PayablePolicy = tt.policy
			result := NewReconciler(config).Reconcile(records, docs, testClients())
			assert.True(t, result.Results[0].FinalPayable.Equal(dec(tt.a)), "A payable %s", result.Results[0].FinalPayable)
			assert.True(t, result.Results[1].FinalPayable.Equal(dec(tt.b)), "B payable %s", result.Results[1].FinalPayable)
		})
	}
}

func TestReconcile_DuplicateDocumentsAndChildren(t *testing.T) {
	docs := []*models.FiscalDocument{
		{TaxID: "11111111000111", DocumentNumber: "NF-1", WithholdingTaxAmount: dec("1")},
		{TaxID: "11.111.111/0001-11", DocumentNumber: "NF-9", WithholdingTaxAmount: dec("9")},
	}
	child := consolidated("D", "50")
	child.Billable = false
	child.FoldedInto = "A"

	result := NewReconciler(nil).Reconcile([]*models.ConsolidatedStoreRecord{consolidated("A", "100"), child}, docs, testClients())
	require.Len(t, result.Results, 1, "folded children are not reconciled")
	assert.Equal(t, "NF-1", result.Results[0].FiscalDocument.DocumentNumber)
	require.Len(t, result.Exceptions, 1)
	assert.Equal(t, models.ExceptionDuplicateFiscalDoc, result.Exceptions[0].Kind)
}

func TestParsePayablePolicy(t *testing.T) {
	p, err := ParsePayablePolicy(" NET_OF_WITHHOLDING ")
	require.NoError(t, err)
	assert.Equal(t, PayableNetOfWithholding, p)

	p, err = ParsePayablePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PayableGross, p)

	_, err = ParsePayablePolicy("net")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfig))

	config := DefaultConfig()
	require.NoError(t, config.Validate())
	config.InvoiceRate = dec("1.5")
	assert.Error(t, config.Validate())
}
