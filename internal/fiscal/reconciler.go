// Package fiscal cross-checks consolidated client totals against issued
// fiscal documents and computes the invoice and credit note split.
//
// Documents are matched to clients by normalized tax id. A client without
// a document is reported as MISSING and still reconciled with zero
// withholding, or with an estimate for the special cluster.
//
// Example usage:
//
//	config := fiscal.DefaultConfig()
//	config.PayablePolicy = fiscal.PayableNetForSpecialCluster
//	result := fiscal.NewReconciler(config).Reconcile(consolidated, documents, index)
package fiscal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/parsers"
	"store-billing-reconciler/pkg/logger"
)

// ClientLookup finds a client by id
type ClientLookup interface {
	Client(id string) (*models.CanonicalClient, bool)
}

// Result holds one ReconciliationResult per billable client
type Result struct {
	Results    []*models.ReconciliationResult `json:"results"`
	Exceptions []models.Exception             `json:"exceptions,omitempty"`
}

// Totals sums the money columns of the results
func (r *Result) Totals() (base, invoice, creditNote, withholding, payable decimal.Decimal) {
	for _, res := range r.Results {
		base = base.Add(res.BaseAmount)
		invoice = invoice.Add(res.InvoiceAmount)
		creditNote = creditNote.Add(res.CreditNoteAmount)
		withholding = withholding.Add(res.WithholdingTax)
		payable = payable.Add(res.FinalPayable)
	}
	return
}

// Missing returns the results without a fiscal document
func (r *Result) Missing() []*models.ReconciliationResult {
	var out []*models.ReconciliationResult
	for _, res := range r.Results {
		if res.MatchState == models.MatchStateMissing {
			out = append(out, res)
		}
	}
	return out
}

// Reconciler computes the fiscal view of consolidated records
type Reconciler struct {
	config *Config
	logger logger.Logger
}

// NewReconciler creates a reconciler. A nil config uses the defaults.
func NewReconciler(config *Config) *Reconciler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Reconciler{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("fiscal_reconciler"),
	}
}

// Reconcile produces a result for every billable consolidated record, in
// input order. Folded children are skipped since their parent is billed.
func (r *Reconciler) Reconcile(consolidated []*models.ConsolidatedStoreRecord, documents []*models.FiscalDocument, clients ClientLookup) *Result {
	result := &Result{}
	byTaxID := r.indexDocuments(documents, result)

	for _, rec := range consolidated {
		if rec == nil || !rec.Billable {
			continue
		}
		var client *models.CanonicalClient
		if clients != nil {
			client, _ = clients.Client(rec.ClientID)
		}
		res, exception := r.reconcileOne(rec, client, byTaxID)
		result.Results = append(result.Results, res)
		if exception != nil {
			result.Exceptions = append(result.Exceptions, *exception)
		}
	}

	base, invoice, _, withholding, payable := result.Totals()
	r.logger.WithFields(logger.Fields{
		"clients":     len(result.Results),
		"missing":     len(result.Missing()),
		"base":        base.StringFixed(2),
		"invoice":     invoice.StringFixed(2),
		"withholding": withholding.StringFixed(2),
		"payable":     payable.StringFixed(2),
	}).Info("Fiscal reconciliation completed")

	return result
}

// indexDocuments keys documents by normalized tax id. The first document
// of a tax id wins and the others are reported.
func (r *Reconciler) indexDocuments(documents []*models.FiscalDocument, result *Result) map[string]*models.FiscalDocument {
	byTaxID := make(map[string]*models.FiscalDocument)
	for _, doc := range documents {
		if doc == nil {
			continue
		}
		taxID := parsers.NormalizeTaxID(doc.TaxID)
		if taxID == "" {
			continue
		}
		if first, exists := byTaxID[taxID]; exists {
			result.Exceptions = append(result.Exceptions, models.Exception{
				Kind:     models.ExceptionDuplicateFiscalDoc,
				Severity: models.SeverityWarning,
				Field:    "tax_id",
				Message: fmt.Sprintf("document %s repeats tax id %s already used by document %s; it was ignored",
					doc.DocumentNumber, taxID, first.DocumentNumber),
			})
			continue
		}
		byTaxID[taxID] = doc
	}
	return byTaxID
}

func (r *Reconciler) reconcileOne(rec *models.ConsolidatedStoreRecord, client *models.CanonicalClient, byTaxID map[string]*models.FiscalDocument) (*models.ReconciliationResult, *models.Exception) {
	base := rec.BaseAmount()
	res := &models.ReconciliationResult{
		Consolidated:     rec,
		MatchState:       models.MatchStateMissing,
		BaseAmount:       base,
		InvoiceAmount:    base.Mul(r.config.InvoiceRate).Round(2),
		CreditNoteAmount: base.Mul(r.config.CreditNoteRate).Round(2),
		WithholdingTax:   decimal.Zero,
	}
	if client != nil && client.InvoiceSuppressed {
		res.InvoiceAmount = decimal.Zero
	}

	var exception *models.Exception
	taxID := ""
	if client != nil {
		taxID = parsers.NormalizeTaxID(client.TaxID)
	}

	if doc, ok := byTaxID[taxID]; ok && taxID != "" {
		res.FiscalDocument = doc
		res.MatchState = models.MatchStateMatched
		res.WithholdingTax = doc.WithholdingTaxAmount
	} else {
		if r.config.special(client) {
			res.WithholdingTax = res.InvoiceAmount.Mul(r.config.WithholdingRate).Round(2)
			res.WithholdingEstimated = true
		}
		exception = r.missingException(rec.ClientID, taxID, res)
	}

	res.FinalPayable = base
	switch r.config.PayablePolicy {
	case PayableNetOfWithholding:
		res.FinalPayable = base.Sub(res.WithholdingTax)
	case PayableNetForSpecialCluster:
		if r.config.special(client) {
			res.FinalPayable = base.Sub(res.WithholdingTax)
		}
	}

	return res, exception
}

func (r *Reconciler) missingException(clientID, taxID string, res *models.ReconciliationResult) *models.Exception {
	if taxID == "" {
		return &models.Exception{
			Kind:     models.ExceptionMissingTaxID,
			Severity: models.SeverityWarning,
			ClientID: clientID,
			Field:    "tax_id",
			Message:  fmt.Sprintf("client %s has no tax id; no fiscal document can be matched", clientID),
		}
	}

	message := fmt.Sprintf("no fiscal document for tax id %s; supply one or accept zero withholding", taxID)
	if res.WithholdingEstimated {
		message = fmt.Sprintf("no fiscal document for tax id %s; withholding estimated at %s", taxID, res.WithholdingTax.StringFixed(2))
	}
	return &models.Exception{
		Kind:     models.ExceptionMissingFiscalDoc,
		Severity: models.SeverityWarning,
		ClientID: clientID,
		Field:    "tax_id",
		Message:  message,
	}
}
