package models

import (
	"github.com/shopspring/decimal"
)

// ConsolidatedStoreRecord is the per-client aggregate of one batch. A
// parent's totals include the totals of its folded Children; the children
// keep their own totals for audit but are not billed.
type ConsolidatedStoreRecord struct {
	ClientID           string                     `json:"client_id"`
	GrossTotal         decimal.Decimal            `json:"gross_total"`
	CreditsTotal       decimal.Decimal            `json:"credits_total"`
	DebitsTotal        decimal.Decimal            `json:"debits_total"`
	Children           []*ConsolidatedStoreRecord `json:"children,omitempty"`
	RecordCount        int                        `json:"record_count"`
	AppliedAdjustments []string                   `json:"applied_adjustments,omitempty"`
	FoldedInto         string                     `json:"folded_into,omitempty"`
	Billable           bool                       `json:"billable"`
}

// BaseAmount returns gross plus credits minus debits
func (c *ConsolidatedStoreRecord) BaseAmount() decimal.Decimal {
	return c.GrossTotal.Add(c.CreditsTotal).Sub(c.DebitsTotal)
}

// MatchState tells whether a fiscal document was found for a client
type MatchState string

const (
	MatchStateMatched MatchState = "MATCHED"
	MatchStateMissing MatchState = "MISSING"
)

// ReconciliationResult is the fiscal view of one billable client
type ReconciliationResult struct {
	Consolidated         *ConsolidatedStoreRecord `json:"consolidated"`
	FiscalDocument       *FiscalDocument          `json:"fiscal_document,omitempty"`
	MatchState           MatchState               `json:"match_state"`
	BaseAmount           decimal.Decimal          `json:"base_amount"`
	InvoiceAmount        decimal.Decimal          `json:"invoice_amount"`
	CreditNoteAmount     decimal.Decimal          `json:"credit_note_amount"`
	WithholdingTax       decimal.Decimal          `json:"withholding_tax"`
	WithholdingEstimated bool                     `json:"withholding_estimated,omitempty"`
	FinalPayable         decimal.Decimal          `json:"final_payable"`
}

// ExceptionKind classifies a soft issue reported alongside a batch result
type ExceptionKind string

const (
	ExceptionUnparseableDate     ExceptionKind = "unparseable_date"
	ExceptionUnparseableAmount   ExceptionKind = "unparseable_amount"
	ExceptionUnparseableHours    ExceptionKind = "unparseable_duration"
	ExceptionUnmatchedClient     ExceptionKind = "unmatched_client"
	ExceptionAmbiguousMatch      ExceptionKind = "ambiguous_match"
	ExceptionCorrection          ExceptionKind = "correction_suggested"
	ExceptionExactDuplicate      ExceptionKind = "exact_duplicate"
	ExceptionSuspiciousDuplicate ExceptionKind = "suspicious_duplicate"
	ExceptionInvalidParentLink   ExceptionKind = "invalid_parent_link"
	ExceptionMissingFiscalDoc    ExceptionKind = "missing_fiscal_document"
	ExceptionDuplicateFiscalDoc  ExceptionKind = "duplicate_fiscal_document"
	ExceptionMissingTaxID        ExceptionKind = "missing_tax_id"
)

// Severity of an exception
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Exception is a per-record or per-client issue that never aborts a batch
type Exception struct {
	Kind        ExceptionKind `json:"kind"`
	Severity    Severity      `json:"severity"`
	RecordID    string        `json:"record_id,omitempty"`
	Line        int           `json:"line,omitempty"`
	ClientID    string        `json:"client_id,omitempty"`
	Field       string        `json:"field,omitempty"`
	Message     string        `json:"message"`
	Candidates  []string      `json:"candidates,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}
