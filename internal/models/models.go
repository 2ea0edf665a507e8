package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one already-decoded spreadsheet row keyed by the raw header text.
// Values are strings or numbers (spreadsheet serial dates arrive as numbers).
type Row map[string]any

// ValidationStatus is the classification attached to a RawRecord
type ValidationStatus string

const (
	StatusOK          ValidationStatus = "OK"
	StatusCancel      ValidationStatus = "CANCEL"
	StatusCorrection  ValidationStatus = "CORRECTION"
	StatusOutOfPeriod ValidationStatus = "OUT_OF_PERIOD"
	StatusWrongCycle  ValidationStatus = "WRONG_CYCLE"
	StatusDuplicate   ValidationStatus = "DUPLICATE"
	StatusRemoved     ValidationStatus = "REMOVED"
)

// String returns the string representation of ValidationStatus
func (s ValidationStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the known values
func (s ValidationStatus) IsValid() bool {
	switch s {
	case StatusOK, StatusCancel, StatusCorrection, StatusOutOfPeriod,
		StatusWrongCycle, StatusDuplicate, StatusRemoved:
		return true
	}
	return false
}

// Contributes reports whether a record with this status adds money to its
// client's total.
func (s ValidationStatus) Contributes() bool {
	return s == StatusOK || s == StatusCorrection
}

// ParseValidationStatus parses a status name, case-insensitively
func ParseValidationStatus(s string) (ValidationStatus, error) {
	status := ValidationStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid validation status '%s'", s)
	}
	return status, nil
}

// MatchTier names the matcher tier that produced a MatchResult
type MatchTier string

const (
	TierNone          MatchTier = "none"
	TierTaxID         MatchTier = "tax_id"
	TierPlatformName  MatchTier = "platform_name"
	TierAlternateName MatchTier = "alternate_name"
	TierSubstring     MatchTier = "substring"
	TierManual        MatchTier = "manual"
)

// MatchResult is the outcome of resolving a record to a canonical client.
// ClientID is empty when no client was chosen; Candidates is only populated
// when the substring tier ended in a tie.
type MatchResult struct {
	ClientID   string    `json:"client_id,omitempty"`
	Candidates []string  `json:"candidates,omitempty"`
	Tier       MatchTier `json:"tier"`
	Score      int       `json:"score,omitempty"`
}

// Matched returns true if a client was resolved
func (m MatchResult) Matched() bool {
	return m.ClientID != ""
}

// Ambiguous returns true if several clients tied and none was chosen
func (m MatchResult) Ambiguous() bool {
	return m.ClientID == "" && len(m.Candidates) > 1
}

// CorrectionSuggestion is attached to records whose duration exceeds the
// allowed maximum.
type CorrectionSuggestion struct {
	Duration decimal.Decimal `json:"duration"`
	Amount   decimal.Decimal `json:"amount"`
	EndTime  *time.Time      `json:"end_time,omitempty"`
}

// StatusOverride is an operator decision that supersedes rule evaluation
type StatusOverride struct {
	Status ValidationStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

// RawRecord is one billable occurrence read from the source spreadsheet.
// The source fields are set once by the normalizer; the classification
// fields below them are attached by later stages.
type RawRecord struct {
	ID   string `json:"id"`
	Line int    `json:"line"`

	ProfessionalName        string          `json:"professional_name,omitempty"`
	Phone                   string          `json:"phone,omitempty"`
	RegionCode              string          `json:"region_code,omitempty"`
	StoreNameRaw            string          `json:"store_name_raw"`
	RoleLabel               string          `json:"role_label,omitempty"`
	StartTime               *time.Time      `json:"start_time,omitempty"`
	EndTime                 *time.Time      `json:"end_time,omitempty"`
	ExternalRef             string          `json:"external_ref,omitempty"`
	ScheduledAt             *time.Time      `json:"scheduled_at,omitempty"`
	StartedAt               *time.Time      `json:"started_at,omitempty"`
	CompletedAt             *time.Time      `json:"completed_at,omitempty"`
	GrossAmount             decimal.Decimal `json:"gross_amount"`
	DurationHours           decimal.Decimal `json:"duration_hours"`
	RawStatusLabel          string          `json:"raw_status_label,omitempty"`
	CancellationDate        *time.Time      `json:"cancellation_date,omitempty"`
	CancellationReason      string          `json:"cancellation_reason,omitempty"`
	CancellationResponsible string          `json:"cancellation_responsible,omitempty"`
	TaxIDRaw                string          `json:"tax_id_raw,omitempty"`
	SourceRow               Row             `json:"source_row,omitempty"`

	Match       MatchResult           `json:"match"`
	RuleStatus  ValidationStatus      `json:"rule_status"`
	Suggestion  *CorrectionSuggestion `json:"suggestion,omitempty"`
	Override    *StatusOverride       `json:"override,omitempty"`
	ManualValue *decimal.Decimal      `json:"manual_value,omitempty"`
	DuplicateOf string                `json:"duplicate_of,omitempty"`
}

// Status returns the effective status of the record. A manual override
// always wins. Period and cycle rejections outrank a pending duplicate flag,
// which in turn outranks the duration rules.
func (r *RawRecord) Status() ValidationStatus {
	if r.Override != nil {
		return r.Override.Status
	}
	if r.RuleStatus == StatusOutOfPeriod || r.RuleStatus == StatusWrongCycle {
		return r.RuleStatus
	}
	if r.DuplicateOf != "" {
		return StatusDuplicate
	}
	if r.RuleStatus == "" {
		return StatusOK
	}
	return r.RuleStatus
}

// Contributes reports whether the record adds money to its client's total
func (r *RawRecord) Contributes() bool {
	return r.Match.Matched() && r.Status().Contributes()
}

// Amount returns the amount this record contributes when it contributes:
// the correction suggestion while the CORRECTION status stands without an
// override, else the manual value when set, else the gross amount.
func (r *RawRecord) Amount() decimal.Decimal {
	if r.Override == nil && r.Status() == StatusCorrection && r.Suggestion != nil {
		return r.Suggestion.Amount
	}
	if r.ManualValue != nil {
		return *r.ManualValue
	}
	return r.GrossAmount
}

// String returns a string representation of the RawRecord
func (r *RawRecord) String() string {
	return fmt.Sprintf("RawRecord{ID: %s, Line: %d, Store: %s, Amount: %s, Status: %s}",
		r.ID, r.Line, r.StoreNameRaw, r.GrossAmount.String(), r.Status())
}
