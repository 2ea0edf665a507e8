// Package classifier assigns a validation status to every billing record.
//
// Rules are evaluated in a fixed precedence and the first one that applies
// decides the status:
//  1. OUT_OF_PERIOD when the start time falls outside the batch period
//  2. WRONG_CYCLE when the client's billing cycle was not selected
//  3. CANCEL for sessions shorter than the cancel threshold
//  4. CORRECTION for sessions longer than the maximum, with a suggestion
//  5. OK otherwise
//
// Operator overrides sit on top of the rule status and win until cleared.
//
// Example usage:
//
//	c := classifier.New(classifier.DefaultRules(), ctx, index)
//	exceptions := c.ClassifyAll(records)
package classifier

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
	"store-billing-reconciler/pkg/logger"
)

// Rules holds the duration thresholds
type Rules struct {
	// CancelBelowHours flags positive durations strictly below it as CANCEL.
	CancelBelowHours decimal.Decimal `json:"cancel_below_hours" mapstructure:"cancel_below_hours"`
	// MaxHours flags durations strictly above it as CORRECTION.
	MaxHours decimal.Decimal `json:"max_hours" mapstructure:"max_hours"`
}

// DefaultRules returns the standard thresholds: 0.16h and 6h
func DefaultRules() Rules {
	return Rules{
		CancelBelowHours: decimal.RequireFromString("0.16"),
		MaxHours:         decimal.NewFromInt(6),
	}
}

// Validate checks that the thresholds are usable
func (r Rules) Validate() error {
	if r.CancelBelowHours.IsNegative() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "cancel_below_hours", r.CancelBelowHours.String(), nil)
	}
	if !r.MaxHours.IsPositive() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_hours", r.MaxHours.String(), nil)
	}
	if r.CancelBelowHours.GreaterThanOrEqual(r.MaxHours) {
		return errors.ConfigurationError(errors.CodeConfigConflict, "cancel_below_hours", r.CancelBelowHours.String(), nil).
			WithSuggestion("the cancel threshold must be below the maximum duration")
	}
	return nil
}

// BatchContext carries the batch-wide filters
type BatchContext struct {
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	SelectedCycleIDs []string   `json:"selected_cycle_ids,omitempty"`
}

// OutOfPeriod reports whether t falls outside [PeriodStart, PeriodEnd].
// Each bound applies only when set, and a record without a start time is
// never out of period.
func (c BatchContext) OutOfPeriod(t *time.Time) bool {
	if t == nil {
		return false
	}
	if c.PeriodStart != nil && t.Before(*c.PeriodStart) {
		return true
	}
	if c.PeriodEnd != nil && t.After(*c.PeriodEnd) {
		return true
	}
	return false
}

// WrongCycle reports whether a client of cycleID is excluded by the cycle
// selection. An empty selection excludes nothing, and a client without a
// cycle is never excluded.
func (c BatchContext) WrongCycle(cycleID string) bool {
	if len(c.SelectedCycleIDs) == 0 || cycleID == "" {
		return false
	}
	for _, id := range c.SelectedCycleIDs {
		if id == cycleID {
			return false
		}
	}
	return true
}

// Validate checks that the period bounds are ordered
func (c BatchContext) Validate() error {
	if c.PeriodStart != nil && c.PeriodEnd != nil && c.PeriodEnd.Before(*c.PeriodStart) {
		return errors.ConfigurationError(errors.CodeConfigConflict, "period_end", c.PeriodEnd.Format(time.RFC3339), nil).
			WithSuggestion("the period end must not be before the period start")
	}
	return nil
}

// ClientLookup finds a client by id
type ClientLookup interface {
	Client(id string) (*models.CanonicalClient, bool)
}

// Classifier evaluates the rules against records of one batch
type Classifier struct {
	rules   Rules
	context BatchContext
	clients ClientLookup
	logger  logger.Logger
}

// New creates a classifier. clients may be nil when no cycle selection is
// in use.
func New(rules Rules, context BatchContext, clients ClientLookup) *Classifier {
	return &Classifier{
		rules:   rules,
		context: context,
		clients: clients,
		logger:  logger.GetGlobalLogger().WithComponent("classifier"),
	}
}

// Evaluate computes the rule status of a record without modifying it. The
// suggestion is non-nil only for CORRECTION.
func (c *Classifier) Evaluate(record *models.RawRecord) (models.ValidationStatus, *models.CorrectionSuggestion) {
	if c.context.OutOfPeriod(record.StartTime) {
		return models.StatusOutOfPeriod, nil
	}

	if record.Match.Matched() && c.clients != nil {
		if client, ok := c.clients.Client(record.Match.ClientID); ok && c.context.WrongCycle(client.BillingCycleID) {
			return models.StatusWrongCycle, nil
		}
	}

	hours := record.DurationHours
	if hours.IsPositive() && hours.LessThan(c.rules.CancelBelowHours) {
		return models.StatusCancel, nil
	}

	if hours.GreaterThan(c.rules.MaxHours) {
		return models.StatusCorrection, c.suggest(record)
	}

	return models.StatusOK, nil
}

// suggest scales the amount down to the maximum duration
func (c *Classifier) suggest(record *models.RawRecord) *models.CorrectionSuggestion {
	suggestion := &models.CorrectionSuggestion{
		Duration: c.rules.MaxHours,
		Amount:   record.GrossAmount.Mul(c.rules.MaxHours).Div(record.DurationHours).Round(2),
	}
	if record.StartTime != nil {
		end := record.StartTime.Add(time.Duration(c.rules.MaxHours.Mul(decimal.NewFromInt(int64(time.Hour))).IntPart()))
		suggestion.EndTime = &end
	} else if record.EndTime != nil {
		end := *record.EndTime
		suggestion.EndTime = &end
	}
	return suggestion
}

// Classify recomputes the rule status of record from scratch and stores it.
// The override, if any, is left untouched. A correction returns an
// informational exception describing the suggestion.
func (c *Classifier) Classify(record *models.RawRecord) *models.Exception {
	record.RuleStatus, record.Suggestion = c.Evaluate(record)
	return CorrectionException(record)
}

// CorrectionException describes the pending correction of a record, or
// returns nil when the record has none or an operator overrode it.
func CorrectionException(record *models.RawRecord) *models.Exception {
	if record.Suggestion == nil || record.Status() != models.StatusCorrection {
		return nil
	}
	return &models.Exception{
		Kind:     models.ExceptionCorrection,
		Severity: models.SeverityInfo,
		RecordID: record.ID,
		Line:     record.Line,
		ClientID: record.Match.ClientID,
		Field:    "duration",
		Message: fmt.Sprintf("duration %sh exceeds %sh; suggested amount %s instead of %s",
			record.DurationHours.String(), record.Suggestion.Duration.String(),
			record.Suggestion.Amount.StringFixed(2), record.GrossAmount.StringFixed(2)),
	}
}

// Reclassify is Classify for a record whose client changed. Cycle
// membership depends on the client, so every rule is evaluated again.
func (c *Classifier) Reclassify(record *models.RawRecord) *models.Exception {
	return c.Classify(record)
}

// ClassifyAll classifies every record and returns the correction exceptions
func (c *Classifier) ClassifyAll(records []*models.RawRecord) []models.Exception {
	var exceptions []models.Exception
	counts := make(map[models.ValidationStatus]int)
	for _, record := range records {
		if e := c.Classify(record); e != nil {
			exceptions = append(exceptions, *e)
		}
		counts[record.RuleStatus]++
	}

	fields := logger.Fields{"records": len(records)}
	for status, n := range counts {
		fields[string(status)] = n
	}
	c.logger.WithFields(fields).Info("Classification completed")
	return exceptions
}

// Override sets an operator decision on record. Only REMOVED and OK may be
// set by hand; the rule status is kept so the override can be cleared.
func Override(record *models.RawRecord, status models.ValidationStatus, reason string) error {
	if status != models.StatusRemoved && status != models.StatusOK {
		return errors.ValidationError(errors.CodeInvalidOverride, "status", status.String(), nil)
	}
	record.Override = &models.StatusOverride{Status: status, Reason: reason}
	return nil
}

// ClearOverride restores the rule-computed status
func ClearOverride(record *models.RawRecord) {
	record.Override = nil
}
