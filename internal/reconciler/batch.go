package reconciler

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/classifier"
	"store-billing-reconciler/internal/consolidation"
	"store-billing-reconciler/internal/duplicates"
	"store-billing-reconciler/internal/fiscal"
	"store-billing-reconciler/internal/matcher"
	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
	"store-billing-reconciler/pkg/logger"
)

// Batch is one processed spreadsheet. It stays open for manual resolution:
// every resolution method updates the affected records and recomputes the
// totals and exceptions. The methods are safe for concurrent use.
type Batch struct {
	ID        string
	Source    string
	CreatedAt time.Time

	// Records are the normalized records in sheet order. Treat them as read
	// only; change them through the resolution methods.
	Records []*models.RawRecord

	mu   sync.Mutex
	byID map[string]*models.RawRecord

	index      *matcher.ClientIndex
	matcher    *matcher.ClientMatcher
	classifier *classifier.Classifier
	detector   *duplicates.Detector
	engine     *consolidation.Engine
	reconciler *fiscal.Reconciler

	adjustments []*models.Adjustment
	documents   []*models.FiscalDocument

	rowExceptions []models.Exception
	duplicates    *duplicates.Result
	consolidation *consolidation.Result
	fiscal        *fiscal.Result
	exceptions    []models.Exception

	logger logger.Logger
}

func newBatch(id string, input *BatchInput, config *Config, index *matcher.ClientIndex) *Batch {
	return &Batch{
		ID:          id,
		Source:      input.Source,
		CreatedAt:   time.Now().UTC(),
		byID:        make(map[string]*models.RawRecord, len(input.Rows)),
		index:       index,
		matcher:     matcher.NewClientMatcher(index, config.Matching),
		classifier:  classifier.New(config.Rules, input.Context, index),
		detector:    duplicates.NewDetector(),
		engine:      consolidation.NewEngine(config.Rollup),
		reconciler:  fiscal.NewReconciler(config.Fiscal),
		adjustments: input.Adjustments,
		documents:   input.Documents,
		logger:      logger.GetGlobalLogger().WithComponent("batch").WithField("batch_id", id),
	}
}

func (b *Batch) addRecord(r *models.RawRecord) {
	b.Records = append(b.Records, r)
	b.byID[r.ID] = r
}

// Record returns the record with the given id
func (b *Batch) Record(id string) (*models.RawRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byID[id]
	return r, ok
}

func (b *Batch) record(id string) (*models.RawRecord, error) {
	r, ok := b.byID[id]
	if !ok {
		return nil, errors.MatchingError(errors.CodeUnknownRecord, id, nil)
	}
	return r, nil
}

// ResolveMatch assigns a record to a client chosen by an operator. The
// record is classified again since the cycle rule depends on the client.
func (b *Batch) ResolveMatch(recordID, clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.record(recordID)
	if err != nil {
		return err
	}
	if err := b.matcher.Assign(r, clientID); err != nil {
		return err
	}
	b.classifier.Reclassify(r)
	b.logger.WithFields(logger.Fields{"record_id": recordID, "client_id": clientID}).Info("Match resolved manually")

	b.recompute()
	return nil
}

// Rematch discards a manual match and runs the automatic cascade again
func (b *Batch) Rematch(recordID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.record(recordID)
	if err != nil {
		return err
	}
	r.Match = b.matcher.Match(r)
	b.classifier.Reclassify(r)

	b.recompute()
	return nil
}

// OverrideStatus sets an operator status on a record. Only REMOVED and OK
// are accepted.
func (b *Batch) OverrideStatus(recordID string, status models.ValidationStatus, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.record(recordID)
	if err != nil {
		return err
	}
	if err := classifier.Override(r, status, reason); err != nil {
		return err
	}
	b.logger.WithFields(logger.Fields{"record_id": recordID, "status": status}).Info("Status overridden")

	b.recompute()
	return nil
}

// ClearOverride returns a record to its rule-computed status
func (b *Batch) ClearOverride(recordID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.record(recordID)
	if err != nil {
		return err
	}
	classifier.ClearOverride(r)

	b.recompute()
	return nil
}

// SetManualValue replaces the amount a record contributes. A nil value
// clears it.
func (b *Batch) SetManualValue(recordID string, value *decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.record(recordID)
	if err != nil {
		return err
	}
	if value != nil && value.IsNegative() {
		return errors.ValidationError(errors.CodeInvalidAmount, "manual_value", value.String(), nil)
	}
	if value != nil {
		v := *value
		value = &v
	}
	r.ManualValue = value

	b.recompute()
	return nil
}

// KeepFirst resolves a duplicate group to its first record and returns the
// number of records removed.
func (b *Batch) KeepFirst(groupID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.duplicates.Group(groupID)
	if !ok {
		return 0, errors.MatchingError(errors.CodeUnknownRecord, groupID, nil).
			WithSuggestion("use a group id from the duplicate groups of the batch result")
	}
	removed := duplicates.KeepFirst(g)
	b.logger.WithFields(logger.Fields{"group_id": groupID, "removed": removed}).Info("Duplicate group resolved")

	b.recompute()
	return removed, nil
}

// ToggleRecord removes an active record or restores a removed or duplicate
// one. It returns the new status.
func (b *Batch) ToggleRecord(recordID string) (models.ValidationStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.record(recordID)
	if err != nil {
		return "", err
	}
	status := duplicates.Toggle(r)

	b.recompute()
	return status, nil
}

// Recompute rebuilds totals and exceptions from the current record state.
// The result depends only on that state.
func (b *Batch) Recompute() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recompute()
}

// Exceptions returns a copy of the current exceptions
func (b *Batch) Exceptions() []models.Exception {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Exception(nil), b.exceptions...)
}

// Summary returns aggregate statistics of the current state
func (b *Batch) Summary() *BatchSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary()
}

// Result returns a snapshot of the current state for reporting
func (b *Batch) Result() *BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result()
}
