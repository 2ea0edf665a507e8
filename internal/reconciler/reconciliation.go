package reconciler

import (
	"runtime"
	"time"

	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/classifier"
	"store-billing-reconciler/internal/consolidation"
	"store-billing-reconciler/internal/fiscal"
	"store-billing-reconciler/internal/matcher"
	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/parsers"
	"store-billing-reconciler/pkg/errors"
)

// Config holds configuration options for the reconciliation pipeline
type Config struct {
	Normalizer *parsers.NormalizerConfig
	Matching   *matcher.MatchingConfig
	Rules      classifier.Rules
	Fiscal     *fiscal.Config

	// Rollup selects the children that fold into their parent. Nil keeps
	// every client standalone.
	Rollup consolidation.RollupPolicy

	// AutoResolveDuplicates removes the non-first members of exact
	// duplicate groups. Otherwise they are flagged pending.
	AutoResolveDuplicates bool

	// MaxConcurrency bounds the workers of the per-record stages
	MaxConcurrency int
}

// DefaultConfig returns a default configuration for the pipeline
func DefaultConfig() *Config {
	return &Config{
		Normalizer:     parsers.DefaultNormalizerConfig(),
		Matching:       matcher.DefaultMatchingConfig(),
		Rules:          classifier.DefaultRules(),
		Fiscal:         fiscal.DefaultConfig(),
		MaxConcurrency: runtime.NumCPU(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Normalizer == nil || c.Matching == nil || c.Fiscal == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "pipeline", nil, nil).
			WithSuggestion("start from DefaultConfig and change what you need")
	}
	if err := c.Normalizer.Validate(); err != nil {
		return err
	}
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	if err := c.Rules.Validate(); err != nil {
		return err
	}
	if err := c.Fiscal.Validate(); err != nil {
		return err
	}
	if c.MaxConcurrency <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_concurrency", c.MaxConcurrency, nil)
	}
	return nil
}

// BatchInput is everything one batch run consumes. All collections are
// already fetched; the pipeline performs no I/O.
type BatchInput struct {
	Source  string
	Headers []string
	Rows    []models.Row

	// Lines holds the sheet line of each row. Nil numbers rows from 2,
	// right after the header.
	Lines []int

	Clients     []*models.CanonicalClient
	Adjustments []*models.Adjustment
	Documents   []*models.FiscalDocument
	Context     classifier.BatchContext
}

// Validate validates the batch input
func (in *BatchInput) Validate() error {
	if in == nil {
		return errors.ValidationError(errors.CodeMissingField, "batch_input", nil, nil)
	}
	if in.Lines != nil && len(in.Lines) != len(in.Rows) {
		return errors.ValidationError(errors.CodeMissingField, "lines", len(in.Lines), nil).
			WithSuggestion("provide one line number per row or none at all")
	}
	return in.Context.Validate()
}

func (in *BatchInput) line(i int) int {
	if in.Lines != nil {
		return in.Lines[i]
	}
	return i + 2
}

// BatchSummary provides aggregate statistics about a batch
type BatchSummary struct {
	BatchID      string                          `json:"batch_id"`
	Source       string                          `json:"source"`
	CreatedAt    time.Time                       `json:"created_at"`
	TotalRecords int                             `json:"total_records"`
	ByStatus     map[models.ValidationStatus]int `json:"by_status"`

	Matched          int `json:"matched"`
	Unmatched        int `json:"unmatched"`
	Ambiguous        int `json:"ambiguous"`
	Contributing     int `json:"contributing"`
	ExactGroups      int `json:"exact_groups"`
	SuspiciousGroups int `json:"suspicious_groups"`

	Clients          int `json:"clients"`
	FoldedClients    int `json:"folded_clients"`
	MissingDocuments int `json:"missing_documents"`

	GrossTotal       decimal.Decimal `json:"gross_total"`
	BaseTotal        decimal.Decimal `json:"base_total"`
	InvoiceTotal     decimal.Decimal `json:"invoice_total"`
	CreditNoteTotal  decimal.Decimal `json:"credit_note_total"`
	WithholdingTotal decimal.Decimal `json:"withholding_total"`
	PayableTotal     decimal.Decimal `json:"payable_total"`

	ConsumedAdjustments []string                     `json:"consumed_adjustments,omitempty"`
	Exceptions          map[models.ExceptionKind]int `json:"exceptions"`
}

// HasIssues reports whether the batch needs operator attention
func (s *BatchSummary) HasIssues() bool {
	return s.Unmatched > 0 || s.Ambiguous > 0 || s.MissingDocuments > 0 || s.SuspiciousGroups > 0
}

// DuplicateGroup is the serializable view of a duplicate group
type DuplicateGroup struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	RecordIDs []string `json:"record_ids"`
	Reason    string   `json:"reason"`
}

// BatchResult is an immutable snapshot of a batch handed to reporters
// and persistence.
type BatchResult struct {
	Summary             *BatchSummary                     `json:"summary"`
	Records             []*models.RawRecord               `json:"records"`
	Exceptions          []models.Exception                `json:"exceptions"`
	DuplicateGroups     []DuplicateGroup                  `json:"duplicate_groups,omitempty"`
	Consolidated        []*models.ConsolidatedStoreRecord `json:"consolidated"`
	Reconciliation      []*models.ReconciliationResult    `json:"reconciliation"`
	ConsumedAdjustments []string                          `json:"consumed_adjustments,omitempty"`

	// Clients holds the directory entries referenced by the batch, by id.
	Clients map[string]*models.CanonicalClient `json:"-"`
}
