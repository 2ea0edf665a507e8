// Package reconciler runs the billing reconciliation pipeline over one
// in-memory batch and keeps the batch open for manual resolution.
//
// A run resolves the sheet columns, then normalizes, matches and classifies
// every row on a bounded worker pool. Duplicate detection, consolidation
// and fiscal reconciliation follow sequentially. Only a missing mandatory
// column or cancellation aborts a run; every other issue is collected as an
// exception on the returned Batch.
//
// Example usage:
//
//	pipeline, err := reconciler.NewPipeline(reconciler.DefaultConfig())
//	pipeline.AddProgressCallback(func(p *reconciler.Progress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.CurrentStep)
//	})
//
//	batch, err := pipeline.Run(ctx, &reconciler.BatchInput{
//		Source:  "sales.xlsx",
//		Headers: sheet.Headers,
//		Rows:    sheet.Rows,
//		Clients: clients,
//	})
//	_ = batch.ResolveMatch("R00042", "C17")
//	summary := batch.Summary()
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"store-billing-reconciler/internal/matcher"
	"store-billing-reconciler/internal/parsers"
	"store-billing-reconciler/pkg/errors"
	"store-billing-reconciler/pkg/logger"
)

const (
	StepNormalize   = "Normalizing rows"
	StepMatch       = "Matching clients"
	StepClassify    = "Classifying records"
	StepDuplicates  = "Detecting duplicates"
	StepConsolidate = "Consolidating totals"
	StepFiscal      = "Reconciling fiscal documents"
	StepCompleted   = "Completed"
)

// Progress tracks the progress of a batch run
type Progress struct {
	BatchID          string        `json:"batch_id"`
	TotalSteps       int           `json:"total_steps"`
	CompletedSteps   int           `json:"completed_steps"`
	CurrentStep      string        `json:"current_step"`
	PercentComplete  float64       `json:"percent_complete"`
	StartTime        time.Time     `json:"start_time"`
	ElapsedTime      time.Duration `json:"elapsed_time"`
	TotalRows        int           `json:"total_rows"`
	RecordsProcessed int           `json:"records_processed"`
}

// ProgressCallback is called before each step and once on completion
type ProgressCallback func(*Progress)

// Pipeline runs batches under one configuration. It holds no batch state
// and can run several batches concurrently.
type Pipeline struct {
	config *Config
	logger logger.Logger

	progressCallbacks []ProgressCallback
	progressMutex     sync.RWMutex
}

// NewPipeline creates a pipeline. A nil config uses the defaults.
func NewPipeline(config *Config) (*Pipeline, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("pipeline"),
	}, nil
}

// AddProgressCallback adds a progress callback function
func (p *Pipeline) AddProgressCallback(callback ProgressCallback) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()
	p.progressCallbacks = append(p.progressCallbacks, callback)
}

// Run processes one batch. The returned error is either a configuration
// error (missing amount column, invalid input) or a cancellation.
func (p *Pipeline) Run(ctx context.Context, input *BatchInput) (*Batch, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	op := logger.NewOperationLogger("reconcile_batch", p.logger, logger.Fields{
		"batch_id": batchID,
		"source":   input.Source,
		"rows":     len(input.Rows),
		"clients":  len(input.Clients),
	})

	normalizer, err := parsers.NewRecordNormalizer(input.Source, input.Headers, p.config.Normalizer)
	if err != nil {
		op.Failure(err)
		return nil, err
	}

	index := matcher.NewClientIndex(input.Clients, p.config.Matching)
	batch := newBatch(batchID, input, p.config, index)

	progress := &Progress{
		BatchID:   batchID,
		StartTime: time.Now(),
		TotalRows: len(input.Rows),
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{StepNormalize, func(ctx context.Context) error { return p.normalize(ctx, batch, normalizer, input) }},
		{StepMatch, func(ctx context.Context) error { return p.match(ctx, batch) }},
		{StepClassify, func(ctx context.Context) error { return p.classify(ctx, batch) }},
		{StepDuplicates, func(context.Context) error { batch.detectDuplicates(p.config.AutoResolveDuplicates); return nil }},
		{StepConsolidate, func(context.Context) error { batch.consolidate(); return nil }},
		{StepFiscal, func(context.Context) error { batch.reconcile(); return nil }},
	}
	progress.TotalSteps = len(steps)

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, p.cancelled(op, batchID, err)
		}
		op.Stage(step.name)
		progress.RecordsProcessed = len(batch.Records)
		p.report(progress, step.name, i)

		if err := step.run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, p.cancelled(op, batchID, ctx.Err())
			}
			wrapped := errors.ReconciliationError(errors.CodeProcessingError, step.name, err)
			op.Failure(wrapped)
			return nil, wrapped
		}
	}
	batch.collectExceptions()

	summary := batch.summary()
	progress.RecordsProcessed = len(batch.Records)
	p.report(progress, StepCompleted, len(steps))
	op.Success(logger.Fields{
		"records":    summary.TotalRecords,
		"matched":    summary.Matched,
		"clients":    summary.Clients,
		"exceptions": len(batch.exceptions),
		"payable":    summary.PayableTotal.StringFixed(2),
	})

	return batch, nil
}

func (p *Pipeline) cancelled(op *logger.OperationLogger, batchID string, cause error) error {
	err := errors.ReconciliationError(errors.CodeCancelled, "batch "+batchID, cause)
	op.Failure(err)
	return err
}

func (p *Pipeline) report(progress *Progress, step string, completed int) {
	progress.CurrentStep = step
	progress.CompletedSteps = completed
	progress.ElapsedTime = time.Since(progress.StartTime)
	if progress.TotalSteps > 0 {
		progress.PercentComplete = float64(completed) / float64(progress.TotalSteps) * 100
	}

	p.progressMutex.RLock()
	callbacks := append([]ProgressCallback(nil), p.progressCallbacks...)
	p.progressMutex.RUnlock()

	for _, callback := range callbacks {
		snapshot := *progress
		callback(&snapshot)
	}
}
