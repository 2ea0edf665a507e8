package reconciler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/parsers"
	"store-billing-reconciler/pkg/logger"
)

// forEach calls fn for every index in [0, n) on at most limit goroutines.
// fn must only touch data owned by its index. It stops early when ctx is
// cancelled.
func forEach(ctx context.Context, limit, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// normalize converts every row into a record. Rows without a store name
// and reference are dropped; row issues become exceptions in row order.
func (p *Pipeline) normalize(ctx context.Context, b *Batch, n *parsers.RecordNormalizer, input *BatchInput) error {
	records := make([]*models.RawRecord, len(input.Rows))
	issues := make([][]models.Exception, len(input.Rows))

	err := forEach(ctx, p.config.MaxConcurrency, len(input.Rows), func(i int) {
		records[i], issues[i] = n.NormalizeRow(input.Rows[i], input.line(i))
	})
	if err != nil {
		return err
	}

	skipped := 0
	for i, r := range records {
		b.rowExceptions = append(b.rowExceptions, issues[i]...)
		if r == nil {
			skipped++
			continue
		}
		b.addRecord(r)
	}

	p.logger.WithFields(logger.Fields{
		"batch_id": b.ID,
		"records":  len(b.Records),
		"skipped":  skipped,
		"issues":   len(b.rowExceptions),
	}).Debug("Rows normalized")
	return nil
}

// match resolves every record against the read-only client index
func (p *Pipeline) match(ctx context.Context, b *Batch) error {
	return forEach(ctx, p.config.MaxConcurrency, len(b.Records), func(i int) {
		r := b.Records[i]
		r.Match = b.matcher.Match(r)
	})
}

// classify evaluates the rules for every record
func (p *Pipeline) classify(ctx context.Context, b *Batch) error {
	return forEach(ctx, p.config.MaxConcurrency, len(b.Records), func(i int) {
		b.classifier.Classify(b.Records[i])
	})
}
