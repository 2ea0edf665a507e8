package reconciler

import (
	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/classifier"
	"store-billing-reconciler/internal/duplicates"
	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/logger"
)

// detectDuplicates groups the records and either removes the extra members
// of exact groups or flags them pending.
func (b *Batch) detectDuplicates(autoResolve bool) {
	b.duplicates = b.detector.Detect(b.Records)

	var affected int
	if autoResolve {
		affected = duplicates.AutoResolve(b.duplicates)
	} else {
		affected = duplicates.MarkPending(b.duplicates)
	}
	b.logger.WithFields(logger.Fields{
		"exact_groups":      len(b.duplicates.ExactGroups),
		"suspicious_groups": len(b.duplicates.SuspiciousGroups),
		"auto_resolve":      autoResolve,
		"affected":          affected,
	}).Debug("Duplicates handled")
}

func (b *Batch) consolidate() {
	b.consolidation = b.engine.Consolidate(b.Records, b.adjustments, b.index)
}

func (b *Batch) reconcile() {
	b.fiscal = b.reconciler.Reconcile(b.consolidation.Records, b.documents, b.index)
}

// collectExceptions rebuilds the exception list in a fixed order: row
// issues, then per-record issues in record order, then duplicate groups,
// consolidation and fiscal issues.
func (b *Batch) collectExceptions() {
	out := append([]models.Exception(nil), b.rowExceptions...)
	for _, r := range b.Records {
		if e := b.matcher.Exception(r); e != nil {
			out = append(out, *e)
		}
		if e := classifier.CorrectionException(r); e != nil {
			out = append(out, *e)
		}
	}
	if b.duplicates != nil {
		out = append(out, duplicates.Exceptions(b.duplicates)...)
	}
	if b.consolidation != nil {
		out = append(out, b.consolidation.Exceptions...)
	}
	if b.fiscal != nil {
		out = append(out, b.fiscal.Exceptions...)
	}
	b.exceptions = out
}

func (b *Batch) recompute() {
	b.consolidate()
	b.reconcile()
	b.collectExceptions()
}

func (b *Batch) summary() *BatchSummary {
	s := &BatchSummary{
		BatchID:      b.ID,
		Source:       b.Source,
		CreatedAt:    b.CreatedAt,
		TotalRecords: len(b.Records),
		ByStatus:     make(map[models.ValidationStatus]int),
		Exceptions:   make(map[models.ExceptionKind]int),
		GrossTotal:   decimal.Zero,
	}

	for _, r := range b.Records {
		s.ByStatus[r.Status()]++
		switch {
		case r.Match.Matched():
			s.Matched++
		case r.Match.Ambiguous():
			s.Ambiguous++
		default:
			s.Unmatched++
		}
		if r.Contributes() {
			s.Contributing++
		}
	}

	if b.duplicates != nil {
		s.ExactGroups = len(b.duplicates.ExactGroups)
		s.SuspiciousGroups = len(b.duplicates.SuspiciousGroups)
	}
	if b.consolidation != nil {
		for _, rec := range b.consolidation.Records {
			s.Clients++
			s.FoldedClients += len(rec.Children)
			if rec.Billable {
				s.GrossTotal = s.GrossTotal.Add(rec.GrossTotal)
			}
		}
		s.ConsumedAdjustments = append([]string(nil), b.consolidation.ConsumedAdjustments...)
	}
	if b.fiscal != nil {
		s.BaseTotal, s.InvoiceTotal, s.CreditNoteTotal, s.WithholdingTotal, s.PayableTotal = b.fiscal.Totals()
		s.MissingDocuments = len(b.fiscal.Missing())
	}
	for _, e := range b.exceptions {
		s.Exceptions[e.Kind]++
	}
	return s
}

func (b *Batch) result() *BatchResult {
	res := &BatchResult{
		Summary:    b.summary(),
		Records:    append([]*models.RawRecord(nil), b.Records...),
		Exceptions: append([]models.Exception(nil), b.exceptions...),
		Clients:    make(map[string]*models.CanonicalClient, b.index.Len()),
	}
	if b.duplicates != nil {
		for _, groups := range [][]*duplicates.Group{b.duplicates.ExactGroups, b.duplicates.SuspiciousGroups} {
			for _, g := range groups {
				res.DuplicateGroups = append(res.DuplicateGroups, DuplicateGroup{
					ID:        g.ID,
					Kind:      string(g.Kind),
					RecordIDs: g.RecordIDs(),
					Reason:    g.Reason,
				})
			}
		}
	}
	if b.consolidation != nil {
		res.Consolidated = b.consolidation.Records
		res.ConsumedAdjustments = res.Summary.ConsumedAdjustments
	}
	if b.fiscal != nil {
		res.Reconciliation = b.fiscal.Results
	}
	for _, c := range b.index.Clients() {
		res.Clients[c.ID] = c
	}
	return res
}
