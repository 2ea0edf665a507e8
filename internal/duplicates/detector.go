// Package duplicates finds repeated billing records within a batch.
//
// Two tiers are detected. Exact groups share every field of the composite
// key (professional, store, start, end, amount, role, phone, duration) and
// may be resolved automatically. Suspicious groups share only the store,
// the start and end times and the professional name; they can be
// legitimate distinct occurrences and are only ever reported.
//
// Every record belongs to at most one group: exact members are removed
// from the suspicious search.
//
// Example usage:
//
//	result := duplicates.NewDetector().Detect(records)
//	if autoResolve {
//		duplicates.AutoResolve(result)
//	} else {
//		duplicates.MarkPending(result)
//	}
package duplicates

import (
	"fmt"
	"strings"
	"time"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/parsers"
	"store-billing-reconciler/pkg/logger"
)

// GroupKind tells how a group was detected
type GroupKind string

const (
	KindExact      GroupKind = "exact"
	KindSuspicious GroupKind = "suspicious"
)

// Group is a set of records believed to describe the same occurrence.
// Records keep their input order, so the first one is the survivor of a
// keep-first resolution.
type Group struct {
	ID      string              `json:"id"`
	Kind    GroupKind           `json:"kind"`
	Records []*models.RawRecord `json:"-"`
	Reason  string              `json:"reason"`
}

// RecordIDs returns the ids of the group members
func (g *Group) RecordIDs() []string {
	ids := make([]string, len(g.Records))
	for i, r := range g.Records {
		ids[i] = r.ID
	}
	return ids
}

// Result holds the groups of one detection run, in order of first
// appearance.
type Result struct {
	ExactGroups      []*Group `json:"exact_groups"`
	SuspiciousGroups []*Group `json:"suspicious_groups"`
}

// Group returns the group with the given id
func (r *Result) Group(id string) (*Group, bool) {
	for _, groups := range [][]*Group{r.ExactGroups, r.SuspiciousGroups} {
		for _, g := range groups {
			if g.ID == id {
				return g, true
			}
		}
	}
	return nil, false
}

// Detector partitions records into duplicate groups
type Detector struct {
	logger logger.Logger
}

// NewDetector creates a new Detector
func NewDetector() *Detector {
	return &Detector{
		logger: logger.GetGlobalLogger().WithComponent("duplicate_detector"),
	}
}

// Detect groups the records. It does not modify them.
func (d *Detector) Detect(records []*models.RawRecord) *Result {
	result := &Result{}
	grouped := make(map[*models.RawRecord]bool)

	for _, members := range bucket(records, ExactKey) {
		g := &Group{
			ID:      "EXACT-" + members[0].ID,
			Kind:    KindExact,
			Records: members,
			Reason: fmt.Sprintf("%d records with identical professional, store, times, amount, role, phone and duration",
				len(members)),
		}
		result.ExactGroups = append(result.ExactGroups, g)
		for _, r := range members {
			grouped[r] = true
		}
	}

	var remaining []*models.RawRecord
	for _, r := range records {
		if r != nil && !grouped[r] {
			remaining = append(remaining, r)
		}
	}

	for _, members := range bucket(remaining, SuspiciousKey) {
		result.SuspiciousGroups = append(result.SuspiciousGroups, &Group{
			ID:      "SUSP-" + members[0].ID,
			Kind:    KindSuspicious,
			Records: members,
			Reason:  fmt.Sprintf("%d records for the same professional and store with the same start and end", len(members)),
		})
	}

	d.logger.WithFields(logger.Fields{
		"records":    len(records),
		"exact":      len(result.ExactGroups),
		"suspicious": len(result.SuspiciousGroups),
	}).Info("Duplicate detection completed")

	return result
}

// bucket groups records by key, keeping only buckets of two or more. An
// empty key never groups. Buckets are returned in order of first member.
func bucket(records []*models.RawRecord, key func(*models.RawRecord) string) [][]*models.RawRecord {
	index := make(map[string]int)
	var buckets [][]*models.RawRecord
	for _, r := range records {
		if r == nil {
			continue
		}
		k := key(r)
		if k == "" {
			continue
		}
		i, ok := index[k]
		if !ok {
			i = len(buckets)
			index[k] = i
			buckets = append(buckets, nil)
		}
		buckets[i] = append(buckets[i], r)
	}

	out := buckets[:0]
	for _, b := range buckets {
		if len(b) > 1 {
			out = append(out, b)
		}
	}
	return out
}

// ExactKey builds the composite key of the exact tier
func ExactKey(r *models.RawRecord) string {
	return strings.Join([]string{
		parsers.NormalizeName(r.ProfessionalName),
		parsers.NormalizeName(r.StoreNameRaw),
		timeKey(r.StartTime),
		timeKey(r.EndTime),
		r.GrossAmount.String(),
		strings.TrimSpace(r.RoleLabel),
		strings.TrimSpace(r.Phone),
		r.DurationHours.String(),
	}, "\x1f")
}

// SuspiciousKey builds the key of the near-duplicate tier. Records without
// a start time are not compared.
func SuspiciousKey(r *models.RawRecord) string {
	if r.StartTime == nil {
		return ""
	}
	return strings.Join([]string{
		parsers.NormalizeName(r.StoreNameRaw),
		timeKey(r.StartTime),
		timeKey(r.EndTime),
		parsers.NormalizeName(r.ProfessionalName),
	}, "\x1f")
}

func timeKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
