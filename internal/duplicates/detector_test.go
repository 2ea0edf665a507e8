package duplicates

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/models"
)

var start = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

func newRecord(id, professional, store string, startOffset time.Duration, amount string) *models.RawRecord {
	s := start.Add(startOffset)
	e := s.Add(4 * time.Hour)
	return &models.RawRecord{
		ID:               id,
		ProfessionalName: professional,
		StoreNameRaw:     store,
		StartTime:        &s,
		EndTime:          &e,
		GrossAmount:      decimal.RequireFromString(amount),
		DurationHours:    decimal.NewFromInt(4),
		RoleLabel:        "Repositora",
		Phone:            "11999990000",
		RuleStatus:       models.StatusOK,
		Match:            models.MatchResult{ClientID: "C1", Tier: models.TierPlatformName},
	}
}

func TestDetect_ExactAndSuspicious(t *testing.T) {
	records := []*models.RawRecord{
		newRecord("R1", "Maria Silva", "LOJA CENTRO", 0, "100"),
		newRecord("R2", "MARIA  SILVA", "LOJA CENTRO", 0, "100"),
		newRecord("R3", "Maria Silva", "LOJA CENTRO", 0, "100"),
		newRecord("R4", "Ana Souza", "LOJA CENTRO", 0, "80"),
		newRecord("R5", "ana souza", "LOJA CENTRO", 0, "95"),
		newRecord("R6", "Ana Souza", "LOJA NORTE", 0, "80"),
		newRecord("R7", "Maria Silva", "LOJA CENTRO", 24*time.Hour, "100"),
	}

	result := NewDetector().Detect(records)

	if len(result.ExactGroups) != 1 {
		t.Fatalf("expected 1 exact group, got %d", len(result.ExactGroups))
	}
	exact := result.ExactGroups[0]
	if fmt.Sprint(exact.RecordIDs()) != "[R1 R2 R3]" {
		t.Errorf("unexpected exact members %v", exact.RecordIDs())
	}
	if exact.ID != "EXACT-R1" || exact.Kind != KindExact {
		t.Errorf("unexpected exact group %s/%s", exact.ID, exact.Kind)
	}

	if len(result.SuspiciousGroups) != 1 {
		t.Fatalf("expected 1 suspicious group, got %d", len(result.SuspiciousGroups))
	}
	if fmt.Sprint(result.SuspiciousGroups[0].RecordIDs()) != "[R4 R5]" {
		t.Errorf("unexpected suspicious members %v", result.SuspiciousGroups[0].RecordIDs())
	}

	for _, r := range records {
		if r.DuplicateOf != "" || r.Override != nil {
			t.Errorf("Detect must not modify record %s", r.ID)
		}
	}
}

func TestDetect_PartitionInvariant(t *testing.T) {
	var records []*models.RawRecord
	for i := 0; i < 30; i++ {
		// Several names and amounts collide to produce both kinds of groups.
		records = append(records, newRecord(
			fmt.Sprintf("R%02d", i),
			[]string{"Maria", "Ana", "Joao"}[i%3],
			"LOJA CENTRO",
			time.Duration(i%4)*time.Hour,
			[]string{"100", "100", "90", "80", "70"}[i%5],
		))
	}

	result := NewDetector().Detect(records)
	seen := make(map[string]string)
	for _, groups := range [][]*Group{result.ExactGroups, result.SuspiciousGroups} {
		for _, g := range groups {
			if len(g.Records) < 2 {
				t.Errorf("group %s has fewer than 2 members", g.ID)
			}
			for _, id := range g.RecordIDs() {
				if other, ok := seen[id]; ok {
					t.Errorf("record %s appears in %s and %s", id, other, g.ID)
				}
				seen[id] = g.ID
			}
		}
	}
}

func TestDetect_NoStartTimeIsNotSuspicious(t *testing.T) {
	a := newRecord("R1", "Maria", "LOJA", 0, "10")
	b := newRecord("R2", "Maria", "LOJA", 0, "20")
	a.StartTime, b.StartTime = nil, nil

	result := NewDetector().Detect([]*models.RawRecord{a, b})
	if len(result.SuspiciousGroups) != 0 {
		t.Error("records without a start time must not form suspicious groups")
	}
}

func TestKeepFirst(t *testing.T) {
	records := []*models.RawRecord{
		newRecord("R1", "Maria", "LOJA", 0, "100"),
		newRecord("R2", "Maria", "LOJA", 0, "100"),
		newRecord("R3", "Maria", "LOJA", 0, "100"),
		newRecord("R4", "Maria", "LOJA", 0, "100"),
	}
	result := NewDetector().Detect(records)
	MarkPending(result)

	removed := KeepFirst(result.ExactGroups[0])
	if removed != 3 {
		t.Errorf("expected 3 removed, got %d", removed)
	}

	active, removedCount := 0, 0
	for _, r := range records {
		switch r.Status() {
		case models.StatusOK:
			active++
		case models.StatusRemoved:
			removedCount++
			if r.DuplicateOf != "R1" {
				t.Errorf("removed record %s should reference R1", r.ID)
			}
		}
	}
	if active != 1 || removedCount != 3 {
		t.Errorf("expected 1 active and 3 removed, got %d/%d", active, removedCount)
	}
	if records[0].Status() != models.StatusOK {
		t.Error("the first record survives")
	}
}

func TestMarkPendingAndAutoResolve(t *testing.T) {
	build := func() []*models.RawRecord {
		return []*models.RawRecord{
			newRecord("R1", "Maria", "LOJA", 0, "100"),
			newRecord("R2", "Maria", "LOJA", 0, "100"),
			newRecord("R3", "Ana", "LOJA", 0, "50"),
			newRecord("R4", "Ana", "LOJA", 0, "60"),
		}
	}

	records := build()
	result := NewDetector().Detect(records)
	if n := MarkPending(result); n != 1 {
		t.Errorf("expected 1 pending, got %d", n)
	}
	if records[1].Status() != models.StatusDuplicate || records[1].Contributes() {
		t.Errorf("pending duplicate should not contribute, status %s", records[1].Status())
	}
	if records[2].Status() != models.StatusOK || records[3].Status() != models.StatusOK {
		t.Error("suspicious groups must never be changed")
	}

	records = build()
	result = NewDetector().Detect(records)
	if n := AutoResolve(result); n != 1 {
		t.Errorf("expected 1 auto-removed, got %d", n)
	}
	if records[1].Status() != models.StatusRemoved {
		t.Errorf("expected REMOVED, got %s", records[1].Status())
	}
	if records[3].Status() != models.StatusOK {
		t.Error("auto resolution must leave suspicious groups alone")
	}

	exceptions := Exceptions(result)
	if len(exceptions) != 2 {
		t.Fatalf("expected 2 exceptions, got %d", len(exceptions))
	}
	if exceptions[0].Kind != models.ExceptionExactDuplicate || exceptions[1].Kind != models.ExceptionSuspiciousDuplicate {
		t.Errorf("unexpected exception kinds %s/%s", exceptions[0].Kind, exceptions[1].Kind)
	}
}

func TestAutoResolve_KeepsPeriodAndCycleRejections(t *testing.T) {
	tests := []struct {
		name   string
		status models.ValidationStatus
	}{
		{"out of period", models.StatusOutOfPeriod},
		{"wrong cycle", models.StatusWrongCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []*models.RawRecord{
				newRecord("R1", "Maria", "LOJA", 0, "100"),
				newRecord("R2", "Maria", "LOJA", 0, "100"),
			}
			for _, r := range records {
				r.RuleStatus = tt.status
			}

			result := NewDetector().Detect(records)
			if len(result.ExactGroups) != 1 {
				t.Fatalf("expected 1 exact group, got %d", len(result.ExactGroups))
			}
			if n := AutoResolve(result); n != 0 {
				t.Errorf("expected nothing removed, got %d", n)
			}
			for _, r := range records {
				if r.Status() != tt.status {
					t.Errorf("%s: status = %s, want %s", r.ID, r.Status(), tt.status)
				}
			}
			if records[1].DuplicateOf != "R1" {
				t.Errorf("R2 should still reference R1, got %q", records[1].DuplicateOf)
			}
		})
	}
}

func TestToggle(t *testing.T) {
	r := newRecord("R1", "Maria", "LOJA", 0, "100")
	if Toggle(r) != models.StatusRemoved {
		t.Error("toggle should remove an active record")
	}
	if Toggle(r) != models.StatusOK {
		t.Error("toggle should restore a removed record")
	}

	r.DuplicateOf = "R0"
	if Toggle(r) != models.StatusOK {
		t.Error("toggle should confirm a pending duplicate as distinct")
	}

	r.RuleStatus = models.StatusOutOfPeriod
	Toggle(r)
	if Toggle(r) != models.StatusOutOfPeriod {
		t.Error("restoring falls back to the rule status")
	}
}

func TestResult_Group(t *testing.T) {
	records := []*models.RawRecord{
		newRecord("R1", "Maria", "LOJA", 0, "100"),
		newRecord("R2", "Maria", "LOJA", 0, "100"),
	}
	result := NewDetector().Detect(records)
	if _, ok := result.Group("EXACT-R1"); !ok {
		t.Error("expected to find group by id")
	}
	if _, ok := result.Group("EXACT-R9"); ok {
		t.Error("unexpected group")
	}
}

func BenchmarkDetect(b *testing.B) {
	var records []*models.RawRecord
	for i := 0; i < 2000; i++ {
		records = append(records, newRecord(
			fmt.Sprintf("R%05d", i),
			fmt.Sprintf("Pro %d", i%300),
			fmt.Sprintf("LOJA %d", i%50),
			time.Duration(i%7)*time.Hour,
			"100",
		))
	}
	d := NewDetector()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Detect(records)
	}
}
