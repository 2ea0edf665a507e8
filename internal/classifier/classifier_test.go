package classifier

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
)

type clientMap map[string]*models.CanonicalClient

func (m clientMap) Client(id string) (*models.CanonicalClient, bool) {
	c, ok := m[id]
	return c, ok
}

func ptr(t time.Time) *time.Time { return &t }

var (
	jan15 = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	feb01 = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
)

func newRecord(hours string, amount string) *models.RawRecord {
	return &models.RawRecord{
		ID:            "R00002",
		Line:          2,
		StartTime:     ptr(jan15),
		GrossAmount:   decimal.RequireFromString(amount),
		DurationHours: decimal.RequireFromString(hours),
		Match:         models.MatchResult{ClientID: "C1", Tier: models.TierPlatformName},
	}
}

func testClients() clientMap {
	return clientMap{
		"C1": {ID: "C1", LegalName: "Loja Centro", BillingCycleID: "monthly", Active: true},
		"C2": {ID: "C2", LegalName: "Loja Norte", Active: true},
	}
}

func TestClassifier_DurationRules(t *testing.T) {
	c := New(DefaultRules(), BatchContext{}, testClients())

	tests := []struct {
		hours    string
		expected models.ValidationStatus
	}{
		{"0.1", models.StatusCancel},
		{"0.15", models.StatusCancel},
		{"0.16", models.StatusOK},
		{"0", models.StatusOK},
		{"4", models.StatusOK},
		{"6", models.StatusOK},
		{"6.01", models.StatusCorrection},
		{"8", models.StatusCorrection},
	}

	for _, tt := range tests {
		status, _ := c.Evaluate(newRecord(tt.hours, "100"))
		if status != tt.expected {
			t.Errorf("duration %s: expected %s, got %s", tt.hours, tt.expected, status)
		}
	}
}

func TestClassifier_CorrectionSuggestion(t *testing.T) {
	c := New(DefaultRules(), BatchContext{}, nil)
	record := newRecord("8", "100.00")

	exception := c.Classify(record)
	if record.RuleStatus != models.StatusCorrection {
		t.Fatalf("expected CORRECTION, got %s", record.RuleStatus)
	}
	if record.Suggestion == nil {
		t.Fatal("expected a suggestion")
	}
	if !record.Suggestion.Duration.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected suggested duration 6, got %s", record.Suggestion.Duration)
	}
	if !record.Suggestion.Amount.Equal(decimal.RequireFromString("75.00")) {
		t.Errorf("expected suggested amount 75.00, got %s", record.Suggestion.Amount)
	}
	if record.Suggestion.EndTime == nil || !record.Suggestion.EndTime.Equal(jan15.Add(6*time.Hour)) {
		t.Errorf("expected suggested end start+6h, got %v", record.Suggestion.EndTime)
	}
	if exception == nil || exception.Kind != models.ExceptionCorrection {
		t.Errorf("expected a correction exception, got %+v", exception)
	}
	if !record.Amount().Equal(decimal.RequireFromString("75")) {
		t.Errorf("a correction contributes the suggested amount, got %s", record.Amount())
	}
}

func TestClassifier_CorrectionWithoutStartTime(t *testing.T) {
	c := New(DefaultRules(), BatchContext{}, nil)
	record := newRecord("9", "90")
	record.StartTime = nil
	end := jan15.Add(9 * time.Hour)
	record.EndTime = &end

	c.Classify(record)
	if record.Suggestion == nil || record.Suggestion.EndTime == nil || !record.Suggestion.EndTime.Equal(end) {
		t.Errorf("end time should stay unchanged without a start time, got %+v", record.Suggestion)
	}
	if !record.Suggestion.Amount.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected 60.00, got %s", record.Suggestion.Amount)
	}
}

func TestClassifier_Precedence(t *testing.T) {
	ctx := BatchContext{
		PeriodStart:      ptr(feb01),
		PeriodEnd:        ptr(feb01.AddDate(0, 1, 0)),
		SelectedCycleIDs: []string{"weekly"},
	}
	c := New(DefaultRules(), ctx, testClients())

	// Out of period beats every duration rule.
	for _, hours := range []string{"0.1", "4", "12"} {
		record := newRecord(hours, "100")
		c.Classify(record)
		if record.RuleStatus != models.StatusOutOfPeriod {
			t.Errorf("duration %s: expected OUT_OF_PERIOD, got %s", hours, record.RuleStatus)
		}
		if record.Suggestion != nil {
			t.Errorf("duration %s: out of period records get no suggestion", hours)
		}
	}

	record := newRecord("12", "100")
	record.StartTime = ptr(feb01.AddDate(0, 0, 3))
	c.Classify(record)
	if record.RuleStatus != models.StatusWrongCycle {
		t.Errorf("expected WRONG_CYCLE, got %s", record.RuleStatus)
	}

	record.Match = models.MatchResult{ClientID: "C2", Tier: models.TierManual}
	c.Reclassify(record)
	if record.RuleStatus != models.StatusCorrection {
		t.Errorf("a client without a cycle falls through to the duration rules, got %s", record.RuleStatus)
	}

	record.Match = models.MatchResult{Tier: models.TierNone}
	c.Reclassify(record)
	if record.RuleStatus != models.StatusCorrection {
		t.Errorf("unmatched records keep the duration rules, got %s", record.RuleStatus)
	}
}

func TestClassifier_Reclassify(t *testing.T) {
	ctx := BatchContext{SelectedCycleIDs: []string{"weekly"}}
	c := New(DefaultRules(), ctx, testClients())

	record := newRecord("4", "100")
	record.Match = models.MatchResult{Tier: models.TierNone}
	c.Classify(record)
	if record.RuleStatus != models.StatusOK {
		t.Fatalf("expected OK before matching, got %s", record.RuleStatus)
	}

	record.Match = models.MatchResult{ClientID: "C1", Tier: models.TierManual}
	c.Reclassify(record)
	if record.RuleStatus != models.StatusWrongCycle {
		t.Errorf("re-matching must re-evaluate the cycle rule, got %s", record.RuleStatus)
	}
}

func TestOverride(t *testing.T) {
	c := New(DefaultRules(), BatchContext{}, nil)
	record := newRecord("0.1", "100")
	c.Classify(record)

	if err := Override(record, models.StatusOK, "confirmed by store"); err != nil {
		t.Fatalf("Override() error = %v", err)
	}
	if record.Status() != models.StatusOK {
		t.Errorf("override should win, got %s", record.Status())
	}

	// Re-running the rules keeps the operator decision.
	c.Classify(record)
	if record.Status() != models.StatusOK || record.RuleStatus != models.StatusCancel {
		t.Errorf("expected override OK over rule CANCEL, got %s/%s", record.Status(), record.RuleStatus)
	}

	ClearOverride(record)
	if record.Status() != models.StatusCancel {
		t.Errorf("clearing restores the rule status, got %s", record.Status())
	}

	err := Override(record, models.StatusCorrection, "")
	if !errors.HasCode(err, errors.CodeInvalidOverride) {
		t.Errorf("expected invalid_override, got %v", err)
	}
}

func TestRulesAndContext_Validate(t *testing.T) {
	if err := DefaultRules().Validate(); err != nil {
		t.Errorf("default rules should be valid: %v", err)
	}
	if err := (Rules{CancelBelowHours: decimal.NewFromInt(7), MaxHours: decimal.NewFromInt(6)}).Validate(); err == nil {
		t.Error("expected conflict error")
	}
	if err := (BatchContext{PeriodStart: ptr(feb01), PeriodEnd: ptr(jan15)}).Validate(); err == nil {
		t.Error("expected inverted period error")
	}
	if (BatchContext{}).OutOfPeriod(nil) {
		t.Error("no start time is never out of period")
	}
}

func BenchmarkClassifyAll(b *testing.B) {
	c := New(DefaultRules(), BatchContext{SelectedCycleIDs: []string{"monthly"}}, testClients())
	records := make([]*models.RawRecord, 1000)
	for i := range records {
		records[i] = newRecord("7", "120")
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.ClassifyAll(records)
	}
}
