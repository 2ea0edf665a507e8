package parsers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
)

var standardHeaders = []string{
	"Profissional", "Telefone", "Loja", "Função", "Início", "Fim", "ID",
	"Valor (R$)", "Horas", "Status", "Data de Cancelamento", "Motivo", "CNPJ",
}

func newTestNormalizer(t *testing.T, headers []string) *RecordNormalizer {
	t.Helper()
	n, err := NewRecordNormalizer("test.csv", headers, DefaultNormalizerConfig())
	if err != nil {
		t.Fatalf("NewRecordNormalizer() error = %v", err)
	}
	return n
}

func TestResolveColumns_Exact(t *testing.T) {
	m, err := ResolveColumns("test.csv", standardHeaders, DefaultColumnAliases(), []Field{FieldAmount}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[Field]string{
		FieldProfessionalName:   "Profissional",
		FieldPhone:              "Telefone",
		FieldStoreName:          "Loja",
		FieldRoleLabel:          "Função",
		FieldStartTime:          "Início",
		FieldEndTime:            "Fim",
		FieldExternalRef:        "ID",
		FieldAmount:             "Valor (R$)",
		FieldDuration:           "Horas",
		FieldStatusLabel:        "Status",
		FieldCancellationDate:   "Data de Cancelamento",
		FieldCancellationReason: "Motivo",
		FieldTaxID:              "CNPJ",
	}
	for field, header := range expected {
		got, ok := m.Header(field)
		if !ok || got != header {
			t.Errorf("field %s resolved to %q (%v), want %q", field, got, ok, header)
		}
	}
}

func TestResolveColumns_SubstringFallback(t *testing.T) {
	headers := []string{"Loja Parceira", "Valor Final", "Cidade"}
	m, err := ResolveColumns("test.csv", headers, DefaultColumnAliases(), []Field{FieldAmount}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h, _ := m.Header(FieldAmount); h != "Valor Final" {
		t.Errorf("amount resolved to %q", h)
	}
	if h, _ := m.Header(FieldStoreName); h != "Loja Parceira" {
		t.Errorf("store resolved to %q", h)
	}
	if m.Has(FieldExternalRef) {
		t.Error("two-letter alias must not claim 'Cidade' by substring")
	}
}

func TestResolveColumns_ExactBeatsSubstring(t *testing.T) {
	headers := []string{"Valor Hora", "Valor"}
	m, err := ResolveColumns("test.csv", headers, DefaultColumnAliases(), []Field{FieldAmount}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h, _ := m.Header(FieldAmount); h != "Valor" {
		t.Errorf("expected exact header to win, got %q", h)
	}
}

func TestResolveColumns_HeaderClaimedOnce(t *testing.T) {
	aliases := ColumnAliases{
		FieldAmount:   {"valor"},
		FieldDuration: {"valor"},
	}
	m, err := ResolveColumns("test.csv", []string{"Valor"}, aliases, []Field{FieldAmount}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Has(FieldDuration) {
		t.Error("a header claimed by amount must not be reused for duration")
	}
}

func TestResolveColumns_MissingAmount(t *testing.T) {
	_, err := ResolveColumns("test.csv", []string{"Loja", "Início"}, DefaultColumnAliases(), []Field{FieldAmount}, 3)
	if err == nil {
		t.Fatal("expected missing column error")
	}
	if !errors.HasCode(err, errors.CodeMissingColumn) {
		t.Errorf("expected missing_column code, got %v", err)
	}
	re, _ := errors.AsReconcilerError(err)
	if re.Category != errors.CategoryConfiguration {
		t.Errorf("expected configuration category, got %s", re.Category)
	}

	if _, err := NewRecordNormalizer("test.csv", []string{"Loja"}, nil); err == nil {
		t.Error("normalizer should refuse a sheet without an amount column")
	}
}

func TestNormalizeRow(t *testing.T) {
	n := newTestNormalizer(t, standardHeaders)

	row := models.Row{
		"Profissional": "Maria Silva",
		"Telefone":     11987654321.0,
		"Loja":         "  Loja Centro ",
		"Função":       "Repositora",
		"Início":       "15/01/2024 08:00",
		"Fim":          "15/01/2024 16:00",
		"ID":           "A-100",
		"Valor (R$)":   "1.234,56",
		"CNPJ":         "12.345.678/0001-90",
		"Status":       "Concluído",
	}

	record, exceptions := n.NormalizeRow(row, 2)
	if record == nil {
		t.Fatal("expected a record")
	}
	if len(exceptions) != 0 {
		t.Errorf("expected no exceptions, got %v", exceptions)
	}

	if record.ID != "R00002" || record.Line != 2 {
		t.Errorf("unexpected id/line %s/%d", record.ID, record.Line)
	}
	if record.StoreNameRaw != "LOJA CENTRO" {
		t.Errorf("expected upper-cased trimmed store, got %q", record.StoreNameRaw)
	}
	if !record.GrossAmount.Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("unexpected amount %s", record.GrossAmount)
	}
	if !record.DurationHours.Equal(decimal.NewFromInt(8)) {
		t.Errorf("expected duration derived from start/end, got %s", record.DurationHours)
	}
	if record.TaxIDRaw != "12345678000190" {
		t.Errorf("unexpected tax id %q", record.TaxIDRaw)
	}
	if record.Phone != "11987654321" {
		t.Errorf("unexpected phone %q", record.Phone)
	}
	if record.StartTime == nil || !record.StartTime.Equal(time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start time %v", record.StartTime)
	}
	if record.RuleStatus != models.StatusOK || record.Match.Matched() {
		t.Error("new records start as OK and unmatched")
	}
	if record.SourceRow["ID"] != "A-100" {
		t.Error("source row should be preserved")
	}
}

func TestNormalizeRow_ExplicitDurationWins(t *testing.T) {
	n := newTestNormalizer(t, standardHeaders)
	row := models.Row{
		"Loja":       "LOJA",
		"Início":     "15/01/2024 08:00",
		"Fim":        "15/01/2024 16:00",
		"Horas":      "02:30",
		"Valor (R$)": "10",
	}
	record, _ := n.NormalizeRow(row, 3)
	if !record.DurationHours.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("expected explicit duration, got %s", record.DurationHours)
	}
}

func TestNormalizeRow_SkipsEmpty(t *testing.T) {
	n := newTestNormalizer(t, standardHeaders)
	record, exceptions := n.NormalizeRow(models.Row{"Valor (R$)": "10,00", "Profissional": "Ana"}, 4)
	if record != nil || exceptions != nil {
		t.Error("row without store and reference must be skipped")
	}

	record, _ = n.NormalizeRow(models.Row{"ID": "X-1", "Valor (R$)": "10,00"}, 5)
	if record == nil {
		t.Error("row with only a reference must be kept")
	}
}

func TestNormalizeRow_RecoverableIssues(t *testing.T) {
	n := newTestNormalizer(t, standardHeaders)
	row := models.Row{
		"Loja":       "LOJA SUL",
		"Início":     "31/02/2024",
		"Valor (R$)": "dez reais",
		"Horas":      "muito",
	}

	record, exceptions := n.NormalizeRow(row, 6)
	if record == nil {
		t.Fatal("row issues must not drop the record")
	}
	if record.StartTime != nil {
		t.Error("unparseable date should be nil")
	}
	if !record.GrossAmount.IsZero() {
		t.Error("unparseable amount should be zero")
	}

	kinds := map[models.ExceptionKind]bool{}
	for _, e := range exceptions {
		kinds[e.Kind] = true
		if e.RecordID != record.ID || e.Line != 6 {
			t.Errorf("exception should reference the record, got %+v", e)
		}
	}
	for _, k := range []models.ExceptionKind{models.ExceptionUnparseableDate, models.ExceptionUnparseableAmount, models.ExceptionUnparseableHours} {
		if !kinds[k] {
			t.Errorf("expected exception %s", k)
		}
	}
}

func TestNormalizerConfig_Validate(t *testing.T) {
	config := DefaultNormalizerConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	clone := config.Clone()
	clone.Aliases[FieldAmount] = nil
	if err := clone.Validate(); err == nil {
		t.Error("required field without aliases should be invalid")
	}
	if len(config.Aliases[FieldAmount]) == 0 {
		t.Error("Clone must not share the alias table")
	}
}

func BenchmarkNormalizeRow(b *testing.B) {
	n, err := NewRecordNormalizer("bench.csv", standardHeaders, nil)
	if err != nil {
		b.Fatal(err)
	}
	row := models.Row{
		"Profissional": "Maria Silva",
		"Loja":         "Loja Centro",
		"Início":       "15/01/2024 08:00",
		"Fim":          "15/01/2024 16:00",
		"Valor (R$)":   "1.234,56",
		"CNPJ":         "12.345.678/0001-90",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n.NormalizeRow(row, i+2)
	}
}
