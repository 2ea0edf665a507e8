package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"store-billing-reconciler/internal/fiscal"
	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/reporter"
	"store-billing-reconciler/pkg/errors"
)

func baseSettings() *Settings {
	return &Settings{
		Sheet:        "sales.xlsx",
		Clients:      "clients.yaml",
		OutputFormat: "console",
	}
}

func TestLoad(t *testing.T) {
	v := viper.New()
	v.Set(KeySheet, "sales.csv")
	v.Set(KeyClients, "clients.yaml")
	v.Set(KeyCycles, []string{"monthly", "weekly"})
	v.Set(KeyWorkers, 3)
	v.Set(KeyAutoResolveDuplicates, true)
	v.Set(KeyOutputFormat, "json")

	s := Load(v)
	if s.Sheet != "sales.csv" || s.Clients != "clients.yaml" {
		t.Errorf("unexpected paths: %+v", s)
	}
	if len(s.Cycles) != 2 || s.Workers != 3 || !s.AutoResolveDuplicates {
		t.Errorf("unexpected values: %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		code   errors.ErrorCode
	}{
		{"valid", func(*Settings) {}, ""},
		{"missing sheet", func(s *Settings) { s.Sheet = "" }, errors.CodeMissingConfig},
		{"missing clients", func(s *Settings) { s.Clients = "" }, errors.CodeMissingConfig},
		{"mark applied without adjustments", func(s *Settings) { s.MarkApplied = true }, errors.CodeConfigConflict},
		{"unknown format", func(s *Settings) { s.OutputFormat = "pdf" }, errors.CodeInvalidConfig},
		{"xlsx to stdout", func(s *Settings) { s.OutputFormat = "xlsx" }, errors.CodeConfigConflict},
		{"bad period start", func(s *Settings) { s.PeriodStart = "March" }, errors.CodeInvalidConfig},
		{"reversed period", func(s *Settings) { s.PeriodStart = "2024-03-10"; s.PeriodEnd = "2024-03-01" }, errors.CodeConfigConflict},
		{"bad timezone", func(s *Settings) { s.Timezone = "Mars/Olympus" }, errors.CodeInvalidConfig},
		{"bad rate", func(s *Settings) { s.InvoiceRate = "eleven" }, errors.CodeInvalidConfig},
		{"rate above one", func(s *Settings) { s.WithholdingRate = "1.5" }, errors.CodeInvalidConfig},
		{"bad payable policy", func(s *Settings) { s.PayablePolicy = "net" }, errors.CodeInvalidConfig},
		{"bad rollup pattern", func(s *Settings) { s.RollupPattern = "(" }, errors.CodeInvalidConfig},
		{"negative workers", func(s *Settings) { s.Workers = -1 }, errors.CodeInvalidConfig},
		{"long delimiter", func(s *Settings) { s.CSVDelimiter = ";;" }, errors.CodeInvalidConfig},
		{"thresholds crossed", func(s *Settings) { s.CancelBelowHours = "8"; s.MaxHours = "6" }, errors.CodeConfigConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseSettings()
			tt.modify(s)
			err := s.Validate()
			if tt.code == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestBatchContext(t *testing.T) {
	s := baseSettings()
	s.PeriodStart = "01/03/2024"
	s.PeriodEnd = "2024-03-31"
	s.Timezone = "America/Sao_Paulo"
	s.Cycles = []string{"monthly, weekly", " "}

	ctx, err := s.BatchContext()
	if err != nil {
		t.Fatalf("BatchContext() error = %v", err)
	}

	loc, _ := time.LoadLocation("America/Sao_Paulo")
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, loc); !ctx.PeriodStart.Equal(want) {
		t.Errorf("period start = %v, want %v", ctx.PeriodStart, want)
	}
	if want := time.Date(2024, 3, 31, 23, 59, 59, 0, loc); !ctx.PeriodEnd.Equal(want) {
		t.Errorf("period end = %v, want %v", ctx.PeriodEnd, want)
	}
	if len(ctx.SelectedCycleIDs) != 2 || ctx.SelectedCycleIDs[1] != "weekly" {
		t.Errorf("cycles = %v", ctx.SelectedCycleIDs)
	}
}

func TestPipelineConfig(t *testing.T) {
	s := baseSettings()
	s.InvoiceRate = "0.2"
	s.CreditNoteRate = "0.8"
	s.MaxHours = "10"
	s.PayablePolicy = "net_for_special_cluster"
	s.SpecialCycles = []string{"special"}
	s.RollupCycles = []string{"franchise"}
	s.RollupPattern = "^filial"
	s.Workers = 2
	s.Suggestions = 5
	s.AutoResolveDuplicates = true

	config, err := s.PipelineConfig()
	if err != nil {
		t.Fatalf("PipelineConfig() error = %v", err)
	}

	if !config.Fiscal.InvoiceRate.Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("invoice rate = %s", config.Fiscal.InvoiceRate)
	}
	if !config.Rules.MaxHours.Equal(decimal.NewFromInt(10)) {
		t.Errorf("max hours = %s", config.Rules.MaxHours)
	}
	if config.Fiscal.PayablePolicy != fiscal.PayableNetForSpecialCluster {
		t.Errorf("payable policy = %s", config.Fiscal.PayablePolicy)
	}
	if config.MaxConcurrency != 2 || config.Matching.SuggestionCount != 5 || !config.AutoResolveDuplicates {
		t.Errorf("unexpected pipeline settings: %+v", config)
	}

	special := &models.CanonicalClient{ID: "S", BillingCycleID: "special"}
	if config.Fiscal.SpecialCluster == nil || !config.Fiscal.SpecialCluster(special) {
		t.Error("special cycle client should be in the special cluster")
	}

	if config.Rollup == nil {
		t.Fatal("expected a rollup policy")
	}
	if !config.Rollup(&models.CanonicalClient{ID: "F", BillingCycleID: "franchise"}) {
		t.Error("franchise cycle should roll up")
	}
	if !config.Rollup(&models.CanonicalClient{ID: "N", LegalName: "Filial Centro"}) {
		t.Error("name pattern should roll up")
	}
	if config.Rollup(&models.CanonicalClient{ID: "X", LegalName: "Matriz"}) {
		t.Error("unrelated client should stay standalone")
	}
}

func TestPipelineConfigDefaults(t *testing.T) {
	config, err := baseSettings().PipelineConfig()
	if err != nil {
		t.Fatalf("PipelineConfig() error = %v", err)
	}
	if config.Rollup != nil || config.Fiscal.SpecialCluster != nil {
		t.Error("no policy should be configured by default")
	}
	if config.Fiscal.PayablePolicy != fiscal.PayableGross {
		t.Errorf("payable policy = %s, want gross", config.Fiscal.PayablePolicy)
	}
	if config.Normalizer.Location != time.UTC {
		t.Errorf("location = %v, want UTC", config.Normalizer.Location)
	}
}

func TestReportConfig(t *testing.T) {
	tests := []struct {
		delimiter string
		want      rune
	}{
		{"", ','},
		{";", ';'},
		{"tab", '\t'},
		{`\t`, '\t'},
	}

	for _, tt := range tests {
		t.Run(tt.delimiter, func(t *testing.T) {
			s := baseSettings()
			s.OutputFormat = "csv"
			s.CSVDelimiter = tt.delimiter
			s.IncludeRecords = true
			s.MaxItems = 5

			config, err := s.ReportConfig()
			if err != nil {
				t.Fatalf("ReportConfig() error = %v", err)
			}
			if config.Format != reporter.FormatCSV || config.CSVDelimiter != tt.want {
				t.Errorf("format %s delimiter %q, want csv %q", config.Format, config.CSVDelimiter, tt.want)
			}
			if !config.IncludeRecords || config.MaxListItems != 5 {
				t.Errorf("unexpected report settings: %+v", config)
			}
		})
	}
}

func TestSheetReaderConfig(t *testing.T) {
	s := baseSettings()
	s.SheetName = "Março"
	if got := s.SheetReaderConfig(); got.SheetName != "Março" || got.MaxFileSize == 0 {
		t.Errorf("unexpected sheet reader config: %+v", got)
	}
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2024-03-05", "05/03/2024", " 2024-03-05 "} {
		got, err := ParseDate(in, time.UTC)
		if err != nil || !got.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("ParseDate(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDate("2024/03/05", time.UTC); err == nil {
		t.Error("expected error for unsupported layout")
	}
}
