package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"store-billing-reconciler/internal/classifier"
	"store-billing-reconciler/internal/consolidation"
	"store-billing-reconciler/internal/fiscal"
	"store-billing-reconciler/internal/parsers"
	"store-billing-reconciler/internal/reconciler"
	"store-billing-reconciler/internal/reporter"
	"store-billing-reconciler/pkg/errors"
)

// Keys shared by flags, the config file and BILLRECON_ environment variables
const (
	KeySheet                 = "sheet"
	KeySheetName             = "sheet-name"
	KeyClients               = "clients"
	KeyAdjustments           = "adjustments"
	KeyFiscal                = "fiscal"
	KeyPeriodStart           = "period-start"
	KeyPeriodEnd             = "period-end"
	KeyTimezone              = "timezone"
	KeyCycles                = "cycles"
	KeyRollupCycles          = "rollup-cycles"
	KeyRollupPattern         = "rollup-pattern"
	KeySpecialCycles         = "special-cycles"
	KeyPayablePolicy         = "payable-policy"
	KeyInvoiceRate           = "invoice-rate"
	KeyCreditNoteRate        = "credit-note-rate"
	KeyWithholdingRate       = "withholding-rate"
	KeyCancelBelowHours      = "cancel-below-hours"
	KeyMaxHours              = "max-hours"
	KeyIncludeInactive       = "include-inactive"
	KeySuggestions           = "suggestions"
	KeyAutoResolveDuplicates = "auto-resolve-duplicates"
	KeyWorkers               = "workers"
	KeyOutputFormat          = "output-format"
	KeyOutputFile            = "output-file"
	KeyIncludeRecords        = "include-records"
	KeyMaxItems              = "max-items"
	KeyCSVDelimiter          = "csv-delimiter"
	KeySortByPayable         = "sort-by-payable"
	KeyMarkApplied           = "mark-applied"
	KeyProgress              = "progress"
)

var dateLayouts = []string{"2006-01-02", "02/01/2006"}

// Settings is the flat view of one reconcile invocation
type Settings struct {
	Sheet       string
	SheetName   string
	Clients     string
	Adjustments string
	Fiscal      string

	PeriodStart string
	PeriodEnd   string
	Timezone    string
	Cycles      []string

	RollupCycles  []string
	RollupPattern string
	SpecialCycles []string

	PayablePolicy    string
	InvoiceRate      string
	CreditNoteRate   string
	WithholdingRate  string
	CancelBelowHours string
	MaxHours         string

	IncludeInactive       bool
	Suggestions           int
	AutoResolveDuplicates bool
	Workers               int

	OutputFormat   string
	OutputFile     string
	IncludeRecords bool
	MaxItems       int
	CSVDelimiter   string
	SortByPayable  bool

	MarkApplied bool
	Progress    bool
}

// Load reads the settings from v, which merges flags, the config file and
// the environment.
func Load(v *viper.Viper) *Settings {
	return &Settings{
		Sheet:       v.GetString(KeySheet),
		SheetName:   v.GetString(KeySheetName),
		Clients:     v.GetString(KeyClients),
		Adjustments: v.GetString(KeyAdjustments),
		Fiscal:      v.GetString(KeyFiscal),

		PeriodStart: v.GetString(KeyPeriodStart),
		PeriodEnd:   v.GetString(KeyPeriodEnd),
		Timezone:    v.GetString(KeyTimezone),
		Cycles:      v.GetStringSlice(KeyCycles),

		RollupCycles:  v.GetStringSlice(KeyRollupCycles),
		RollupPattern: v.GetString(KeyRollupPattern),
		SpecialCycles: v.GetStringSlice(KeySpecialCycles),

		PayablePolicy:    v.GetString(KeyPayablePolicy),
		InvoiceRate:      v.GetString(KeyInvoiceRate),
		CreditNoteRate:   v.GetString(KeyCreditNoteRate),
		WithholdingRate:  v.GetString(KeyWithholdingRate),
		CancelBelowHours: v.GetString(KeyCancelBelowHours),
		MaxHours:         v.GetString(KeyMaxHours),

		IncludeInactive:       v.GetBool(KeyIncludeInactive),
		Suggestions:           v.GetInt(KeySuggestions),
		AutoResolveDuplicates: v.GetBool(KeyAutoResolveDuplicates),
		Workers:               v.GetInt(KeyWorkers),

		OutputFormat:   v.GetString(KeyOutputFormat),
		OutputFile:     v.GetString(KeyOutputFile),
		IncludeRecords: v.GetBool(KeyIncludeRecords),
		MaxItems:       v.GetInt(KeyMaxItems),
		CSVDelimiter:   v.GetString(KeyCSVDelimiter),
		SortByPayable:  v.GetBool(KeySortByPayable),

		MarkApplied: v.GetBool(KeyMarkApplied),
		Progress:    v.GetBool(KeyProgress),
	}
}

// Validate checks the settings that do not need any file to be read
func (s *Settings) Validate() error {
	if s.Sheet == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, KeySheet, nil, nil).
			WithSuggestion("pass the sales spreadsheet with --sheet")
	}
	if s.Clients == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, KeyClients, nil, nil).
			WithSuggestion("pass the client directory with --clients")
	}
	if s.MarkApplied && s.Adjustments == "" {
		return errors.ConfigurationError(errors.CodeConfigConflict, KeyMarkApplied, true, nil).
			WithSuggestion("--mark-applied needs --adjustments")
	}

	format, err := reporter.ParseOutputFormat(s.OutputFormat)
	if err != nil {
		return err
	}
	if format == reporter.FormatXLSX && s.OutputFile == "" {
		return errors.ConfigurationError(errors.CodeConfigConflict, KeyOutputFile, nil, nil).
			WithSuggestion("the xlsx workbook is binary; write it with --output-file")
	}

	if _, err := s.BatchContext(); err != nil {
		return err
	}
	if _, err := s.PipelineConfig(); err != nil {
		return err
	}
	_, err = s.ReportConfig()
	return err
}

// Location returns the time zone used for sheet dates and period bounds
func (s *Settings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyTimezone, s.Timezone, err).
			WithSuggestion("use an IANA zone name such as America/Sao_Paulo")
	}
	return loc, nil
}

// BatchContext builds the period and cycle filters. The period end covers
// the whole day it names.
func (s *Settings) BatchContext() (classifier.BatchContext, error) {
	var ctx classifier.BatchContext

	loc, err := s.Location()
	if err != nil {
		return ctx, err
	}
	if s.PeriodStart != "" {
		start, err := ParseDate(s.PeriodStart, loc)
		if err != nil {
			return ctx, errors.ConfigurationError(errors.CodeInvalidConfig, KeyPeriodStart, s.PeriodStart, err).
				WithSuggestion("use YYYY-MM-DD or DD/MM/YYYY")
		}
		ctx.PeriodStart = &start
	}
	if s.PeriodEnd != "" {
		end, err := ParseDate(s.PeriodEnd, loc)
		if err != nil {
			return ctx, errors.ConfigurationError(errors.CodeInvalidConfig, KeyPeriodEnd, s.PeriodEnd, err).
				WithSuggestion("use YYYY-MM-DD or DD/MM/YYYY")
		}
		end = end.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		ctx.PeriodEnd = &end
	}
	ctx.SelectedCycleIDs = compact(s.Cycles)

	return ctx, ctx.Validate()
}

// PipelineConfig builds the engine configuration on top of the defaults
func (s *Settings) PipelineConfig() (*reconciler.Config, error) {
	config := reconciler.DefaultConfig()

	loc, err := s.Location()
	if err != nil {
		return nil, err
	}
	config.Normalizer.Location = loc

	config.Matching.IncludeInactive = s.IncludeInactive
	if s.Suggestions > 0 {
		config.Matching.SuggestionCount = s.Suggestions
	}

	for _, d := range []struct {
		key, value string
		target     *decimal.Decimal
	}{
		{KeyCancelBelowHours, s.CancelBelowHours, &config.Rules.CancelBelowHours},
		{KeyMaxHours, s.MaxHours, &config.Rules.MaxHours},
		{KeyInvoiceRate, s.InvoiceRate, &config.Fiscal.InvoiceRate},
		{KeyCreditNoteRate, s.CreditNoteRate, &config.Fiscal.CreditNoteRate},
		{KeyWithholdingRate, s.WithholdingRate, &config.Fiscal.WithholdingRate},
	} {
		if err := parseDecimal(d.key, d.value, d.target); err != nil {
			return nil, err
		}
	}

	policy, err := fiscal.ParsePayablePolicy(s.PayablePolicy)
	if err != nil {
		return nil, err
	}
	config.Fiscal.PayablePolicy = policy
	if special := compact(s.SpecialCycles); len(special) > 0 {
		config.Fiscal.SpecialCluster = consolidation.CyclePolicy(special...)
	}

	var rollup []consolidation.RollupPolicy
	if cycles := compact(s.RollupCycles); len(cycles) > 0 {
		rollup = append(rollup, consolidation.CyclePolicy(cycles...))
	}
	if s.RollupPattern != "" {
		byName, err := consolidation.NamePatternPolicy(s.RollupPattern)
		if err != nil {
			return nil, err
		}
		rollup = append(rollup, byName)
	}
	if len(rollup) > 0 {
		config.Rollup = consolidation.AnyPolicy(rollup...)
	}

	config.AutoResolveDuplicates = s.AutoResolveDuplicates
	if s.Workers < 0 {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyWorkers, s.Workers, nil)
	}
	if s.Workers > 0 {
		config.MaxConcurrency = s.Workers
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ReportConfig builds the report configuration for the selected format
func (s *Settings) ReportConfig() (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()

	format, err := reporter.ParseOutputFormat(s.OutputFormat)
	if err != nil {
		return nil, err
	}
	config.Format = format
	config.IncludeRecords = s.IncludeRecords
	config.SortByPayable = s.SortByPayable
	config.MaxListItems = s.MaxItems

	if s.CSVDelimiter != "" {
		delimiter := s.CSVDelimiter
		if delimiter == `\t` || strings.EqualFold(delimiter, "tab") {
			delimiter = "\t"
		}
		r, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyCSVDelimiter, s.CSVDelimiter, nil).
				WithSuggestion("the delimiter is a single character such as ; or tab")
		}
		config.CSVDelimiter = r
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SheetReaderConfig selects the worksheet of an xlsx source
func (s *Settings) SheetReaderConfig() *parsers.SheetReaderConfig {
	config := parsers.DefaultSheetReaderConfig()
	config.SheetName = s.SheetName
	return config
}

// ParseDate parses a calendar date in loc
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func parseDecimal(key, value string, target *decimal.Decimal) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, key, value, err)
	}
	*target = d
	return nil
}

// compact trims entries and drops empty ones; viper hands comma lists from
// the environment over as a single element.
func compact(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
