// Package reporter renders batch results for operators and downstream
// tooling.
//
// Supported output formats:
//   - Console: human-readable summary, per-client totals and exceptions
//   - JSON: the batch result for programmatic consumption
//   - CSV: one billing line per reconciled client
//   - XLSX: an audit workbook with records, clients, duplicates and exceptions
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{
//		Format:            reporter.FormatCSV,
//		IncludeExceptions: true,
//		CSVDelimiter:      ';',
//		CSVHeaders:        true,
//		TableMaxWidth:     120,
//	})
//	err = generator.GenerateReport(batch.Result(), os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/reconciler"
	"store-billing-reconciler/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ParseOutputFormat parses a format name, case-insensitively
func ParseOutputFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", errors.ConfigurationError(errors.CodeInvalidConfig, "output_format", s, nil).
			WithSuggestion("use one of console, json, csv or xlsx")
	}
	return f, nil
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeRecords    bool `json:"include_records"`
	IncludeExceptions bool `json:"include_exceptions"`
	IncludeClients    bool `json:"include_clients"`

	// Console formatting options
	TableMaxWidth int `json:"table_max_width"`
	// MaxListItems truncates console lists; zero lists everything.
	MaxListItems int `json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	SortByPayable bool `json:"sort_by_payable"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeRecords:    false,
		IncludeExceptions: true,
		IncludeClients:    true,
		TableMaxWidth:     120,
		MaxListItems:      20,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
		SortByPayable:     false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", c.Format, nil)
	}
	if c.TableMaxWidth < 50 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "table_max_width", c.TableMaxWidth, nil).
			WithSuggestion("table max width must be at least 50 characters")
	}
	if c.MaxListItems < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_list_items", c.MaxListItems, nil)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "csv_delimiter", string(c.CSVDelimiter), nil)
	}
	return nil
}

// Clone returns a copy of the configuration
func (c *ReportConfig) Clone() *ReportConfig {
	clone := *c
	return &clone
}

// ReportGenerator generates batch reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes a report of result to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.BatchResult, writer io.Writer) error {
	if result == nil || result.Summary == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatXLSX:
		return rg.generateWorkbook(result, writer)
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", rg.config.Format, nil)
	}
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.BatchResult, writer io.Writer) error {
	s := result.Summary
	rule := strings.Repeat("=", min(rg.config.TableMaxWidth, 72))

	fmt.Fprintf(writer, "BILLING RECONCILIATION REPORT\n%s\n", rule)
	fmt.Fprintf(writer, "Batch:     %s\n", s.BatchID)
	fmt.Fprintf(writer, "Source:    %s\n", s.Source)
	fmt.Fprintf(writer, "Generated: %s\n\n", s.CreatedAt.Format(time.RFC3339))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(s, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== TOTALS ===\n")
	rg.printTotals(s, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeClients && len(result.Reconciliation) > 0 {
		fmt.Fprintf(writer, "=== CLIENTS ===\n")
		rg.printClients(result, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeExceptions && len(result.Exceptions) > 0 {
		fmt.Fprintf(writer, "=== EXCEPTIONS ===\n")
		rg.printExceptions(result.Exceptions, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeRecords && len(result.Records) > 0 {
		fmt.Fprintf(writer, "=== RECORDS ===\n")
		rg.printRecords(result.Records, writer)
	}
	return nil
}

// statusOrder fixes the order statuses are printed in
var statusOrder = []models.ValidationStatus{
	models.StatusOK,
	models.StatusCorrection,
	models.StatusCancel,
	models.StatusOutOfPeriod,
	models.StatusWrongCycle,
	models.StatusDuplicate,
	models.StatusRemoved,
}

func (rg *ReportGenerator) printSummary(s *reconciler.BatchSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Records:      %d\n", s.TotalRecords)
	fmt.Fprintf(writer, "  Matched:    %d (%.1f%%)\n", s.Matched, percentage(s.Matched, s.TotalRecords))
	fmt.Fprintf(writer, "  Unmatched:  %d (%.1f%%)\n", s.Unmatched, percentage(s.Unmatched, s.TotalRecords))
	fmt.Fprintf(writer, "  Ambiguous:  %d (%.1f%%)\n", s.Ambiguous, percentage(s.Ambiguous, s.TotalRecords))
	fmt.Fprintf(writer, "  Billed:     %d\n", s.Contributing)

	fmt.Fprintf(writer, "\nBy status:\n")
	for _, status := range statusOrder {
		if n := s.ByStatus[status]; n > 0 {
			fmt.Fprintf(writer, "  %-14s %d\n", status, n)
		}
	}

	fmt.Fprintf(writer, "\nDuplicate groups: %d exact, %d suspicious\n", s.ExactGroups, s.SuspiciousGroups)
	fmt.Fprintf(writer, "Clients:          %d (%d folded)\n", s.Clients, s.FoldedClients)
	fmt.Fprintf(writer, "Missing fiscal:   %d\n", s.MissingDocuments)
}

func (rg *ReportGenerator) printTotals(s *reconciler.BatchSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Gross:        %14s\n", s.GrossTotal.StringFixed(2))
	fmt.Fprintf(writer, "Base:         %14s\n", s.BaseTotal.StringFixed(2))
	fmt.Fprintf(writer, "Invoice:      %14s\n", s.InvoiceTotal.StringFixed(2))
	fmt.Fprintf(writer, "Credit note:  %14s\n", s.CreditNoteTotal.StringFixed(2))
	fmt.Fprintf(writer, "Withholding:  %14s\n", s.WithholdingTotal.StringFixed(2))
	fmt.Fprintf(writer, "Payable:      %14s\n", s.PayableTotal.StringFixed(2))
	if len(s.ConsumedAdjustments) > 0 {
		fmt.Fprintf(writer, "Adjustments applied: %s\n", strings.Join(s.ConsumedAdjustments, ", "))
	}
}

func (rg *ReportGenerator) printClients(result *reconciler.BatchResult, writer io.Writer) {
	nameWidth := max(rg.config.TableMaxWidth-86, 12)
	fmt.Fprintf(writer, "%-10s %-*s %5s %12s %10s %12s %10s %12s  %s\n",
		"Client", nameWidth, "Name", "Recs", "Base", "Invoice", "Credit note", "Withheld", "Payable", "Document")

	for _, res := range rg.sortedResults(result.Reconciliation) {
		rec := res.Consolidated
		withheld := res.WithholdingTax.StringFixed(2)
		if res.WithholdingEstimated {
			withheld += "*"
		}
		document := string(res.MatchState)
		if res.FiscalDocument != nil {
			document = res.FiscalDocument.DocumentNumber
		}
		fmt.Fprintf(writer, "%-10s %-*s %5d %12s %10s %12s %10s %12s  %s\n",
			rec.ClientID, nameWidth, truncate(clientName(result, rec.ClientID), nameWidth), rec.RecordCount,
			res.BaseAmount.StringFixed(2), res.InvoiceAmount.StringFixed(2), res.CreditNoteAmount.StringFixed(2),
			withheld, res.FinalPayable.StringFixed(2), document)

		for _, child := range rec.Children {
			fmt.Fprintf(writer, "  + folded %s %s (%d records, gross %s)\n",
				child.ClientID, clientName(result, child.ClientID), child.RecordCount, child.GrossTotal.StringFixed(2))
		}
	}
	fmt.Fprintf(writer, "(* estimated withholding)\n")
}

func (rg *ReportGenerator) printExceptions(exceptions []models.Exception, writer io.Writer) {
	counts := make(map[models.ExceptionKind]int)
	for _, e := range exceptions {
		counts[e.Kind]++
	}
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	fmt.Fprintf(writer, "Total Exceptions: %d\n", len(exceptions))
	for _, kind := range kinds {
		fmt.Fprintf(writer, "  %-26s %d\n", kind, counts[models.ExceptionKind(kind)])
	}
	fmt.Fprintf(writer, "\n")

	for i, e := range exceptions {
		if rg.limitReached(i, len(exceptions), writer) {
			break
		}
		fmt.Fprintf(writer, "  - [%s] %s", e.Kind, exceptionSubject(e))
		fmt.Fprintf(writer, ": %s", e.Message)
		if len(e.Candidates) > 0 {
			fmt.Fprintf(writer, " (candidates: %s)", strings.Join(e.Candidates, ", "))
		}
		if len(e.Suggestions) > 0 {
			fmt.Fprintf(writer, " (did you mean: %s)", strings.Join(e.Suggestions, ", "))
		}
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) printRecords(records []*models.RawRecord, writer io.Writer) {
	for i, r := range records {
		if rg.limitReached(i, len(records), writer) {
			break
		}
		client := r.Match.ClientID
		if client == "" {
			client = "-"
		}
		fmt.Fprintf(writer, "  %s line %d: %s -> %s, %s, amount %s\n",
			r.ID, r.Line, r.StoreNameRaw, client, r.Status(), r.Amount().StringFixed(2))
	}
}

func (rg *ReportGenerator) limitReached(i, total int, writer io.Writer) bool {
	if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
		fmt.Fprintf(writer, "  ... and %d more\n", total-i)
		return true
	}
	return false
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.BatchResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.BatchResult) map[string]interface{} {
	output := map[string]interface{}{
		"summary":        result.Summary,
		"reconciliation": result.Reconciliation,
	}
	if rg.config.IncludeClients {
		output["consolidated"] = result.Consolidated
	}
	if rg.config.IncludeRecords {
		output["records"] = result.Records
	}
	if rg.config.IncludeExceptions {
		output["exceptions"] = result.Exceptions
		output["duplicate_groups"] = result.DuplicateGroups
	}
	if len(result.ConsumedAdjustments) > 0 {
		output["consumed_adjustments"] = result.ConsumedAdjustments
	}
	return output
}

// clientColumns are the billing line columns shared by the CSV report and
// the Clients worksheet
var clientColumns = []string{
	"Client_ID", "Client_Name", "Tax_ID", "Billing_Cycle", "Records",
	"Gross", "Credits", "Debits", "Base", "Invoice", "Credit_Note",
	"Withholding", "Withholding_Estimated", "Payable",
	"Document_Number", "Match_State", "Folded_Clients", "Address_Complete",
}

func (rg *ReportGenerator) generateCSVReport(result *reconciler.BatchResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(clientColumns); err != nil {
			return errors.InternalError(errors.CodeProcessingError, "write_csv_headers", err)
		}
	}
	for _, res := range rg.sortedResults(result.Reconciliation) {
		if err := csvWriter.Write(clientLine(result, res)); err != nil {
			return errors.InternalError(errors.CodeProcessingError, "write_csv_record", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func clientLine(result *reconciler.BatchResult, res *models.ReconciliationResult) []string {
	rec := res.Consolidated
	var taxID, cycle, addressComplete string
	if c, ok := result.Clients[rec.ClientID]; ok {
		taxID = c.TaxID
		cycle = c.BillingCycleID
		addressComplete = strconv.FormatBool(c.AddressComplete())
	}
	document := ""
	if res.FiscalDocument != nil {
		document = res.FiscalDocument.DocumentNumber
	}
	folded := make([]string, len(rec.Children))
	for i, child := range rec.Children {
		folded[i] = child.ClientID
	}

	return []string{
		rec.ClientID,
		clientName(result, rec.ClientID),
		taxID,
		cycle,
		strconv.Itoa(rec.RecordCount),
		rec.GrossTotal.StringFixed(2),
		rec.CreditsTotal.StringFixed(2),
		rec.DebitsTotal.StringFixed(2),
		res.BaseAmount.StringFixed(2),
		res.InvoiceAmount.StringFixed(2),
		res.CreditNoteAmount.StringFixed(2),
		res.WithholdingTax.StringFixed(2),
		strconv.FormatBool(res.WithholdingEstimated),
		res.FinalPayable.StringFixed(2),
		document,
		string(res.MatchState),
		strings.Join(folded, " "),
		addressComplete,
	}
}

// sortedResults returns the results in client order, or by payable
// descending when configured. The input is not modified.
func (rg *ReportGenerator) sortedResults(results []*models.ReconciliationResult) []*models.ReconciliationResult {
	out := append([]*models.ReconciliationResult(nil), results...)
	if rg.config.SortByPayable {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].FinalPayable.GreaterThan(out[j].FinalPayable)
		})
	}
	return out
}

// Helper methods

func clientName(result *reconciler.BatchResult, clientID string) string {
	if c, ok := result.Clients[clientID]; ok {
		return c.DisplayName()
	}
	return clientID
}

func exceptionSubject(e models.Exception) string {
	switch {
	case e.RecordID != "":
		return fmt.Sprintf("line %d %s", e.Line, e.RecordID)
	case e.ClientID != "":
		return "client " + e.ClientID
	default:
		return "batch"
	}
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
