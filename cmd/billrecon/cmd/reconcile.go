package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"store-billing-reconciler/cmd/billrecon/config"
	"store-billing-reconciler/internal/directory"
	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/parsers"
	"store-billing-reconciler/internal/reconciler"
	"store-billing-reconciler/internal/reporter"
	"store-billing-reconciler/pkg/errors"
	"store-billing-reconciler/pkg/logger"
)

var settings *config.Settings

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a sales sheet against the client directory",
	Long: `Reconcile reads a sales spreadsheet, matches every row to a client of the
directory, applies the duration and period rules, detects duplicates and
produces one billing line per client with its fiscal split.

This command requires:
- A sales sheet (.csv or .xlsx)
- A client directory (.yaml or .json)

Examples:
  # Console report
  billrecon reconcile --sheet march.xlsx --clients clients.yaml

  # One billing period and selected cycles
  billrecon reconcile --sheet march.csv --clients clients.yaml \
    --period-start 2024-03-01 --period-end 2024-03-31 --cycles monthly,weekly

  # Adjustments and fiscal documents, CSV billing lines
  billrecon reconcile --sheet march.xlsx --clients clients.yaml \
    --adjustments adjustments.yaml --fiscal nfe.json \
    --output-format csv --output-file billing.csv

  # Audit workbook, consuming the applied adjustments
  billrecon reconcile --sheet march.xlsx --clients clients.yaml \
    --adjustments adjustments.yaml --mark-applied \
    --output-format xlsx --output-file audit.xlsx`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	f := reconcileCmd.Flags()

	// Inputs
	f.StringP(config.KeySheet, "s", "", "sales spreadsheet, .csv or .xlsx (required)")
	f.String(config.KeySheetName, "", "worksheet to read from an .xlsx sheet (default: first)")
	f.StringP(config.KeyClients, "c", "", "client directory, .yaml or .json (required)")
	f.String(config.KeyAdjustments, "", "pending adjustments, .yaml or .json")
	f.String(config.KeyFiscal, "", "fiscal document extract, .yaml or .json")

	// Batch filters
	f.String(config.KeyPeriodStart, "", "first day of the billing period (YYYY-MM-DD or DD/MM/YYYY)")
	f.String(config.KeyPeriodEnd, "", "last day of the billing period, inclusive")
	f.String(config.KeyTimezone, "", "IANA zone for sheet dates and period bounds (default: UTC)")
	f.StringSlice(config.KeyCycles, nil, "billing cycles included in this batch (default: all)")

	// Business policy
	f.StringSlice(config.KeyRollupCycles, nil, "cycles whose clients are billed through their parent")
	f.String(config.KeyRollupPattern, "", "name pattern of clients billed through their parent")
	f.StringSlice(config.KeySpecialCycles, nil, "cycles of the special withholding cluster")
	f.String(config.KeyPayablePolicy, "gross", "payable policy: gross, net_of_withholding, net_for_special_cluster")
	f.String(config.KeyInvoiceRate, "", "invoice share of the base (default 0.115)")
	f.String(config.KeyCreditNoteRate, "", "credit note share of the base (default 0.885)")
	f.String(config.KeyWithholdingRate, "", "estimated withholding rate (default 0.015)")
	f.String(config.KeyCancelBelowHours, "", "durations below this many hours are cancellations (default 0.16)")
	f.String(config.KeyMaxHours, "", "durations above this many hours need correction (default 6)")

	// Matching and processing
	f.Bool(config.KeyIncludeInactive, false, "match rows to inactive clients too")
	f.Int(config.KeySuggestions, 0, "client name suggestions per unmatched row (default 3)")
	f.Bool(config.KeyAutoResolveDuplicates, false, "keep only the first row of each exact duplicate group")
	f.Int(config.KeyWorkers, 0, "workers for the per-row stages (default: number of CPUs)")
	f.Bool(config.KeyMarkApplied, false, "mark consumed adjustments as applied in the adjustments file")
	f.Bool(config.KeyProgress, false, "show progress on stderr")

	// Output
	f.StringP(config.KeyOutputFormat, "f", "console", "output format: console, json, csv, xlsx")
	f.StringP(config.KeyOutputFile, "o", "", "output file path (default: stdout)")
	f.Bool(config.KeyIncludeRecords, false, "include every record in console and json reports")
	f.Int(config.KeyMaxItems, 20, "maximum items per console list, 0 for all")
	f.String(config.KeyCSVDelimiter, ",", "CSV delimiter, a single character or 'tab'")
	f.Bool(config.KeySortByPayable, false, "sort billing lines by payable amount")

	viper.BindPFlags(f)
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// values come from viper so the config file and environment apply
	settings = config.Load(viper.GetViper())

	if err := settings.Validate(); err != nil {
		return err
	}

	inputs := []struct{ path, description string }{
		{settings.Sheet, "sales sheet"},
		{settings.Clients, "client directory"},
		{settings.Adjustments, "adjustments file"},
		{settings.Fiscal, "fiscal document file"},
	}
	// every unreadable input is reported in one run
	var failed []*errors.ReconcilerError
	for _, in := range inputs {
		if in.path == "" {
			continue
		}
		if err := validateFileExists(in.path, in.description); err != nil {
			failed = append(failed, err)
		}
	}
	switch len(failed) {
	case 0:
	case 1:
		return failed[0]
	default:
		return errors.NewErrorSummary(failed)
	}

	if settings.OutputFile != "" {
		dir := filepath.Dir(settings.OutputFile)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return errors.FileError(errors.CodeFileNotFound, dir, err).
				WithSuggestion("create the output directory first")
		}
	}
	return nil
}

func validateFileExists(filePath, description string) *errors.ReconcilerError {
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).
			WithContext("input", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).
			WithContext("input", description)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeUnsupportedFile, filePath, nil).
			WithContext("input", description).
			WithSuggestion(fmt.Sprintf("the %s must be a file, not a directory", description))
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.GetGlobalLogger().WithComponent("cli")
	stderr := cmd.ErrOrStderr()

	pipelineConfig, err := settings.PipelineConfig()
	if err != nil {
		return err
	}
	batchContext, err := settings.BatchContext()
	if err != nil {
		return err
	}
	reportConfig, err := settings.ReportConfig()
	if err != nil {
		return err
	}

	var (
		input       *reconciler.BatchInput
		adjustments []*models.Adjustment
	)
	err = logger.TimedOperation("load_inputs", log, func() (err error) {
		input, adjustments, err = loadBatchInput(settings)
		return err
	})
	if err != nil {
		return err
	}
	input.Context = batchContext

	pipeline, err := reconciler.NewPipeline(pipelineConfig)
	if err != nil {
		return err
	}
	if settings.Progress {
		pipeline.AddProgressCallback(func(p *reconciler.Progress) {
			fmt.Fprintf(stderr, "\r[%d/%d] %-24s (%5.1f%% complete)",
				p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
			if p.CompletedSteps == p.TotalSteps {
				fmt.Fprintln(stderr)
			}
		})
	}

	batch, err := pipeline.Run(ctx, input)
	if err != nil {
		return err
	}
	result := batch.Result()

	if err := writeReport(cmd.OutOrStdout(), reportConfig, result, log); err != nil {
		return err
	}

	if settings.MarkApplied {
		if err := markApplied(settings.Adjustments, adjustments, result.ConsumedAdjustments, log); err != nil {
			return err
		}
	}

	if viper.GetBool("verbose") {
		printSummary(stderr, result.Summary)
	}
	return nil
}

// loadBatchInput reads the sheet and every directory file named by s
func loadBatchInput(s *config.Settings) (*reconciler.BatchInput, []*models.Adjustment, error) {
	sheet, err := parsers.NewSheetReader(s.SheetReaderConfig()).ReadFile(s.Sheet)
	if err != nil {
		return nil, nil, err
	}

	loader := directory.NewLoader()
	clients, err := loader.LoadClients(s.Clients)
	if err != nil {
		return nil, nil, err
	}

	var adjustments []*models.Adjustment
	if s.Adjustments != "" {
		if adjustments, err = loader.LoadAdjustments(s.Adjustments); err != nil {
			return nil, nil, err
		}
	}

	var documents []*models.FiscalDocument
	if s.Fiscal != "" {
		if documents, err = loader.LoadFiscalDocuments(s.Fiscal); err != nil {
			return nil, nil, err
		}
	}

	return &reconciler.BatchInput{
		Source:      sheet.Source,
		Headers:     sheet.Headers,
		Rows:        sheet.Rows,
		Lines:       sheet.Lines,
		Clients:     clients,
		Adjustments: adjustments,
		Documents:   documents,
	}, adjustments, nil
}

func writeReport(stdout io.Writer, reportConfig *reporter.ReportConfig, result *reconciler.BatchResult, log logger.Logger) error {
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	if settings.OutputFile == "" {
		return generator.GenerateReportSafely(result, stdout)
	}

	written, err := generator.WriteReportFile(result, settings.OutputFile)
	if err != nil {
		return err
	}
	if written != settings.OutputFile {
		log.WithField("file", written).Warn("Report written to backup location")
	}
	return nil
}

func markApplied(path string, adjustments []*models.Adjustment, consumed []string, log logger.Logger) error {
	marked := directory.MarkApplied(adjustments, consumed)
	if marked == 0 {
		return nil
	}
	if err := directory.SaveAdjustments(path, adjustments); err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"file":   path,
		"marked": marked,
	}).Info("Adjustments marked as applied")
	return nil
}

func printSummary(w io.Writer, s *reconciler.BatchSummary) {
	fmt.Fprintf(w, "\nReconciliation completed: batch %s\n", s.BatchID)
	fmt.Fprintf(w, "Processed %d records: %d matched, %d unmatched, %d ambiguous.\n",
		s.TotalRecords, s.Matched, s.Unmatched, s.Ambiguous)
	fmt.Fprintf(w, "Billed %d records for %d clients, payable %s.\n",
		s.Contributing, s.Clients, s.PayableTotal.StringFixed(2))
	if s.HasIssues() {
		fmt.Fprintf(w, "The batch needs attention: see the exceptions in the report.\n")
	}
}
