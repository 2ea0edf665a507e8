package reporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/reconciler"
	"store-billing-reconciler/pkg/errors"
)

const (
	sheetSummary    = "Summary"
	sheetClients    = "Clients"
	sheetRecords    = "Records"
	sheetDuplicates = "Duplicates"
	sheetExceptions = "Exceptions"
)

var recordColumns = []string{
	"Record_ID", "Line", "Professional", "Store", "Role", "Start", "End",
	"Hours", "Gross", "Client_ID", "Match_Tier", "Rule_Status", "Status",
	"Billed_Amount", "Suggested_Amount", "Override_Reason", "Duplicate_Of",
}

var exceptionColumns = []string{
	"Kind", "Severity", "Record_ID", "Line", "Client_ID", "Field", "Message", "Candidates", "Suggestions",
}

// workbook accumulates sheets row by row
type workbook struct {
	f    *excelize.File
	bold int
	rows map[string]int
}

// generateWorkbook writes the audit workbook. Every sheet is written even
// when empty so consumers can rely on the layout.
func (rg *ReportGenerator) generateWorkbook(result *reconciler.BatchResult, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.InternalError(errors.CodeProcessingError, "workbook_style", err)
	}
	wb := &workbook{f: f, bold: bold, rows: make(map[string]int)}

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "workbook_sheet", err)
	}
	for _, name := range []string{sheetClients, sheetRecords, sheetDuplicates, sheetExceptions} {
		if _, err := f.NewSheet(name); err != nil {
			return errors.InternalError(errors.CodeProcessingError, "workbook_sheet", err)
		}
	}

	steps := []func(*reconciler.BatchResult) error{
		wb.writeSummary,
		wb.writeClients,
		wb.writeRecords,
		wb.writeDuplicates,
		wb.writeExceptions,
	}
	for _, step := range steps {
		if err := step(result); err != nil {
			return errors.InternalError(errors.CodeProcessingError, "workbook_write", err)
		}
	}

	f.SetActiveSheet(0)
	if err := f.Write(writer); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "workbook_save", err)
	}
	return nil
}

// addRow writes values on the next free row of sheet
func (wb *workbook) addRow(sheet string, values ...interface{}) error {
	wb.rows[sheet]++
	cell, err := excelize.CoordinatesToCellName(1, wb.rows[sheet])
	if err != nil {
		return err
	}
	return wb.f.SetSheetRow(sheet, cell, &values)
}

func (wb *workbook) header(sheet string, columns []string) error {
	values := make([]interface{}, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	if err := wb.addRow(sheet, values...); err != nil {
		return err
	}
	row := wb.rows[sheet]
	if err := wb.f.SetRowStyle(sheet, row, row, wb.bold); err != nil {
		return err
	}
	return wb.f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      row,
		TopLeftCell: fmt.Sprintf("A%d", row+1),
		ActivePane:  "bottomLeft",
	})
}

func (wb *workbook) writeSummary(result *reconciler.BatchResult) error {
	s := result.Summary
	lines := [][]interface{}{
		{"Batch", s.BatchID},
		{"Source", s.Source},
		{"Generated", s.CreatedAt.Format(time.RFC3339)},
		{"Records", s.TotalRecords},
		{"Matched", s.Matched},
		{"Unmatched", s.Unmatched},
		{"Ambiguous", s.Ambiguous},
		{"Billed records", s.Contributing},
		{"Exact duplicate groups", s.ExactGroups},
		{"Suspicious duplicate groups", s.SuspiciousGroups},
		{"Clients", s.Clients},
		{"Folded clients", s.FoldedClients},
		{"Missing fiscal documents", s.MissingDocuments},
		{"Gross", s.GrossTotal.InexactFloat64()},
		{"Base", s.BaseTotal.InexactFloat64()},
		{"Invoice", s.InvoiceTotal.InexactFloat64()},
		{"Credit note", s.CreditNoteTotal.InexactFloat64()},
		{"Withholding", s.WithholdingTotal.InexactFloat64()},
		{"Payable", s.PayableTotal.InexactFloat64()},
		{"Adjustments applied", strings.Join(s.ConsumedAdjustments, ", ")},
	}
	for _, status := range statusOrder {
		lines = append(lines, []interface{}{"Status " + string(status), s.ByStatus[status]})
	}
	for _, line := range lines {
		if err := wb.addRow(sheetSummary, line...); err != nil {
			return err
		}
	}
	return wb.f.SetColWidth(sheetSummary, "A", "A", 30)
}

func (wb *workbook) writeClients(result *reconciler.BatchResult) error {
	if err := wb.header(sheetClients, clientColumns); err != nil {
		return err
	}
	for _, res := range result.Reconciliation {
		line := clientLine(result, res)
		values := make([]interface{}, len(line))
		for i, v := range line {
			values[i] = v
		}
		// money columns are written as numbers
		rec := res.Consolidated
		values[4] = rec.RecordCount
		values[5] = rec.GrossTotal.InexactFloat64()
		values[6] = rec.CreditsTotal.InexactFloat64()
		values[7] = rec.DebitsTotal.InexactFloat64()
		values[8] = res.BaseAmount.InexactFloat64()
		values[9] = res.InvoiceAmount.InexactFloat64()
		values[10] = res.CreditNoteAmount.InexactFloat64()
		values[11] = res.WithholdingTax.InexactFloat64()
		values[13] = res.FinalPayable.InexactFloat64()
		if err := wb.addRow(sheetClients, values...); err != nil {
			return err
		}
	}
	return nil
}

func (wb *workbook) writeRecords(result *reconciler.BatchResult) error {
	if err := wb.header(sheetRecords, recordColumns); err != nil {
		return err
	}
	for _, r := range result.Records {
		var suggested, reason interface{}
		if r.Suggestion != nil {
			suggested = r.Suggestion.Amount.InexactFloat64()
		}
		if r.Override != nil {
			reason = r.Override.Reason
		}
		billed := 0.0
		if r.Contributes() {
			billed = r.Amount().InexactFloat64()
		}
		err := wb.addRow(sheetRecords,
			r.ID, r.Line, r.ProfessionalName, r.StoreNameRaw, r.RoleLabel,
			formatTime(r.StartTime), formatTime(r.EndTime),
			r.DurationHours.InexactFloat64(), r.GrossAmount.InexactFloat64(),
			r.Match.ClientID, string(r.Match.Tier), string(r.RuleStatus), string(r.Status()),
			billed, suggested, reason, r.DuplicateOf,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (wb *workbook) writeDuplicates(result *reconciler.BatchResult) error {
	if err := wb.header(sheetDuplicates, []string{"Group_ID", "Kind", "Record_ID", "Position", "Reason"}); err != nil {
		return err
	}
	for _, g := range result.DuplicateGroups {
		for i, id := range g.RecordIDs {
			if err := wb.addRow(sheetDuplicates, g.ID, g.Kind, id, i+1, g.Reason); err != nil {
				return err
			}
		}
	}
	return nil
}

func (wb *workbook) writeExceptions(result *reconciler.BatchResult) error {
	if err := wb.header(sheetExceptions, exceptionColumns); err != nil {
		return err
	}
	for _, e := range result.Exceptions {
		if err := wb.addRow(sheetExceptions, exceptionRow(e)...); err != nil {
			return err
		}
	}
	return nil
}

func exceptionRow(e models.Exception) []interface{} {
	var line interface{}
	if e.Line > 0 {
		line = e.Line
	}
	return []interface{}{
		string(e.Kind), string(e.Severity), e.RecordID, line, e.ClientID, e.Field, e.Message,
		strings.Join(e.Candidates, " "), strings.Join(e.Suggestions, " "),
	}
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02 15:04")
}
