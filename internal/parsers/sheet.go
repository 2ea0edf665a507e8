package parsers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
	"store-billing-reconciler/pkg/logger"
)

var rawNumberPattern = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][-+]?\d+)?$`)

// Sheet is a decoded spreadsheet: the header row plus one Row per data line
type Sheet struct {
	Source  string
	Headers []string
	Rows    []models.Row
	// Lines holds the 1-based sheet line of each row in Rows.
	Lines []int
	Stats *ParseStats
}

// ParseStats contains statistics about a sheet decode
type ParseStats struct {
	TotalLines  int    `json:"total_lines"`
	DataRows    int    `json:"data_rows"`
	BlankRows   int    `json:"blank_rows"`
	Encoding    string `json:"encoding"`
	Delimiter   string `json:"delimiter,omitempty"`
	SheetName   string `json:"sheet_name,omitempty"`
	HeaderIndex int    `json:"header_index"`
}

// SheetReaderConfig holds configuration for decoding spreadsheets
type SheetReaderConfig struct {
	// SheetName selects an xlsx worksheet; empty means the first one.
	SheetName string `json:"sheet_name"`
	// Delimiter forces a CSV delimiter; zero sniffs it from the header line.
	Delimiter rune `json:"delimiter"`
	// MaxFileSize rejects files larger than this many bytes; zero disables.
	MaxFileSize int64 `json:"max_file_size"`
}

// DefaultSheetReaderConfig returns a configuration with sensible defaults
func DefaultSheetReaderConfig() *SheetReaderConfig {
	return &SheetReaderConfig{
		MaxFileSize: 64 << 20,
	}
}

// SheetReader decodes .csv and .xlsx files into headers and rows. It is the
// spreadsheet source used by the command line; the engine packages only see
// the resulting rows.
type SheetReader struct {
	config *SheetReaderConfig
	logger logger.Logger
}

// NewSheetReader creates a new SheetReader
func NewSheetReader(config *SheetReaderConfig) *SheetReader {
	if config == nil {
		config = DefaultSheetReaderConfig()
	}
	return &SheetReader{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("sheet_reader"),
	}
}

// ReadFile opens path and decodes it according to its extension
func (r *SheetReader) ReadFile(path string) (*Sheet, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	if r.config.MaxFileSize > 0 && info.Size() > r.config.MaxFileSize {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, nil).
			WithSuggestion(fmt.Sprintf("file is %d bytes, the limit is %d", info.Size(), r.config.MaxFileSize))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return r.ReadCSV(file, path)
	case ".xlsx", ".xlsm":
		return r.ReadXLSX(file, path)
	default:
		return nil, errors.FileError(errors.CodeUnsupportedFile, path, nil)
	}
}

// ReadCSV decodes a CSV stream. UTF-8 is tried first and Windows-1252 is
// used when the bytes are not valid UTF-8.
func (r *SheetReader) ReadCSV(in io.Reader, source string) (*Sheet, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, source, err)
	}

	stats := &ParseStats{Encoding: "utf-8"}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, errors.ParseError(errors.CodeEncodingError, source, 0, "", err)
		}
		data = decoded
		stats.Encoding = "windows-1252"
	}

	delimiter := r.config.Delimiter
	if delimiter == 0 {
		delimiter = sniffDelimiter(data)
	}
	stats.Delimiter = string(delimiter)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records [][]string
	var lines []int
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			if pe, ok := err.(*csv.ParseError); ok {
				line = pe.Line
			}
			return nil, errors.ParseError(errors.CodeInvalidFormat, source, line, "", err)
		}
		line, _ := reader.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}

	sheet := buildSheet(source, records, lines, stats, func(s string) any { return s })
	r.logDecoded(sheet)
	return sheet, nil
}

// ReadXLSX decodes the configured worksheet of an xlsx workbook. Raw cell
// values are read so that dates arrive as serial numbers.
func (r *SheetReader) ReadXLSX(in io.Reader, source string) (*Sheet, error) {
	f, err := excelize.OpenReader(in)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, source, err)
	}
	defer f.Close()

	sheetName := r.config.SheetName
	if sheetName == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "", fmt.Errorf("workbook has no sheets"))
		}
		sheetName = sheets[0]
	}

	records, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, sheetName, err)
	}

	stats := &ParseStats{Encoding: "xlsx", SheetName: sheetName}
	sheet := buildSheet(source, records, nil, stats, xlsxCell)
	r.logDecoded(sheet)
	return sheet, nil
}

func (r *SheetReader) logDecoded(sheet *Sheet) {
	r.logger.WithFields(logger.Fields{
		"source":    sheet.Source,
		"rows":      sheet.Stats.DataRows,
		"blank":     sheet.Stats.BlankRows,
		"encoding":  sheet.Stats.Encoding,
		"delimiter": sheet.Stats.Delimiter,
	}).Info("Decoded spreadsheet")
}

// buildSheet takes the first non-blank record as the header row. Repeated
// header texts get a numeric suffix so no column is lost in the row map.
// lines holds the 1-based source line of each record; nil means records are
// consecutive from line 1.
func buildSheet(source string, records [][]string, lines []int, stats *ParseStats, cell func(string) any) *Sheet {
	lineOf := func(i int) int {
		if i < len(lines) {
			return lines[i]
		}
		return i + 1
	}

	sheet := &Sheet{Source: source, Stats: stats}
	stats.TotalLines = len(records)

	headerIdx := -1
	for i, rec := range records {
		if !isBlank(rec) {
			headerIdx = i
			break
		}
	}
	stats.HeaderIndex = headerIdx
	if headerIdx < 0 {
		return sheet
	}

	seen := make(map[string]int)
	for _, h := range records[headerIdx] {
		h = strings.TrimSpace(h)
		seen[h]++
		if seen[h] > 1 {
			h = fmt.Sprintf("%s (%d)", h, seen[h])
		}
		sheet.Headers = append(sheet.Headers, h)
	}

	for i := headerIdx + 1; i < len(records); i++ {
		rec := records[i]
		if isBlank(rec) {
			stats.BlankRows++
			continue
		}
		row := make(models.Row, len(sheet.Headers))
		for i, h := range sheet.Headers {
			if i < len(rec) && h != "" {
				row[h] = cell(rec[i])
			}
		}
		sheet.Rows = append(sheet.Rows, row)
		sheet.Lines = append(sheet.Lines, lineOf(i))
	}
	stats.DataRows = len(sheet.Rows)
	return sheet
}

// xlsxCell turns raw numeric cell text into a number. Text with a leading
// zero stays text so identifiers such as tax ids keep their digits.
func xlsxCell(s string) any {
	s = strings.TrimSpace(s)
	if rawNumberPattern.MatchString(s) {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}
	return s
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{';', ',', '\t', '|'} {
		if c := bytes.Count(line, []byte(string(d))); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best
}
