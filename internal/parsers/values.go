package parsers

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// Largest serial a spreadsheet accepts (9999-12-31).
	maxSerialDate = 2958465
	secondsPerDay = 86400
)

var (
	serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

	dayFirstPattern = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})(?:[ T]+(\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
	clockPattern    = regexp.MustCompile(`^(\d{1,3}):(\d{2})(?::(\d{2}))?$`)
	numericPattern  = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

	fallbackLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02 15:04:05",
		"2006/01/02",
		"02.01.2006",
		"2 Jan 2006",
		"Jan 2, 2006",
		"January 2, 2006",
	}

	currencyReplacer = strings.NewReplacer("R$", "", "US$", "", "$", "", "€", "", " ", "", "\u00a0", "", "\t", "")
)

// NormalizeName folds case, strips diacritics, collapses internal whitespace
// and trims. The result is only used for comparisons.
func NormalizeName(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)
	return strings.Join(strings.Fields(folded), " ")
}

// NormalizeTaxID keeps only the digits of an identifier
func NormalizeTaxID(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// CellString renders a cell value as trimmed text
func CellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case decimal.Decimal:
		return val.String()
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func cellNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case decimal.Decimal:
		return val.InexactFloat64(), true
	}
	return 0, false
}

// ParseAmount parses a currency value. Unparseable input yields zero.
func ParseAmount(v any) decimal.Decimal {
	d, err := TryParseAmount(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// TryParseAmount parses a currency value written in either the Brazilian
// (1.234,56) or the international (1,234.56) convention. An empty cell is
// zero without error.
func TryParseAmount(v any) (decimal.Decimal, error) {
	if n, ok := cellNumber(v); ok {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, fmt.Errorf("invalid amount %v", n)
		}
		return decimal.NewFromFloat(n), nil
	}

	raw := CellString(v)
	s := currencyReplacer.Replace(raw)
	if s == "" {
		return decimal.Zero, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount '%s': %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseDate parses a date in UTC. See ParseDateIn.
func ParseDate(v any) *time.Time {
	return ParseDateIn(v, time.UTC)
}

// ParseDateIn parses a spreadsheet serial number, a day-first
// dd/mm/yyyy[ hh:mm[:ss]] value or any of the fallback layouts. Values
// without an explicit zone are read as wall clock time in loc.
// Unparseable input yields nil.
func ParseDateIn(v any, loc *time.Location) *time.Time {
	if loc == nil {
		loc = time.UTC
	}

	if n, ok := cellNumber(v); ok {
		return fromSerial(n, loc)
	}

	s := CellString(v)
	if s == "" {
		return nil
	}

	if numericPattern.MatchString(s) {
		if n, err := strconv.ParseFloat(s, 64); err == nil && n >= 1 && n <= maxSerialDate {
			return fromSerial(n, loc)
		}
	}

	if m := dayFirstPattern.FindStringSubmatch(s); m != nil {
		return fromDayFirst(m, loc)
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}

func fromSerial(n float64, loc *time.Location) *time.Time {
	if n < 0 || n > maxSerialDate || math.IsNaN(n) {
		return nil
	}
	days := math.Floor(n)
	seconds := math.Round((n - days) * secondsPerDay)

	base := serialEpoch.AddDate(0, 0, int(days))
	t := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, loc).
		Add(time.Duration(seconds) * time.Second)
	return &t
}

func fromDayFirst(m []string, loc *time.Location) *time.Time {
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	var hour, minute, second int
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
		if m[6] != "" {
			second, _ = strconv.Atoi(m[6])
		}
	}
	if month < 1 || month > 12 || hour > 23 || minute > 59 || second > 59 {
		return nil
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return nil
	}
	return &t
}

// ParseHours parses a duration expressed in decimal hours or as hh:mm[:ss]
// text. The boolean is false when the cell is empty or unparseable.
func ParseHours(v any) (decimal.Decimal, bool) {
	if n, ok := cellNumber(v); ok {
		return decimal.NewFromFloat(n), true
	}

	s := CellString(v)
	if s == "" {
		return decimal.Zero, false
	}

	if m := clockPattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		secs := 0
		if m[3] != "" {
			secs, _ = strconv.Atoi(m[3])
		}
		if mins > 59 || secs > 59 {
			return decimal.Zero, false
		}
		total := decimal.NewFromInt(int64(h*3600 + mins*60 + secs))
		return total.Div(decimal.NewFromInt(3600)), true
	}

	s = strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(s), "h"), "hs")
	d, err := TryParseAmount(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// HoursBetween returns the decimal hours from start to end, or false when
// either bound is missing or end precedes start.
func HoursBetween(start, end *time.Time) (decimal.Decimal, bool) {
	if start == nil || end == nil || end.Before(*start) {
		return decimal.Zero, false
	}
	seconds := decimal.NewFromInt(int64(end.Sub(*start) / time.Second))
	return seconds.Div(decimal.NewFromInt(3600)).Round(4), true
}
