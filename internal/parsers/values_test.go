package parsers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    any
		expected string
	}{
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"R$ 10,00", "10"},
		{"R$ 1.234.567", "1234567"},
		{"1.234.567,89", "1234567.89"},
		{"12.5", "12.5"},
		{"1,234,567", "1234567"},
		{"(45,00)", "-45"},
		{"-3,5", "-3.5"},
		{"  ", "0"},
		{nil, "0"},
		{150.25, "150.25"},
		{42, "42"},
		{"abc", "0"},
		{"R$", "0"},
	}

	for _, tt := range tests {
		got := ParseAmount(tt.input)
		if !got.Equal(decimal.RequireFromString(tt.expected)) {
			t.Errorf("ParseAmount(%#v) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}

func TestTryParseAmount_Errors(t *testing.T) {
	for _, input := range []any{"abc", "1,2,3.4.5x"} {
		if _, err := TryParseAmount(input); err == nil {
			t.Errorf("expected error for %#v", input)
		}
	}
	if _, err := TryParseAmount(""); err != nil {
		t.Errorf("empty amount should not be an error: %v", err)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected time.Time
	}{
		{"serial number", 45306.5, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
		{"serial integer", 45292, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"serial text", "45306.25", time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)},
		{"day first slash", "15/01/2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"day first dash with time", "15-01-2024 08:30", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
		{"day first with seconds", "05/02/2024 18:00:45", time.Date(2024, 2, 5, 18, 0, 45, 0, time.UTC)},
		{"iso date", "2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"iso datetime", "2024-01-15 09:15:00", time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)},
		{"rfc3339", "2024-01-15T09:15:00Z", time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDate(tt.input)
			if got == nil {
				t.Fatalf("ParseDate(%#v) returned nil", tt.input)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("ParseDate(%#v) = %s, want %s", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseDate_Unparseable(t *testing.T) {
	for _, input := range []any{"", nil, "not a date", "31/02/2024", "15/13/2024", "25:00"} {
		if got := ParseDate(input); got != nil {
			t.Errorf("ParseDate(%#v) = %s, want nil", input, got)
		}
	}
}

func TestParseDateIn_Location(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	got := ParseDateIn("15/01/2024 08:00", loc)
	if got == nil {
		t.Fatal("expected a date")
	}
	if got.UTC().Hour() != 11 {
		t.Errorf("expected 11:00 UTC, got %s", got.UTC())
	}
}

func TestParseHours(t *testing.T) {
	tests := []struct {
		input    any
		expected string
		ok       bool
	}{
		{8, "8", true},
		{0.1, "0.1", true},
		{"08:30", "8.5", true},
		{"01:15:00", "1.25", true},
		{"1,5", "1.5", true},
		{"6h", "6", true},
		{"", "0", false},
		{"abc", "0", false},
		{"08:75", "0", false},
	}

	for _, tt := range tests {
		got, ok := ParseHours(tt.input)
		if ok != tt.ok {
			t.Errorf("ParseHours(%#v) ok = %v, want %v", tt.input, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(decimal.RequireFromString(tt.expected)) {
			t.Errorf("ParseHours(%#v) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}

func TestHoursBetween(t *testing.T) {
	start := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	end := start.Add(7*time.Hour + 30*time.Minute)

	got, ok := HoursBetween(&start, &end)
	if !ok || !got.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("expected 7.5 hours, got %s (%v)", got, ok)
	}
	if _, ok := HoursBetween(&end, &start); ok {
		t.Error("end before start should not produce a duration")
	}
	if _, ok := HoursBetween(nil, &end); ok {
		t.Error("missing start should not produce a duration")
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input, expected string
	}{
		{"LOJA CENTRO", "loja centro"},
		{"  Loja   Centro ", "loja centro"},
		{"São João", "sao joao"},
		{"AÇAÍ\tDA ESQUINA", "acai da esquina"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.input); got != tt.expected {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeTaxID(t *testing.T) {
	if got := NormalizeTaxID("12.345.678/0001-90"); got != "12345678000190" {
		t.Errorf("unexpected tax id %q", got)
	}
	if got := NormalizeTaxID("n/a"); got != "" {
		t.Errorf("expected empty tax id, got %q", got)
	}
}

func TestCellString(t *testing.T) {
	if CellString(11987654321.0) != "11987654321" {
		t.Errorf("large float should render without exponent, got %s", CellString(11987654321.0))
	}
	if CellString("  x ") != "x" {
		t.Error("expected trimmed string")
	}
}

func BenchmarkParseAmount(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseAmount("R$ 1.234.567,89")
	}
}

func BenchmarkNormalizeName(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NormalizeName("  Padaria São   João da Esquina ")
	}
}
