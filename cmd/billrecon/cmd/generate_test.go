package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerate_ThenReconcile(t *testing.T) {
	dir := t.TempDir()

	stdout, _, err := execute(t, "generate", "--output-dir", dir, "--rows", "120", "--clients", "10", "--seed", "7")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.Contains(stdout, "Generated 120 rows for 10 clients") {
		t.Errorf("unexpected generate output: %s", stdout)
	}

	sheet := filepath.Join(dir, "sales.csv")
	clients := filepath.Join(dir, "clients.yaml")
	first, err := os.ReadFile(sheet)
	if err != nil {
		t.Fatalf("sheet not written: %v", err)
	}

	// same seed, same sheet
	if _, _, err := execute(t, "generate", "--output-dir", dir, "--rows", "120", "--clients", "10", "--seed", "7"); err != nil {
		t.Fatalf("second generate failed: %v", err)
	}
	second, err := os.ReadFile(sheet)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("generate should be deterministic for a seed")
	}

	stdout, _, err = execute(t, "reconcile", "--sheet", sheet, "--clients", clients, "--output-format", "json")
	if err != nil {
		t.Fatalf("reconcile of generated batch failed: %v", err)
	}
	if !strings.Contains(stdout, `"exact_groups"`) {
		t.Errorf("expected a JSON summary, got %s", stdout)
	}
}

func TestGenerate_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		args     []string
		exitCode int
	}{
		{"missing output dir", []string{"generate"}, 1},
		{"bad start date", []string{"generate", "-d", dir, "--start", "March"}, 4},
		{"end before start", []string{"generate", "-d", dir, "--start", "2024-03-31", "--end", "2024-03-01"}, 4},
		{"unknown format", []string{"generate", "-d", dir, "--format", "ods"}, 4},
		{"ratios too large", []string{"generate", "-d", dir, "--duplicate-ratio", "0.7", "--unmatched-ratio", "0.7"}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error but got none")
			}
			var out bytes.Buffer
			if code := NewCLIErrorHandler(&out).HandleError(err); code != tt.exitCode {
				t.Errorf("exit code = %d, want %d (%v)", code, tt.exitCode, err)
			}
		})
	}
}
