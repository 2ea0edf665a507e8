// Package sample generates synthetic sales batches: a client directory and a
// sales sheet whose rows resolve to it, with a controlled share of
// duplicates, unknown stores and out-of-rule durations. The same seed
// always produces the same batch.
package sample

import (
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
)

// Headers are the sheet columns written by the generator
var Headers = []string{"Profissional", "Loja", "Início", "Fim", "Valor (R$)", "Horas"}

const dateLayout = "02/01/2006 15:04"

var (
	firstNames = []string{"Ana", "Bruno", "Carla", "Diego", "Elisa", "Fábio", "Gabriela", "Heitor", "Iara", "João"}
	lastNames  = []string{"Souza", "Lima", "Pereira", "Costa", "Araújo", "Gomes", "Ribeiro", "Martins"}
	storeWords = []string{"Padaria", "Mercado", "Farmácia", "Empório", "Açougue", "Hortifruti", "Conveniência", "Atacado"}
	placeWords = []string{"Central", "do Bairro", "São José", "Boa Vista", "Primavera", "Jardim", "Estação", "Norte"}
	cycles     = []string{"monthly", "weekly", "biweekly"}
)

// Config controls the size and shape of a generated batch
type Config struct {
	Clients int
	Rows    int
	Start   time.Time
	End     time.Time
	Seed    uint64

	// Ratios are fractions of Rows
	DuplicateRatio  float64
	UnmatchedRatio  float64
	CancelRatio     float64
	CorrectionRatio float64

	HourlyRate decimal.Decimal
}

// DefaultConfig returns a month of 200 rows over 20 clients
func DefaultConfig() *Config {
	return &Config{
		Clients:         20,
		Rows:            200,
		Start:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:             time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Seed:            1,
		DuplicateRatio:  0.05,
		UnmatchedRatio:  0.05,
		CancelRatio:     0.02,
		CorrectionRatio: 0.03,
		HourlyRate:      decimal.NewFromInt(25),
	}
}

// Validate checks if the generator configuration is valid
func (c *Config) Validate() error {
	if c.Clients <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "clients", c.Clients, nil)
	}
	if c.Rows < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "rows", c.Rows, nil)
	}
	if !c.End.After(c.Start) {
		return errors.ConfigurationError(errors.CodeConfigConflict, "end", c.End.Format("2006-01-02"), nil).
			WithSuggestion("the end date must be after the start date")
	}
	ratios := map[string]float64{
		"duplicate_ratio":  c.DuplicateRatio,
		"unmatched_ratio":  c.UnmatchedRatio,
		"cancel_ratio":     c.CancelRatio,
		"correction_ratio": c.CorrectionRatio,
	}
	total := 0.0
	for name, r := range ratios {
		if r < 0 || r > 1 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, name, r, nil).
				WithSuggestion("ratios are fractions between 0 and 1")
		}
		total += r
	}
	if total > 1 {
		return errors.ConfigurationError(errors.CodeConfigConflict, "ratios", total, nil).
			WithSuggestion("the ratios together cannot exceed 1")
	}
	if !c.HourlyRate.IsPositive() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "hourly_rate", c.HourlyRate.String(), nil)
	}
	return nil
}

// Batch is a generated directory plus sheet
type Batch struct {
	Headers []string
	Rows    []models.Row
	Clients []*models.CanonicalClient

	// Counts of the rows generated on purpose in each shape
	Duplicates  int
	Unmatched   int
	Cancels     int
	Corrections int
}

// Generate builds a batch from config
func Generate(config *Config) (*Batch, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15))
	b := &Batch{Headers: append([]string(nil), Headers...)}

	for i := 0; i < config.Clients; i++ {
		b.Clients = append(b.Clients, newClient(i, rng))
	}

	days := int(config.End.Sub(config.Start).Hours()/24) + 1
	for len(b.Rows) < config.Rows {
		p := rng.Float64()
		switch {
		case len(b.Rows) > 0 && p < config.DuplicateRatio:
			b.Rows = append(b.Rows, copyRow(b.Rows[rng.IntN(len(b.Rows))]))
			b.Duplicates++
			continue
		case p < config.DuplicateRatio+config.UnmatchedRatio:
			store := fmt.Sprintf("Loja Desconhecida %d", rng.IntN(1000))
			b.Rows = append(b.Rows, newRow(config, rng, days, store, hours(rng, 2, 6)))
			b.Unmatched++
			continue
		}

		client := b.Clients[rng.IntN(len(b.Clients))]
		h := hours(rng, 1, 6)
		switch p -= config.DuplicateRatio + config.UnmatchedRatio; {
		case p < config.CancelRatio:
			h = decimal.RequireFromString("0.1")
			b.Cancels++
		case p < config.CancelRatio+config.CorrectionRatio:
			h = hours(rng, 7, 12)
			b.Corrections++
		}
		b.Rows = append(b.Rows, newRow(config, rng, days, storeName(client, rng), h))
	}
	return b, nil
}

func newClient(i int, rng *rand.Rand) *models.CanonicalClient {
	store := storeWords[rng.IntN(len(storeWords))]
	place := placeWords[rng.IntN(len(placeWords))]
	trade := fmt.Sprintf("%s %s %d", store, place, i+1)

	return &models.CanonicalClient{
		ID:                  fmt.Sprintf("C%04d", i+1),
		LegalName:           trade + " LTDA",
		TradeName:           trade,
		ShortName:           fmt.Sprintf("%s %d", store, i+1),
		BillingPlatformName: strings.ToUpper(trade),
		TaxID:               fmt.Sprintf("%08d0001%02d", 10000000+i, i%100),
		BillingCycleID:      cycles[i%len(cycles)],
		Address: models.Address{
			Street: fmt.Sprintf("Rua %s, %d", lastNames[rng.IntN(len(lastNames))], 10+rng.IntN(990)),
			City:   "Curitiba",
			State:  "PR",
		},
		Active: true,
	}
}

// storeName spells the client the way a sheet might: platform name, trade
// name or lower case.
func storeName(client *models.CanonicalClient, rng *rand.Rand) string {
	switch rng.IntN(3) {
	case 0:
		return client.BillingPlatformName
	case 1:
		return client.TradeName
	default:
		return strings.ToLower(client.TradeName)
	}
}

func newRow(config *Config, rng *rand.Rand, days int, store string, h decimal.Decimal) models.Row {
	day := config.Start.AddDate(0, 0, rng.IntN(days))
	start := day.Add(time.Duration(6+rng.IntN(8)) * time.Hour).Add(time.Duration(rng.IntN(4)*15) * time.Minute)
	end := start.Add(time.Duration(h.Mul(decimal.NewFromInt(60)).IntPart()) * time.Minute)
	amount := h.Mul(config.HourlyRate).Round(2)

	return models.Row{
		"Profissional": firstNames[rng.IntN(len(firstNames))] + " " + lastNames[rng.IntN(len(lastNames))],
		"Loja":         store,
		"Início":       start.Format(dateLayout),
		"Fim":          end.Format(dateLayout),
		"Valor (R$)":   brazilian(amount),
		"Horas":        brazilian(h),
	}
}

// hours returns a whole or half hour between lo and hi
func hours(rng *rand.Rand, lo, hi int) decimal.Decimal {
	halves := 2*lo + rng.IntN(2*(hi-lo)+1)
	return decimal.NewFromInt(int64(halves)).Div(decimal.NewFromInt(2))
}

func brazilian(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

func copyRow(row models.Row) models.Row {
	out := make(models.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// cells returns the rows as sheet lines in header order
func (b *Batch) cells() [][]string {
	lines := make([][]string, 0, len(b.Rows)+1)
	lines = append(lines, b.Headers)
	for _, row := range b.Rows {
		line := make([]string, len(b.Headers))
		for i, h := range b.Headers {
			line[i] = fmt.Sprint(row[h])
		}
		lines = append(lines, line)
	}
	return lines
}

// WriteCSV writes the sheet as semicolon separated UTF-8
func (b *Batch) WriteCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	w.Comma = ';'
	if err := w.WriteAll(b.cells()); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}

// WriteXLSX writes the sheet as a single worksheet workbook
func (b *Batch) WriteXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, line := range b.cells() {
		values := make([]interface{}, len(line))
		for j, v := range line {
			values[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.InternalError(errors.CodeProcessingError, "sample_workbook", err)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return errors.InternalError(errors.CodeProcessingError, "sample_workbook", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}

// WriteClients writes the directory in the form read by the directory loader
func (b *Batch) WriteClients(path string) error {
	data, err := yaml.Marshal(map[string][]*models.CanonicalClient{"clients": b.Clients})
	if err != nil {
		return errors.InternalError(errors.CodeProcessingError, "encode_clients", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}

// WriteFiles writes clients.yaml and sales.csv or sales.xlsx into dir and
// returns the two paths.
func (b *Batch) WriteFiles(dir, format string) (sheet, clients string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.FileError(errors.CodeFilePermission, dir, err)
	}

	clients = filepath.Join(dir, "clients.yaml")
	if err := b.WriteClients(clients); err != nil {
		return "", "", err
	}

	switch strings.ToLower(format) {
	case "", "csv":
		sheet = filepath.Join(dir, "sales.csv")
		err = b.WriteCSV(sheet)
	case "xlsx":
		sheet = filepath.Join(dir, "sales.xlsx")
		err = b.WriteXLSX(sheet)
	default:
		return "", "", errors.ConfigurationError(errors.CodeInvalidConfig, "format", format, nil).
			WithSuggestion("use csv or xlsx")
	}
	if err != nil {
		return "", "", err
	}
	return sheet, clients, nil
}
