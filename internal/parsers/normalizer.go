// Package parsers turns decoded spreadsheet rows into typed billing records.
//
// The alias table is resolved against the sheet headers once per batch,
// producing a ColumnMap that every row is read through. Row level problems
// (unparseable dates, amounts or durations) are reported as exceptions and
// the affected value defaults to nil or zero; only a missing mandatory
// column aborts the batch.
//
// Example usage:
//
//	n, err := NewRecordNormalizer("sales.xlsx", sheet.Headers, DefaultNormalizerConfig())
//	if err != nil {
//		return err // missing amount column
//	}
//	for i, row := range sheet.Rows {
//		record, exceptions := n.NormalizeRow(row, i+2)
//		...
//	}
package parsers

import (
	"fmt"
	"strings"
	"time"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
	"store-billing-reconciler/pkg/logger"
)

// NormalizerConfig holds configuration for the record normalizer
type NormalizerConfig struct {
	Aliases ColumnAliases `json:"aliases"`

	// Required fields abort the batch when no header resolves to them.
	Required []Field `json:"required"`

	// MinSubstringLength keeps very short aliases out of the substring pass.
	MinSubstringLength int `json:"min_substring_length"`

	// Location is used for dates without an explicit zone.
	Location *time.Location `json:"-"`
}

// DefaultNormalizerConfig returns a configuration with sensible defaults
func DefaultNormalizerConfig() *NormalizerConfig {
	return &NormalizerConfig{
		Aliases:            DefaultColumnAliases(),
		Required:           []Field{FieldAmount},
		MinSubstringLength: 3,
		Location:           time.UTC,
	}
}

// Validate checks if the normalizer configuration is valid
func (c *NormalizerConfig) Validate() error {
	if len(c.Aliases) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "aliases", nil, nil)
	}
	for _, field := range c.Required {
		if len(c.Aliases[field]) == 0 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "aliases", field, nil).
				WithSuggestion(fmt.Sprintf("required field '%s' needs at least one alias", field))
		}
	}
	if c.MinSubstringLength < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "min_substring_length", c.MinSubstringLength, nil)
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *NormalizerConfig) Clone() *NormalizerConfig {
	clone := *c
	clone.Aliases = c.Aliases.Clone()
	clone.Required = append([]Field(nil), c.Required...)
	return &clone
}

// RecordNormalizer converts rows into RawRecords through a resolved ColumnMap
type RecordNormalizer struct {
	config  *NormalizerConfig
	columns ColumnMap
	logger  logger.Logger
}

// NewRecordNormalizer resolves the column aliases against headers. It fails
// only when the configuration is invalid or a required column is missing.
func NewRecordNormalizer(source string, headers []string, config *NormalizerConfig) (*RecordNormalizer, error) {
	if config == nil {
		config = DefaultNormalizerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Location == nil {
		config = config.Clone()
		config.Location = time.UTC
	}

	log := logger.GetGlobalLogger().WithComponent("record_normalizer")

	columns, err := ResolveColumns(source, headers, config.Aliases, config.Required, config.MinSubstringLength)
	if err != nil {
		log.WithError(err).WithField("source", source).Error("Column resolution failed")
		return nil, err
	}

	log.WithFields(logger.Fields{
		"source":   source,
		"headers":  len(headers),
		"resolved": len(columns.columns),
	}).Debug("Resolved sheet columns")

	return &RecordNormalizer{
		config:  config,
		columns: columns,
		logger:  log,
	}, nil
}

// Columns returns the resolved column map
func (n *RecordNormalizer) Columns() ColumnMap {
	return n.columns
}

// RecordID returns the record id assigned to a sheet line
func RecordID(line int) string {
	return fmt.Sprintf("R%05d", line)
}

// NormalizeRow converts one row. It returns nil when the row has neither a
// store name nor an external reference. It never fails: values that cannot
// be parsed are defaulted and reported as exceptions.
func (n *RecordNormalizer) NormalizeRow(row models.Row, line int) (*models.RawRecord, []models.Exception) {
	cols := n.columns

	store := strings.ToUpper(cols.String(row, FieldStoreName))
	ref := cols.String(row, FieldExternalRef)
	if store == "" && ref == "" {
		return nil, nil
	}

	record := &models.RawRecord{
		ID:                      RecordID(line),
		Line:                    line,
		ProfessionalName:        cols.String(row, FieldProfessionalName),
		Phone:                   cols.String(row, FieldPhone),
		RegionCode:              cols.String(row, FieldRegionCode),
		StoreNameRaw:            store,
		RoleLabel:               cols.String(row, FieldRoleLabel),
		ExternalRef:             ref,
		RawStatusLabel:          cols.String(row, FieldStatusLabel),
		CancellationReason:      cols.String(row, FieldCancellationReason),
		CancellationResponsible: cols.String(row, FieldCancellationResponsible),
		TaxIDRaw:                NormalizeTaxID(cols.String(row, FieldTaxID)),
		SourceRow:               copyRow(row),
		RuleStatus:              models.StatusOK,
		Match:                   models.MatchResult{Tier: models.TierNone},
	}

	var exceptions []models.Exception
	warn := func(kind models.ExceptionKind, field Field, value any, message string) {
		exceptions = append(exceptions, models.Exception{
			Kind:     kind,
			Severity: models.SeverityWarning,
			RecordID: record.ID,
			Line:     line,
			Field:    string(field),
			Message:  fmt.Sprintf("%s: '%s'", message, CellString(value)),
		})
	}

	date := func(field Field) *time.Time {
		v := cols.Get(row, field)
		if CellString(v) == "" {
			return nil
		}
		t := ParseDateIn(v, n.config.Location)
		if t == nil {
			warn(models.ExceptionUnparseableDate, field, v, "unparseable date")
		}
		return t
	}

	record.StartTime = date(FieldStartTime)
	record.EndTime = date(FieldEndTime)
	record.ScheduledAt = date(FieldScheduledAt)
	record.StartedAt = date(FieldStartedAt)
	record.CompletedAt = date(FieldCompletedAt)
	record.CancellationDate = date(FieldCancellationDate)

	amountValue := cols.Get(row, FieldAmount)
	amount, err := TryParseAmount(amountValue)
	if err != nil {
		warn(models.ExceptionUnparseableAmount, FieldAmount, amountValue, "unparseable amount")
	}
	record.GrossAmount = amount

	hoursValue := cols.Get(row, FieldDuration)
	if hours, ok := ParseHours(hoursValue); ok {
		record.DurationHours = hours
	} else {
		if CellString(hoursValue) != "" {
			warn(models.ExceptionUnparseableHours, FieldDuration, hoursValue, "unparseable duration")
		}
		if derived, ok := HoursBetween(record.StartTime, record.EndTime); ok {
			record.DurationHours = derived
		}
	}

	if len(exceptions) > 0 {
		n.logger.WithFields(logger.Fields{
			"line":       line,
			"exceptions": len(exceptions),
		}).Debug("Row normalized with warnings")
	}

	return record, exceptions
}

func copyRow(row models.Row) models.Row {
	out := make(models.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
