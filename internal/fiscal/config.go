package fiscal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
)

// PayablePolicy decides whether withholding is deducted from the final
// payable amount.
type PayablePolicy string

const (
	// PayableGross bills the whole base; withholding is informational.
	PayableGross PayablePolicy = "gross"
	// PayableNetOfWithholding deducts withholding for every client.
	PayableNetOfWithholding PayablePolicy = "net_of_withholding"
	// PayableNetForSpecialCluster deducts withholding only for clients of
	// the special cluster.
	PayableNetForSpecialCluster PayablePolicy = "net_for_special_cluster"
)

// ParsePayablePolicy parses a policy name
func ParsePayablePolicy(s string) (PayablePolicy, error) {
	switch p := PayablePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PayableGross, PayableNetOfWithholding, PayableNetForSpecialCluster:
		return p, nil
	case "":
		return PayableGross, nil
	}
	return "", errors.ConfigurationError(errors.CodeInvalidConfig, "payable_policy", s, nil).
		WithSuggestion(fmt.Sprintf("use one of: %s, %s, %s", PayableGross, PayableNetOfWithholding, PayableNetForSpecialCluster))
}

// Config holds the fiscal split parameters
type Config struct {
	InvoiceRate     decimal.Decimal `json:"invoice_rate" mapstructure:"invoice_rate"`
	CreditNoteRate  decimal.Decimal `json:"credit_note_rate" mapstructure:"credit_note_rate"`
	WithholdingRate decimal.Decimal `json:"withholding_rate" mapstructure:"withholding_rate"`
	PayablePolicy   PayablePolicy   `json:"payable_policy" mapstructure:"payable_policy"`

	// SpecialCluster selects the clients whose missing withholding is
	// estimated from the invoice amount. Nil selects nobody.
	SpecialCluster func(*models.CanonicalClient) bool `json:"-" mapstructure:"-"`
}

// DefaultConfig returns the standard 11.5% / 88.5% split with a 1.5%
// withholding estimate and a gross payable.
func DefaultConfig() *Config {
	return &Config{
		InvoiceRate:     decimal.RequireFromString("0.115"),
		CreditNoteRate:  decimal.RequireFromString("0.885"),
		WithholdingRate: decimal.RequireFromString("0.015"),
		PayablePolicy:   PayableGross,
	}
}

// Validate checks if the fiscal configuration is valid
func (c *Config) Validate() error {
	for name, rate := range map[string]decimal.Decimal{
		"invoice_rate":     c.InvoiceRate,
		"credit_note_rate": c.CreditNoteRate,
		"withholding_rate": c.WithholdingRate,
	} {
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return errors.ConfigurationError(errors.CodeInvalidConfig, name, rate.String(), nil).
				WithSuggestion("rates are fractions between 0 and 1")
		}
	}
	if _, err := ParsePayablePolicy(string(c.PayablePolicy)); err != nil {
		return err
	}
	return nil
}

func (c *Config) special(client *models.CanonicalClient) bool {
	return c.SpecialCluster != nil && client != nil && c.SpecialCluster(client)
}
