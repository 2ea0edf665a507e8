package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Address is the postal address of a canonical client
type Address struct {
	Street       string `json:"street,omitempty" yaml:"street"`
	Neighborhood string `json:"neighborhood,omitempty" yaml:"neighborhood"`
	City         string `json:"city,omitempty" yaml:"city"`
	State        string `json:"state,omitempty" yaml:"state"`
	PostalCode   string `json:"postal_code,omitempty" yaml:"postal_code"`
}

// CanonicalClient is a billing entity known to the client directory
type CanonicalClient struct {
	ID                  string  `json:"id" yaml:"id" validate:"required"`
	LegalName           string  `json:"legal_name" yaml:"legal_name" validate:"required"`
	TradeName           string  `json:"trade_name,omitempty" yaml:"trade_name"`
	ShortName           string  `json:"short_name,omitempty" yaml:"short_name"`
	BillingPlatformName string  `json:"billing_platform_name,omitempty" yaml:"billing_platform_name"`
	TaxID               string  `json:"tax_id,omitempty" yaml:"tax_id" validate:"omitempty,taxid"`
	BillingCycleID      string  `json:"billing_cycle_id,omitempty" yaml:"billing_cycle_id"`
	ParentEntityID      string  `json:"parent_entity_id,omitempty" yaml:"parent_entity_id" validate:"omitempty,nefield=ID"`
	Address             Address `json:"address" yaml:"address"`
	InvoiceSuppressed   bool    `json:"invoice_suppressed,omitempty" yaml:"invoice_suppressed"`
	Active              bool    `json:"active" yaml:"active"`
}

// AddressComplete reports whether every address component is present
func (c *CanonicalClient) AddressComplete() bool {
	a := c.Address
	for _, part := range []string{a.Street, a.Neighborhood, a.City, a.State, a.PostalCode} {
		if strings.TrimSpace(part) == "" {
			return false
		}
	}
	return true
}

// DisplayName returns the most specific human name of the client
func (c *CanonicalClient) DisplayName() string {
	for _, name := range []string{c.BillingPlatformName, c.TradeName, c.LegalName, c.ShortName} {
		if strings.TrimSpace(name) != "" {
			return name
		}
	}
	return c.ID
}

// AdjustmentKind is the direction of a manual financial correction
type AdjustmentKind string

const (
	AdjustmentCredit AdjustmentKind = "CREDIT"
	AdjustmentDebit  AdjustmentKind = "DEBIT"
)

// IsValid checks if the adjustment kind is valid
func (k AdjustmentKind) IsValid() bool {
	return k == AdjustmentCredit || k == AdjustmentDebit
}

// Adjustment is an operator-entered credit or debit for one client. Only
// unapplied adjustments participate in consolidation.
type Adjustment struct {
	ID       string          `json:"id" yaml:"id"`
	ClientID string          `json:"client_id" yaml:"client_id" validate:"required"`
	Kind     AdjustmentKind  `json:"kind" yaml:"kind" validate:"required,oneof=CREDIT DEBIT"`
	Amount   decimal.Decimal `json:"amount" yaml:"amount" validate:"gte=0"`
	Reason   string          `json:"reason,omitempty" yaml:"reason"`
	Applied  bool            `json:"applied" yaml:"applied"`
}

// Validate performs basic validation on the Adjustment
func (a *Adjustment) Validate() error {
	if strings.TrimSpace(a.ClientID) == "" {
		return fmt.Errorf("adjustment client ID cannot be empty")
	}
	if !a.Kind.IsValid() {
		return fmt.Errorf("invalid adjustment kind: %s", a.Kind)
	}
	if a.Amount.IsNegative() {
		return fmt.Errorf("adjustment amount cannot be negative: %s", a.Amount.String())
	}
	return nil
}

// FiscalDocument is the flat extract of one issued invoice
type FiscalDocument struct {
	TaxID                string          `json:"tax_id" yaml:"tax_id" validate:"required,taxid"`
	DocumentNumber       string          `json:"document_number" yaml:"document_number" validate:"required"`
	WithholdingTaxAmount decimal.Decimal `json:"withholding_tax_amount" yaml:"withholding_tax_amount" validate:"gte=0"`
}
