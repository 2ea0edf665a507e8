// Package matcher resolves free-text store names from billing records to
// canonical clients of the directory.
//
// Resolution is a strict-to-fuzzy cascade over a read-only ClientIndex:
//  1. Exact normalized tax id
//  2. Exact normalized billing platform name
//  3. Exact normalized legal, trade or short name
//  4. Substring containment ranked by a specificity score
//
// Each tier runs only when the previous one found nothing. A tie in the
// substring tier is never broken: the record stays unmatched and the tied
// client ids are reported as candidates for manual resolution.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.EnableSubstring = false
//
//	index := matcher.NewClientIndex(clients, config)
//	m := matcher.NewClientMatcher(index, config)
//	result := m.Match(record)
package matcher

import (
	"fmt"

	"store-billing-reconciler/pkg/errors"
)

// ExactNameBonus is added to the length of a name that equals the record's
// store name so that equality always outranks containment.
const ExactNameBonus = 1000

// MatchingConfig holds the configuration of the client matcher
type MatchingConfig struct {
	// Tier switches. All tiers are enabled by default.
	EnableTaxID          bool `json:"enable_tax_id" mapstructure:"enable_tax_id"`
	EnablePlatformName   bool `json:"enable_platform_name" mapstructure:"enable_platform_name"`
	EnableAlternateNames bool `json:"enable_alternate_names" mapstructure:"enable_alternate_names"`
	EnableSubstring      bool `json:"enable_substring" mapstructure:"enable_substring"`

	// MinSubstringLength keeps names shorter than this out of the substring
	// tier. Zero admits every name; raise it when two-letter short names
	// start matching almost every store.
	MinSubstringLength int `json:"min_substring_length" mapstructure:"min_substring_length"`

	// IncludeInactive indexes clients that are not active.
	IncludeInactive bool `json:"include_inactive" mapstructure:"include_inactive"`

	// SuggestionCount is the number of nearest names attached to an
	// unmatched record as hints. Zero disables suggestions.
	SuggestionCount int `json:"suggestion_count" mapstructure:"suggestion_count"`

	// SuggestionBagSizes are the character n-gram sizes used by the
	// suggester's bag-of-words index.
	SuggestionBagSizes []int `json:"suggestion_bag_sizes" mapstructure:"suggestion_bag_sizes"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		EnableTaxID:          true,
		EnablePlatformName:   true,
		EnableAlternateNames: true,
		EnableSubstring:      true,
		MinSubstringLength:   0,
		SuggestionCount:      3,
		SuggestionBagSizes:   []int{2, 3},
	}
}

// StrictMatchingConfig returns a configuration that only accepts exact matches
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.EnableSubstring = false
	return config
}

// Validate checks if the matching configuration is valid
func (c *MatchingConfig) Validate() error {
	if !c.EnableTaxID && !c.EnablePlatformName && !c.EnableAlternateNames && !c.EnableSubstring {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", "all tiers disabled", nil).
			WithSuggestion("enable at least one matching tier")
	}
	if c.MinSubstringLength < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "min_substring_length", c.MinSubstringLength, nil)
	}
	if c.SuggestionCount < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "suggestion_count", c.SuggestionCount, nil)
	}
	if c.SuggestionCount > 0 && len(c.SuggestionBagSizes) == 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "suggestion_bag_sizes", nil, nil).
			WithSuggestion("suggestions need at least one bag size")
	}
	for _, size := range c.SuggestionBagSizes {
		if size < 1 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "suggestion_bag_sizes", size, nil)
		}
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *MatchingConfig) Clone() *MatchingConfig {
	clone := *c
	clone.SuggestionBagSizes = append([]int(nil), c.SuggestionBagSizes...)
	return &clone
}

// String returns a string representation of the configuration
func (c *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{TaxID: %t, PlatformName: %t, AlternateNames: %t, Substring: %t, MinSubstring: %d, Suggestions: %d}",
		c.EnableTaxID, c.EnablePlatformName, c.EnableAlternateNames, c.EnableSubstring,
		c.MinSubstringLength, c.SuggestionCount)
}
