package matcher

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/parsers"
	"store-billing-reconciler/pkg/errors"
	"store-billing-reconciler/pkg/logger"
)

// ClientMatcher resolves records against a ClientIndex
type ClientMatcher struct {
	Config    *MatchingConfig
	Index     *ClientIndex
	suggester *Suggester
	logger    logger.Logger
}

// MatchSummary provides aggregate statistics about a matching run
type MatchSummary struct {
	TotalRecords int                      `json:"total_records"`
	Matched      int                      `json:"matched"`
	Unmatched    int                      `json:"unmatched"`
	Ambiguous    int                      `json:"ambiguous"`
	ByTier       map[models.MatchTier]int `json:"by_tier"`
}

// NewClientMatcher creates a matcher over index. A nil config uses the
// defaults.
func NewClientMatcher(index *ClientIndex, config *MatchingConfig) *ClientMatcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if index == nil {
		index = NewClientIndex(nil, config)
	}

	m := &ClientMatcher{
		Config: config,
		Index:  index,
		logger: logger.GetGlobalLogger().WithComponent("client_matcher"),
	}
	if config.SuggestionCount > 0 {
		m.suggester = NewSuggester(index, config.SuggestionBagSizes)
	}
	return m
}

// Match resolves one record. It reads the record but never modifies it, so
// calling it again with the same index yields the same result.
func (m *ClientMatcher) Match(record *models.RawRecord) models.MatchResult {
	none := models.MatchResult{Tier: models.TierNone}
	if record == nil {
		return none
	}

	if m.Config.EnableTaxID {
		if taxID := parsers.NormalizeTaxID(record.TaxIDRaw); taxID != "" {
			if ids := m.Index.TaxIDIndex[taxID]; len(ids) == 1 {
				return models.MatchResult{ClientID: ids[0], Tier: models.TierTaxID}
			}
		}
	}

	name := parsers.NormalizeName(record.StoreNameRaw)
	if name == "" {
		return none
	}

	if m.Config.EnablePlatformName {
		if ids := m.Index.PlatformNameIndex[name]; len(ids) == 1 {
			return models.MatchResult{ClientID: ids[0], Tier: models.TierPlatformName}
		}
	}

	if m.Config.EnableAlternateNames {
		if ids := m.Index.AlternateNameIndex[name]; len(ids) == 1 {
			return models.MatchResult{ClientID: ids[0], Tier: models.TierAlternateName}
		}
	}

	if m.Config.EnableSubstring {
		return m.matchSubstring(name)
	}
	return none
}

// matchSubstring scores every client whose name contains, or is contained
// in, the record name. A client scores the best of its names.
func (m *ClientMatcher) matchSubstring(name string) models.MatchResult {
	length := utf8.RuneCountInString(name)
	if length < m.Config.MinSubstringLength {
		return models.MatchResult{Tier: models.TierNone}
	}

	scores := make(map[string]int)
	for _, id := range m.Index.order {
		best := 0
		for _, entry := range m.Index.names[id] {
			if entry.length < m.Config.MinSubstringLength {
				continue
			}
			if score := SpecificityScore(entry.name, name); score > best {
				best = score
			}
		}
		if best > 0 {
			scores[id] = best
		}
	}

	if len(scores) == 0 {
		return models.MatchResult{Tier: models.TierNone}
	}

	top := 0
	for _, score := range scores {
		if score > top {
			top = score
		}
	}
	var tied []string
	for id, score := range scores {
		if score == top {
			tied = append(tied, id)
		}
	}
	sort.Strings(tied)

	if len(tied) == 1 {
		return models.MatchResult{ClientID: tied[0], Tier: models.TierSubstring, Score: top}
	}
	return models.MatchResult{Candidates: tied, Tier: models.TierNone, Score: top}
}

// SpecificityScore ranks how well a normalized client name fits a
// normalized record name. Equality scores the name length plus
// ExactNameBonus, containment either way scores the shorter length, and
// anything else scores zero.
func SpecificityScore(clientName, recordName string) int {
	if clientName == "" || recordName == "" {
		return 0
	}
	if clientName == recordName {
		return utf8.RuneCountInString(clientName) + ExactNameBonus
	}
	if strings.Contains(recordName, clientName) || strings.Contains(clientName, recordName) {
		a, b := utf8.RuneCountInString(clientName), utf8.RuneCountInString(recordName)
		if a < b {
			return a
		}
		return b
	}
	return 0
}

// MatchAll matches every record and stores the result on it. Records that
// carry a manual match keep it.
func (m *ClientMatcher) MatchAll(records []*models.RawRecord) *MatchSummary {
	summary := &MatchSummary{ByTier: make(map[models.MatchTier]int)}
	for _, record := range records {
		if record == nil {
			continue
		}
		if record.Match.Tier != models.TierManual {
			record.Match = m.Match(record)
		}
		summary.Add(record.Match)
	}

	m.logger.WithFields(logger.Fields{
		"records":   summary.TotalRecords,
		"matched":   summary.Matched,
		"unmatched": summary.Unmatched,
		"ambiguous": summary.Ambiguous,
	}).Info("Client matching completed")

	return summary
}

// Add counts one match result
func (s *MatchSummary) Add(result models.MatchResult) {
	s.TotalRecords++
	s.ByTier[result.Tier]++
	switch {
	case result.Matched():
		s.Matched++
	case result.Ambiguous():
		s.Ambiguous++
	default:
		s.Unmatched++
	}
}

// Exception describes why a record has no client, or returns nil when it
// has one. Unmatched records get the nearest client names as hints.
func (m *ClientMatcher) Exception(record *models.RawRecord) *models.Exception {
	if record == nil || record.Match.Matched() {
		return nil
	}

	if record.Match.Ambiguous() {
		return &models.Exception{
			Kind:       models.ExceptionAmbiguousMatch,
			Severity:   models.SeverityWarning,
			RecordID:   record.ID,
			Line:       record.Line,
			Message:    fmt.Sprintf("store '%s' matches %d clients equally well", record.StoreNameRaw, len(record.Match.Candidates)),
			Candidates: append([]string(nil), record.Match.Candidates...),
		}
	}

	exception := &models.Exception{
		Kind:     models.ExceptionUnmatchedClient,
		Severity: models.SeverityWarning,
		RecordID: record.ID,
		Line:     record.Line,
		Message:  fmt.Sprintf("no client found for store '%s'", record.StoreNameRaw),
	}
	if m.suggester != nil {
		exception.Suggestions = m.suggester.Suggest(record.StoreNameRaw, m.Config.SuggestionCount)
	}
	return exception
}

// Assign records an operator's choice of client. The id must be indexed.
func (m *ClientMatcher) Assign(record *models.RawRecord, clientID string) error {
	if _, ok := m.Index.Client(clientID); !ok {
		return errors.MatchingError(errors.CodeUnknownClient, clientID, nil)
	}
	record.Match = models.MatchResult{ClientID: clientID, Tier: models.TierManual}
	return nil
}
