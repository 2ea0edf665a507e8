package matcher

import (
	"sort"
	"unicode/utf8"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/parsers"
)

// nameEntry is one normalized name of a client
type nameEntry struct {
	name   string
	length int
}

// ClientIndex is the read-only lookup context shared by all matching calls
// of a batch. It is built once and never mutated, so it is safe to share
// between goroutines.
type ClientIndex struct {
	// TaxIDIndex maps normalized tax ids to client ids
	TaxIDIndex map[string][]string

	// PlatformNameIndex maps normalized billing platform names to client ids
	PlatformNameIndex map[string][]string

	// AlternateNameIndex maps normalized legal, trade and short names to client ids
	AlternateNameIndex map[string][]string

	clients map[string]*models.CanonicalClient
	names   map[string][]nameEntry
	order   []string
}

// NewClientIndex builds the lookup indexes over clients. Inactive clients
// are skipped unless the configuration includes them; a nil config uses the
// defaults.
func NewClientIndex(clients []*models.CanonicalClient, config *MatchingConfig) *ClientIndex {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	index := &ClientIndex{
		TaxIDIndex:         make(map[string][]string),
		PlatformNameIndex:  make(map[string][]string),
		AlternateNameIndex: make(map[string][]string),
		clients:            make(map[string]*models.CanonicalClient),
		names:              make(map[string][]nameEntry),
	}

	for _, client := range clients {
		if client == nil || client.ID == "" {
			continue
		}
		if !client.Active && !config.IncludeInactive {
			continue
		}
		if _, exists := index.clients[client.ID]; exists {
			continue
		}
		index.clients[client.ID] = client
		index.order = append(index.order, client.ID)

		if taxID := parsers.NormalizeTaxID(client.TaxID); taxID != "" {
			index.TaxIDIndex[taxID] = append(index.TaxIDIndex[taxID], client.ID)
		}
		if name := parsers.NormalizeName(client.BillingPlatformName); name != "" {
			index.PlatformNameIndex[name] = append(index.PlatformNameIndex[name], client.ID)
		}

		seen := make(map[string]bool)
		for _, raw := range []string{client.BillingPlatformName, client.LegalName, client.TradeName, client.ShortName} {
			name := parsers.NormalizeName(raw)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			index.names[client.ID] = append(index.names[client.ID], nameEntry{
				name:   name,
				length: utf8.RuneCountInString(name),
			})
			if raw != client.BillingPlatformName {
				index.AlternateNameIndex[name] = appendUnique(index.AlternateNameIndex[name], client.ID)
			}
		}
	}

	sort.Strings(index.order)
	return index
}

// Client returns the indexed client with the given id
func (idx *ClientIndex) Client(id string) (*models.CanonicalClient, bool) {
	client, ok := idx.clients[id]
	return client, ok
}

// Clients returns the indexed clients ordered by id
func (idx *ClientIndex) Clients() []*models.CanonicalClient {
	out := make([]*models.CanonicalClient, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.clients[id])
	}
	return out
}

// Len returns the number of indexed clients
func (idx *ClientIndex) Len() int {
	return len(idx.order)
}

// Names returns the normalized names of a client
func (idx *ClientIndex) Names(id string) []string {
	entries := idx.names[id]
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
