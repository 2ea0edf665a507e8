package matcher

import (
	"fmt"
	"sync"

	"github.com/schollz/closestmatch"

	"store-billing-reconciler/internal/parsers"
)

// Suggester finds the client names nearest to an unmatched store name.
// Its results are hints for the operator and are never assigned
// automatically. Answers are memoized per name so repeated calls agree
// even where closestmatch ranks ties arbitrarily.
type Suggester struct {
	cm     *closestmatch.ClosestMatch
	owners map[string][]string

	mu   sync.Mutex
	memo map[string][]string
}

// NewSuggester indexes every normalized name of the clients in index
func NewSuggester(index *ClientIndex, bagSizes []int) *Suggester {
	s := &Suggester{
		owners: make(map[string][]string),
		memo:   make(map[string][]string),
	}

	var names []string
	for _, id := range index.order {
		for _, entry := range index.names[id] {
			if _, seen := s.owners[entry.name]; !seen {
				names = append(names, entry.name)
			}
			s.owners[entry.name] = appendUnique(s.owners[entry.name], id)
		}
	}
	if len(names) > 0 {
		s.cm = closestmatch.New(names, bagSizes)
	}
	return s
}

// Suggest returns up to n client ids whose names are closest to storeName,
// nearest first.
func (s *Suggester) Suggest(storeName string, n int) []string {
	name := parsers.NormalizeName(storeName)
	if s.cm == nil || name == "" || n <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d\x1f%s", n, name)
	if ids, ok := s.memo[key]; ok {
		return append([]string(nil), ids...)
	}

	var ids []string
	for _, match := range s.cm.ClosestN(name, n) {
		for _, id := range s.owners[match] {
			if len(ids) < n {
				ids = appendUnique(ids, id)
			}
		}
	}
	s.memo[key] = ids
	return append([]string(nil), ids...)
}
