package duplicates

import (
	"fmt"

	"store-billing-reconciler/internal/models"
)

// KeepFirst resolves a group to its first record: the survivor is made
// active and every other member is removed. Members already rejected for
// their period or cycle keep that status and are only linked to the
// survivor. It returns the number of records removed.
func KeepFirst(g *Group) int {
	if g == nil || len(g.Records) == 0 {
		return 0
	}

	first := g.Records[0]
	first.DuplicateOf = ""
	if first.Override != nil && first.Override.Status == models.StatusRemoved {
		first.Override = nil
	}

	removed := 0
	for _, r := range g.Records[1:] {
		r.DuplicateOf = first.ID
		if rejectedByRule(r) {
			continue
		}
		r.Override = &models.StatusOverride{
			Status: models.StatusRemoved,
			Reason: fmt.Sprintf("duplicate of %s", first.ID),
		}
		removed++
	}
	return removed
}

func rejectedByRule(r *models.RawRecord) bool {
	return r.RuleStatus == models.StatusOutOfPeriod || r.RuleStatus == models.StatusWrongCycle
}

// Toggle removes an active record or restores a removed one and returns
// the record's new status.
func Toggle(r *models.RawRecord) models.ValidationStatus {
	if r.Status() == models.StatusRemoved || r.Status() == models.StatusDuplicate {
		r.Override = nil
		r.DuplicateOf = ""
	} else {
		r.Override = &models.StatusOverride{Status: models.StatusRemoved, Reason: "removed by operator"}
	}
	return r.Status()
}

// AutoResolve keeps the first record of every exact group. Suspicious
// groups are left alone. It returns the number of records removed.
func AutoResolve(result *Result) int {
	removed := 0
	for _, g := range result.ExactGroups {
		removed += KeepFirst(g)
	}
	return removed
}

// MarkPending flags every non-first member of an exact group as a
// duplicate of the first, excluding it from totals until an operator
// confirms or restores it.
func MarkPending(result *Result) int {
	marked := 0
	for _, g := range result.ExactGroups {
		first := g.Records[0]
		for _, r := range g.Records[1:] {
			if r.Override != nil {
				continue
			}
			r.DuplicateOf = first.ID
			marked++
		}
	}
	return marked
}

// Exceptions reports one exception per group
func Exceptions(result *Result) []models.Exception {
	var out []models.Exception
	for _, g := range result.ExactGroups {
		out = append(out, groupException(g, models.ExceptionExactDuplicate, models.SeverityWarning))
	}
	for _, g := range result.SuspiciousGroups {
		out = append(out, groupException(g, models.ExceptionSuspiciousDuplicate, models.SeverityWarning))
	}
	return out
}

func groupException(g *Group, kind models.ExceptionKind, severity models.Severity) models.Exception {
	first := g.Records[0]
	return models.Exception{
		Kind:       kind,
		Severity:   severity,
		RecordID:   first.ID,
		Line:       first.Line,
		ClientID:   first.Match.ClientID,
		Message:    fmt.Sprintf("%s (group %s)", g.Reason, g.ID),
		Candidates: g.RecordIDs(),
	}
}
