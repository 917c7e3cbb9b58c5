package app

import (
	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// ResolutionStats summarizes one resolution for the operator.
type ResolutionStats struct {
	Total       int `json:"total"`
	Duplicates  int `json:"duplicates"`
	Unmatchable int `json:"unmatchable"`
	Excluded    int `json:"excluded"`
	Eligible    int `json:"eligible"`
	// Candidates matched by each set; a candidate in two sets counts in both.
	ExcludedBySet map[string]int `json:"excluded_by_set"`
}

// Resolution is the eligible recipient list in input order.
type Resolution struct {
	Eligible []domain.Recipient
	// Unmatchable recipients are also present in Eligible; they could not be
	// deduplicated or excluded and are listed here for the warning report.
	Unmatchable []domain.Recipient
	Stats       ResolutionStats
}

// ResolveRecipients removes duplicate and excluded candidates. The first
// occurrence of each normalized phone wins; order is preserved.
func ResolveRecipients(candidates []domain.Recipient, sets []domain.ExclusionSet) Resolution {
	res := Resolution{
		Eligible: make([]domain.Recipient, 0, len(candidates)),
		Stats: ResolutionStats{
			Total:         len(candidates),
			ExcludedBySet: make(map[string]int, len(sets)),
		},
	}
	for _, s := range sets {
		res.Stats.ExcludedBySet[s.Name] = 0
	}

	seen := make(domain.PhoneSet, len(candidates))
	for _, r := range candidates {
		phone, ok := r.Normalized()
		if !ok {
			res.Unmatchable = append(res.Unmatchable, r)
			res.Eligible = append(res.Eligible, r)
			continue
		}
		if seen.Has(phone) {
			res.Stats.Duplicates++
			continue
		}
		seen.Add(phone)

		excluded := false
		for _, s := range sets {
			if s.Phones.Has(phone) {
				res.Stats.ExcludedBySet[s.Name]++
				excluded = true
			}
		}
		if excluded {
			res.Stats.Excluded++
			continue
		}
		res.Eligible = append(res.Eligible, r)
	}

	res.Stats.Unmatchable = len(res.Unmatchable)
	res.Stats.Eligible = len(res.Eligible)
	return res
}
