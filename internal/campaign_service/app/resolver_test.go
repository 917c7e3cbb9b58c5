package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

func TestResolveRecipients_ExactMatchExclusion(t *testing.T) {
	candidates := makeRecipients("010-4914-8478", "010-4914-0000")
	sms := domain.ExclusionSet{Name: "already_contacted:sms", Phones: domain.NewPhoneSet("01049148478")}

	res := ResolveRecipients(candidates, []domain.ExclusionSet{sms})

	assert.Len(t, res.Eligible, 1)
	assert.Equal(t, "010-4914-0000", res.Eligible[0].Phone)
	assert.Equal(t, 1, res.Stats.ExcludedBySet["already_contacted:sms"])
	assert.Equal(t, 1, res.Stats.Excluded)
}

func TestResolveRecipients_DeduplicatesKeepingFirstAndOrder(t *testing.T) {
	candidates := []domain.Recipient{
		{Phone: "010-1111-2222", Name: "first"},
		{Phone: "010-3333-4444", Name: "other"},
		{Phone: "+82 10 1111 2222", Name: "second"},
		{Phone: "01055556666", Name: "last"},
	}

	res := ResolveRecipients(candidates, nil)

	names := make([]string, 0, len(res.Eligible))
	for _, r := range res.Eligible {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"first", "other", "last"}, names)
	assert.Equal(t, 1, res.Stats.Duplicates)
	assert.Equal(t, 4, res.Stats.Total)
	assert.Equal(t, 3, res.Stats.Eligible)
}

func TestResolveRecipients_UnmatchableKeptAndFlagged(t *testing.T) {
	candidates := makeRecipients("02-123-4567", "010-1111-2222", "02-123-4567")
	everyone := domain.ExclusionSet{Name: "all", Phones: domain.NewPhoneSet("01011112222")}

	res := ResolveRecipients(candidates, []domain.ExclusionSet{everyone})

	assert.Len(t, res.Eligible, 2)
	assert.Len(t, res.Unmatchable, 2)
	assert.Equal(t, 2, res.Stats.Unmatchable)
	assert.Equal(t, 1, res.Stats.Excluded)
}

func TestResolveRecipients_CountsEverySetThatMatches(t *testing.T) {
	candidates := makeRecipients("010-1111-2222", "010-3333-4444", "010-5555-6666")
	sets := []domain.ExclusionSet{
		{Name: "survey", Phones: domain.NewPhoneSet("01011112222", "01033334444")},
		{Name: "friends", Phones: domain.NewPhoneSet("01011112222")},
		{Name: "empty", Phones: domain.NewPhoneSet()},
	}

	res := ResolveRecipients(candidates, sets)

	assert.Len(t, res.Eligible, 1)
	assert.Equal(t, 2, res.Stats.Excluded)
	assert.Equal(t, map[string]int{"survey": 2, "friends": 1, "empty": 0}, res.Stats.ExcludedBySet)
}

func TestResolveRecipients_NoSetsYieldsDistinctCandidates(t *testing.T) {
	candidates := numberedRecipients(50)
	candidates = append(candidates, candidates[:10]...)

	res := ResolveRecipients(candidates, nil)
	assert.Len(t, res.Eligible, 50)
	assert.Equal(t, 10, res.Stats.Duplicates)
}
