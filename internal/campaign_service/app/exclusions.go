package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// ExclusionSource produces one set of normalized phones to exclude.
type ExclusionSource interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.NormalizedPhone, error)
}

type sourceFunc struct {
	name  string
	fetch func(ctx context.Context) ([]domain.NormalizedPhone, error)
}

func (s sourceFunc) Name() string { return s.name }

func (s sourceFunc) Fetch(ctx context.Context) ([]domain.NormalizedPhone, error) {
	return s.fetch(ctx)
}

// AlreadyContactedSource excludes everyone already messaged on channel by the
// given campaigns; no campaign ids means any earlier campaign on that channel.
func AlreadyContactedSource(customers domain.CustomerSource, channel domain.Channel, campaignIDs []string) ExclusionSource {
	name := "already_contacted:" + string(channel)
	if len(campaignIDs) > 0 {
		name += ":" + strings.Join(campaignIDs, ",")
	}
	return sourceFunc{name: name, fetch: func(ctx context.Context) ([]domain.NormalizedPhone, error) {
		return customers.ListAlreadyContacted(ctx, channel, campaignIDs)
	}}
}

func SurveyRespondentSource(customers domain.CustomerSource) ExclusionSource {
	return sourceFunc{name: "survey_respondents", fetch: customers.ListSurveyRespondents}
}

func ChannelFriendSource(customers domain.CustomerSource, channel domain.Channel) ExclusionSource {
	return sourceFunc{name: "channel_friends:" + string(channel), fetch: func(ctx context.Context) ([]domain.NormalizedPhone, error) {
		return customers.ListChannelFriends(ctx, channel)
	}}
}

// OptOutSource is applied to every resolution.
func OptOutSource(customers domain.CustomerSource) ExclusionSource {
	return sourceFunc{name: "opted_out", fetch: customers.ListOptedOut}
}

// ExclusionGatherer fetches all sources concurrently. Any failure aborts the
// whole gathering and names the failing source.
type ExclusionGatherer struct {
	logger  *slog.Logger
	timeout time.Duration
}

func NewExclusionGatherer(logger *slog.Logger, perSourceTimeout time.Duration) *ExclusionGatherer {
	return &ExclusionGatherer{logger: logger.With("component", "exclusion_gatherer"), timeout: perSourceTimeout}
}

func (g *ExclusionGatherer) Gather(ctx context.Context, sources []ExclusionSource) ([]domain.ExclusionSet, error) {
	sets := make([]domain.ExclusionSet, len(sources))
	eg, egCtx := errgroup.WithContext(ctx)

	for i, src := range sources {
		i, src := i, src
		eg.Go(func() error {
			srcCtx := egCtx
			if g.timeout > 0 {
				var cancel context.CancelFunc
				srcCtx, cancel = context.WithTimeout(egCtx, g.timeout)
				defer cancel()
			}
			phones, err := src.Fetch(srcCtx)
			if err != nil {
				return &domain.ExclusionSourceUnavailableError{Source: src.Name(), Err: err}
			}
			sets[i] = domain.ExclusionSet{Name: src.Name(), Phones: domain.NewPhoneSet(phones...)}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		g.logger.ErrorContext(ctx, "Exclusion gathering aborted", "error", err)
		return nil, fmt.Errorf("gather exclusions: %w", err)
	}

	for _, s := range sets {
		g.logger.DebugContext(ctx, "Exclusion source loaded", "source", s.Name, "size", s.Phones.Len())
	}
	return sets, nil
}
