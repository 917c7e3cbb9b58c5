package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/masgolf/golang_services/internal/campaign_service/bootstrap"
	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

var showCmd = &cobra.Command{
	Use:   "show <campaign-id>",
	Short: "Print one campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			campaign, err := c.App.GetCampaign(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), campaign)
		})
	},
}

var listFlags struct {
	status string
	parent string
	limit  int
	offset int
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter, err := buildFilter()
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			campaigns, err := c.App.ListCampaigns(ctx, filter)
			if err != nil {
				return err
			}
			if campaigns == nil {
				campaigns = []*domain.Campaign{}
			}
			return printJSON(cmd.OutOrStdout(), campaigns)
		})
	},
}

func buildFilter() (domain.CampaignFilter, error) {
	filter := domain.CampaignFilter{Limit: listFlags.limit, Offset: listFlags.offset}
	switch s := domain.CampaignStatus(listFlags.status); s {
	case "":
	case domain.StatusDraft, domain.StatusScheduled, domain.StatusSent, domain.StatusClosed, domain.StatusFailed:
		filter.Status = s
	default:
		return filter, fmt.Errorf("unknown status %q", listFlags.status)
	}
	if listFlags.parent != "" {
		id, err := uuid.Parse(listFlags.parent)
		if err != nil {
			return filter, fmt.Errorf("invalid parent id %q", listFlags.parent)
		}
		filter.ParentID = uuid.NullUUID{UUID: id, Valid: true}
	}
	return filter, nil
}

func init() {
	f := listCmd.Flags()
	f.StringVar(&listFlags.status, "status", "", "Only campaigns in this status")
	f.StringVar(&listFlags.parent, "parent", "", "Only follow-ups of this campaign")
	f.IntVar(&listFlags.limit, "limit", 50, "Page size")
	f.IntVar(&listFlags.offset, "offset", 0, "Page offset")
}
