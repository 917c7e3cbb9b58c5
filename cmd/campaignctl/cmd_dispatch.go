package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/masgolf/golang_services/internal/campaign_service/app"
	"github.com/masgolf/golang_services/internal/campaign_service/bootstrap"
	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <campaign-id> <time>",
	Short: "Schedule a draft for delivery",
	Long: `Schedule a draft for delivery. <time> is RFC 3339, e.g. 2026-11-01T09:00:00+09:00,
and must lie in the future.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		at, err := time.Parse(time.RFC3339, args[1])
		if err != nil {
			return fmt.Errorf("invalid time %q: %w", args[1], err)
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			updated, err := c.App.Schedule(ctx, id, at)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		})
	},
}

var unscheduleCmd = &cobra.Command{
	Use:   "unschedule <campaign-id>",
	Short: "Return a scheduled campaign to draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			updated, err := c.App.CancelSchedule(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		})
	},
}

var sendNowCmd = &cobra.Command{
	Use:   "send-now <campaign-id>...",
	Short: "Dispatch campaigns immediately",
	Long: `Dispatch one or more campaigns now. Dispatch is idempotent: a campaign that
already went out is reported with already_sent instead of being sent again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uuid.UUID, 0, len(args))
		for _, a := range args {
			id, err := parseID(a)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			outcomes := c.Dispatcher.DispatchMany(ctx, ids)
			report := make([]sendReport, len(outcomes))
			var failed int
			for i, o := range outcomes {
				report[i] = sendReport{CampaignID: o.CampaignID.String(), Result: o.Result}
				if o.Err != nil {
					report[i].Error = o.Err.Error()
					if !errors.Is(o.Err, domain.ErrCommitPending) {
						failed++
					}
				}
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d campaigns failed to dispatch", failed, len(outcomes))
			}
			return nil
		})
	},
}

type sendReport struct {
	CampaignID string              `json:"campaign_id"`
	Result     *app.DispatchResult `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
}

var resyncCmd = &cobra.Command{
	Use:   "resync-status <campaign-id>",
	Short: "Poll the provider for every delivery group of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			summary, err := c.Reconciler.Resync(ctx, id)
			if summary != nil {
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var followUpFlags struct {
	recipients string
	template   string
	note       string
}

var followUpCmd = &cobra.Command{
	Use:   "follow-up <parent-campaign-id>",
	Short: "Create follow-up drafts of a dispatched campaign",
	Long: `Create child drafts of a sent, closed or failed campaign. Without --recipients
the recipients the provider rejected are retried; without --template the
parent's template is reused.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		req := app.FollowUpRequest{Note: followUpFlags.note}
		if cmd.Flags().Changed("template") {
			req.Template = &followUpFlags.template
		}
		if followUpFlags.recipients != "" {
			if req.Recipients, err = readRecipientsFile(followUpFlags.recipients); err != nil {
				return err
			}
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			children, err := c.App.CreateFollowUp(ctx, id, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), children)
		})
	},
}

func init() {
	f := followUpCmd.Flags()
	f.StringVar(&followUpFlags.recipients, "recipients", "", "Recipient CSV file")
	f.StringVar(&followUpFlags.template, "template", "", "Template for the follow-up")
	f.StringVar(&followUpFlags.note, "note", "", "Operator note")
}
