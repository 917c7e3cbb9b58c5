package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/masgolf/golang_services/internal/campaign_service/app"
	"github.com/masgolf/golang_services/internal/campaign_service/bootstrap"
	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

var draftFlags struct {
	channel       string
	kind          string
	template      string
	honorific     string
	vars          []string
	image         string
	note          string
	batchSize     int
	recipients    string
	tags          []string
	province      string
	limit         int
	contactedSMS  []string
	contactedKko  []string
	excludeSurvey bool
	friendsOf     []string
}

var createDraftCmd = &cobra.Command{
	Use:   "create-draft",
	Short: "Resolve recipients and create draft batches",
	Long: `Resolve the recipient universe, apply exclusions and create one draft per batch.

Recipients come from --recipients (CSV with a phone column, "-" for stdin) or,
without it, from the customer store filtered by --tag and --province.`,
	Example: `  campaignctl create-draft --kind LMS --template "{name}님, {store} 오픈" --var store=Gangnam --tag vip
  campaignctl create-draft --recipients list.csv --template "..." --exclude-contacted-sms ""`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, ok := domain.ParseMessageKind(draftFlags.kind)
		if !ok {
			return fmt.Errorf("unknown message kind %q", draftFlags.kind)
		}
		vars, err := parseVars(draftFlags.vars)
		if err != nil {
			return err
		}
		req := app.CreateDraftsRequest{
			Channel:   domain.Channel(draftFlags.channel),
			Kind:      kind,
			Template:  draftFlags.template,
			Honorific: draftFlags.honorific,
			Vars:      vars,
			Note:      draftFlags.note,
			BatchSize: draftFlags.batchSize,
			Filter: domain.CandidateFilter{
				Tags:     draftFlags.tags,
				Province: draftFlags.province,
				Limit:    draftFlags.limit,
			},
			Exclusions: app.ExclusionSpec{SurveyRespondents: draftFlags.excludeSurvey},
		}
		if draftFlags.image != "" {
			req.ImageRef = &draftFlags.image
		}
		if cmd.Flags().Changed("exclude-contacted-sms") {
			req.Exclusions.AlreadyContacted = append(req.Exclusions.AlreadyContacted,
				app.AlreadyContactedSpec{Channel: domain.ChannelSMS, CampaignIDs: nonEmpty(draftFlags.contactedSMS)})
		}
		if cmd.Flags().Changed("exclude-contacted-kakao") {
			req.Exclusions.AlreadyContacted = append(req.Exclusions.AlreadyContacted,
				app.AlreadyContactedSpec{Channel: domain.ChannelKakao, CampaignIDs: nonEmpty(draftFlags.contactedKko)})
		}
		for _, ch := range draftFlags.friendsOf {
			req.Exclusions.ChannelFriends = append(req.Exclusions.ChannelFriends, domain.Channel(ch))
		}
		if draftFlags.recipients != "" {
			if req.Recipients, err = readRecipientsFile(draftFlags.recipients); err != nil {
				return err
			}
		}

		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			plan, err := c.App.CreateDrafts(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		})
	},
}

// nonEmpty drops blank ids so that --exclude-contacted-sms "" means every prior campaign.
func nonEmpty(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

var editFlags struct {
	template   string
	kind       string
	honorific  string
	vars       []string
	recipients string
	note       string
}

var editCmd = &cobra.Command{
	Use:   "edit <campaign-id>",
	Short: "Edit a draft; only --note is accepted past draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var edit domain.DraftEdit
		flags := cmd.Flags()
		if flags.Changed("template") {
			edit.Template = &editFlags.template
		}
		if flags.Changed("kind") {
			kind, ok := domain.ParseMessageKind(editFlags.kind)
			if !ok {
				return fmt.Errorf("unknown message kind %q", editFlags.kind)
			}
			edit.Kind = &kind
		}
		if flags.Changed("honorific") {
			edit.Honorific = &editFlags.honorific
		}
		if flags.Changed("var") {
			if edit.Vars, err = parseVars(editFlags.vars); err != nil {
				return err
			}
		}
		if flags.Changed("note") {
			edit.Note = &editFlags.note
		}
		if editFlags.recipients != "" {
			if edit.Recipients, err = readRecipientsFile(editFlags.recipients); err != nil {
				return err
			}
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			updated, err := c.App.EditDraft(ctx, id, edit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		})
	},
}

var attachMediaCmd = &cobra.Command{
	Use:   "attach-media <campaign-id> <image-ref>",
	Short: "Attach an image to a draft, making it MMS",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			updated, err := c.App.AttachMedia(ctx, id, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		})
	},
}

var splitSize int

var splitCmd = &cobra.Command{
	Use:   "split <campaign-id>",
	Short: "Split a draft into batches of --size recipients",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			parts, err := c.App.SplitDraft(ctx, id, splitSize)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), parts)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <campaign-id>",
	Short: "Delete a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			if err := c.App.DeleteDraft(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		})
	},
}

var lintCmd = &cobra.Command{
	Use:   "lint <campaign-id>",
	Short: "Report placeholders some recipients have no value for",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, c *bootstrap.Components) error {
			warnings, err := c.App.Lint(ctx, id)
			if err != nil {
				return err
			}
			if warnings == nil {
				warnings = []app.LintWarning{}
			}
			return printJSON(cmd.OutOrStdout(), warnings)
		})
	},
}

func init() {
	f := createDraftCmd.Flags()
	f.StringVar(&draftFlags.channel, "channel", string(domain.ChannelSMS), "Channel: sms or kakao")
	f.StringVar(&draftFlags.kind, "kind", "SMS", "Message kind: SMS, LMS or MMS")
	f.StringVar(&draftFlags.template, "template", "", "Message template with {placeholders}")
	f.StringVar(&draftFlags.honorific, "honorific", "", "Suffix appended to {name}")
	f.StringArrayVar(&draftFlags.vars, "var", nil, "Campaign variable key=value (repeatable)")
	f.StringVar(&draftFlags.image, "image", "", "Image reference for MMS")
	f.StringVar(&draftFlags.note, "note", "", "Operator note")
	f.IntVar(&draftFlags.batchSize, "batch-size", 0, "Recipients per batch (default: provider limit)")
	f.StringVar(&draftFlags.recipients, "recipients", "", `Recipient CSV file, "-" for stdin`)
	f.StringSliceVar(&draftFlags.tags, "tag", nil, "Customer tag filter")
	f.StringVar(&draftFlags.province, "province", "", "Customer province filter")
	f.IntVar(&draftFlags.limit, "limit", 0, "Maximum number of candidates from the customer store")
	f.StringSliceVar(&draftFlags.contactedSMS, "exclude-contacted-sms", nil, "Exclude phones already sent SMS by these campaign ids; empty means any")
	f.StringSliceVar(&draftFlags.contactedKko, "exclude-contacted-kakao", nil, "Exclude phones already sent Kakao by these campaign ids; empty means any")
	f.BoolVar(&draftFlags.excludeSurvey, "exclude-survey-respondents", false, "Exclude survey respondents")
	f.StringSliceVar(&draftFlags.friendsOf, "exclude-friends-of", nil, "Exclude friends of these channels")
	_ = createDraftCmd.MarkFlagRequired("template")

	e := editCmd.Flags()
	e.StringVar(&editFlags.template, "template", "", "New template")
	e.StringVar(&editFlags.kind, "kind", "", "New message kind")
	e.StringVar(&editFlags.honorific, "honorific", "", "New honorific")
	e.StringArrayVar(&editFlags.vars, "var", nil, "Replacement variables key=value (repeatable)")
	e.StringVar(&editFlags.recipients, "recipients", "", "Replacement recipient CSV")
	e.StringVar(&editFlags.note, "note", "", "New operator note")

	splitCmd.Flags().IntVar(&splitSize, "size", 0, "Recipients per part")
	_ = splitCmd.MarkFlagRequired("size")
}
