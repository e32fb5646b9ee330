package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Chloe7243/Errandhub/internal/app"
	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/engine"
	"github.com/Chloe7243/Errandhub/internal/engine/auth"
	"github.com/Chloe7243/Errandhub/internal/lifecycle"
	"github.com/Chloe7243/Errandhub/internal/messaging"
	"github.com/Chloe7243/Errandhub/internal/money"
	"github.com/Chloe7243/Errandhub/internal/session"
)

func quoteCmd() *cobra.Command {
	var itemBudget, helperPayment string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Preview the payment breakdown for an errand",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if itemBudget == "" {
					itemBudget = "0"
				}
				b, err := a.Engine.Quote(itemBudget, helperPayment)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(b)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				for _, line := range b.Lines() {
					tw.AppendRow(table.Row{line[0], line[1]})
				}
				tw.AppendFooter(table.Row{"Total", formatMoney(b.Total(), b.Currency)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&itemBudget, "item-budget", "", "item budget (shopping only)")
	cmd.Flags().StringVar(&helperPayment, "helper-payment", "", "helper payment")
	_ = cmd.MarkFlagRequired("helper-payment")
	return cmd
}

func errandCmd() *cobra.Command {
	e := &cobra.Command{
		Use:   "errand",
		Short: "Post, browse and run errands",
	}
	e.AddCommand(errandCreateCmd())
	e.AddCommand(errandListCmd())
	e.AddCommand(errandShowCmd())
	for _, action := range []lifecycle.Action{
		lifecycle.ActionAccept,
		lifecycle.ActionStart,
		lifecycle.ActionConfirm,
		lifecycle.ActionCancel,
	} {
		e.AddCommand(errandAdvanceCmd(action))
	}
	e.AddCommand(errandProofCmd())
	e.AddCommand(errandDisputeCmd())
	e.AddCommand(errandPaymentCmd())
	return e
}

func errandCreateCmd() *cobra.Command {
	var opts engine.CreateErrandOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a shopping or pickup errand (requester)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				if err := p.RequireRole(session.Requester); err != nil {
					return err
				}
				opts.RequesterID = p.UserID
				errand, err := a.Engine.CreateErrand(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(errand)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TaskType, "type", engine.TaskShopping, "shopping or pickup")
	cmd.Flags().StringVar(&opts.Title, "title", "", "short title")
	cmd.Flags().StringVar(&opts.Category, "category", "", "quick, standard or complex")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what needs doing")
	cmd.Flags().StringVar(&opts.Store, "store", "", "store (shopping)")
	cmd.Flags().StringVar(&opts.DeliveryLocation, "delivery-location", "", "delivery location (shopping)")
	cmd.Flags().StringVar(&opts.ItemBudget, "item-budget", "", "item budget (shopping)")
	cmd.Flags().BoolVar(&opts.AllowSubstitution, "allow-substitution", false, "accept substitutes (shopping)")
	cmd.Flags().StringVar(&opts.PickupLocation, "pickup-location", "", "pickup location (pickup)")
	cmd.Flags().StringVar(&opts.DropoffLocation, "dropoff-location", "", "drop-off location (pickup)")
	cmd.Flags().StringVar(&opts.PickupReference, "reference", "", "order or parcel reference (pickup)")
	cmd.Flags().StringVar(&opts.HelperPayment, "helper-payment", "", "helper payment")
	return cmd
}

func errandListCmd() *cobra.Command {
	var opts engine.ListErrandsOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your errands, or open ones with --scope available",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				opts.UserID = p.UserID
				opts.Role = p.Role
				items, err := a.Engine.ListErrands(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Stage", "Location", "Total"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.Title, e.TaskType, e.Stage, e.Location(), formatMoney(e.Total, e.Currency)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "mine or available")
	cmd.Flags().StringVar(&opts.Status, "status", "", "new, active, completed, cancelled or disputed")
	cmd.Flags().StringVar(&opts.Search, "q", "", "search title and description")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max rows")
	return cmd
}

func errandShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <errand-id>",
		Short: "Show an errand with its progress and next actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				view, err := a.Engine.ViewErrand(ctx, args[0], p.UserID, p.Role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				e := view.Errand
				fmt.Printf("%s  %s (%s)\n", e.ID, e.Title, e.TaskType)
				fmt.Printf("stage: %s  total: %s\n", e.Stage, formatMoney(e.Total, e.Currency))
				if view.ShowStepper {
					for _, s := range view.Steps {
						fmt.Printf("  [%s] %s\n", s.State, s.Label)
					}
				}
				if len(view.ReviewChecks) > 0 {
					fmt.Println("before confirming, check:")
					for _, c := range view.ReviewChecks {
						fmt.Printf("  - %s\n", c)
					}
				}
				if len(view.Affordances) > 0 {
					names := make([]string, 0, len(view.Affordances))
					for _, af := range view.Affordances {
						names = append(names, string(af))
					}
					fmt.Printf("actions: %s\n", strings.Join(names, ", "))
				}
				return nil
			})
		},
	}
	return cmd
}

func errandAdvanceCmd(action lifecycle.Action) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(action) + " <errand-id>",
		Short: strings.ToUpper(string(action[:1])) + string(action[1:]) + " an errand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				res, err := a.Engine.AdvanceStage(ctx, engine.AdvanceOptions{
					ErrandID: args[0],
					Action:   action,
					ActorID:  p.UserID,
					Role:     p.Role,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func errandProofCmd() *cobra.Command {
	var imageURL, file, note string
	cmd := &cobra.Command{
		Use:   "proof <errand-id>",
		Short: "Submit the completion photo (helper)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				if err := p.RequireRole(session.Helper); err != nil {
					return err
				}
				if file != "" {
					m, err := uploadFile(ctx, a, p.UserID, file)
					if err != nil {
						return err
					}
					imageURL = m.URL
				}
				res, err := a.Engine.SubmitProof(ctx, engine.SubmitProofOptions{
					ErrandID: args[0],
					HelperID: p.UserID,
					ImageURL: imageURL,
					Note:     note,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&imageURL, "image-url", "", "URL of an uploaded photo")
	cmd.Flags().StringVar(&file, "file", "", "photo to upload")
	cmd.Flags().StringVar(&note, "note", "", "note for the requester")
	return cmd
}

func errandDisputeCmd() *cobra.Command {
	var opts engine.RaiseDisputeOptions
	cmd := &cobra.Command{
		Use:   "dispute <errand-id>",
		Short: "Report a problem with a delivered errand (requester)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				if err := p.RequireRole(session.Requester); err != nil {
					return err
				}
				opts.ErrandID = args[0]
				opts.RequesterID = p.UserID
				res, err := a.Engine.RaiseDispute(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason")
	cmd.Flags().StringVar(&opts.Explanation, "explanation", "", "what went wrong")
	cmd.Flags().StringSliceVar(&opts.EvidenceImages, "evidence", nil, "evidence image URLs")
	return cmd
}

func errandPaymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment <errand-id>",
		Short: "Show the payment hold and its ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				pay, entries, err := a.Engine.PaymentStatus(ctx, args[0], p.UserID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"payment": pay, "entries": entries})
				}
				fmt.Printf("payment %s: %s %s\n", pay.ID, pay.Status, formatMoney(pay.Total, pay.Currency))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Kind", "Amount", "Actor"})
				for _, le := range entries {
					tw.AppendRow(table.Row{le.TS, le.Kind, formatMoney(le.Amount, pay.Currency), le.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func chatCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "chat",
		Short: "Message the other party of an errand",
	}
	c.AddCommand(chatSendCmd())
	c.AddCommand(chatHistoryCmd())
	return c
}

func chatSendCmd() *cobra.Command {
	var text, file string
	cmd := &cobra.Command{
		Use:   "send <errand-id>",
		Short: "Send a text or an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				content := messaging.Content{Text: text}
				if file != "" {
					m, err := uploadFile(ctx, a, p.UserID, file)
					if err != nil {
						return err
					}
					content.ImageURL = m.URL
				}
				msg, err := a.Hub.Send(ctx, args[0], p.UserID, content)
				if err != nil {
					return err
				}
				return printJSONOrTable(msg)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringVar(&file, "image", "", "image file to send instead of text")
	return cmd
}

func chatHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <errand-id>",
		Short: "Show the conversation, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				msgs, err := a.Hub.History(ctx, args[0], p.UserID, nil, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				for _, m := range msgs {
					who := "them"
					if m.SenderID == p.UserID {
						who = "you"
					}
					body := m.Text
					if m.ImageURL != "" {
						body = "[image] " + m.ImageURL
					}
					fmt.Printf("%s  %-4s  %s\n", m.SentAt, who, body)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max messages")
	return cmd
}

func helperCmd() *cobra.Command {
	h := &cobra.Command{
		Use:   "helper",
		Short: "Helper availability and earnings",
	}
	h.AddCommand(helperAvailabilityCmd())
	h.AddCommand(helperStatsCmd())
	return h
}

func helperAvailabilityCmd() *cobra.Command {
	var online bool
	var radius float64
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Go online or offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				if err := p.RequireRole(session.Helper); err != nil {
					return err
				}
				if !cmd.Flags().Changed("online") {
					profile, err := a.Engine.HelperProfile(ctx, p.UserID)
					if err != nil {
						return err
					}
					return printJSONOrTable(profile)
				}
				profile, err := a.Engine.SetAvailability(ctx, p.UserID, online, radius)
				if err != nil {
					return err
				}
				return printJSONOrTable(profile)
			})
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "available for errands")
	cmd.Flags().Float64Var(&radius, "radius", 0, "pickup radius in km")
	return cmd
}

func helperStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show earnings and completed errands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				if err := p.RequireRole(session.Helper); err != nil {
					return err
				}
				stats, err := a.Engine.HelperStats(ctx, p.UserID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("earned: %s\ncompleted: %d\ndisputed: %d\n", formatMoney(stats.TotalEarned, stats.Currency), stats.Completed, stats.Disputed)
				return nil
			})
		},
	}
	return cmd
}

func safetyCmd() *cobra.Command {
	var opts engine.ReportSafetyOptions
	cmd := &cobra.Command{
		Use:   "safety <alert_admin|share_location|call_security>",
		Short: "Raise a safety alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), func(ctx context.Context, a *app.App, p auth.Principal) error {
				opts.ReporterID = p.UserID
				opts.Action = args[0]
				alert, err := a.Engine.ReportSafety(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(alert)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ErrandID, "errand", "", "errand the alert is about")
	cmd.Flags().StringVar(&opts.Report, "report", "", "what happened")
	return cmd
}

func uploadFile(ctx context.Context, a *app.App, ownerID, path string) (domain.Media, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Media{}, err
	}
	defer f.Close()
	m, err := a.Media.Upload(ctx, ownerID, contentTypeFor(path), f)
	if err != nil {
		return domain.Media{}, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".heic", ".heif":
		return "image/heic"
	default:
		return "image/jpeg"
	}
}

func formatMoney(a money.Amount, code string) string {
	unit, err := money.Currency(code)
	if err != nil {
		return a.String()
	}
	return money.Format(a, unit)
}
