package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bullseye/internal/domain"
	"bullseye/internal/engine"
	"bullseye/internal/ledger"
	"bullseye/internal/repo"
)

func counterCmd() *cobra.Command {
	counter := &cobra.Command{
		Use:   "counter",
		Short: "Goal counter",
		Long:  "Each owner initializes one counter before creating goals. It numbers goals and records the single open one.",
	}
	counter.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Initialize the signer's goal counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := signer()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.InitializeCounter(ctx, owner)
				if err != nil {
					return err
				}
				return printCounter(c)
			})
		},
	})
	counter.AddCommand(&cobra.Command{
		Use:   "show [owner]",
		Short: "Show a goal counter (default: signer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := ownerArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetCounter(ctx, owner)
				if err != nil {
					return err
				}
				return printCounter(c)
			})
		},
	})
	return counter
}

func goalCmd() *cobra.Command {
	goal := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
		Long: `A goal locks its stake in escrow until settlement.
Lifecycle: active -> submitted -> claimed | failed.
Only the owner submits; anyone may settle once the verification is finalized.`,
	}
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalSubmitCmd())
	goal.AddCommand(goalShowCmd())
	goal.AddCommand(goalListCmd())
	goal.AddCommand(goalSettleCmd())
	return goal
}

func goalCreateCmd() *cobra.Command {
	var title, description, amount, deadline, failAction string
	var within time.Duration
	var verifiers []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal and lock its stake",
		Example: `  bullseye goal create -s alice --title "Run 5k" --amount 1.5 --in 72h --fail-action burn \
    --verifier bob --verifier carol --verifier dave`,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := signer()
			if err != nil {
				return err
			}
			lamports, err := ledger.ParseUnits(amount)
			if err != nil {
				return err
			}
			due, err := parseDeadline(deadline, within)
			if err != nil {
				return err
			}
			var panel domain.Panel
			if len(verifiers) > 0 {
				if len(verifiers) != domain.PanelSize {
					return domain.ErrInvalidVerifierPanel
				}
				copy(panel[:], verifiers)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.InitializeGoal(ctx, engine.GoalCreateOptions{
					Owner:       owner,
					Title:       title,
					Description: description,
					Amount:      lamports,
					Deadline:    due,
					FailAction:  domain.FailAction(failAction),
					Verifiers:   panel,
				})
				if err != nil {
					return err
				}
				return printGoal(g)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "goal title (max 100 characters)")
	cmd.Flags().StringVar(&description, "description", "", "goal description (max 500 characters)")
	cmd.Flags().StringVar(&amount, "amount", "", "stake in units, e.g. 1.5 (0.1 to 10)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().DurationVar(&within, "in", 0, "deadline relative to now, e.g. 72h")
	cmd.Flags().StringVar(&failAction, "fail-action", string(domain.FailBurn), "burn or company_wallet")
	cmd.Flags().StringArrayVar(&verifiers, "verifier", nil, "verifier address (repeat three times; default from config)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func goalSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <goal>",
		Short: "Submit a goal for verification",
		Long:  "Opens the verification window. <goal> is a goal id or the signer's goal number.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := signer()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := resolveGoal(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err := e.SubmitForVerification(ctx, g.ID, caller)
				if err != nil {
					return err
				}
				return printVerification(v)
			})
		},
	}
}

func goalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <goal>",
		Short: "Show a goal",
		Long:  "<goal> is a goal id, a goal number of the signer, or 'active' for the signer's open goal.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := resolveGoal(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printGoal(g)
			})
		},
	}
}

func goalListCmd() *cobra.Command {
	var f repo.GoalFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.Status != "" && !domain.GoalStatus(f.Status).Valid() {
				return fmt.Errorf("invalid status %q", f.Status)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				goals, err := e.ListGoals(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "ID", "Owner", "Title", "Stake", "Deadline", "Status"})
				for _, g := range goals {
					tw.AppendRow(table.Row{g.GoalNumber, g.ID, g.Owner, g.Title, units(g.Amount), g.Deadline.Format(time.RFC3339), g.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Owner, "owner", "", "filter by owner")
	cmd.Flags().StringVar(&f.Status, "status", "", "active, submitted, claimed or failed")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	cmd.Flags().StringVar(&f.Cursor, "cursor", "", "pagination cursor")
	return cmd
}

func goalSettleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <goal>",
		Short: "Claim or distribute a finalized goal's stake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := signer()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := resolveGoal(ctx, e, args[0])
				if err != nil {
					return err
				}
				s, err := e.ClaimOrDistribute(ctx, g.ID, caller)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%s: %s %s to %s\n", s.Event, s.Goal.ID, units(s.Amount), s.Recipient)
				return nil
			})
		},
	}
}

// resolveGoal accepts a goal id, "active", or a goal number of the signer.
func resolveGoal(ctx context.Context, e engine.Engine, ref string) (domain.Goal, error) {
	ref = strings.TrimSpace(ref)
	if ref == "active" {
		owner, err := signer()
		if err != nil {
			return domain.Goal{}, err
		}
		return e.ActiveGoal(ctx, owner)
	}
	if n, err := strconv.ParseUint(ref, 10, 64); err == nil {
		owner, err := signer()
		if err != nil {
			return domain.Goal{}, err
		}
		return e.GetGoalByNumber(ctx, owner, n)
	}
	return e.GetGoal(ctx, ref)
}

func ownerArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return signer()
}

func parseDeadline(raw string, within time.Duration) (time.Time, error) {
	switch {
	case raw != "" && within != 0:
		return time.Time{}, fmt.Errorf("use either --deadline or --in")
	case raw != "":
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --deadline: %w", err)
		}
		return t, nil
	case within != 0:
		return time.Now().Add(within), nil
	}
	return time.Time{}, fmt.Errorf("a deadline is required; use --deadline or --in")
}

func printCounter(c domain.GoalCounter) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	active := "-"
	if c.ActiveGoal != nil {
		active = strconv.FormatUint(*c.ActiveGoal, 10)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Owner", "Goals", "Active"})
	tw.AppendRow(table.Row{c.Owner, c.Count, active})
	tw.Render()
	return nil
}

func printGoal(g domain.Goal) error {
	if viper.GetBool("json") {
		return printJSON(g)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", g.ID},
		{"Number", g.GoalNumber},
		{"Owner", g.Owner},
		{"Title", g.Title},
		{"Description", g.Description},
		{"Stake", units(g.Amount)},
		{"Deadline", g.Deadline.Format(time.RFC3339)},
		{"Fail action", g.FailAction},
		{"Status", g.Status},
		{"Verifiers", strings.Join(g.Verifiers[:], ", ")},
		{"Verification", g.VerificationID},
	})
	tw.Render()
	return nil
}
