package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bullseye/internal/domain"
	"bullseye/internal/engine"
	"bullseye/internal/ledger"
)

func voteCmd() *cobra.Command {
	vote := &cobra.Command{
		Use:   "vote",
		Short: "Verification votes",
		Long: `Each of the three verifiers votes once on a submitted goal.
Once all three voted, or the window closed, anyone may finalize; majority yes means success, anything else failure.`,
	}
	vote.AddCommand(voteCastCmd())
	vote.AddCommand(voteFinalizeCmd())
	vote.AddCommand(voteShowCmd())
	return vote
}

func voteCastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cast <verification> yes|no",
		Short: "Cast the signer's vote",
		Long:  "<verification> is a verification id or goal:<goal-id>.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			verifier, err := signer()
			if err != nil {
				return err
			}
			var yes bool
			switch strings.ToLower(args[1]) {
			case "yes", "y", "true":
				yes = true
			case "no", "n", "false":
			default:
				return fmt.Errorf("vote must be yes or no, got %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := resolveVerification(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err = e.CastVote(ctx, v.ID, verifier, yes)
				if err != nil {
					return err
				}
				return printVerification(v)
			})
		},
	}
}

func voteFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <verification>",
		Short: "Finalize a verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := signer()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := resolveVerification(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err = e.FinalizeVerification(ctx, v.ID, caller)
				if err != nil {
					return err
				}
				return printVerification(v)
			})
		},
	}
}

func voteShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <verification>",
		Short: "Show a verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := resolveVerification(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printVerification(v)
			})
		},
	}
}

func resolveVerification(ctx context.Context, e engine.Engine, ref string) (domain.Verification, error) {
	if goalRef, ok := strings.CutPrefix(ref, "goal:"); ok {
		g, err := resolveGoal(ctx, e, goalRef)
		if err != nil {
			return domain.Verification{}, err
		}
		return e.VerificationForGoal(ctx, g.ID)
	}
	return e.GetVerification(ctx, ref)
}

func printVerification(v domain.Verification) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	result := "-"
	if v.Result != nil {
		result = string(*v.Result)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Verifier", "Voted"})
	for i, addr := range v.Verifiers {
		tw.AppendRow(table.Row{addr, v.VotesCast[i]})
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("yes %d / no %d", v.YesVotes, v.NoVotes), "result " + result})
	tw.SetTitle("%s (goal %s, window closes %s)", v.ID, v.GoalID, v.Deadline.Format(time.RFC3339))
	tw.Render()
	return nil
}

func walletCmd() *cobra.Command {
	wallet := &cobra.Command{
		Use:   "wallet",
		Short: "Local lamport balances",
		Long:  "Balances are held in lamports; 1 unit = 1,000,000,000 lamports. Escrow accounts are named escrow:<goal-id>.",
	}
	wallet.AddCommand(&cobra.Command{
		Use:   "balance [address]",
		Short: "Show a balance (default: signer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := ownerArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lamports, err := e.Balance(ctx, addr)
				if err != nil {
					return err
				}
				return printBalance(addr, lamports)
			})
		},
	})
	wallet.AddCommand(walletDepositCmd())
	return wallet
}

func walletDepositCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Credit units from the local faucet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := signer()
			if err != nil {
				return err
			}
			if to == "" {
				to = actor
			}
			lamports, err := ledger.ParseUnits(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				balance, err := e.Deposit(ctx, to, lamports, actor)
				if err != nil {
					return err
				}
				return printBalance(to, balance)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address (default: signer)")
	return cmd
}

func printBalance(addr string, lamports uint64) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"account": addr, "lamports": lamports, "units": units(lamports)})
	}
	fmt.Printf("%s: %s (%d lamports)\n", addr, units(lamports), lamports)
	return nil
}
