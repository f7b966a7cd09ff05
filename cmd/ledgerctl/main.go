// ledgerctl inspects and edits the trade ledger offline, and dry-runs the decision parser.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/decision"
	"github.com/etherwave-labs/ai-agent-playground/ledger"
	"github.com/etherwave-labs/ai-agent-playground/trader"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var ledgerPath string

	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Inspect the trade ledger and dry-run agent text parsing",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&ledgerPath, "ledger", "l", "trades.json", "path to the ledger file")

	store := func() *ledger.Store { return ledger.NewStore(ledgerPath) }

	root.AddCommand(
		newListCmd(store),
		newSummaryCmd(store),
		newParseCmd(store),
		newDeleteCmd(store),
		newSizeCmd(),
	)
	return root
}

func newListCmd(store func() *ledger.Store) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := store().LoadAll()
			if err != nil {
				return fmt.Errorf("load ledger: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No trades recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTRADE\tALLOCATION\tSTOPLOSS\tTAKEPROFIT\tSENTIMENT\tSTATE\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t$%g\t$%g\t$%g\t%g%%\t%s\t%s\n",
					e.ID, strings.ToUpper(string(e.Direction)), e.AllocationUSD, e.StopLossUSD,
					e.TakeProfitUSD, e.SentimentPct, e.State, e.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newSummaryCmd(store func() *ledger.Store) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the ledger summary given to the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := store().Summary()
			if err != nil {
				return fmt.Errorf("summarize ledger: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum.Text())
			return nil
		},
	}
}

// parseResult what the decision cycle would extract from a text
type parseResult struct {
	Trade     *decision.TradeIntent  `json:"trade,omitempty"`
	Delete    *decision.DeleteIntent `json:"delete,omitempty"`
	Reasoning string                 `json:"reasoning,omitempty"`
	Note      string                 `json:"note,omitempty"`
}

func newParseCmd(store func() *ledger.Store) *cobra.Command {
	var fallback string
	cmd := &cobra.Command{
		Use:   "parse [text|-]",
		Short: "Show the trade or delete command extracted from agent text (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			res := parseResult{Reasoning: decision.Reasoning(text)}
			if decision.HasDeleteCommand(text) {
				del, err := decision.ExtractDeleteCommand([]string{text}, store())
				if err != nil {
					return fmt.Errorf("read ledger ids: %w", err)
				}
				res.Delete = del
				if del == nil {
					res.Note = "delete command does not name a recorded trade"
				}
				return writeJSON(cmd.OutOrStdout(), res)
			}

			res.Trade = decision.ParseTrade(text, fallback)
			if res.Trade == nil {
				res.Note = "no trade statement found"
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&fallback, "fallback", "", "previous agent message searched when text has no trade")
	return cmd
}

func newDeleteCmd(store func() *ledger.Store) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid trade id %q", args[0])
			}
			removed, err := store().Remove(id)
			if err != nil {
				return fmt.Errorf("delete trade: %w", err)
			}
			if !removed {
				return fmt.Errorf("trade %d not found", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trade %d deleted\n", id)
			return nil
		},
	}
}

func newSizeCmd() *cobra.Command {
	var (
		allocation, price, slippage, tick float64
		decimals                          int32
		minSize                           string
		sell                              bool
	)
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Compute the order size and limit price for an allocation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			minimum, err := decimal.NewFromString(minSize)
			if err != nil {
				return fmt.Errorf("invalid --min: %w", err)
			}
			ref := decimal.NewFromFloat(price)
			size, floored, err := trader.ComputeSize(decimal.NewFromFloat(allocation), ref, decimals, minimum)
			if err != nil {
				return err
			}
			limit := trader.AggressivePrice(ref, !sell, slippage, decimal.NewFromFloat(tick))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "size:  %s\n", size.String())
			fmt.Fprintf(out, "limit: %s\n", limit.String())
			if floored {
				fmt.Fprintf(out, "note:  allocation below minimum, size raised to %s\n", minimum.String())
			}
			return nil
		},
	}
	cmd.Flags().Float64VarP(&allocation, "allocation", "a", 0, "allocation in USD (required)")
	cmd.Flags().Float64VarP(&price, "price", "p", 0, "reference price (required)")
	cmd.Flags().Int32Var(&decimals, "decimals", trader.DefaultSizeDecimals, "size decimals")
	cmd.Flags().StringVar(&minSize, "min", trader.DefaultMinSize.String(), "minimum order size")
	cmd.Flags().Float64Var(&slippage, "slippage", trader.DefaultSlippagePct, "IOC slippage percent")
	cmd.Flags().Float64Var(&tick, "tick", 1, "price tick")
	cmd.Flags().BoolVar(&sell, "sell", false, "price a sell order")
	_ = cmd.MarkFlagRequired("allocation")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
