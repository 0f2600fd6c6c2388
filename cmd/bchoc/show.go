package main

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jmerrifield20/custodyledger/internal/record"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cases, items or custody history",
}

func init() {
	showCmd.AddCommand(showCasesCmd)
	showCmd.AddCommand(showItemsCmd)
	showCmd.AddCommand(showHistoryCmd)
}

// ── show cases ───────────────────────────────────────────────────────────────

var showCasesCmd = &cobra.Command{
	Use:   "cases",
	Short: "List every case in the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd.Context(), openLedger())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CASE\tITEMS")
		for _, c := range idx.Cases() {
			fmt.Fprintf(w, "%s\t%s\n", c, humanize.Comma(int64(len(idx.Case(c)))))
		}
		return w.Flush()
	},
}

// ── show items ───────────────────────────────────────────────────────────────

var showItemsCase string

var showItemsCmd = &cobra.Command{
	Use:   "items -c CASE",
	Short: "List the items of a case with their current state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		caseID, err := uuid.Parse(showItemsCase)
		if err != nil {
			return fmt.Errorf("invalid case id %q: %w", showItemsCase, err)
		}
		idx, err := openIndex(cmd.Context(), openLedger())
		if err != nil {
			return err
		}
		items := idx.Case(caseID)
		if len(items) == 0 {
			return fmt.Errorf("case %s has no items", caseID)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ITEM\tSTATE\tOWNER\tRECORDS\tUPDATED")
		for _, it := range items {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", it.ID, it.State, it.Owner, it.Records, humanize.Time(it.Updated))
		}
		return w.Flush()
	},
}

func init() {
	showItemsCmd.Flags().StringVarP(&showItemsCase, "case", "c", "", "case UUID (required)")
	_ = showItemsCmd.MarkFlagRequired("case")
}

// ── show history ─────────────────────────────────────────────────────────────

var (
	historyCase    string
	historyItem    string
	historyNum     int
	historyReverse bool
)

var showHistoryCmd = &cobra.Command{
	Use:   "history [-c CASE] [-i ITEM] [-n N] [-r]",
	Short: "Print ledger records, oldest first",
	Long: `History prints every record in the ledger, or only those matching a case
and/or item. -n limits the output to the first N matching records (the
most recent N with -r, which also reverses the order).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			filterCase *uuid.UUID
			filterItem *uint32
		)
		if historyCase != "" {
			c, err := uuid.Parse(historyCase)
			if err != nil {
				return fmt.Errorf("invalid case id %q: %w", historyCase, err)
			}
			filterCase = &c
		}
		if historyItem != "" {
			id, err := parseItemID(historyItem)
			if err != nil {
				return err
			}
			filterItem = &id
		}

		records, err := openLedger().ReadAll(cmd.Context())
		if err != nil {
			return err
		}

		var out []*record.Record
		for _, r := range records {
			if filterCase != nil && r.CaseID != *filterCase {
				continue
			}
			if filterItem != nil && r.ItemID != *filterItem {
				continue
			}
			out = append(out, r)
		}
		if historyReverse {
			slices.Reverse(out)
		}
		if historyNum > 0 && len(out) > historyNum {
			out = out[:historyNum]
		}

		for i, r := range out {
			if i > 0 {
				fmt.Println()
			}
			printRecord(r)
		}
		return nil
	},
}

func init() {
	showHistoryCmd.Flags().StringVarP(&historyCase, "case", "c", "", "only records for this case")
	showHistoryCmd.Flags().StringVarP(&historyItem, "item", "i", "", "only records for this item")
	showHistoryCmd.Flags().IntVarP(&historyNum, "num", "n", 0, "show at most N records")
	showHistoryCmd.Flags().BoolVarP(&historyReverse, "reverse", "r", false, "most recent first")
}

func printRecord(r *record.Record) {
	fmt.Printf("Case: %s\n", r.CaseID)
	fmt.Printf("Item: %d\n", r.ItemID)
	fmt.Printf("Action: %s\n", r.State)
	fmt.Printf("Time: %s (%s)\n", formatTime(r.Time()), humanize.Time(r.Time()))
	if r.Creator != "" || r.Owner != "" {
		fmt.Printf("Creator: %s  Owner: %s\n", r.Creator, r.Owner)
	}
	if r.Data != "" {
		fmt.Printf("Data: %s\n", r.Data)
	}
	fmt.Printf("Hash: %s\n", r.Hash())
}
