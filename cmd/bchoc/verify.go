package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jmerrifield20/custodyledger/internal/verify"
	"github.com/spf13/cobra"
)

var errChainInvalid = errors.New("ledger failed verification")

var verifyFormat string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Audit the whole ledger for tampering and custody violations",
	Long: `Verify decodes every record, checks the genesis record and each hash link,
looks for forked parents and replays custody transitions per item.

It prints VALID with the number of records checked, or the first problem
found with the hash(es) of the records involved, and exits non-zero.
No credential is needed: integrity does not depend on who asks.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := openLedger()
		rep, err := verify.Verify(cmd.Context(), l)
		if err != nil {
			return err
		}

		switch verifyFormat {
		case "json":
			out, _ := json.MarshalIndent(rep, "", "  ")
			fmt.Println(string(out))
		case "text":
			printReport(rep, l.Path())
		default:
			return fmt.Errorf("unknown format %q (want text or json)", verifyFormat)
		}

		if !rep.Valid() {
			return errChainInvalid
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: text or json")
}

func printReport(rep *verify.Report, path string) {
	fmt.Printf("Transactions in blockchain: %s\n", humanize.Comma(int64(rep.BlocksChecked)))
	if rep.Valid() {
		color.Green("State of blockchain: CLEAN")
	} else {
		color.Red("State of blockchain: ERROR")
		color.Red("Bad block: %s", rep.Status)
	}

	switch {
	case rep.Status == verify.StatusCorrupt:
		fmt.Printf("  Undecodable record at byte %s of %s: %s\n", humanize.Comma(rep.Offset), path, rep.Reason)
	case len(rep.Evidence) == 2:
		fmt.Printf("  Parent claimed by: %s\n", rep.Evidence[0])
		fmt.Printf("             and by: %s\n", rep.Evidence[1])
	case len(rep.Evidence) == 1:
		fmt.Printf("  Record: %s\n", rep.Evidence[0])
	}
	if n := len(rep.Violations); n > 1 {
		fmt.Printf("  %d further custody violations follow\n", n-1)
	}
	if rep.TrailingBytes > 0 {
		color.Yellow("Incomplete trailing record ignored: %s", humanize.Bytes(uint64(rep.TrailingBytes)))
	}
}
