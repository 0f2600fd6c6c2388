package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmerrifield20/custodyledger/internal/custody"
	"github.com/jmerrifield20/custodyledger/internal/ledger"
	"github.com/jmerrifield20/custodyledger/internal/record"
	"github.com/spf13/cobra"
)

// ── add ──────────────────────────────────────────────────────────────────────

var (
	addCase    string
	addItems   []string
	addCreator string
	addOwner   string
	addData    string
)

var addCmd = &cobra.Command{
	Use:   "add -c CASE -i ITEM [-i ITEM...] -g CREATOR",
	Short: "Add new evidence items to a case",
	Long: `Add records each item as CHECKEDIN under the given case. Items must not
already exist in the ledger. The ledger is created if it does not exist.

  bchoc add -c 65cc391d-6568-4dcc-a3f1-86a2f04140f3 -i 987654321 -i 123456789 -g alvarez`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addCase, "case", "c", "", "case UUID (required)")
	addCmd.Flags().StringSliceVarP(&addItems, "item", "i", nil, "item id, repeatable (required)")
	addCmd.Flags().StringVarP(&addCreator, "creator", "g", "", "who is adding the items (required)")
	addCmd.Flags().StringVarP(&addOwner, "owner", "o", "", "initial owner")
	addCmd.Flags().StringVarP(&addData, "data", "d", "", "free-form description")
	_ = addCmd.MarkFlagRequired("case")
	_ = addCmd.MarkFlagRequired("item")
	_ = addCmd.MarkFlagRequired("creator")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	caseID, err := uuid.Parse(addCase)
	if err != nil {
		return fmt.Errorf("invalid case id %q: %w", addCase, err)
	}
	items := make([]uint32, 0, len(addItems))
	seen := make(map[uint32]bool)
	for _, s := range addItems {
		id, err := parseItemID(s)
		if err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("item %d given more than once", id)
		}
		seen[id] = true
		items = append(items, id)
	}

	l, err := openInitialized(ctx)
	if err != nil {
		return err
	}
	idx, err := openIndex(ctx, l)
	if err != nil {
		return err
	}
	for _, id := range items {
		if _, err := idx.Item(id); err == nil {
			return fmt.Errorf("item %d already exists in the ledger", id)
		}
	}

	fmt.Printf("Case: %s\n", caseID)
	for _, id := range items {
		r, err := l.Append(ctx, ledger.Event{
			CaseID:  caseID,
			ItemID:  id,
			State:   record.StateCheckedIn,
			Creator: addCreator,
			Owner:   addOwner,
			Data:    addData,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added item: %d\n", id)
		printStatus(r)
	}
	return nil
}

// ── checkout / checkin ───────────────────────────────────────────────────────

var (
	moveItem  string
	moveOwner string
	moveData  string
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout -i ITEM",
	Short: "Check an item out of the evidence locker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return transition(cmd.Context(), record.StateCheckedOut, moveItem, moveOwner, moveData)
	},
}

var checkinCmd = &cobra.Command{
	Use:   "checkin -i ITEM",
	Short: "Check an item back into the evidence locker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return transition(cmd.Context(), record.StateCheckedIn, moveItem, moveOwner, moveData)
	},
}

func init() {
	for _, c := range []*cobra.Command{checkoutCmd, checkinCmd} {
		c.Flags().StringVarP(&moveItem, "item", "i", "", "item id (required)")
		c.Flags().StringVarP(&moveOwner, "owner", "o", "", "new owner (default: current owner)")
		c.Flags().StringVarP(&moveData, "data", "d", "", "free-form note")
		_ = c.MarkFlagRequired("item")
	}
}

// ── remove ───────────────────────────────────────────────────────────────────

var (
	removeItem   string
	removeReason string
	removeOwner  string
	removeData   string
)

var removeCmd = &cobra.Command{
	Use:   "remove -i ITEM -y REASON",
	Short: "Take an item out of custody for good",
	Long: `Remove ends an item's custody. REASON is one of DISPOSED, DESTROYED or
RELEASED. RELEASED requires -d describing who the item was released to.
No further record may follow for the item.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := record.ParseState(strings.ToUpper(removeReason))
		if err != nil || !state.IsTerminal() {
			return fmt.Errorf("reason must be one of %s", removalReasons())
		}
		return transition(cmd.Context(), state, removeItem, removeOwner, removeData)
	},
}

func init() {
	removeCmd.Flags().StringVarP(&removeItem, "item", "i", "", "item id (required)")
	removeCmd.Flags().StringVarP(&removeReason, "why", "y", "", "removal reason: "+removalReasons()+" (required)")
	removeCmd.Flags().StringVarP(&removeOwner, "owner", "o", "", "lawful owner the item is released to")
	removeCmd.Flags().StringVarP(&removeData, "data", "d", "", "removal details")
	_ = removeCmd.MarkFlagRequired("item")
	_ = removeCmd.MarkFlagRequired("why")
}

func removalReasons() string {
	names := make([]string, len(record.RemovalStates))
	for i, s := range record.RemovalStates {
		names[i] = s.String()
	}
	return strings.Join(names, ", ")
}

// transition appends state for an existing item. Case and creator carry
// over from the item's last record; owner does too unless one is given.
// Transitions the ledger would flag as violations are refused.
func transition(ctx context.Context, state record.State, itemArg, owner, data string) error {
	id, err := parseItemID(itemArg)
	if err != nil {
		return err
	}

	l, err := openInitialized(ctx)
	if err != nil {
		return err
	}
	idx, err := openIndex(ctx, l)
	if err != nil {
		return err
	}
	it, err := idx.Item(id)
	if errors.Is(err, custody.ErrItemNotFound) {
		return fmt.Errorf("item %d is not in the ledger; add it first", id)
	}
	if err != nil {
		return err
	}

	if owner == "" {
		owner = it.Owner
	}
	ev := ledger.Event{
		CaseID:  it.CaseID,
		ItemID:  id,
		State:   state,
		Creator: it.Creator,
		Owner:   owner,
		Data:    data,
	}
	candidate := &record.Record{ItemID: id, State: state, Data: data}
	if k := idx.Check(candidate); k != 0 {
		return fmt.Errorf("%s refused for item %d (currently %s): %s", state, id, it.State, k)
	}

	r, err := l.Append(ctx, ev)
	if err != nil {
		return err
	}
	fmt.Printf("Case: %s\n", r.CaseID)
	fmt.Printf("%s item: %d\n", verb(state), id)
	printStatus(r)
	if state == record.StateReleased {
		fmt.Printf("  Owner info: %s\n", r.Owner)
	}
	return nil
}

func verb(s record.State) string {
	switch s {
	case record.StateCheckedOut:
		return "Checked out"
	case record.StateCheckedIn:
		return "Checked in"
	case record.StateDisposed, record.StateDestroyed, record.StateReleased:
		return "Removed"
	case record.StateUnknown, record.StateInitial:
	}
	return "Recorded"
}

func printStatus(r *record.Record) {
	fmt.Printf("  Status: %s\n", r.State)
	fmt.Printf("  Time of action: %s\n", formatTime(r.Time()))
}

func parseItemID(s string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid item id %q: must be an unsigned 32-bit integer", s)
	}
	return uint32(id), nil
}
