package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/pricekeeper/internal/types"
)

var decidedBy string

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "Review and decide approval requests",
}

var approvalPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List undecided approval requests",
	Args:  cobra.NoArgs,
	RunE:  runApprovalPending,
}

var approvalDecideCmd = &cobra.Command{
	Use:       "decide <order-local-id> <approved|rejected>",
	Short:     "Record an approver's decision",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(types.ApprovalApproved), string(types.ApprovalRejected)},
	RunE:      runApprovalDecide,
}

func init() {
	rootCmd.AddCommand(approvalCmd)
	approvalCmd.AddCommand(approvalPendingCmd, approvalDecideCmd)
	approvalDecideCmd.Flags().StringVar(&decidedBy, "by", "", "approver recording the decision")
	_ = approvalDecideCmd.MarkFlagRequired("by")
}

func runApprovalPending(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	database, q, err := openDatabase(ctx, deviceURL())
	if err != nil {
		return err
	}
	defer database.Close()

	directory, err := openCatalog()
	if err != nil {
		return err
	}
	coordinator, err := newCoordinator(q, directory, newLocalEngine(q))
	if err != nil {
		return err
	}
	pending, err := coordinator.Pending(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, pending)
}

func runApprovalDecide(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	orderRef, err := types.ParseLocalID(args[0])
	if err != nil {
		return err
	}
	decision := types.ApprovalStatus(args[1])
	if !decision.IsTerminal() {
		return fmt.Errorf("decision must be %s or %s, got %q", types.ApprovalApproved, types.ApprovalRejected, args[1])
	}

	database, q, err := openDatabase(ctx, deviceURL())
	if err != nil {
		return err
	}
	defer database.Close()

	directory, err := openCatalog()
	if err != nil {
		return err
	}
	coordinator, err := newCoordinator(q, directory, newLocalEngine(q))
	if err != nil {
		return err
	}
	req, err := coordinator.RecordDecision(ctx, orderRef, decision, decidedBy)
	if err != nil {
		return err
	}
	return printJSON(cmd, req)
}
