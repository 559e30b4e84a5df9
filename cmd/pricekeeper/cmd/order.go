package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solatis/pricekeeper/internal/approval"
	"github.com/solatis/pricekeeper/internal/types"
)

var (
	approverID    string
	justification string
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Compose and queue orders",
}

var orderSubmitCmd = &cobra.Command{
	Use:   "submit [cart.json]",
	Short: "Price a cart and queue it as an order",
	Long: `Submit prices the cart, evaluates it against the resolved ceilings and queues
the order in the device outbox. An order with violations needs --approver and
is queued pending approval together with its approval request. Nothing is
queued when validation fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOrderSubmit,
}

func init() {
	rootCmd.AddCommand(orderCmd)
	orderCmd.AddCommand(orderSubmitCmd)
	orderSubmitCmd.Flags().StringVar(&approverID, "approver", "", "approver to route violations to")
	orderSubmitCmd.Flags().BoolVar(&resolveRemote, "remote", false, "load policies from the gateway instead of the local catalog")
	orderSubmitCmd.Flags().StringVar(&justification, "justification", "", "why the order exceeds its ceilings")
}

type submitOutput struct {
	Order      types.Order                           `json:"order"`
	Violations []violationOutput                     `json:"violations,omitempty"`
	Request    types.Optional[types.ApprovalRequest] `json:"approval_request"`
	Queued     []types.LocalID                       `json:"queued"`
}

func runOrderSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var in cartInput
	if err := readInput(cmd, args, &in); err != nil {
		return err
	}

	database, q, err := openDatabase(ctx, deviceURL())
	if err != nil {
		return err
	}
	defer database.Close()

	draft, closeSource, err := buildDraft(ctx, in)
	if err != nil {
		return err
	}
	defer closeSource()

	directory, err := openCatalog()
	if err != nil {
		return err
	}
	coordinator, err := newCoordinator(q, directory, newLocalEngine(q))
	if err != nil {
		return err
	}

	note := types.None[string]()
	if strings.TrimSpace(justification) != "" {
		note = types.Some(justification)
	}

	outcome, err := coordinator.Submit(ctx, approval.Submission{
		Draft:         draft,
		ApproverID:    approverID,
		Justification: note,
	})
	if err != nil {
		return err
	}

	out := submitOutput{
		Order:      outcome.Order,
		Violations: describe(outcome.Violations),
		Request:    outcome.Request,
	}
	for _, e := range outcome.Entries {
		out.Queued = append(out.Queued, e.LocalID)
	}
	return printJSON(cmd, out)
}
