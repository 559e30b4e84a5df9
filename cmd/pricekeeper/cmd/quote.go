package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/pricekeeper/internal/approval"
	"github.com/solatis/pricekeeper/internal/order"
	"github.com/solatis/pricekeeper/internal/policy"
	"github.com/solatis/pricekeeper/internal/pricing"
	"github.com/solatis/pricekeeper/internal/types"
)

// cartInput is the document read by quote and order submit.
type cartInput struct {
	LocalID types.LocalID       `json:"local_id,omitempty"`
	Context types.PolicyContext `json:"context"`
	Items   []types.CartItem    `json:"items"`
}

type violationOutput struct {
	types.Violation
	Message string `json:"message"`
}

type quoteOutput struct {
	Lines      []types.PricedLine `json:"lines"`
	Valid      bool               `json:"valid"`
	Violations []violationOutput  `json:"violations,omitempty"`
}

var quoteCmd = &cobra.Command{
	Use:   "quote [cart.json]",
	Short: "Price a cart and report ceiling violations",
	Long: `Quote prices every cart item under the policy resolved for its own line
context and reports which lines exceed their discount or markup ceilings.
Nothing is queued.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
	quoteCmd.Flags().BoolVar(&resolveRemote, "remote", false, "load policies from the gateway instead of the local catalog")
}

// buildDraft prices the cart into a draft order.
func buildDraft(ctx context.Context, in cartInput) (approval.Draft, func(), error) {
	file, source, closeSource, err := policySource()
	if err != nil {
		return approval.Draft{}, nil, err
	}

	quoter := pricing.NewQuoter(
		policy.NewResolver(source, logger, metrics),
		pricing.NewResolver(file, file, logger, metrics),
	)
	lines, err := quoter.PriceCart(ctx, in.Context, in.Items)
	if err != nil {
		closeSource()
		return approval.Draft{}, nil, fmt.Errorf("price cart: %w", err)
	}

	return approval.Draft{
		LocalID:   in.LocalID,
		Context:   in.Context,
		Lines:     lines,
		CreatedAt: time.Now().UTC(),
	}, closeSource, nil
}

func describe(violations []types.Violation) []violationOutput {
	out := make([]violationOutput, 0, len(violations))
	for _, v := range violations {
		out = append(out, violationOutput{Violation: v, Message: order.Message(v)})
	}
	return out
}

func runQuote(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var in cartInput
	if err := readInput(cmd, args, &in); err != nil {
		return err
	}

	draft, closeSource, err := buildDraft(ctx, in)
	if err != nil {
		return err
	}
	defer closeSource()

	eval, err := draft.Evaluate()
	if err != nil {
		return err
	}

	out := quoteOutput{Lines: draft.Lines, Valid: eval.Valid != nil}
	if eval.Violating != nil {
		out.Violations = describe(eval.Violating.Violations())
	}
	return printJSON(cmd, out)
}
