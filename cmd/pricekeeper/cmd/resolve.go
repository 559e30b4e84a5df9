package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/pricekeeper/internal/catalog"
	"github.com/solatis/pricekeeper/internal/policy"
	"github.com/solatis/pricekeeper/internal/types"
)

var resolveRemote bool

var resolveCmd = &cobra.Command{
	Use:   "resolve [context.json]",
	Short: "Show the policy that governs a sale context",
	Long: `Resolve reads a sale context (JSON, from a file or stdin) and prints the
winning commercial policy, its ceilings and every other matching candidate in
rank order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveRemote, "remote", false, "load policies from the gateway instead of the local catalog")
}

type candidateOutput struct {
	PolicyID     int64                 `json:"policy_id"`
	Name         string                `json:"name"`
	Specificity  int                   `json:"specificity"`
	PriceTableID types.Optional[int64] `json:"price_table_id"`
}

type resolveOutput struct {
	WinnerID     int64                 `json:"winner_id"`
	WinnerName   string                `json:"winner_name"`
	PriceTableID types.Optional[int64] `json:"price_table_id"`
	Ceilings     types.Ceilings        `json:"ceilings"`
	Candidates   []candidateOutput     `json:"candidates"`
}

// policySource returns the local catalog and the policy source to resolve
// against. With --remote, policies come from the gateway through a TTL cache
// while prices and approvers still come from the catalog.
func policySource() (*catalog.File, policy.Source, func(), error) {
	file, err := openCatalog()
	if err != nil {
		return nil, nil, nil, err
	}
	if !resolveRemote {
		return file, file, func() {}, nil
	}

	conn, err := dialGateway()
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := newGatewayClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	return file, catalog.NewCache(client, cfg.Catalog.CacheTTL, logger), func() { conn.Close() }, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var pctx types.PolicyContext
	if err := readInput(cmd, args, &pctx); err != nil {
		return err
	}

	_, source, closeSource, err := policySource()
	if err != nil {
		return err
	}
	defer closeSource()

	res, err := policy.NewResolver(source, logger, metrics).Resolve(ctx, pctx)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	out := resolveOutput{
		WinnerID:     res.Winner.ID,
		WinnerName:   res.Winner.Name,
		PriceTableID: res.PriceTableID,
		Ceilings:     res.Ceilings,
	}
	for _, c := range res.Candidates {
		out.Candidates = append(out.Candidates, candidateOutput{
			PolicyID:     c.Policy.ID,
			Name:         c.Policy.Name,
			Specificity:  c.Specificity,
			PriceTableID: c.Policy.Result.PriceTableID,
		})
	}
	return printJSON(cmd, out)
}
