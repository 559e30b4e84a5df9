package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/solatis/pricekeeper/internal/connectivity"
	"github.com/solatis/pricekeeper/internal/outbox"
	"github.com/solatis/pricekeeper/internal/types"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and drive the device outbox",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unacknowledged entries in enqueue order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocalEngine(func(ctx context.Context, e *outbox.Engine) error {
			entries, err := e.List(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		})
	},
}

var outboxStatusCmd = &cobra.Command{
	Use:   "status <local-id>",
	Short: "Show the sync status of one entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := types.ParseLocalID(args[0])
		if err != nil {
			return err
		}
		return withLocalEngine(func(ctx context.Context, e *outbox.Engine) error {
			entry, err := e.Entry(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		})
	},
}

var outboxDiscardCmd = &cobra.Command{
	Use:   "discard <local-id>",
	Short: "Drop an entry that will never sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := types.ParseLocalID(args[0])
		if err != nil {
			return err
		}
		return withLocalEngine(func(ctx context.Context, e *outbox.Engine) error {
			if err := e.Discard(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded %s\n", id)
			return nil
		})
	},
}

var outboxFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Probe the gateway and run one flush pass",
	Args:  cobra.NoArgs,
	RunE:  runOutboxFlush,
}

func init() {
	rootCmd.AddCommand(outboxCmd)
	outboxCmd.AddCommand(outboxListCmd, outboxStatusCmd, outboxDiscardCmd, outboxFlushCmd)
}

func withLocalEngine(fn func(ctx context.Context, e *outbox.Engine) error) error {
	ctx := context.Background()
	database, q, err := openDatabase(ctx, deviceURL())
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(ctx, newLocalEngine(q))
}

func runOutboxFlush(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, q, err := openDatabase(ctx, deviceURL())
	if err != nil {
		return err
	}
	defer database.Close()

	conn, err := dialGateway()
	if err != nil {
		return err
	}
	defer conn.Close()
	client, err := newGatewayClient(conn)
	if err != nil {
		return err
	}

	monitor := connectivity.NewMonitor(false)
	newProber(conn, monitor).Probe(ctx)

	engine := outbox.NewEngine(outbox.NewStore(q), client, monitor, cfg.Sync.AttemptTimeout, logger, metrics)
	if _, err := engine.Recover(ctx); err != nil {
		return err
	}
	report, err := engine.Flush(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, report)
}
