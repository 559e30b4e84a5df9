package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/pricekeeper/internal/connectivity"
	"github.com/solatis/pricekeeper/internal/core/observability"
	"github.com/solatis/pricekeeper/internal/outbox"
	"github.com/solatis/pricekeeper/internal/statusapi"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the device sync loop",
	Long: `Sync probes the gateway, flushes the outbox whenever connectivity returns
and on every flush interval, and serves local status and metrics over HTTP.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().String("status-addr", "", "status HTTP listen address (overrides sync.status_addr)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("status-addr") {
		cfg.Sync.StatusAddr, _ = cmd.Flags().GetString("status-addr")
	}

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "pricekeeper-sync")
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

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

	directory, err := openCatalog()
	if err != nil {
		return err
	}

	monitor := connectivity.NewMonitor(false)
	engine := outbox.NewEngine(outbox.NewStore(q), client, monitor, cfg.Sync.AttemptTimeout, logger, metrics)
	coordinator, err := newCoordinator(q, directory, engine)
	if err != nil {
		return err
	}

	if _, err := engine.Recover(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Sync.StatusAddr,
		Handler:           statusapi.NewRouter(engine, coordinator, monitor, metrics.Registry, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting device sync",
		zap.String("version", Version),
		zap.String("gateway", cfg.Sync.GatewayAddr),
		zap.String("status_addr", cfg.Sync.StatusAddr),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return newProber(conn, monitor).Run(ctx) })
	g.Go(func() error { return engine.Run(ctx, monitor, cfg.Sync.FlushInterval) })
	if cfg.Catalog.Watch {
		g.Go(func() error {
			return directory.Watch(ctx, logger, nil)
		})
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("device sync stopped")
		return nil
	}
	return err
}
