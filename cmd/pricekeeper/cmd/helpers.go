package cmd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/solatis/pricekeeper/internal/approval"
	"github.com/solatis/pricekeeper/internal/catalog"
	"github.com/solatis/pricekeeper/internal/connectivity"
	"github.com/solatis/pricekeeper/internal/core/config"
	"github.com/solatis/pricekeeper/internal/core/db"
	"github.com/solatis/pricekeeper/internal/core/resilience"
	"github.com/solatis/pricekeeper/internal/outbox"
	"github.com/solatis/pricekeeper/internal/syncapi"
	"github.com/solatis/pricekeeper/internal/types"
)

func deviceURL() string {
	if dbURL != "" {
		return dbURL
	}
	return cfg.Sync.DatabaseURL
}

func gatewayURL() string {
	if dbURL != "" {
		return dbURL
	}
	return cfg.Gateway.DatabaseURL
}

// openDatabase opens url and refuses to continue on a schema behind the
// embedded migrations.
func openDatabase(ctx context.Context, url string) (*sqlx.DB, *db.Queries, error) {
	database, err := db.Open(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.RequireMigrations(ctx, database); err != nil {
		database.Close()
		return nil, nil, err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, queries, nil
}

func openCatalog() (*catalog.File, error) {
	f, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return f, nil
}

func dialGateway() (*grpc.ClientConn, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Sync.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.Sync.GatewayAddr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway %s: %w", cfg.Sync.GatewayAddr, err)
	}
	return conn, nil
}

func newGatewayClient(conn grpc.ClientConnInterface) (*syncapi.Client, error) {
	apiKey, err := config.APIKey()
	if err != nil {
		return nil, err
	}
	breaker := resilience.NewCircuitBreaker("gateway", logger)
	return syncapi.NewClient(conn, apiKey, breaker, logger), nil
}

func newProber(conn grpc.ClientConnInterface, monitor *connectivity.Monitor) *connectivity.Prober {
	return connectivity.NewProber(conn, monitor, syncapi.ServiceName, cfg.Sync.ProbeInterval, cfg.Sync.ProbeTimeout, logger)
}

// newLocalEngine returns an engine that never reaches the gateway. Commands
// that only queue work use it.
func newLocalEngine(q *db.Queries) *outbox.Engine {
	remote := outbox.RemoteFunc(func(context.Context, types.OutboxEntry) error {
		return fmt.Errorf("gateway not connected")
	})
	return outbox.NewEngine(outbox.NewStore(q), remote, connectivity.NewMonitor(false), cfg.Sync.AttemptTimeout, logger, metrics)
}

func newCoordinator(q *db.Queries, directory approval.Directory, queue approval.Enqueuer) (*approval.Coordinator, error) {
	rule, err := approval.NewJustificationRule([]byte(cfg.Approval.JustificationRule))
	if err != nil {
		return nil, fmt.Errorf("invalid approval.justification_rule: %w", err)
	}
	return approval.NewCoordinator(directory, rule, queue, approval.NewStore(q), logger), nil
}

// readInput decodes JSON from the named file, or stdin for "" and "-".
func readInput(cmd *cobra.Command, args []string, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
