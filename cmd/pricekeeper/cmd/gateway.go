package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/pricekeeper/internal/catalog"
	"github.com/solatis/pricekeeper/internal/core/api"
	"github.com/solatis/pricekeeper/internal/core/auth"
	"github.com/solatis/pricekeeper/internal/core/config"
	"github.com/solatis/pricekeeper/internal/core/observability"
	"github.com/solatis/pricekeeper/internal/core/server"
)

var (
	keyCompany  int64
	keyName     string
	keySecretID string
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run and administer the central sync gateway",
}

var gatewayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC sync gateway",
	Args:  cobra.NoArgs,
	RunE:  runGatewayServe,
}

var gatewayKeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage device API keys",
}

var gatewayKeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key for a company's device",
	Args:  cobra.NoArgs,
	RunE:  runKeyCreate,
}

var gatewayKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyRevoke,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.AddCommand(gatewayServeCmd, gatewayKeyCmd)
	gatewayKeyCmd.AddCommand(gatewayKeyCreateCmd, gatewayKeyRevokeCmd)

	gatewayServeCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	gatewayServeCmd.Flags().Int("port", 50051, "gRPC server port")

	gatewayKeyCreateCmd.Flags().Int64Var(&keyCompany, "company", 0, "company the key authenticates as")
	gatewayKeyCreateCmd.Flags().StringVar(&keyName, "name", "", "human readable key name")
	gatewayKeyCreateCmd.Flags().StringVar(&keySecretID, "secret-id", "", "HMAC secret to sign with (required when several are configured)")
	_ = gatewayKeyCreateCmd.MarkFlagRequired("company")
}

func loadSecrets() (map[string][]byte, error) {
	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("no HMAC secrets configured (set PK_HMAC_SECRET environment variable)")
	}
	return secrets, nil
}

func runGatewayServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("host") {
		cfg.Gateway.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Gateway.Port, _ = cmd.Flags().GetInt("port")
	}

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "pricekeeper-gateway")
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	database, queries, err := openDatabase(ctx, gatewayURL())
	if err != nil {
		return err
	}
	defer database.Close()

	secrets, err := loadSecrets()
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(secrets, queries)

	file, err := openCatalog()
	if err != nil {
		return err
	}
	policies := catalog.NewCache(file, cfg.Catalog.CacheTTL, logger)
	if cfg.Catalog.Watch {
		go func() {
			err := file.Watch(ctx, logger, func(err error) {
				if err == nil {
					policies.InvalidateAll()
				}
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("catalog watch stopped", zap.Error(err))
			}
		}()
	}

	service, err := api.NewGatewayService(queries, policies, &cfg.Gateway, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(&cfg.Gateway, service, authenticator, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting sync gateway",
		zap.String("version", Version),
		zap.String("host", cfg.Gateway.Host),
		zap.Int("port", cfg.Gateway.Port),
		zap.Int("secrets", len(secrets)),
	)
	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
		return grpcServer.Shutdown(context.Background())
	}
}

func runKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	secrets, err := loadSecrets()
	if err != nil {
		return err
	}
	secretID := keySecretID
	if secretID == "" {
		if len(secrets) > 1 {
			ids := make([]string, 0, len(secrets))
			for id := range secrets {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			return fmt.Errorf("several HMAC secrets configured, pick one with --secret-id (%v)", ids)
		}
		for id := range secrets {
			secretID = id
		}
	}
	secret, ok := secrets[secretID]
	if !ok {
		return fmt.Errorf("unknown secret id %q", secretID)
	}

	database, queries, err := openDatabase(ctx, gatewayURL())
	if err != nil {
		return err
	}
	defer database.Close()

	apiKey, keyID, err := auth.IssueKey(ctx, queries, secretID, secret, keyCompany, keyName)
	if err != nil {
		return err
	}
	// The plaintext key is shown once; only its hash is stored.
	return printJSON(cmd, map[string]any{"key_id": keyID, "company_id": keyCompany, "api_key": apiKey})
}

func runKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	database, queries, err := openDatabase(ctx, gatewayURL())
	if err != nil {
		return err
	}
	defer database.Close()

	if err := auth.RevokeKey(ctx, queries, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
	return nil
}
