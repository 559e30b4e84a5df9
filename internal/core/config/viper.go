package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// secretKeys may only come from the environment.
var secretKeys = map[string]string{
	"hmac_secret":         "PK_HMAC_SECRET",
	"gateway.hmac_secret": "PK_HMAC_SECRET",
	"api_key":             "PK_API_KEY",
	"sync.api_key":        "PK_API_KEY",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	// Bind environment variables with PK_ prefix
	v.SetEnvPrefix("PK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Catalog: CatalogConfig{
			Path:     v.GetString("catalog.path"),
			Watch:    v.GetBool("catalog.watch"),
			CacheTTL: v.GetDuration("catalog.cache_ttl"),
		},
		Sync: SyncConfig{
			DatabaseURL:    v.GetString("sync.database_url"),
			GatewayAddr:    v.GetString("sync.gateway_addr"),
			Insecure:       v.GetBool("sync.insecure"),
			AttemptTimeout: v.GetDuration("sync.attempt_timeout"),
			FlushInterval:  v.GetDuration("sync.flush_interval"),
			ProbeInterval:  v.GetDuration("sync.probe_interval"),
			ProbeTimeout:   v.GetDuration("sync.probe_timeout"),
			StatusAddr:     v.GetString("sync.status_addr"),
		},
		Gateway: GatewayConfig{
			Host:           v.GetString("gateway.host"),
			Port:           v.GetInt("gateway.port"),
			MaxConnections: v.GetInt("gateway.max_connections"),
			RequestTimeout: v.GetDuration("gateway.request_timeout"),
			DatabaseURL:    v.GetString("gateway.database_url"),
			DataDir:        v.GetString("gateway.data_dir"),
		},
		Approval: ApprovalConfig{
			JustificationRule: v.GetString("approval.justification_rule"),
		},
		OTLPEndpoint: v.GetString("otlp_endpoint"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("catalog.path", d.Catalog.Path)
	v.SetDefault("catalog.watch", d.Catalog.Watch)
	v.SetDefault("catalog.cache_ttl", d.Catalog.CacheTTL.String())

	v.SetDefault("sync.database_url", d.Sync.DatabaseURL)
	v.SetDefault("sync.gateway_addr", d.Sync.GatewayAddr)
	v.SetDefault("sync.insecure", d.Sync.Insecure)
	v.SetDefault("sync.attempt_timeout", d.Sync.AttemptTimeout.String())
	v.SetDefault("sync.flush_interval", d.Sync.FlushInterval.String())
	v.SetDefault("sync.probe_interval", d.Sync.ProbeInterval.String())
	v.SetDefault("sync.probe_timeout", d.Sync.ProbeTimeout.String())
	v.SetDefault("sync.status_addr", d.Sync.StatusAddr)

	v.SetDefault("gateway.host", d.Gateway.Host)
	v.SetDefault("gateway.port", d.Gateway.Port)
	v.SetDefault("gateway.max_connections", d.Gateway.MaxConnections)
	v.SetDefault("gateway.request_timeout", d.Gateway.RequestTimeout.String())
	v.SetDefault("gateway.database_url", d.Gateway.DatabaseURL)
	v.SetDefault("gateway.data_dir", d.Gateway.DataDir)

	v.SetDefault("approval.justification_rule", "")
	v.SetDefault("otlp_endpoint", "")
}

// validateConfig checks port range and positive timeouts and intervals.
func validateConfig(cfg *Config) error {
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", cfg.Gateway.MaxConnections)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"gateway.request_timeout", cfg.Gateway.RequestTimeout},
		{"sync.attempt_timeout", cfg.Sync.AttemptTimeout},
		{"sync.probe_interval", cfg.Sync.ProbeInterval},
		{"sync.probe_timeout", cfg.Sync.ProbeTimeout},
		{"catalog.cache_ttl", cfg.Catalog.CacheTTL},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.d)
		}
	}
	if cfg.Sync.FlushInterval < 0 {
		return fmt.Errorf("sync.flush_interval must not be negative, got %v", cfg.Sync.FlushInterval)
	}
	if cfg.Sync.ProbeTimeout >= cfg.Sync.ProbeInterval {
		return fmt.Errorf("sync.probe_timeout (%v) must be shorter than sync.probe_interval (%v)", cfg.Sync.ProbeTimeout, cfg.Sync.ProbeInterval)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
// Only the config file is checked; the same keys arriving through the
// environment are expected.
func validateNoSecretsInConfig(v *viper.Viper) error {
	for key, env := range secretKeys {
		if v.InConfig(key) {
			return fmt.Errorf("secrets not allowed in config files: %s (use %s environment variable)", key, env)
		}
	}
	return nil
}
