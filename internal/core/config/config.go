// Package config provides configuration management for pricekeeper.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full configuration of the pricekeeper binary. The device
// commands read Catalog, Sync and Approval; the gateway reads Catalog and
// Gateway.
type Config struct {
	Catalog      CatalogConfig
	Sync         SyncConfig
	Gateway      GatewayConfig
	Approval     ApprovalConfig
	OTLPEndpoint string
}

// CatalogConfig locates the reference data snapshot.
type CatalogConfig struct {
	Path     string
	Watch    bool
	CacheTTL time.Duration
}

// SyncConfig drives the device-side outbox.
type SyncConfig struct {
	DatabaseURL    string
	GatewayAddr    string
	Insecure       bool
	AttemptTimeout time.Duration
	FlushInterval  time.Duration
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	StatusAddr     string
}

// GatewayConfig holds configuration for the gRPC sync gateway.
type GatewayConfig struct {
	Host           string
	Port           int
	MaxConnections int
	RequestTimeout time.Duration
	DatabaseURL    string
	DataDir        string
}

// ApprovalConfig configures the approval coordinator.
// JustificationRule is a JsonLogic expression; empty means optional.
type ApprovalConfig struct {
	JustificationRule string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Path:     "./catalog.yaml",
			Watch:    true,
			CacheTTL: 5 * time.Minute,
		},
		Sync: SyncConfig{
			DatabaseURL:    "sqlite://./data/device.db",
			GatewayAddr:    "localhost:50051",
			Insecure:       true,
			AttemptTimeout: 10 * time.Second,
			FlushInterval:  time.Minute,
			ProbeInterval:  15 * time.Second,
			ProbeTimeout:   3 * time.Second,
			StatusAddr:     "127.0.0.1:9464",
		},
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           50051,
			MaxConnections: 1000,
			RequestTimeout: 30 * time.Second,
			DatabaseURL:    "sqlite://./data/gateway.db",
			DataDir:        "./data",
		},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports PK_HMAC_SECRET (single) and PK_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are 32 hex chars matching the API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(name, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check PK_HMAC_SECRET and PK_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv("PK_HMAC_SECRET"); val != "" {
		if err := add("PK_HMAC_SECRET", val); err != nil {
			return nil, err
		}
	}

	// Multiple secrets enable rotation: old and new keys valid during migration
	for i := 1; ; i++ {
		key := fmt.Sprintf("PK_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// APIKey returns the device's gateway API key from PK_API_KEY.
func APIKey() (string, error) {
	key := strings.TrimSpace(os.Getenv("PK_API_KEY"))
	if key == "" {
		return "", fmt.Errorf("no API key configured (set PK_API_KEY environment variable)")
	}
	return key, nil
}

// ParseHMACSecret decodes base64-encoded HMAC secret from environment variable.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 lowercase hex chars.
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars")
	}

	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = ParseHMACSecret(parts[1])
	if err != nil {
		return "", nil, err
	}
	return secretID, secret, nil
}
