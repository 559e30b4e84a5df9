package config

import (
	"testing"
	"time"
)

const (
	testSecretA = "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
	testSecretB = "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
)

func TestHMACSecrets(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    int
		wantErr bool
	}{
		{name: "none", env: nil, want: 0},
		{name: "single secret", env: map[string]string{"PK_HMAC_SECRET": testSecretA}, want: 1},
		{
			name: "numbered secrets",
			env:  map[string]string{"PK_HMAC_SECRET_1": testSecretA, "PK_HMAC_SECRET_2": testSecretB},
			want: 2,
		},
		{
			name: "numbering stops at the first gap",
			env:  map[string]string{"PK_HMAC_SECRET_1": testSecretA, "PK_HMAC_SECRET_3": testSecretB},
			want: 1,
		},
		{name: "invalid format", env: map[string]string{"PK_HMAC_SECRET": "invalid_format"}, wantErr: true},
		{
			name:    "short secret_id",
			env:     map[string]string{"PK_HMAC_SECRET": "short:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"},
			wantErr: true,
		},
		{
			name:    "duplicate between single and numbered",
			env:     map[string]string{"PK_HMAC_SECRET": testSecretA, "PK_HMAC_SECRET_1": testSecretA},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PK_HMAC_SECRET", "")
			t.Setenv("PK_HMAC_SECRET_1", "")
			t.Setenv("PK_HMAC_SECRET_2", "")
			t.Setenv("PK_HMAC_SECRET_3", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			secrets, err := HMACSecrets()
			if (err != nil) != tt.wantErr {
				t.Fatalf("HMACSecrets() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(secrets) != tt.want {
				t.Errorf("HMACSecrets() returned %d secrets, want %d", len(secrets), tt.want)
			}
		})
	}

	t.Run("secret id is the map key", func(t *testing.T) {
		t.Setenv("PK_HMAC_SECRET", testSecretA)
		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets() error = %v, want nil", err)
		}
		if _, ok := secrets["0123456789abcdef0123456789abcdef"]; !ok {
			t.Error("secret_id not found in map")
		}
	})
}

func TestAPIKey(t *testing.T) {
	t.Setenv("PK_API_KEY", "")
	if _, err := APIKey(); err == nil {
		t.Error("APIKey() error = nil, want error when unset")
	}

	t.Setenv("PK_API_KEY", "  pk-v1-abc  ")
	key, err := APIKey()
	if err != nil {
		t.Fatalf("APIKey() error = %v, want nil", err)
	}
	if key != "pk-v1-abc" {
		t.Errorf("APIKey() = %q, want %q", key, "pk-v1-abc")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig() error = %v, want nil", err)
		}
		if cfg.Gateway.Host != "0.0.0.0" {
			t.Errorf("Gateway.Host = %s, want 0.0.0.0", cfg.Gateway.Host)
		}
		if cfg.Gateway.Port != 50051 {
			t.Errorf("Gateway.Port = %d, want 50051", cfg.Gateway.Port)
		}
		if cfg.Gateway.RequestTimeout != 30*time.Second {
			t.Errorf("Gateway.RequestTimeout = %v, want 30s", cfg.Gateway.RequestTimeout)
		}
		if cfg.Sync.AttemptTimeout != 10*time.Second {
			t.Errorf("Sync.AttemptTimeout = %v, want 10s", cfg.Sync.AttemptTimeout)
		}
		if cfg.Sync.ProbeInterval != 15*time.Second {
			t.Errorf("Sync.ProbeInterval = %v, want 15s", cfg.Sync.ProbeInterval)
		}
		if cfg.Catalog.CacheTTL != 5*time.Minute {
			t.Errorf("Catalog.CacheTTL = %v, want 5m", cfg.Catalog.CacheTTL)
		}
		if cfg.Approval.JustificationRule != "" {
			t.Errorf("Approval.JustificationRule = %q, want empty", cfg.Approval.JustificationRule)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("PK_GATEWAY_PORT", "9999")
		t.Setenv("PK_SYNC_GATEWAY_ADDR", "gw.internal:443")
		t.Setenv("PK_SYNC_ATTEMPT_TIMEOUT", "2s")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig() error = %v, want nil", err)
		}
		if cfg.Gateway.Port != 9999 {
			t.Errorf("Gateway.Port = %d, want 9999", cfg.Gateway.Port)
		}
		if cfg.Sync.GatewayAddr != "gw.internal:443" {
			t.Errorf("Sync.GatewayAddr = %s, want gw.internal:443", cfg.Sync.GatewayAddr)
		}
		if cfg.Sync.AttemptTimeout != 2*time.Second {
			t.Errorf("Sync.AttemptTimeout = %v, want 2s", cfg.Sync.AttemptTimeout)
		}
	})

	invalid := []struct {
		name string
		key  string
		val  string
	}{
		{"port above range", "PK_GATEWAY_PORT", "70000"},
		{"negative max connections", "PK_GATEWAY_MAX_CONNECTIONS", "-1"},
		{"zero attempt timeout", "PK_SYNC_ATTEMPT_TIMEOUT", "0s"},
		{"probe timeout not shorter than interval", "PK_SYNC_PROBE_TIMEOUT", "20s"},
		{"negative flush interval", "PK_SYNC_FLUSH_INTERVAL", "-1s"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadConfig(""); err == nil {
				t.Errorf("LoadConfig() with %s=%s error = nil, want error", tt.key, tt.val)
			}
		})
	}
}

func TestParseHMACSecret(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid base64", "dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w", false},
		{"invalid base64", "not-valid-base64!!!", true},
		{"secret too short", "c2hvcnQ=", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret, err := ParseHMACSecret(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHMACSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(secret) < 32 {
				t.Errorf("secret too short: %d bytes", len(secret))
			}
		})
	}
}

func TestParseHMACSecretWithID(t *testing.T) {
	secretID, secret, err := ParseHMACSecretWithID(testSecretA)
	if err != nil {
		t.Fatalf("ParseHMACSecretWithID() error = %v, want nil", err)
	}
	if secretID != "0123456789abcdef0123456789abcdef" {
		t.Errorf("unexpected secret_id: %s", secretID)
	}
	if len(secret) == 0 {
		t.Error("secret should not be empty")
	}

	for _, in := range []string{
		"0123456789abcdef0123456789abcdef",
		"tooshort:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w",
		"0123456789abcdefGHIJKLMNOPQRSTUV:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w",
	} {
		if _, _, err := ParseHMACSecretWithID(in); err == nil {
			t.Errorf("ParseHMACSecretWithID(%q) error = nil, want error", in)
		}
	}
}
