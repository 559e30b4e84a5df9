// Package auth provides HMAC-based API key authentication for the sync gateway.
//
// Every key belongs to one company; authenticated requests carry that
// company in their context and may only read or write its data.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/pricekeeper/internal/core/db"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// companyIDKey is the context key for storing the authenticated company.
const companyIDKey = contextKey("company_id")

// healthServicePrefix is left unauthenticated so devices can probe reachability
// before presenting a key.
const healthServicePrefix = "/grpc.health.v1.Health/"

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds in-memory secret map for O(1) lookup and queries for key verification.
type Authenticator struct {
	secrets map[string][]byte
	queries db.Querier
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets and a query interface.
func NewAuthenticator(secrets map[string][]byte, queries db.Querier) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		now:     time.Now,
	}
}

type keyRow struct {
	APIKeyID   string         `db:"api_key_id"`
	CompanyID  int64          `db:"company_id"`
	RevokedAt  sql.NullString `db:"revoked_at"`
	LastUsedAt sql.NullString `db:"last_used_at"`
}

// Authenticate validates an API key and returns its company.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (int64, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return 0, err
	}

	// O(1) lookup of HMAC secret using secret_id from key format
	secret, ok := a.secrets[secretID]
	if !ok {
		return 0, ErrUnknownKey
	}

	// key_hash is unique, so at most one row matches
	var row keyRow
	err = a.queries.GetContext(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInvalidKey
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrKeyStore, err)
	}

	if row.RevokedAt.Valid {
		return 0, ErrKeyRevoked
	}

	// 1-minute throttle keeps active devices from writing on every call
	if a.shouldUpdateLastUsed(row.LastUsedAt) {
		_, _ = a.queries.ExecContext(ctx, "update-last-used", db.FormatTime(a.now()), row.APIKeyID)
	}

	return row.CompanyID, nil
}

func (a *Authenticator) shouldUpdateLastUsed(lastUsed sql.NullString) bool {
	if !lastUsed.Valid {
		return true
	}
	t, err := db.ParseTime(lastUsed.String)
	if err != nil {
		return true
	}
	return a.now().Sub(t) > time.Minute
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		companyID, err := a.Authenticate(ctx, apiKeys[0])
		switch {
		case errors.Is(err, ErrKeyRevoked):
			return nil, status.Error(codes.PermissionDenied, err.Error())
		case errors.Is(err, ErrKeyStore):
			return nil, status.Error(codes.Unavailable, err.Error())
		case err != nil:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(WithCompanyID(ctx, companyID), req)
	}
}

// WithCompanyID returns ctx carrying an authenticated company.
func WithCompanyID(ctx context.Context, companyID int64) context.Context {
	return context.WithValue(ctx, companyIDKey, companyID)
}

// CompanyIDFromContext extracts the authenticated company.
func CompanyIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(companyIDKey).(int64)
	return id, ok
}

// IssueKey creates and stores a new key for a company. The plaintext key is
// returned once and never stored.
func IssueKey(ctx context.Context, q db.Querier, secretID string, secret []byte, companyID int64, name string) (apiKey, keyID string, err error) {
	apiKey, err = GenerateAPIKey(secretID)
	if err != nil {
		return "", "", err
	}
	keyID = uuid.NewString()

	_, err = q.ExecContext(ctx, "insert-api-key",
		keyID, companyID, name, ComputeHMAC(secret, apiKey), db.FormatTime(time.Now()),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to store API key: %w", err)
	}
	return apiKey, keyID, nil
}

// RevokeKey marks a key revoked. Revoking twice is an error.
func RevokeKey(ctx context.Context, q db.Querier, keyID string) error {
	res, err := q.ExecContext(ctx, "revoke-api-key", db.FormatTime(time.Now()), keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("API key %s not found or already revoked", keyID)
	}
	return nil
}
