package syncapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/pricekeeper/internal/types"
)

// APIKeyHeader is the metadata key carrying the device's API key.
const APIKeyHeader = "x-api-key"

type policySet struct {
	etag     string
	policies []types.CommercialPolicy
}

// Client talks to the sync gateway on behalf of one device. It is the
// outbox's Remote and a policy Source.
type Client struct {
	conn    grpc.ClientConnInterface
	apiKey  string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	mu       sync.Mutex
	policies map[int64]policySet
}

// NewClient creates a client over an established connection.
func NewClient(conn grpc.ClientConnInterface, apiKey string, breaker *gobreaker.CircuitBreaker, logger *zap.Logger) *Client {
	return &Client{
		conn:     conn,
		apiKey:   apiKey,
		breaker:  breaker,
		logger:   logger,
		policies: make(map[int64]policySet),
	}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, APIKeyHeader, c.apiKey)

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp := new(structpb.Struct)
		if err := c.conn.Invoke(ctx, FullMethod(method), req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*structpb.Struct), nil
}

// Submit sends one outbox entry. Accepted and duplicate acknowledgements both
// count as success.
func (c *Client) Submit(ctx context.Context, entry types.OutboxEntry) error {
	method, ok := SubmitMethod(entry.Kind)
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrUnknownPayloadKind, entry.Kind)
	}

	req, err := SubmitRequest{LocalID: entry.LocalID, Kind: entry.Kind, Payload: entry.Payload}.Struct()
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}

	out, err := c.invoke(ctx, method, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, entry.LocalID, err)
	}
	resp, err := ParseSubmitResponse(out)
	if err != nil {
		return err
	}
	if resp.LocalID != entry.LocalID {
		return fmt.Errorf("gateway acknowledged %s for %s", resp.LocalID, entry.LocalID)
	}

	c.logger.Debug("submission acknowledged",
		zap.String("local_id", string(entry.LocalID)),
		zap.String("kind", string(entry.Kind)),
		zap.String("status", resp.Status),
	)
	return nil
}

// LoadActivePolicies fetches the company's policies. The gateway scopes
// the answer to the API key's company; asking for another company fails.
// Unchanged sets are revalidated by etag and served from memory.
func (c *Client) LoadActivePolicies(ctx context.Context, companyID int64) ([]types.CommercialPolicy, error) {
	c.mu.Lock()
	cached, hasCached := c.policies[companyID]
	c.mu.Unlock()

	req, err := PoliciesRequest{ETag: cached.etag}.Struct()
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, MethodSyncPolicies, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MethodSyncPolicies, err)
	}
	resp, err := ParsePoliciesResponse(out)
	if err != nil {
		return nil, err
	}
	if resp.CompanyID != companyID {
		return nil, fmt.Errorf("gateway returned policies of company %d, want %d", resp.CompanyID, companyID)
	}

	if resp.NotModified && hasCached {
		return cached.policies, nil
	}
	if resp.NotModified {
		return nil, fmt.Errorf("gateway reported unchanged policies for unknown etag %q", cached.etag)
	}

	c.mu.Lock()
	c.policies[companyID] = policySet{etag: resp.ETag, policies: resp.Policies}
	c.mu.Unlock()

	c.logger.Debug("policies synced",
		zap.Int64("company_id", companyID),
		zap.String("etag", resp.ETag),
		zap.Int("policies", len(resp.Policies)),
	)
	return resp.Policies, nil
}
