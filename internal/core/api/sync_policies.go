package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/pricekeeper/internal/core/auth"
	"github.com/solatis/pricekeeper/internal/syncapi"
	"github.com/solatis/pricekeeper/internal/types"
)

// SyncPolicies returns the active policies of the caller's company.
// ETag-based revalidation skips the payload when the set is unchanged.
func (s *GatewayService) SyncPolicies(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	companyID, ok := auth.CompanyIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Internal, "missing company_id in context")
	}
	req := syncapi.ParsePoliciesRequest(in)

	policies, err := s.policies.LoadActivePolicies(ctx, companyID)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "failed to load policies: %v", err)
	}

	sorted := make([]types.CommercialPolicy, len(policies))
	copy(sorted, policies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	etag, err := computeETag(companyID, sorted)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	resp := syncapi.PoliciesResponse{CompanyID: companyID, ETag: etag}
	if req.ETag == etag {
		resp.NotModified = true
	} else {
		resp.Policies = sorted
	}
	return resp.Struct()
}

// computeETag is content-addressable: the same policy set always produces
// the same tag.
func computeETag(companyID int64, policies []types.CommercialPolicy) (string, error) {
	raw, err := json.Marshal(policies)
	if err != nil {
		return "", fmt.Errorf("failed to encode policies: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%d:", companyID)
	h.Write(raw)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
