package syncapi

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/pricekeeper/internal/types"
)

// Submission acknowledgement statuses.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// SubmitRequest carries one outbox entry.
//
//	{local_id: string, kind: string, payload_json: string}
type SubmitRequest struct {
	LocalID types.LocalID
	Kind    types.PayloadKind
	Payload types.Payload
}

// Struct encodes the request.
func (r SubmitRequest) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"local_id":     string(r.LocalID),
		"kind":         string(r.Kind),
		"payload_json": string(r.Payload),
	})
}

// ParseSubmitRequest decodes and validates a request.
func ParseSubmitRequest(s *structpb.Struct) (SubmitRequest, error) {
	f := s.GetFields()
	id, err := types.ParseLocalID(f["local_id"].GetStringValue())
	if err != nil {
		return SubmitRequest{}, fmt.Errorf("invalid local_id: %w", err)
	}
	kind := types.PayloadKind(f["kind"].GetStringValue())
	if !kind.Valid() {
		return SubmitRequest{}, fmt.Errorf("%w: %q", types.ErrUnknownPayloadKind, kind)
	}
	payload := f["payload_json"].GetStringValue()
	if len(payload) > types.MaxPayloadSize {
		return SubmitRequest{}, types.ErrPayloadTooLarge
	}
	if !json.Valid([]byte(payload)) {
		return SubmitRequest{}, fmt.Errorf("payload_json of %s is not valid JSON", id)
	}
	return SubmitRequest{LocalID: id, Kind: kind, Payload: types.Payload(payload)}, nil
}

// SubmitResponse acknowledges a submission.
//
//	{local_id: string, status: "accepted"|"duplicate", received_at: RFC 3339}
type SubmitResponse struct {
	LocalID    types.LocalID
	Status     string
	ReceivedAt time.Time
}

// Struct encodes the response.
func (r SubmitResponse) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"local_id":    string(r.LocalID),
		"status":      r.Status,
		"received_at": r.ReceivedAt.UTC().Format(time.RFC3339Nano),
	})
}

// ParseSubmitResponse decodes a response.
func ParseSubmitResponse(s *structpb.Struct) (SubmitResponse, error) {
	f := s.GetFields()
	resp := SubmitResponse{
		LocalID: types.LocalID(f["local_id"].GetStringValue()),
		Status:  f["status"].GetStringValue(),
	}
	if resp.Status != StatusAccepted && resp.Status != StatusDuplicate {
		return SubmitResponse{}, fmt.Errorf("unexpected submission status %q", resp.Status)
	}
	if raw := f["received_at"].GetStringValue(); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return SubmitResponse{}, fmt.Errorf("invalid received_at: %w", err)
		}
		resp.ReceivedAt = t
	}
	return resp, nil
}

// PoliciesRequest asks for the caller's company policies.
//
//	{etag: string}
type PoliciesRequest struct {
	ETag string
}

// Struct encodes the request.
func (r PoliciesRequest) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{"etag": r.ETag})
}

// ParsePoliciesRequest decodes a request.
func ParsePoliciesRequest(s *structpb.Struct) PoliciesRequest {
	return PoliciesRequest{ETag: s.GetFields()["etag"].GetStringValue()}
}

// PoliciesResponse returns a company's active policies.
// When the caller's etag is current, NotModified is set and Policies is empty.
//
//	{company_id: number, etag: string, not_modified: bool, policies_json: string}
type PoliciesResponse struct {
	CompanyID   int64
	ETag        string
	NotModified bool
	Policies    []types.CommercialPolicy
}

// Struct encodes the response.
func (r PoliciesResponse) Struct() (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"company_id":   float64(r.CompanyID),
		"etag":         r.ETag,
		"not_modified": r.NotModified,
	}
	if !r.NotModified {
		raw, err := json.Marshal(r.Policies)
		if err != nil {
			return nil, fmt.Errorf("failed to encode policies: %w", err)
		}
		fields["policies_json"] = string(raw)
	}
	return structpb.NewStruct(fields)
}

// ParsePoliciesResponse decodes a response.
func ParsePoliciesResponse(s *structpb.Struct) (PoliciesResponse, error) {
	f := s.GetFields()
	resp := PoliciesResponse{
		CompanyID:   int64(f["company_id"].GetNumberValue()),
		ETag:        f["etag"].GetStringValue(),
		NotModified: f["not_modified"].GetBoolValue(),
	}
	if resp.NotModified {
		return resp, nil
	}
	if err := json.Unmarshal([]byte(f["policies_json"].GetStringValue()), &resp.Policies); err != nil {
		return PoliciesResponse{}, fmt.Errorf("invalid policies_json: %w", err)
	}
	return resp, nil
}
