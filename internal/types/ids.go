package types

import "github.com/google/uuid"

// approvalNamespace scopes the name-based UUIDs of approval requests.
var approvalNamespace = uuid.MustParse("6f1c2b7e-3a94-4d0e-9a57-0c1e8f2d4b63")

// NewLocalID generates a UUIDv7 local identifier.
// Time-ordered IDs keep the outbox primary key roughly insertion ordered.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewLocalID() LocalID {
	return LocalID(uuid.Must(uuid.NewV7()).String())
}

// ParseLocalID validates and converts a string to LocalID.
func ParseLocalID(s string) (LocalID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return LocalID(s), nil
}

// ApprovalRequestID derives the id of the approval request for an order.
// An order has at most one request, so re-submitting it yields the same id
// and the outbox treats the second request as already queued.
func ApprovalRequestID(orderRef LocalID) LocalID {
	return LocalID(uuid.NewSHA1(approvalNamespace, []byte(orderRef)).String())
}
