package types

import "errors"

// Sentinel errors for pricekeeper operations.
var (
	// ErrNoPolicyResolved indicates no active policy matched the context.
	// This is a configuration problem, never an unrestricted default.
	ErrNoPolicyResolved = errors.New("no commercial policy resolved")

	// ErrInvalidCriteria indicates a malformed matcher in a policy.
	ErrInvalidCriteria = errors.New("invalid policy criteria")

	// ErrInvalidCeiling indicates a ceiling or price table outside its allowed range.
	ErrInvalidCeiling = errors.New("invalid policy result")

	// ErrInvalidPolicyID indicates a non-positive policy id.
	ErrInvalidPolicyID = errors.New("invalid policy id")

	// ErrPolicyNotFound indicates a lookup by id found nothing.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrPriceNotFound indicates no price exception or base price exists.
	ErrPriceNotFound = errors.New("price not found")

	// ErrInvalidOrderLine indicates a line breaking quantity, sign or price invariants.
	ErrInvalidOrderLine = errors.New("invalid order line")

	// ErrMissingApprover indicates an approval request without an approver.
	ErrMissingApprover = errors.New("approver required")

	// ErrIneligibleApprover indicates the approver may not decide this request.
	ErrIneligibleApprover = errors.New("approver not eligible")

	// ErrJustificationRequired indicates the justification rule demands text.
	ErrJustificationRequired = errors.New("justification required")

	// ErrIllegalTransition indicates an approval state change the machine forbids.
	ErrIllegalTransition = errors.New("illegal approval transition")

	// ErrApprovalNotFound indicates no approval request exists for the order.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrUnknownPayloadKind indicates an outbox entry kind with no remote endpoint.
	ErrUnknownPayloadKind = errors.New("unknown payload kind")

	// ErrPayloadTooLarge indicates the payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrEntryNotFound indicates no outbox entry or acknowledgement exists.
	ErrEntryNotFound = errors.New("outbox entry not found")

	// ErrEntryInFlight indicates an entry is being synced and cannot be changed.
	ErrEntryInFlight = errors.New("outbox entry is syncing")
)
