package types

import "time"

// OrderLine is one product row of an order.
// NegotiatedUnitPrice == BasePrice*(1+MarkupPercent/100)*(1-DiscountPercent/100)
// rounded to 2 decimals, half-up.
type OrderLine struct {
	ProductID           int64           `json:"product_id"`
	Quantity            float64         `json:"quantity"`
	BasePrice           float64         `json:"base_price"`
	NegotiatedUnitPrice float64         `json:"negotiated_unit_price"`
	DiscountPercent     float64         `json:"discount_percent"`
	MarkupPercent       float64         `json:"markup_percent"`
	PriceTableID        Optional[int64] `json:"price_table_id"`
	PolicyID            int64           `json:"policy_id,omitempty"`
}

// CartItem is what the user picked before pricing.
// BrandID and ProductGroupID refine the per-line policy context when known.
type CartItem struct {
	ProductID       int64             `json:"product_id"`
	BrandID         Optional[int64]   `json:"brand_id"`
	ProductGroupID  Optional[int64]   `json:"product_group_id"`
	Quantity        float64           `json:"quantity"`
	DiscountPercent float64           `json:"discount_percent"`
	MarkupPercent   float64           `json:"markup_percent"`
	// UnitPrice is a negotiated price typed by the user. When set, markup
	// (or discount, for a price below the discounted base) is derived from it.
	UnitPrice       Optional[float64] `json:"unit_price"`
}

// PricedLine is an order line with the ceilings of the policy that priced it.
type PricedLine struct {
	Line     OrderLine `json:"line"`
	Ceilings Ceilings  `json:"ceilings"`
}

// ViolationKind classifies a ceiling breach.
type ViolationKind string

const (
	DiscountExceeded ViolationKind = "discount_exceeded"
	MarkupExceeded   ViolationKind = "markup_exceeded"
)

// Violation records one ceiling breach on one line.
type Violation struct {
	LineRef int64         `json:"line_ref"`
	Kind    ViolationKind `json:"kind"`
	Limit   float64       `json:"limit"`
	Actual  float64       `json:"actual"`
}

// ApprovalStatus is the persisted state of an order's approval.
type ApprovalStatus string

const (
	ApprovalDraft           ApprovalStatus = "draft"
	ApprovalPendingApproval ApprovalStatus = "pending_approval"
	ApprovalApproved        ApprovalStatus = "approved"
	ApprovalRejected        ApprovalStatus = "rejected"
)

// IsTerminal reports whether no further transition is possible.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// Order is the payload of an Order outbox entry.
type Order struct {
	LocalID        LocalID        `json:"local_id"`
	Context        PolicyContext  `json:"context"`
	Lines          []OrderLine    `json:"lines"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ApprovalRequest asks a named approver to accept an order's violations.
type ApprovalRequest struct {
	LocalID       LocalID             `json:"local_id"`
	OrderRef      LocalID             `json:"order_ref"`
	Violations    []Violation         `json:"violations"`
	ApproverID    string              `json:"approver_id"`
	Justification Optional[string]    `json:"justification"`
	Status        ApprovalStatus      `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	DecidedAt     Optional[time.Time] `json:"decided_at"`
	DecidedBy     string              `json:"decided_by,omitempty"`
}

// VisitKind distinguishes field visit events.
type VisitKind string

const (
	VisitCheckIn  VisitKind = "check_in"
	VisitCheckOut VisitKind = "check_out"
)

// Visit is the payload of a CheckIn or CheckOut outbox entry.
type Visit struct {
	LocalID   LocalID           `json:"local_id"`
	Kind      VisitKind         `json:"kind"`
	PartnerID int64             `json:"partner_id"`
	VendorID  int64             `json:"vendor_id"`
	At        time.Time         `json:"at"`
	Latitude  Optional[float64] `json:"latitude"`
	Longitude Optional[float64] `json:"longitude"`
	Note      string            `json:"note,omitempty"`
}

// PayloadKind identifies which remote endpoint an outbox entry targets.
type PayloadKind string

const (
	KindOrder           PayloadKind = "order"
	KindApprovalRequest PayloadKind = "approval_request"
	KindCheckIn         PayloadKind = "check_in"
	KindCheckOut        PayloadKind = "check_out"
)

// Valid reports whether k is a known payload kind.
func (k PayloadKind) Valid() bool {
	switch k {
	case KindOrder, KindApprovalRequest, KindCheckIn, KindCheckOut:
		return true
	}
	return false
}

// EntryStatus is the sync state of an outbox entry.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntrySyncing EntryStatus = "syncing"
	EntrySynced  EntryStatus = "synced"
	EntryFailed  EntryStatus = "failed"
)

// OutboxEntry is one durable unit of pending remote work.
type OutboxEntry struct {
	Seq          int64       `json:"seq"`
	LocalID      LocalID     `json:"local_id"`
	Kind         PayloadKind `json:"kind"`
	Payload      Payload     `json:"payload"`
	Status       EntryStatus `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	LastError    string      `json:"last_error,omitempty"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
