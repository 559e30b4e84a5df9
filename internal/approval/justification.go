package approval

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/solatis/pricekeeper/internal/types"
)

// JustificationRule decides whether an approval request must carry a
// justification. The rule is a JsonLogic expression evaluated against:
//
//	violation_count      number of violations
//	max_discount_excess  largest discount over its limit, in points
//	max_markup_excess    largest markup over its limit, in points
//	approver_id          the addressed approver
//
// A truthy result means a justification is required.
type JustificationRule struct {
	rule json.RawMessage
}

// NewJustificationRule parses rule. An empty rule returns nil, meaning
// justifications are always optional.
func NewJustificationRule(rule []byte) (*JustificationRule, error) {
	if len(bytes.TrimSpace(rule)) == 0 {
		return nil, nil
	}
	if !json.Valid(rule) || !jsonlogic.IsValid(bytes.NewReader(rule)) {
		return nil, fmt.Errorf("invalid justification rule: %s", rule)
	}
	return &JustificationRule{rule: append(json.RawMessage(nil), rule...)}, nil
}

// Required evaluates the rule for a pending request. A nil rule never requires.
func (r *JustificationRule) Required(req types.ApprovalRequest) (bool, error) {
	if r == nil {
		return false, nil
	}

	data, err := json.Marshal(justificationFacts(req))
	if err != nil {
		return false, err
	}

	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(r.rule), bytes.NewReader(data), &out); err != nil {
		return false, fmt.Errorf("failed to evaluate justification rule: %w", err)
	}

	var result interface{}
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &result); err != nil {
		return false, fmt.Errorf("justification rule returned %q: %w", out.String(), err)
	}
	return truthy(result), nil
}

func justificationFacts(req types.ApprovalRequest) map[string]interface{} {
	var maxDiscount, maxMarkup float64
	for _, v := range req.Violations {
		excess := v.Actual - v.Limit
		switch v.Kind {
		case types.DiscountExceeded:
			maxDiscount = max(maxDiscount, excess)
		case types.MarkupExceeded:
			maxMarkup = max(maxMarkup, excess)
		}
	}
	return map[string]interface{}{
		"violation_count":     len(req.Violations),
		"max_discount_excess": maxDiscount,
		"max_markup_excess":   maxMarkup,
		"approver_id":         req.ApproverID,
	}
}

// truthy follows JsonLogic truthiness.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	default:
		return true
	}
}
