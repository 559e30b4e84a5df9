// Package types provides domain models shared across pricekeeper components.
//
// Only encoding/json is imported here so that the pure packages (policy, order,
// approval) can depend on these types without pulling in storage or transport.
// ID utilities in ids.go import uuid and are kept separate.
package types

import (
	"bytes"
	"encoding/json"
)

// LocalID is the client-generated UUIDv7 identity of an outbox entry.
// It is assigned before the first save and never changes across retries, so
// the remote side treats it as the idempotency key.
type LocalID string

// Payload holds the raw JSON body of an outbox entry.
// json.RawMessage wrapper keeps the bytes exactly as they were enqueued.
type Payload json.RawMessage

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.RawMessage(p).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	return (*json.RawMessage)(p).UnmarshalJSON(data)
}

// Optional is a value that may be absent.
// The zero value is None. Used for every context dimension and every ceiling so
// "not set" can never be confused with zero.
type Optional[T any] struct {
	value T
	set   bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSome reports whether the value is present.
func (o Optional[T]) IsSome() bool {
	return o.set
}

// OrElse returns the value, or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// MarshalJSON encodes None as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as None.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Resource limits enforced at policy compilation and enqueue time.
const (
	// MaxOneOfValues limits the member list of a OneOf matcher.
	MaxOneOfValues = 256

	// MaxPayloadSize limits a single outbox payload.
	MaxPayloadSize = 1024 * 1024

	// MaxLastErrorLength truncates the stored error of a failed attempt.
	MaxLastErrorLength = 1024

	// MaxPercent bounds discount percentages.
	MaxPercent = 100.0
)
