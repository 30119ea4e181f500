package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownConnection is returned when an operation names a connection
	// that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrDuplicateConnection is returned when registering an id that is
	// already live. The existing handle is never replaced.
	ErrDuplicateConnection = errors.New("duplicate connection")

	// ErrDeliveryFailed marks a failed send to a single recipient.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrMalformedEnvelope is returned when an inbound frame cannot be parsed
	// or lacks type or room.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrNotMember is returned when a connection sends a message to a room
	// it has not joined.
	ErrNotMember = errors.New("not a member of room")

	// ErrRelayStopped is returned for operations submitted after the event
	// loop has exited.
	ErrRelayStopped = errors.New("relay stopped")
)

// DeliveryError reports a failed send to one connection.
type DeliveryError struct {
	ConnectionID string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ConnectionID, e.Err)
}

// Unwrap lets errors.Is match both ErrDeliveryFailed and the transport cause.
func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDeliveryFailed, e.Err}
}
