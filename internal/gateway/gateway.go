// Package gateway wraps the single external messaging session behind a
// capability interface. The wrapped session is stateful and offers no
// concurrency guarantees, so Send must not be called concurrently; the
// dispatcher owns serialization.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

type State string

const (
	StateDisconnected    State = "disconnected"
	StatePairingRequired State = "pairing_required"
	StateAuthenticated   State = "authenticated"
	StateReady           State = "ready"
)

// Send failures are returned as values, never panics. The dispatcher records
// them per recipient and keeps going.
var (
	ErrNotReady      = errors.New("gateway session is not ready")
	ErrNotRegistered = errors.New("recipient is not registered on the platform")
	ErrRateLimited   = errors.New("gateway rejected the send as rate limited")
)

// TransportError wraps network or bridge-level failures so callers can still
// errors.Is/As their way to the cause.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Client interface {
	// State reports the current session state. Callers poll it at loop
	// checkpoints instead of reacting to session callbacks.
	State() State

	// Ready is shorthand for State() == StateReady.
	Ready() bool

	// PairingCode returns the current pairing challenge, or "" when the
	// session does not need pairing.
	PairingCode() string

	// Send delivers one message to one address. It blocks for the full
	// round trip (seconds, not milliseconds) and honors ctx cancellation.
	// Not safe for concurrent use.
	Send(ctx context.Context, phone, body string) error

	// SubscribeState returns a channel of session state transitions and a
	// cancel func that releases the subscription.
	SubscribeState() (<-chan State, func())
}
