package types

import (
	"context"
	"time"
)

// MessageChannel defines the contract for an outbound messaging channel.
// The WhatsApp webhook channel is the only implementation today; the
// interface exists so the dispatcher can be exercised without the network.
type MessageChannel interface {
	// Kind returns the channel kind (e.g., "whatsapp").
	Kind() string

	// Deliver POSTs the rendered message to the destination endpoint and
	// returns the outcome. A non-nil DeliveryResult is returned even on
	// failure so the caller can always write an audit row.
	Deliver(ctx context.Context, msg *OutboundMessage, destination string) (*DeliveryResult, error)
}

// OutboundMessage carries everything the channel needs to transmit one
// rendered message.
type OutboundMessage struct {
	InstanceName string
	ContactName  string
	Number       string
	Text         string
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the
// platform.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
