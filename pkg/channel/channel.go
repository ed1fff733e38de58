package channel

import (
	"context"

	"packrat/pkg/bus"
)

// Handler processes one inbound channel message and returns an outbound reply.
type Handler func(context.Context, bus.InboundMessage) (bus.OutboundMessage, error)

// Adapter bridges one external chat platform (for example Telegram) into the
// packrat vault.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
