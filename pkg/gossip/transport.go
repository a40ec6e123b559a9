package gossip

import (
	"context"

	"github.com/pkg/errors"
)

// Interface for sending/receiving ring messages. Concrete implementations:
// UDPTransport for real deployments, ChannelTransport for in-process rings.
// Neither guarantees delivery or ordering; Send is fire and forget.

var ErrClosed = errors.New("gossip: transport closed")

// Envelope is a decoded message together with the address it came from.
type Envelope struct {
	From string
	Msg  Message
}

type Transport interface {
	// Send encodes msg and hands it to the network for addr.
	Send(ctx context.Context, addr string, msg Message) error
	// Receive blocks until a decodable message arrives, ctx is done, or the
	// transport is closed. Undecodable datagrams are dropped silently.
	Receive(ctx context.Context) (Envelope, error)
	// Addr is the address other nodes use to reach this transport.
	Addr() string
	Close() error
}
