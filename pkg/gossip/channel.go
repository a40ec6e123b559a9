package gossip

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// ChannelNetwork connects ChannelTransports inside one process. Messages are
// encoded on send and decoded on receipt, like the UDP transport, and are
// dropped when the destination is unknown or its inbox is full.
type ChannelNetwork struct {
	mu        sync.RWMutex
	endpoints map[string]*ChannelTransport
	inbox     int
	seq       int
	trace     func(from, to string, msg Message)
}

func NewChannelNetwork() *ChannelNetwork {
	return &ChannelNetwork{
		endpoints: make(map[string]*ChannelTransport),
		inbox:     1024,
	}
}

// Trace installs fn to observe every message handed to the network,
// delivered or not.
func (n *ChannelNetwork) Trace(fn func(from, to string, msg Message)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trace = fn
}

// Listen registers an endpoint at addr. An empty addr picks a fresh one.
func (n *ChannelNetwork) Listen(addr string) (*ChannelTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == "" {
		n.seq++
		addr = fmt.Sprintf("chan-ephemeral-%d", n.seq)
	}
	if _, ok := n.endpoints[addr]; ok {
		return nil, errors.Errorf("listen %s: address in use", addr)
	}
	t := &ChannelTransport{
		net:    n,
		addr:   addr,
		inbox:  make(chan datagram, n.inbox),
		closed: make(chan struct{}),
	}
	n.endpoints[addr] = t
	return t, nil
}

func (n *ChannelNetwork) deliver(from, to string, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	n.mu.RLock()
	dst, ok := n.endpoints[to]
	trace := n.trace
	n.mu.RUnlock()
	if trace != nil {
		trace(from, to, msg)
	}
	if !ok {
		return nil
	}
	select {
	case dst.inbox <- datagram{from: from, payload: payload}:
	case <-dst.closed:
	default:
	}
	return nil
}

func (n *ChannelNetwork) remove(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, addr)
}

type datagram struct {
	from    string
	payload []byte
}

type ChannelTransport struct {
	net    *ChannelNetwork
	addr   string
	inbox  chan datagram
	closed chan struct{}
	once   sync.Once
}

func (t *ChannelTransport) Addr() string {
	return t.addr
}

func (t *ChannelTransport) Send(ctx context.Context, addr string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	return t.net.deliver(t.addr, addr, msg)
}

func (t *ChannelTransport) Receive(ctx context.Context) (Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-t.closed:
			return Envelope{}, ErrClosed
		case d := <-t.inbox:
			msg, err := Decode(d.payload)
			if err != nil {
				continue
			}
			return Envelope{From: d.from, Msg: msg}, nil
		}
	}
}

func (t *ChannelTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.net.remove(t.addr)
	})
	return nil
}
