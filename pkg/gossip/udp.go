package gossip

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type UDPTransport struct {
	conn   *net.UDPConn
	log    *zap.Logger
	buf    []byte
	closed chan struct{}
	once   sync.Once
}

// ListenUDP binds a datagram socket on addr. Use port 0 for an ephemeral
// socket, as the join protocol does before an identifier is assigned.
func ListenUDP(addr string, log *zap.Logger) (*UDPTransport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	laddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	return &UDPTransport{
		conn:   conn,
		log:    log.With(zap.String("transport_addr", conn.LocalAddr().String())),
		buf:    make([]byte, MaxDatagramSize),
		closed: make(chan struct{}),
	}, nil
}

func (t *UDPTransport) Addr() string {
	return t.conn.LocalAddr().String()
}

func (t *UDPTransport) Send(ctx context.Context, addr string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	dst, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", addr)
	}
	if _, err := t.conn.WriteToUDP(payload, dst); err != nil {
		return errors.Wrapf(err, "send %s to %s", msg.Kind(), addr)
	}
	return nil
}

// Receive is meant to be called from a single goroutine.
func (t *UDPTransport) Receive(ctx context.Context) (Envelope, error) {
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return Envelope{}, t.readErr(ctx, err)
	}
	// unblock the read when ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		n, from, err := t.conn.ReadFromUDP(t.buf)
		if err != nil {
			return Envelope{}, t.readErr(ctx, err)
		}
		msg, err := Decode(t.buf[:n])
		if err != nil {
			t.log.Debug("dropping datagram", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		return Envelope{From: from.String(), Msg: msg}, nil
	}
}

func (t *UDPTransport) readErr(ctx context.Context, err error) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return context.DeadlineExceeded
	}
	return errors.Wrap(err, "receive")
}

func (t *UDPTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}
