package gossip

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNetworkDelivers(t *testing.T) {
	network := NewChannelNetwork()
	a, err := network.Listen("ring:40001")
	require.NoError(t, err)
	b, err := network.Listen("ring:40002")
	require.NoError(t, err)

	var traced atomic.Int32
	network.Trace(func(from, to string, msg Message) { traced.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, b.Addr(), Ping{From: 1}))
	env, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ring:40001", env.From)
	assert.Equal(t, Ping{From: 1}, env.Msg)
	assert.Equal(t, int32(1), traced.Load())
}

func TestChannelNetworkDropsUnknownAddress(t *testing.T) {
	network := NewChannelNetwork()
	a, err := network.Listen("")
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, a.Send(ctx, "nowhere:1", Probe{Nonce: 1}))
}

func TestChannelNetworkAddressInUse(t *testing.T) {
	network := NewChannelNetwork()
	_, err := network.Listen("ring:40001")
	require.NoError(t, err)
	_, err = network.Listen("ring:40001")
	assert.Error(t, err)
}

func TestChannelReceiveHonoursContext(t *testing.T) {
	network := NewChannelNetwork()
	a, err := network.Listen("")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Receive(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	require.NoError(t, a.Close())
	_, err = a.Receive(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestUDPTransportLoopback(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg := LoopPing{From: 4, Payload: "around we go"}
	require.NoError(t, a.Send(ctx, b.Addr(), msg))
	env, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg, env.Msg)
	assert.Equal(t, a.Addr(), env.From)
}

func TestUDPReceiveTimeout(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.Receive(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
