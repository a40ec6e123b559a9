// Package gossip holds the wire side of zephyrring: the message types nodes
// exchange around the ring, the codec that turns them into datagrams, and the
// Transport abstraction that carries them.
//
// Typical usage:
//
//	tr, _ := gossip.ListenUDP("127.0.0.1:40001", logger)
//	defer tr.Close()
//	_ = tr.Send(ctx, "127.0.0.1:40002", gossip.Ping{From: 1})
//	env, _ := tr.Receive(ctx)
//
// Tests and the bench tool run whole rings in one process on a
// ChannelNetwork instead of UDP sockets.
package gossip
