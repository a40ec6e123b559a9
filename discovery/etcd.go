package discovery

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrring/pkg/gossip"
)

const DefaultPrefix = "/zephyrring/nodes"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// etcdClient is the part of *clientv3.Client the registry uses.
type etcdClient interface {
	clientv3.KV
	clientv3.Lease
	clientv3.Watcher
}

// Registry publishes node addresses in etcd and resolves identifiers through
// it. Identifiers without an entry resolve through the fallback.
type Registry struct {
	cli      etcdClient
	prefix   string
	fallback Resolver
	log      *zap.Logger

	mu    sync.RWMutex
	cache map[gossip.NodeID]string
}

func NewRegistry(cli etcdClient, prefix string, fallback Resolver, log *zap.Logger) *Registry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		cli:      cli,
		prefix:   strings.TrimSuffix(prefix, "/"),
		fallback: fallback,
		log:      log,
		cache:    make(map[gossip.NodeID]string),
	}
}

func (r *Registry) key(id gossip.NodeID) string {
	return fmt.Sprintf("%s/%d", r.prefix, id)
}

func (r *Registry) parseKey(key string) (gossip.NodeID, bool) {
	rest, ok := strings.CutPrefix(key, r.prefix+"/")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return gossip.NodeID(id), true
}

// RegisterNode stores id -> addr under a lease of ttl seconds and keeps the
// lease alive until the returned cancel func is called.
func (r *Registry) RegisterNode(ctx context.Context, id gossip.NodeID, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := r.cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, errors.Wrap(err, "grant lease")
	}
	if _, err := r.cli.Put(ctx, r.key(id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, errors.Wrapf(err, "register %d", id)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, errors.Wrap(err, "keep lease alive")
	}
	go func() {
		for range ch {
		}
		r.log.Debug("lease keep-alive stopped", zap.Int64("lease_id", int64(lease.ID)))
	}()
	r.store(id, addr)
	return lease.ID, cancel, nil
}

// Deregister revokes the lease, which removes the entry.
func (r *Registry) Deregister(ctx context.Context, lease clientv3.LeaseID) error {
	_, err := r.cli.Revoke(ctx, lease)
	return errors.Wrap(err, "revoke lease")
}

func (r *Registry) Resolve(ctx context.Context, id gossip.NodeID) (string, error) {
	r.mu.RLock()
	addr, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return addr, nil
	}

	resp, err := r.cli.Get(ctx, r.key(id))
	if err != nil {
		r.log.Warn("etcd lookup failed, using fallback", zap.Uint32("peer_id", uint32(id)), zap.Error(err))
	} else if len(resp.Kvs) > 0 {
		addr := string(resp.Kvs[0].Value)
		r.store(id, addr)
		return addr, nil
	}
	if r.fallback == nil {
		return "", errors.Errorf("resolve %d: not registered", id)
	}
	return r.fallback.Resolve(ctx, id)
}

// Peers lists every registered node.
func (r *Registry) Peers(ctx context.Context) (map[gossip.NodeID]string, error) {
	resp, err := r.cli.Get(ctx, r.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list peers")
	}
	peers := make(map[gossip.NodeID]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if id, ok := r.parseKey(string(kv.Key)); ok {
			peers[id] = string(kv.Value)
		}
	}
	return peers, nil
}

// WatchPeers loads the current registrations and then follows changes until
// ctx is done, calling fn with the full peer map after every change.
func (r *Registry) WatchPeers(ctx context.Context, fn func(map[gossip.NodeID]string)) error {
	peers, err := r.Peers(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cache = peers
	snapshot := maps.Clone(peers)
	r.mu.Unlock()
	fn(snapshot)

	for wresp := range r.cli.Watch(ctx, r.prefix+"/", clientv3.WithPrefix()) {
		if err := wresp.Err(); err != nil {
			return errors.Wrap(err, "watch peers")
		}
		r.mu.Lock()
		for _, ev := range wresp.Events {
			id, ok := r.parseKey(string(ev.Kv.Key))
			if !ok {
				continue
			}
			switch ev.Type {
			case mvccpb.PUT:
				r.cache[id] = string(ev.Kv.Value)
			case mvccpb.DELETE:
				delete(r.cache, id)
			}
		}
		snapshot := maps.Clone(r.cache)
		r.mu.Unlock()
		fn(snapshot)
	}
	return ctx.Err()
}

func (r *Registry) store(id gossip.NodeID, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[id] = addr
}
