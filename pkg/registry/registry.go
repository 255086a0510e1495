// Package registry keeps node membership and published group records in
// etcd. Nodes register under /zephyr/nodes/<id> with a lease; records live
// under /zephyr/groups/<id>.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	NodesPrefix  = "/zephyr/nodes/"
	GroupsPrefix = "/zephyr/groups/"
)

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// RegisterNode puts id -> addr under a lease of ttl seconds and keeps the
// lease alive until the returned cancel func is called.
func RegisterNode(ctx context.Context, cli *clientv3.Client, id, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("registry: grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, NodesPrefix+id, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("registry: register %s: %w", id, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("registry: keepalive: %w", err)
	}
	go func() {
		// drain responses so the client does not log a full channel
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// GetPeers lists registered nodes as id -> addr.
func GetPeers(ctx context.Context, kv clientv3.KV) (map[string]string, error) {
	resp, err := kv.Get(ctx, NodesPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: list peers: %w", err)
	}
	peers := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), NodesPrefix)
		if id == "" {
			continue
		}
		peers[id] = string(kv.Value)
	}
	return peers, nil
}

// WatchPeers calls fn with the full peer set once at start and again after
// every membership change, until ctx is done.
func WatchPeers(ctx context.Context, cli *clientv3.Client, logger *zap.Logger, fn func(peers map[string]string)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		if peers, err := GetPeers(ctx, cli); err == nil {
			fn(peers)
		} else {
			logger.Warn("initial peer listing failed", zap.Error(err))
		}
		wch := cli.Watch(ctx, NodesPrefix, clientv3.WithPrefix())
		for resp := range wch {
			if err := resp.Err(); err != nil {
				logger.Warn("peer watch error", zap.Error(err))
				continue
			}
			peers, err := GetPeers(ctx, cli)
			if err != nil {
				logger.Warn("peer listing failed", zap.Error(err))
				continue
			}
			fn(peers)
		}
	}()
}
