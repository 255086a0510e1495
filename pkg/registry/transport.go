package registry

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryandielhenn/zephyrgroup/pkg/dht"
	"github.com/ryandielhenn/zephyrgroup/pkg/gossip"
)

// Transport uses etcd as the DHT key space: each node publishes its record
// under GroupsPrefix and peers read it from there.
type Transport struct {
	KV clientv3.KV
}

var _ gossip.Transport = Transport{}

func (t Transport) Publish(ctx context.Context, rec dht.Record) error {
	data, err := rec.Marshal()
	if err != nil {
		return err
	}
	if _, err := t.KV.Put(ctx, GroupsPrefix+rec.Origin, string(data)); err != nil {
		return fmt.Errorf("registry: publish %s: %w", rec.Origin, err)
	}
	return nil
}

func (t Transport) Fetch(ctx context.Context, peerID, _ string) (dht.Record, error) {
	resp, err := t.KV.Get(ctx, GroupsPrefix+peerID)
	if err != nil {
		return dht.Record{}, fmt.Errorf("registry: fetch %s: %w", peerID, err)
	}
	if len(resp.Kvs) == 0 {
		return dht.Record{}, fmt.Errorf("%w: %s", gossip.ErrNoRecord, peerID)
	}
	return dht.Unmarshal(resp.Kvs[0].Value)
}
