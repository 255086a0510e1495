package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryandielhenn/zephyrgroup/pkg/dht"
	"github.com/ryandielhenn/zephyrgroup/pkg/gossip"
)

// memKV implements the Put/Get subset of clientv3.KV over a map.
type memKV struct {
	clientv3.KV

	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return &clientv3.PutResponse{}, nil
}

func (m *memKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := len(clientv3.OpGet(key, opts...).RangeBytes()) > 0

	var keys []string
	for k := range m.data {
		if k == key || (prefix && strings.HasPrefix(k, key)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	resp := &clientv3.GetResponse{}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(m.data[k])})
	}
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func TestTransport_PublishFetch(t *testing.T) {
	kv := newMemKV()
	tr := Transport{KV: kv}
	ctx := context.Background()

	rec := dht.Record{Origin: "n1", Seq: 4, Table: map[string]int{"aaaa": 9}}
	require.NoError(t, tr.Publish(ctx, rec))
	assert.Contains(t, kv.data, GroupsPrefix+"n1")

	got, err := tr.Fetch(ctx, "n1", "")
	require.NoError(t, err)
	assert.Equal(t, rec.Seq, got.Seq)
	assert.Equal(t, rec.Table, got.Table)

	_, err = tr.Fetch(ctx, "n2", "")
	assert.ErrorIs(t, err, gossip.ErrNoRecord)
}

func TestGetPeers(t *testing.T) {
	kv := newMemKV()
	kv.data[NodesPrefix+"n1"] = "10.0.0.1:8080"
	kv.data[NodesPrefix+"n2"] = "10.0.0.2:8080"
	kv.data[GroupsPrefix+"n1"] = "{}"

	peers, err := GetPeers(context.Background(), kv)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"n1": "10.0.0.1:8080", "n2": "10.0.0.2:8080"}, peers)
}
