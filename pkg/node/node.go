package node

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/dht"
	"github.com/ryandielhenn/zephyrgroup/pkg/gossip"
	"github.com/ryandielhenn/zephyrgroup/pkg/group"
	"github.com/ryandielhenn/zephyrgroup/pkg/ring"
	"github.com/ryandielhenn/zephyrgroup/pkg/tablefile"
)

// Node serializes access to a group.Resolver and exposes it over HTTP and
// to the gossip layer.
type Node struct {
	mu       sync.RWMutex
	resolver *group.Resolver
	records  *dht.Store
	ring     *ring.HashRing
	gsp      *gossip.Gossiper

	id        string
	addr      string
	tablePath string
	logger    *zap.Logger

	seq      uint64 // sequence of the local record, bumped on every generate
	recordAt time.Time
}

type Options struct {
	ID        string
	Addr      string
	TablePath string
	Logger    *zap.Logger
}

func New(res *group.Resolver, records *dht.Store, r *ring.HashRing, opts Options) *Node {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		resolver:  res,
		records:   records,
		ring:      r,
		id:        opts.ID,
		addr:      opts.Addr,
		tablePath: opts.TablePath,
		logger:    logger.Named("node"),
	}
}

var _ gossip.Sink = (*Node)(nil)

// SetGossiper attaches the gossiper that receives pushed records.
func (n *Node) SetGossiper(g *gossip.Gossiper) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gsp = g
}

func (n *Node) gossiper() *gossip.Gossiper {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.gsp
}

func (n *Node) ID() string   { return n.id }
func (n *Node) Addr() string { return n.addr }

func (n *Node) AddPeer(id string, hostport string) {
	n.ring.Add(id, hostport)
}

// SetPeers replaces the ring with a full membership snapshot. The local
// node is always kept on the ring.
func (n *Node) SetPeers(peers map[string]string) {
	before := n.ring.Nodes()
	n.ring.Clear()
	n.ring.Add(n.id, n.addr)
	for id, addr := range peers {
		n.ring.Add(id, addr)
	}

	g := n.gossiper()
	if g == nil {
		return
	}
	for id := range before {
		if _, ok := peers[id]; !ok && id != n.id {
			g.Forget(id)
		}
	}
}

// GenerateGroupIDs assigns random group IDs to the given addresses and
// starts a new version of the local record.
func (n *Node) GenerateGroupIDs(input any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.resolver.GenerateGroupIDsFrom(input); err != nil {
		return err
	}
	n.seq++
	n.recordAt = time.Now().UTC()
	return nil
}

func (n *Node) GroupID(addr any) (group.GroupID, bool, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.resolver.GroupIDValue(addr)
}

func (n *Node) SetGroupID(addr, groupID any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resolver.SetGroupIDValue(addr, groupID)
}

// Observe counts the votes in a peer record.
func (n *Node) Observe(rec dht.Record) error {
	n.mu.Lock()
	err := n.resolver.UpdateStatisticsDHT(rec.Table)
	n.mu.Unlock()

	if err != nil {
		reason := "other"
		switch {
		case errors.Is(err, group.ErrInvalidDHTAddress):
			reason = "address"
		case errors.Is(err, group.ErrInvalidDHTGroupID):
			reason = "group_id"
		}
		telemetry.RejectedObservations.WithLabelValues(reason).Inc()
		n.logger.Warn("rejected peer observations",
			zap.String("origin", rec.Origin),
			zap.Uint64("seq", rec.Seq),
			zap.Error(err))
		return err
	}
	telemetry.VotesTotal.Add(float64(len(rec.Table)))
	return nil
}

// Resolve recomputes the canonical table from the vote statistics.
func (n *Node) Resolve() {
	n.mu.Lock()
	n.resolver.SetGroupIDDHT()
	size := len(n.resolver.Canonical())
	n.mu.Unlock()

	telemetry.ResolvedAddresses.Set(float64(size))
	n.logger.Debug("resolved group table", zap.Int("addresses", size))
}

// Record is the local node's publication: the group IDs it generated.
func (n *Node) Record() dht.Record {
	n.mu.RLock()
	defer n.mu.RUnlock()
	table := make(map[string]int)
	for a, id := range n.resolver.SelfGenerated() {
		table[string(a)] = int(id)
	}
	return dht.Record{Origin: n.id, Seq: n.seq, Table: table, PublishedAt: n.recordAt}
}

func (n *Node) Canonical() map[group.Address]group.GroupID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.resolver.Canonical()
}

func (n *Node) Statistics() map[group.Address]group.Histogram {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.resolver.Statistics()
}

// Store writes the canonical table to the configured path.
func (n *Node) Store() error {
	n.mu.RLock()
	err := n.resolver.StoreGroupIDTableToFile(n.tablePath)
	n.mu.RUnlock()

	if err != nil {
		telemetry.TableWrites.WithLabelValues("error").Inc()
		n.logger.Error("storing group table failed", zap.String("path", n.tablePath), zap.Error(err))
		return err
	}
	telemetry.TableWrites.WithLabelValues("ok").Inc()
	n.logger.Info("stored group table", zap.String("path", n.tablePath))
	return nil
}

// Restore loads a previously stored canonical table. A missing file is not
// an error.
func (n *Node) Restore() error {
	table, err := tablefile.Load(n.tablePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	n.mu.Lock()
	rejected := n.resolver.LoadCanonical(table)
	n.mu.Unlock()
	if len(rejected) > 0 {
		n.logger.Warn("dropped invalid entries from stored table",
			zap.String("path", n.tablePath),
			zap.Int("count", len(rejected)))
	}
	telemetry.ResolvedAddresses.Set(float64(len(table) - len(rejected)))
	return nil
}

func (n *Node) String() string {
	return fmt.Sprintf("node %s (%s)", n.id, n.addr)
}
