package gossip

import (
	"sort"
	"time"
)

// Member is one peer as seen by the local node.
type Member struct {
	ID         NodeID    `json:"id"`
	Addr       string    `json:"addr"`
	State      State     `json:"-"`
	StateName  string    `json:"state"`
	LastRecord uint64    `json:"last_record_seq"`
	LastUpdate time.Time `json:"last_update"`
}

// Members reports every peer on the ring with its detector state and the
// sequence number of the newest record counted from it.
func (g *Gossiper) Members() []Member {
	now := g.clock.Now()
	nodes := g.peers.Nodes()
	out := make([]Member, 0, len(nodes))
	for id, addr := range nodes {
		if id == string(g.cfg.NodeID) {
			continue
		}
		m := Member{ID: NodeID(id), Addr: addr, State: g.detector.State(NodeID(id), now)}
		m.StateName = m.State.String()
		if rec, ok := g.records.Get(id); ok {
			m.LastRecord = rec.Seq
			m.LastUpdate = rec.PublishedAt
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Forget drops failure detector state for a peer that left the ring.
func (g *Gossiper) Forget(id string) {
	g.detector.Remove(NodeID(id))
}
