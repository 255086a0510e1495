package gossip

import "github.com/ryandielhenn/zephyrgroup/pkg/dht"

type NodeID string

type State uint8

const (
	StateAlive State = iota
	StateSuspect
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

type MsgType uint8

const (
	MsgPull MsgType = iota
	MsgPush
)

// GossipMsg is what a node sends when pushing its records to a peer.
type GossipMsg struct {
	Type    MsgType      `json:"type"`
	From    NodeID       `json:"from"`
	Records []dht.Record `json:"records"`
	SchemaV uint16       `json:"schema_v"`
}

const SchemaVersion uint16 = 1
