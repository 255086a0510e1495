package gossip

import (
	"sync"
	"time"
)

// FailureDetector tracks when each peer last answered a pull.
type FailureDetector interface {
	Observe(id NodeID, t time.Time)
	State(id NodeID, now time.Time) State
	Remove(id NodeID)
}

// TimeoutDetector is a plain heartbeat-timeout detector: a peer is suspect
// after SuspectAfter without a successful pull and dead after DeadAfter.
// Peers never observed are treated as alive.
type TimeoutDetector struct {
	SuspectAfter time.Duration
	DeadAfter    time.Duration

	mu       sync.Mutex
	lastSeen map[NodeID]time.Time
}

func NewTimeoutDetector(suspectAfter, deadAfter time.Duration) *TimeoutDetector {
	return &TimeoutDetector{
		SuspectAfter: suspectAfter,
		DeadAfter:    deadAfter,
		lastSeen:     make(map[NodeID]time.Time),
	}
}

func (d *TimeoutDetector) Observe(id NodeID, t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.After(d.lastSeen[id]) {
		d.lastSeen[id] = t
	}
}

func (d *TimeoutDetector) State(id NodeID, now time.Time) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen, ok := d.lastSeen[id]
	if !ok {
		return StateAlive
	}
	elapsed := now.Sub(seen)
	switch {
	case d.DeadAfter > 0 && elapsed > d.DeadAfter:
		return StateDead
	case d.SuspectAfter > 0 && elapsed > d.SuspectAfter:
		return StateSuspect
	default:
		return StateAlive
	}
}

func (d *TimeoutDetector) Remove(id NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastSeen, id)
}
