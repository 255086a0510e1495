package node

import (
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/dht"
	"github.com/ryandielhenn/zephyrgroup/pkg/gossip"
)

// Register mounts the node API on mux, instrumenting every route.
func (n *Node) Register(mux *http.ServeMux) {
	route := func(pattern, op string, h http.HandlerFunc) {
		mux.Handle(pattern, telemetry.Instrument(op, h))
	}
	route("GET /healthz", "healthz", n.Healthz)
	route("GET /info", "info", n.Info)
	route("POST /generate", "generate", n.Generate)
	route("GET /group/{addr}", "get_group", n.GetGroup)
	route("PUT /group/{addr}", "set_group", n.PutGroup)
	route("POST /observations", "observations", n.Observations)
	route("POST /resolve", "resolve", n.ResolveTable)
	route("GET /table", "table", n.Table)
	route("GET /stats", "stats", n.Stats)
	route("POST /store", "store", n.StoreTable)
	route("GET "+gossip.RecordPath, "dht_record", n.DHTRecord)
	route("POST "+gossip.PushPath, "dht_push", n.DHTPush)
}

// healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// info writes a JSON payload with the process ID, current time, table sizes
// and the gossip membership view.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		ID        string          `json:"id"`
		PID       int             `json:"pid"`
		Now       time.Time       `json:"now"`
		Generated int             `json:"generated"`
		Resolved  int             `json:"resolved"`
		Tracked   int             `json:"tracked"`
		Records   int             `json:"records"`
		Members   []gossip.Member `json:"members,omitempty"`
	}
	rec := n.Record()
	out := resp{
		ID:        n.id,
		PID:       os.Getpid(),
		Now:       time.Now(),
		Generated: len(rec.Table),
		Resolved:  len(n.Canonical()),
		Tracked:   len(n.Statistics()),
		Records:   n.records.Len(),
	}
	if g := n.gossiper(); g != nil {
		out.Members = g.Members()
	}
	writeJSON(w, http.StatusOK, out)
}

// generate takes a JSON array of addresses.
func (n *Node) Generate(w http.ResponseWriter, req *http.Request) {
	var body any
	if err := decodeBody(w, req, &body); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.GenerateGroupIDs(body); err != nil {
		n.writeError(w, "generate", err)
		return
	}
	writeJSON(w, http.StatusOK, n.Record())
}

func (n *Node) GetGroup(w http.ResponseWriter, req *http.Request) {
	addr := req.PathValue("addr")
	id, ok, err := n.GroupID(addr)
	if err != nil {
		n.writeError(w, "get_group", err)
		return
	}
	if !ok {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "group_id": id})
}

// putGroup overrides one canonical entry: {"group_id": 3}.
func (n *Node) PutGroup(w http.ResponseWriter, req *http.Request) {
	var body struct {
		GroupID any `json:"group_id"`
	}
	if err := decodeBody(w, req, &body); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.SetGroupID(req.PathValue("addr"), body.GroupID); err != nil {
		n.writeError(w, "set_group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// observations counts a bare {address: groupId} batch from a peer that does
// not take part in record gossip. ?resolve=1 recomputes afterwards.
func (n *Node) Observations(w http.ResponseWriter, req *http.Request) {
	var table map[string]int
	if err := decodeBody(w, req, &table); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.Observe(dht.Record{Origin: req.RemoteAddr, Table: table}); err != nil {
		n.writeError(w, "observations", err)
		return
	}
	if v := req.URL.Query().Get("resolve"); v == "1" || v == "true" {
		n.Resolve()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) ResolveTable(w http.ResponseWriter, _ *http.Request) {
	n.Resolve()
	writeJSON(w, http.StatusOK, tableJSON(n.Canonical()))
}

func (n *Node) Table(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, tableJSON(n.Canonical()))
}

func (n *Node) Stats(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]map[int]uint64)
	for a, h := range n.Statistics() {
		counts := make(map[int]uint64, len(h))
		for id, c := range h {
			counts[int(id)] = c
		}
		out[string(a)] = counts
	}
	writeJSON(w, http.StatusOK, out)
}

func (n *Node) StoreTable(w http.ResponseWriter, _ *http.Request) {
	if err := n.Store(); err != nil {
		n.writeError(w, "store", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dhtRecord serves the local record to pulling peers.
func (n *Node) DHTRecord(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, n.Record())
}

func (n *Node) DHTPush(w http.ResponseWriter, req *http.Request) {
	g := n.gossiper()
	if g == nil {
		http.Error(w, "gossip not running", http.StatusServiceUnavailable)
		return
	}
	var msg gossip.GossipMsg
	if err := decodeBody(w, req, &msg); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := g.Receive(msg); err != nil {
		n.writeError(w, "dht_push", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
