package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ryandielhenn/zephyrgroup/pkg/dht"
)

var ErrNoRecord = errors.New("gossip: peer has no record")

// Transport fetches the latest record a peer published.
type Transport interface {
	Fetch(ctx context.Context, peerID, addr string) (dht.Record, error)
}

// Pusher is implemented by transports that can also deliver records to a
// peer directly.
type Pusher interface {
	Push(ctx context.Context, peerID, addr string, msg GossipMsg) error
}

const (
	RecordPath = "/dht/record"
	PushPath   = "/dht/push"
)

// HTTPTransport talks to the node HTTP API of each peer.
type HTTPTransport struct {
	Client *http.Client // nil means http.DefaultClient
}

func (t HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t HTTPTransport) Fetch(ctx context.Context, peerID, addr string) (dht.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(addr)+RecordPath, nil)
	if err != nil {
		return dht.Record{}, err
	}
	resp, err := t.client().Do(req)
	if err != nil {
		return dht.Record{}, fmt.Errorf("gossip: fetch %s: %w", peerID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return dht.Record{}, fmt.Errorf("%w: %s", ErrNoRecord, peerID)
	default:
		return dht.Record{}, fmt.Errorf("gossip: fetch %s: status %d", peerID, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return dht.Record{}, fmt.Errorf("gossip: fetch %s: %w", peerID, err)
	}
	return dht.Unmarshal(body)
}

func (t HTTPTransport) Push(ctx context.Context, peerID, addr string, msg GossipMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(addr)+PushPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client().Do(req)
	if err != nil {
		return fmt.Errorf("gossip: push %s: %w", peerID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("gossip: push %s: status %d", peerID, resp.StatusCode)
	}
	return nil
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	return "http://" + addr
}

// ChannelTransport serves records from memory, keyed by peer ID.
type ChannelTransport struct {
	mu      sync.Mutex
	records map[string]dht.Record
	pushed  map[string][]GossipMsg
	fail    map[string]error
}

func NewChannelTransport() *ChannelTransport {
	return &ChannelTransport{
		records: make(map[string]dht.Record),
		pushed:  make(map[string][]GossipMsg),
		fail:    make(map[string]error),
	}
}

// Publish makes rec the answer for fetches of rec.Origin.
func (t *ChannelTransport) Publish(rec dht.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.Origin] = rec
}

// FailWith makes every call for peerID return err; nil clears it.
func (t *ChannelTransport) FailWith(peerID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.fail, peerID)
		return
	}
	t.fail[peerID] = err
}

func (t *ChannelTransport) Fetch(ctx context.Context, peerID, _ string) (dht.Record, error) {
	if err := ctx.Err(); err != nil {
		return dht.Record{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[peerID]; err != nil {
		return dht.Record{}, err
	}
	rec, ok := t.records[peerID]
	if !ok {
		return dht.Record{}, fmt.Errorf("%w: %s", ErrNoRecord, peerID)
	}
	return rec, nil
}

func (t *ChannelTransport) Push(ctx context.Context, peerID, _ string, msg GossipMsg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[peerID]; err != nil {
		return err
	}
	t.pushed[peerID] = append(t.pushed[peerID], msg)
	return nil
}

// Pushed returns the messages pushed to peerID so far.
func (t *ChannelTransport) Pushed(peerID string) []GossipMsg {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]GossipMsg(nil), t.pushed[peerID]...)
}
