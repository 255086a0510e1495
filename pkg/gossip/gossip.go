package gossip

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/dht"
	"github.com/ryandielhenn/zephyrgroup/pkg/ring"
)

// Sink consumes records. Observe is called at most once per (origin, seq);
// Resolve follows every round or push that delivered new records.
type Sink interface {
	Observe(rec dht.Record) error
	Resolve()
	Record() dht.Record
}

type Config struct {
	NodeID       NodeID
	Fanout       int           // peers pulled per round, default 3
	Interval     time.Duration // default 5s
	RecordTTL    time.Duration // default 6 * Interval
	FetchTimeout time.Duration // default 2s
	Push         bool          // also push the local record each round
}

func (c *Config) setDefaults() {
	if c.Fanout <= 0 {
		c.Fanout = 3
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = 6 * c.Interval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 2 * time.Second
	}
}

type Option func(*Gossiper)

func WithClock(c clock.Clock) Option {
	return func(g *Gossiper) { g.clock = c }
}

func WithDetector(d FailureDetector) Option {
	return func(g *Gossiper) { g.detector = d }
}

// Gossiper runs pull rounds against peers on the ring.
type Gossiper struct {
	cfg       Config
	peers     *ring.HashRing
	transport Transport
	records   *dht.Store
	sink      Sink
	logger    *zap.Logger
	clock     clock.Clock
	detector  FailureDetector

	round atomic.Uint64
	// serializes record acceptance with the sink so Observe/Resolve pairs
	// from a round and a concurrent push don't interleave
	applyMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, peers *ring.HashRing, t Transport, records *dht.Store, sink Sink, logger *zap.Logger, opts ...Option) *Gossiper {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gossiper{
		cfg:       cfg,
		peers:     peers,
		transport: t,
		records:   records,
		sink:      sink,
		logger:    logger.Named("gossip"),
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.detector == nil {
		g.detector = NewTimeoutDetector(3*cfg.Interval, 6*cfg.Interval)
	}
	return g
}

func (g *Gossiper) Config() Config { return g.cfg }

// Start runs a round every Interval until ctx is done or Stop is called.
func (g *Gossiper) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	ticker := g.clock.Ticker(g.cfg.Interval)
	done := g.done

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := g.Round(ctx); err != nil {
					g.logger.Debug("gossip round had failures", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (g *Gossiper) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Round pulls records from up to Fanout peers, counts the new ones and
// resolves. Per-peer failures are returned combined; they never stop the
// round.
func (g *Gossiper) Round(ctx context.Context) error {
	n := g.round.Add(1)
	self := string(g.cfg.NodeID)
	targets := g.peers.LookupN(roundKey(self, n), g.cfg.Fanout, self)

	fetched := make([]dht.Record, len(targets))
	errs := make([]error, len(targets))
	var eg errgroup.Group
	for i, id := range targets {
		addr, _ := g.peers.Addr(id)
		eg.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, g.cfg.FetchTimeout)
			defer cancel()
			rec, err := g.transport.Fetch(fctx, id, addr)
			if err != nil {
				errs[i] = fmt.Errorf("peer %s: %w", id, err)
				return nil
			}
			if rec.Origin != id {
				errs[i] = fmt.Errorf("peer %s: record claims origin %q", id, rec.Origin)
				return nil
			}
			g.detector.Observe(NodeID(id), g.clock.Now())
			fetched[i] = rec
			return nil
		})
	}
	_ = eg.Wait()

	g.applyMu.Lock()
	applied := 0
	// the local record counts like any peer's, once per sequence number
	if ok, err := g.accept(g.sink.Record(), g.cfg.RecordTTL); err != nil {
		errs = append(errs, err)
	} else if ok {
		applied++
	}
	for i, rec := range fetched {
		if errs[i] != nil {
			continue
		}
		ok, err := g.accept(rec, g.cfg.RecordTTL)
		if err != nil {
			errs[i] = err
			continue
		}
		if ok {
			applied++
		}
	}
	if applied > 0 {
		g.sink.Resolve()
	}
	g.applyMu.Unlock()

	if g.cfg.Push {
		errs = append(errs, g.push(ctx, targets)...)
	}

	err := multierr.Combine(errs...)
	result := "ok"
	if err != nil {
		result = "partial"
	}
	telemetry.GossipRounds.WithLabelValues(result).Inc()
	g.logger.Debug("gossip round",
		zap.Uint64("round", n),
		zap.Strings("peers", targets),
		zap.Int("applied", applied),
		zap.Int("failures", len(multierr.Errors(err))))
	return err
}

func (g *Gossiper) push(ctx context.Context, targets []string) []error {
	p, ok := g.transport.(Pusher)
	if !ok || len(targets) == 0 {
		return nil
	}
	msg := GossipMsg{Type: MsgPush, From: g.cfg.NodeID, Records: []dht.Record{g.sink.Record()}, SchemaV: SchemaVersion}
	errs := make([]error, len(targets))
	var eg errgroup.Group
	for i, id := range targets {
		addr, _ := g.peers.Addr(id)
		eg.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, g.cfg.FetchTimeout)
			defer cancel()
			if err := p.Push(pctx, id, addr, msg); err != nil {
				errs[i] = fmt.Errorf("push %s: %w", id, err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errs
}

// Receive handles records pushed by a peer. Records this node published
// itself are ignored.
func (g *Gossiper) Receive(msg GossipMsg) error {
	if msg.SchemaV > SchemaVersion {
		return fmt.Errorf("gossip: unsupported schema version %d", msg.SchemaV)
	}
	g.applyMu.Lock()
	defer g.applyMu.Unlock()

	var errs error
	applied := 0
	for _, rec := range msg.Records {
		if rec.Origin == string(g.cfg.NodeID) || rec.Origin == "" {
			continue
		}
		ok, err := g.accept(rec, g.cfg.RecordTTL)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			applied++
		}
	}
	if msg.From != "" {
		g.detector.Observe(msg.From, g.clock.Now())
	}
	if applied > 0 {
		g.sink.Resolve()
	}
	return errs
}

// accept stores rec and forwards it to the sink when it is newer than what
// the store holds. Seeing the same sequence number again only renews its
// TTL, so a record stays counted once while its origin keeps serving it. A
// record the sink rejects stays stored so the same sequence number is not
// retried.
func (g *Gossiper) accept(rec dht.Record, ttl time.Duration) (bool, error) {
	if !g.records.Put(rec, ttl) {
		return false, nil
	}
	if err := g.sink.Observe(rec); err != nil {
		return false, fmt.Errorf("record %s/%d: %w", rec.Origin, rec.Seq, err)
	}
	telemetry.RecordsApplied.Inc()
	return true, nil
}

func roundKey(self string, n uint64) []byte {
	return []byte(self + "/" + strconv.FormatUint(n, 10))
}
