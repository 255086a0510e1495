package group

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// DefaultGroupIDRange is the upper bound used when Config.GroupIDRange is 0.
const DefaultGroupIDRange = 10

type Config struct {
	AccAddrLength int
	GroupIDRange  int // 0 means DefaultGroupIDRange
}

func (c Config) Validate() error {
	if c.AccAddrLength <= 0 {
		return invalidf(ErrInvalidConfig, "account address length %d", c.AccAddrLength)
	}
	if c.GroupIDRange < 0 {
		return invalidf(ErrInvalidConfig, "group id range %d", c.GroupIDRange)
	}
	return nil
}

// Saver persists a resolved table. Implementations must not leave a
// partially written file behind on failure.
type Saver interface {
	Save(table map[Address]GroupID, path string) error
}

type Option func(*Resolver)

// WithSaver sets the collaborator used by StoreGroupIDTableToFile.
func WithSaver(s Saver) Option {
	return func(r *Resolver) { r.saver = s }
}

// WithRand replaces the random source used for generated group IDs.
func WithRand(rnd *rand.Rand) Option {
	return func(r *Resolver) { r.rnd = rnd }
}

// Resolver owns the generated, statistics and canonical tables of one node.
type Resolver struct {
	params Params
	rnd    *rand.Rand
	saver  Saver

	generated map[Address]GroupID   // generatedPeerGroupId
	canonical map[Address]GroupID   // accGroupIdDht
	stats     map[Address]Histogram // accGroupIdStatisticsDht
}

func New(cfg Config, opts ...Option) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	upper := cfg.GroupIDRange
	if upper == 0 {
		upper = DefaultGroupIDRange
	}
	r := &Resolver{
		params:    Params{AddrLength: cfg.AccAddrLength, MaxGroupID: upper},
		generated: make(map[Address]GroupID),
		canonical: make(map[Address]GroupID),
		stats:     make(map[Address]Histogram),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rnd == nil {
		r.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r, nil
}

func (r *Resolver) Params() Params { return r.params }

// GenerateGroupID returns a uniformly random group ID in [1, MaxGroupID].
func (r *Resolver) GenerateGroupID() GroupID {
	return GroupID(r.rnd.Intn(r.params.MaxGroupID) + 1)
}

// GenerateGroupIDs validates the whole batch, then stores a fresh random
// group ID for every address, overwriting earlier ones.
func (r *Resolver) GenerateGroupIDs(addrs []string) error {
	batch := make([]any, len(addrs))
	for i, a := range addrs {
		batch[i] = a
	}
	return r.generate(batch)
}

// GenerateGroupIDsFrom is GenerateGroupIDs for loosely typed input. Only
// ordered sequences are accepted; anything else is ErrInvalidInputType.
func (r *Resolver) GenerateGroupIDsFrom(input any) error {
	switch v := input.(type) {
	case []string:
		return r.GenerateGroupIDs(v)
	case []Address:
		batch := make([]any, len(v))
		for i, a := range v {
			batch[i] = a
		}
		return r.generate(batch)
	case []any:
		return r.generate(v)
	default:
		return invalidf(ErrInvalidInputType, "got %T", input)
	}
}

func (r *Resolver) generate(batch []any) error {
	addrs := make([]Address, 0, len(batch))
	seen := make(map[Address]struct{}, len(batch))
	for _, v := range batch {
		a, err := r.params.ParseAddressValue(v)
		if err != nil {
			return err
		}
		if _, dup := seen[a]; dup {
			return invalidf(ErrDuplicateAddress, "%q", a)
		}
		seen[a] = struct{}{}
		addrs = append(addrs, a)
	}
	for _, a := range addrs {
		r.generated[a] = r.GenerateGroupID()
	}
	return nil
}

// GroupID looks addr up in the canonical table. A well-formed address with
// no entry returns ok == false and no error.
func (r *Resolver) GroupID(addr string) (GroupID, bool, error) {
	a, err := r.params.ParseAddress(addr)
	if err != nil {
		return 0, false, err
	}
	id, ok := r.canonical[a]
	return id, ok, nil
}

// GroupIDValue is GroupID for loosely typed input.
func (r *Resolver) GroupIDValue(addr any) (GroupID, bool, error) {
	a, err := r.params.ParseAddressValue(addr)
	if err != nil {
		return 0, false, err
	}
	id, ok := r.canonical[a]
	return id, ok, nil
}

// SetGroupID overrides the canonical entry for addr.
func (r *Resolver) SetGroupID(addr string, groupID int) error {
	return r.SetGroupIDValue(addr, groupID)
}

// SetGroupIDValue is SetGroupID for loosely typed input.
func (r *Resolver) SetGroupIDValue(addr, groupID any) error {
	a, err := r.params.ParseAddressValue(addr)
	if err != nil {
		return err
	}
	id, err := r.params.ParseGroupIDValue(groupID)
	if err != nil {
		return err
	}
	r.canonical[a] = id
	return nil
}

// UpdateStatisticsDHT adds one vote per (address, group ID) pair reported by
// a peer. The batch is rejected as a whole if any pair is malformed.
func (r *Resolver) UpdateStatisticsDHT(observations map[string]int) error {
	keys := make([]string, 0, len(observations))
	for k := range observations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type vote struct {
		addr Address
		id   GroupID
	}
	votes := make([]vote, 0, len(keys))
	for _, k := range keys {
		a, err := r.params.ParseAddress(k)
		if err != nil {
			return fromPeer(ErrInvalidDHTAddress, err)
		}
		id, err := r.params.ParseGroupID(observations[k])
		if err != nil {
			return fromPeer(ErrInvalidDHTGroupID, fmt.Errorf("address %q: %w", k, err))
		}
		votes = append(votes, vote{a, id})
	}

	for _, v := range votes {
		h, ok := r.stats[v.addr]
		if !ok {
			h = make(Histogram)
			r.stats[v.addr] = h
		}
		h[v.id]++
	}
	return nil
}

// LoadStatistics merges pre-counted histograms into the statistics table,
// using the same peer-data validation as UpdateStatisticsDHT.
func (r *Resolver) LoadStatistics(stats map[string]map[int]uint64) error {
	parsed := make(map[Address]Histogram, len(stats))
	for k, counts := range stats {
		a, err := r.params.ParseAddress(k)
		if err != nil {
			return fromPeer(ErrInvalidDHTAddress, err)
		}
		h := make(Histogram, len(counts))
		for n, c := range counts {
			id, err := r.params.ParseGroupID(n)
			if err != nil {
				return fromPeer(ErrInvalidDHTGroupID, fmt.Errorf("address %q: %w", k, err))
			}
			h[id] = c
		}
		parsed[a] = h
	}
	for a, h := range parsed {
		cur, ok := r.stats[a]
		if !ok {
			r.stats[a] = h
			continue
		}
		for id, c := range h {
			cur[id] += c
		}
	}
	return nil
}

// SetGroupIDDHT rebuilds the canonical table from the statistics table.
// Addresses without votes are dropped.
func (r *Resolver) SetGroupIDDHT() {
	next := make(map[Address]GroupID, len(r.stats))
	for a, h := range r.stats {
		if id, _, ok := h.Leader(); ok {
			next[a] = id
		}
	}
	r.canonical = next
}

// LoadCanonical replaces the canonical table, typically with one read back
// from disk. Entries failing validation are skipped and returned.
func (r *Resolver) LoadCanonical(table map[Address]GroupID) (rejected []Address) {
	next := make(map[Address]GroupID, len(table))
	for a, id := range table {
		if _, err := r.params.ParseAddress(string(a)); err != nil {
			rejected = append(rejected, a)
			continue
		}
		if _, err := r.params.ParseGroupID(int(id)); err != nil {
			rejected = append(rejected, a)
			continue
		}
		next[a] = id
	}
	r.canonical = next
	sort.Slice(rejected, func(i, j int) bool { return rejected[i] < rejected[j] })
	return rejected
}

// StoreGroupIDTableToFile writes the canonical table through the configured
// Saver.
func (r *Resolver) StoreGroupIDTableToFile(path string) error {
	if r.saver == nil {
		return ErrNoSaver
	}
	return r.saver.Save(r.Canonical(), path)
}

func (r *Resolver) SelfGenerated() map[Address]GroupID { return copyTable(r.generated) }

func (r *Resolver) Canonical() map[Address]GroupID { return copyTable(r.canonical) }

func (r *Resolver) Statistics() map[Address]Histogram {
	out := make(map[Address]Histogram, len(r.stats))
	for a, h := range r.stats {
		out[a] = h.clone()
	}
	return out
}

func copyTable(t map[Address]GroupID) map[Address]GroupID {
	out := make(map[Address]GroupID, len(t))
	for a, id := range t {
		out[a] = id
	}
	return out
}
