package dht

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func rec(origin string, seq uint64, table map[string]int) Record {
	return Record{Origin: origin, Seq: seq, Table: table}
}

func TestPutGetDelete_NoTTL(t *testing.T) {
	s := NewStore(1 << 20)

	data := []Record{
		rec("n1", 1, map[string]int{"aaaa": 1}),
		rec("n2", 1, map[string]int{"aaaa": 2, "bbbb": 3}),
		rec("n3", 4, nil),
	}
	for _, r := range data {
		if !s.Put(r, 0) {
			t.Fatalf("Put(%s) rejected", r.Origin)
		}
	}
	if got := s.Len(); got != len(data) {
		t.Fatalf("Len = %d, want %d", got, len(data))
	}
	for _, r := range data {
		got, ok := s.Get(r.Origin)
		if !ok {
			t.Fatalf("Get(%q) !ok", r.Origin)
		}
		if got.Seq != r.Seq || len(got.Table) != len(r.Table) {
			t.Fatalf("Get(%q) = %+v, want %+v", r.Origin, got, r)
		}
	}

	if ok := s.Delete("n2"); !ok {
		t.Fatalf("Delete(n2) = false, want true")
	}
	if _, ok := s.Get("n2"); ok {
		t.Fatalf("Get(n2) ok after delete")
	}
	if ok := s.Delete("n2"); ok {
		t.Fatalf("second Delete(n2) = true")
	}
}

func TestPut_RejectsStaleSeq(t *testing.T) {
	s := NewStore(1 << 20)
	s.Put(rec("n1", 5, map[string]int{"aaaa": 1}), 0)

	if s.Put(rec("n1", 5, map[string]int{"aaaa": 2}), 0) {
		t.Fatal("accepted record with equal seq")
	}
	if s.Put(rec("n1", 3, map[string]int{"aaaa": 3}), 0) {
		t.Fatal("accepted record with lower seq")
	}
	if !s.Put(rec("n1", 6, map[string]int{"aaaa": 4}), 0) {
		t.Fatal("rejected record with higher seq")
	}
	got, _ := s.Get("n1")
	if got.Table["aaaa"] != 4 || s.Len() != 1 {
		t.Fatalf("Get(n1) = %+v, Len = %d", got, s.Len())
	}
}

func TestPut_CopiesTable(t *testing.T) {
	s := NewStore(1 << 20)
	table := map[string]int{"aaaa": 1}
	s.Put(rec("n1", 1, table), 0)
	table["aaaa"] = 9

	got, _ := s.Get("n1")
	got.Table["bbbb"] = 2
	again, _ := s.Get("n1")
	if again.Table["aaaa"] != 1 || len(again.Table) != 1 {
		t.Fatalf("stored table aliased caller maps: %v", again.Table)
	}
}

func TestTTLExpiry(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(1<<20, WithClock(mock))

	s.Put(rec("short", 1, nil), 50*time.Millisecond)
	s.Put(rec("forever", 1, nil), 0)
	if _, ok := s.Get("short"); !ok {
		t.Fatalf("fresh record with TTL should be readable")
	}

	mock.Add(90 * time.Millisecond)
	if _, ok := s.Get("short"); ok {
		t.Fatalf("expected record to expire")
	}
	if _, ok := s.Get("forever"); !ok {
		t.Fatalf("record without TTL expired")
	}
}

func TestExpiredRecordAcceptsLowerSeq(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(1<<20, WithClock(mock))

	s.Put(rec("n1", 9, nil), time.Second)
	mock.Add(2 * time.Second)
	// the origin restarted and its counter went back to 1
	if !s.Put(rec("n1", 1, nil), time.Second) {
		t.Fatal("record after expiry rejected")
	}
}

func TestPut_SameSeqRenewsTTL(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(1<<20, WithClock(mock))

	if !s.Put(rec("n1", 1, nil), 3*time.Second) {
		t.Fatal("first Put rejected")
	}
	for i := 0; i < 10; i++ {
		mock.Add(time.Second)
		if s.Put(rec("n1", 1, nil), 3*time.Second) {
			t.Fatalf("round %d: same seq accepted again", i)
		}
	}
	if _, ok := s.Get("n1"); !ok {
		t.Fatal("record expired although its seq kept being seen")
	}

	// a lower seq neither replaces nor renews
	s.Put(rec("n1", 0, nil), time.Hour)
	mock.Add(4 * time.Second)
	if _, ok := s.Get("n1"); ok {
		t.Fatal("lower seq renewed the TTL")
	}
}

func TestPut_RejectsRecordLargerThanCapacity(t *testing.T) {
	s := NewStore(40)
	s.Put(rec("a", 1, nil), 0)

	big := rec("b", 1, map[string]int{"aaaa": 1, "bbbb": 2})
	if s.Put(big, 0) {
		t.Fatal("accepted a record that cannot fit")
	}
	if _, ok := s.Get("a"); !ok {
		t.Fatal("oversized Put evicted an existing record")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestLive_SortedAndPurged(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(1<<20, WithClock(mock))

	s.Put(rec("n3", 1, nil), time.Minute)
	s.Put(rec("n1", 1, nil), time.Minute)
	s.Put(rec("n2", 1, nil), time.Second)
	mock.Add(2 * time.Second)

	live := s.Live()
	if len(live) != 2 || live[0].Origin != "n1" || live[1].Origin != "n3" {
		t.Fatalf("Live = %+v", live)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d after purge, want 2", s.Len())
	}
}

func TestEvictionByCapacity_LRU(t *testing.T) {
	// each empty record from a one-byte origin accounts for 17 bytes
	s := NewStore(40)

	s.Put(rec("a", 1, nil), 0)
	s.Put(rec("b", 1, nil), 0)

	// Touch "a" so it's the most-recent.
	if _, ok := s.Get("a"); !ok {
		t.Fatalf("precondition failed: expected to get a before eviction")
	}

	s.Put(rec("c", 1, nil), 0)

	if _, ok := s.Get("a"); !ok {
		t.Fatalf("expected a to remain")
	}
	if _, ok := s.Get("c"); !ok {
		t.Fatalf("expected c to be present")
	}
	if _, ok := s.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
}

func TestConcurrentAccess_NoRaces(t *testing.T) {
	s := NewStore(1 << 20)

	var wg sync.WaitGroup
	const G = 16
	const N = 500

	errCh := make(chan error, G)
	var stop atomic.Bool

	for gid := range G {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			origin := fmt.Sprintf("node-%d", gid)
			for i := range N {
				if stop.Load() {
					return
				}
				s.Put(rec(origin, uint64(i+1), map[string]int{"aaaa": i%10 + 1}), 0)

				got, ok := s.Get(origin)
				if !ok || got.Seq != uint64(i+1) {
					errCh <- fmt.Errorf("origin=%s got seq %d ok=%v want %d", origin, got.Seq, ok, i+1)
					stop.Store(true)
					return
				}
				if i%7 == 0 {
					s.Live()
				}
			}
		}(gid)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrency test failed: %v", err)
	}
}

func TestRecordMarshalRoundTrip(t *testing.T) {
	in := Record{Origin: "n1", Seq: 3, Table: map[string]int{"aaaa": 7}, PublishedAt: time.Unix(10, 0).UTC()}
	data, err := in.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.Origin != in.Origin || out.Seq != in.Seq || out.Table["aaaa"] != 7 || !out.PublishedAt.Equal(in.PublishedAt) {
		t.Fatalf("round trip = %+v", out)
	}
	if _, err := Unmarshal([]byte(`{"seq":1}`)); err == nil {
		t.Fatal("accepted record without origin")
	}
}
