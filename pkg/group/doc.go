// Package group assigns and reconciles small-integer group IDs for peers
// identified by fixed-length account addresses.
//
// A Resolver keeps three tables: the IDs this node generated for itself and
// its peers, per-address vote histograms built from peer announcements, and
// the canonical table resolved from those histograms. Typical usage:
//
//	r, _ := group.New(group.Config{AccAddrLength: 4}, group.WithSaver(tablefile.Saver{}))
//	_ = r.GenerateGroupIDs([]string{"aaaa", "bbbb"})
//	_ = r.UpdateStatisticsDHT(map[string]int{"aaaa": 3})
//	r.SetGroupIDDHT()
//	_ = r.StoreGroupIDTableToFile("groups.json")
//
// A Resolver is not safe for concurrent use; callers serialize access.
package group
