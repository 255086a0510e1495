package group

// Histogram counts the votes seen for each group ID of one address.
type Histogram map[GroupID]uint64

// Leader returns the group ID with the most votes. Equal counts resolve to
// the lowest group ID so the result never depends on map order.
func (h Histogram) Leader() (GroupID, uint64, bool) {
	var (
		best  GroupID
		count uint64
		found bool
	)
	for id, c := range h {
		if c == 0 {
			continue
		}
		if !found || c > count || (c == count && id < best) {
			best, count, found = id, c, true
		}
	}
	return best, count, found
}

// Total is the number of votes recorded.
func (h Histogram) Total() uint64 {
	var n uint64
	for _, c := range h {
		n += c
	}
	return n
}

func (h Histogram) clone() Histogram {
	out := make(Histogram, len(h))
	for id, c := range h {
		out[id] = c
	}
	return out
}
