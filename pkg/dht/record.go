package dht

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the group table a node publishes into the DHT: the group IDs
// it generated for itself and its peers. Seq increases with every
// publication so receivers count each table once.
type Record struct {
	Origin      string         `json:"origin"`
	Seq         uint64         `json:"seq"`
	Table       map[string]int `json:"table"`
	PublishedAt time.Time      `json:"published_at"`
}

func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func Unmarshal(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("dht: decode record: %w", err)
	}
	if r.Origin == "" {
		return Record{}, fmt.Errorf("dht: record without origin")
	}
	return r, nil
}

// size approximates the memory held by a record for capacity accounting.
func (r Record) size() int {
	n := len(r.Origin) + 16
	for k := range r.Table {
		n += len(k) + 8
	}
	return n
}

func (r Record) clone() Record {
	t := make(map[string]int, len(r.Table))
	for k, v := range r.Table {
		t[k] = v
	}
	r.Table = t
	return r
}
