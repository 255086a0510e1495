// Package dht holds the records peers publish into the distributed hash
// table: each node's self-generated group table, versioned by a sequence
// number. Store is the local view of those records with TTL expiry.
package dht
