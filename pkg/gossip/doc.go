// Package gossip propagates group records between peers. Each round a node
// picks a few peers from the hash ring, pulls their latest dht.Record over a
// pluggable Transport, keeps it in the local record store and hands records
// it has not counted yet to a Sink (the group resolver), which then
// recomputes its canonical table.
//
// Typical usage:
//
//	g := gossip.New(gossip.Config{NodeID: "node1"}, peers, gossip.HTTPTransport{}, records, sink, logger)
//	g.Start(ctx)
//	defer g.Stop()
//
// ChannelTransport serves records from memory and is meant for tests; the
// registry package provides an etcd-backed Transport.
package gossip
