// Package uplink runs a TC receiver as a standalone process.
//
// Ownership boundary:
// - frame ingest over TCP (one goroutine per connection)
// - a single reception goroutine driving the link layer
// - packet delivery from the shared queue to a PacketSink
// - housekeeping HTTP (health, metrics, CLCW, channel state)
//
// The link layer is not safe for concurrent use. The service serializes
// every call into it behind one mutex; the reported CLCW word is published
// through an atomic so readers never take that lock.
package uplink
