// Package engine runs order books behind lock-free ingress queues.
//
// A Shard owns the books of the symbols routed to it and is the only
// goroutine that ever touches them. Instructions arrive on the shard's SPSC
// ingress ring and are applied strictly in arrival order; the results leave
// as value Events on an SPSC output ring drained by a Publisher, which hands
// them to Sinks (outbox, depth, quote feed, metrics).
package engine
