// Package service is the single write entry point into the engine. It
// turns concurrent client calls into one sequenced, journaled stream per
// shard, waits for each instruction's report, and rebuilds state from the
// journal on startup. Transports such as gRPC sit on top of it.
package service
