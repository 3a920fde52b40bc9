// Package marketdata holds the read side of the engine: the lock-free
// best-price cache written by a shard's matching goroutine, and the L2 depth
// view rebuilt from level changes by the publisher goroutine.
package marketdata
