// Package memory provides the allocation primitives used on the matching
// hot path. Arena hands out index-addressed slots from a LIFO free list so
// resting orders are recycled instead of garbage collected, and Buffer is a
// fixed-capacity append buffer that is rewound between publishing batches.
//
// Nothing here is safe for concurrent use. Each shard owns its own arenas.
package memory
