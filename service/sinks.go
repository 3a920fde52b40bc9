package service

import (
	"context"

	"tickmatch/api/wire"
	"tickmatch/engine"
	exitwal "tickmatch/infra/wal/exit"
)

// OutboxSink persists every fill before anything downstream sees it.
// Replayed instructions produce the same keys and are absorbed by the
// outbox's put-if-absent. Publishers of all shards share one sink.
type OutboxSink struct {
	outbox *exitwal.Outbox
}

func NewOutboxSink(outbox *exitwal.Outbox) *OutboxSink {
	return &OutboxSink{outbox: outbox}
}

func (s *OutboxSink) Publish(_ context.Context, batch []engine.Event) error {
	var entries []exitwal.Entry
	for i := range batch {
		ev := &batch[i]
		if ev.Kind != engine.EventFill {
			continue
		}
		entries = append(entries, exitwal.Entry{
			Key:     exitwal.Key{Seq: ev.Seq, Index: ev.Fill.Index},
			Payload: wire.Marshal(&wire.FillEvent{Seq: ev.Seq, Fill: ev.Fill}),
		})
	}
	_, err := s.outbox.PutBatch(entries)
	return err
}
