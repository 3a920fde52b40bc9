package service

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"tickmatch/api/wire"
	entrywal "tickmatch/infra/wal/entry"
)

// Replay rebuilds every book from the journal in dir. It must run before
// Start: instructions are applied synchronously on the calling goroutine
// and their events drained through the normal sinks, so derived state
// (outbox, depth, metrics) converges to what the original run produced.
// The sequencer resumes after the last replayed record.
func (s *OrderService) Replay(ctx context.Context, dir string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return 0, errors.New("service: replay after start")
	}

	var applied int
	last, err := entrywal.Replay(dir, func(rec *entrywal.Record) error {
		var msg wire.Instruction
		if err := msg.UnmarshalWire(rec.Data); err != nil {
			return err
		}
		in := msg.Instruction
		if in.Seq != rec.Seq {
			return errors.Newf("payload seq %d in record %d", in.Seq, rec.Seq)
		}

		shard, err := s.eng.Route(in.SymbolID)
		if err != nil {
			// symbol dropped from configuration since the record was written
			s.log.Warn("replay skipped instruction", slog.Uint64("seq", in.Seq), slog.Any("error", err))
			return nil
		}
		if stop := shard.Apply(in); stop && shard.Halted() {
			return errors.Wrapf(shard.Err(), "replay halted shard %d", shard.ID())
		}
		applied++
		return s.publishers[shard.ID()].Drain(ctx)
	})
	if err != nil {
		return last, errors.Wrap(err, "replay")
	}

	if last > s.seq.Current() {
		s.seq.Reset(last)
	}
	s.log.Info("journal replayed", slog.Uint64("last_seq", last), slog.Int("instructions", applied))
	return last, nil
}
