package service

import (
	"context"
	"log/slog"
	"time"

	exitwal "tickmatch/infra/wal/exit"
)

// RunOutboxGC deletes acknowledged fills on every tick until ctx is done.
// The journal is kept whole: recovery replays it from the start.
func (s *OrderService) RunOutboxGC(ctx context.Context, outbox *exitwal.Outbox, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := outbox.DeleteAcked(s.seq.Current())
			if err != nil {
				s.log.Warn("outbox gc failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				s.log.Debug("outbox gc", slog.Int("deleted", n))
			}
		}
	}
}
