package broadcaster

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"tickmatch/api/wire"
	exitwal "tickmatch/infra/wal/exit"
)

const (
	ResultAcked  = "acked"
	ResultRetry  = "retry"
	ResultFailed = "failed"
)

type Config struct {
	Topic      string
	Interval   time.Duration
	BatchSize  int
	MaxRetries uint32
}

// Broadcaster moves fills from the outbox to Kafka with at-least-once
// delivery. Consumers dedupe on the (seq, index) carried in every message.
type Broadcaster struct {
	outbox   *exitwal.Outbox
	producer sarama.SyncProducer
	cfg      Config
	session  []byte
	log      *slog.Logger
	onResult func(result string)
}

// NewSyncProducer builds a producer that waits for all in-sync replicas.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "broadcaster: producer")
	}
	return p, nil
}

func New(
	outbox *exitwal.Outbox,
	producer sarama.SyncProducer,
	session uuid.UUID,
	cfg Config,
	log *slog.Logger,
) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	return &Broadcaster{
		outbox:   outbox,
		producer: producer,
		cfg:      cfg,
		session:  []byte(session.String()),
		log:      log.With(slog.String("component", "broadcaster")),
	}
}

// OnResult is called once per publish attempt with one of the Result*
// values.
func (b *Broadcaster) OnResult(fn func(result string)) { b.onResult = fn }

// Run requeues fills left SENT by a previous process, then drains the
// outbox on every tick until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	if _, err := b.outbox.RequeueSent(); err != nil {
		return err
	}
	b.log.Info("broadcaster started", slog.String("topic", b.cfg.Topic))

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("broadcaster stopped")
			return nil
		case <-ticker.C:
			for {
				n, err := b.PublishOnce(ctx)
				if err != nil {
					b.log.Warn("broadcast round failed", slog.Any("error", err))
					break
				}
				if n < b.cfg.BatchSize {
					break
				}
			}
		}
	}
}

// PublishOnce sends up to one batch of NEW fills and returns how many it
// handled. A send failure stops the round; the fill is retried on the
// next one until MaxRetries, after which it is parked as FAILED.
func (b *Broadcaster) PublishOnce(ctx context.Context) (int, error) {
	pending, err := b.outbox.Pending(b.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for i, rec := range pending {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		var ev wire.FillEvent
		if err := ev.UnmarshalWire(rec.Payload); err != nil {
			b.log.Error("dropping malformed fill", slog.String("key", rec.Key.String()), slog.Any("error", err))
			if err := b.outbox.MarkFailed(rec.Key); err != nil {
				return i, err
			}
			b.report(ResultFailed)
			continue
		}

		if err := b.outbox.MarkSent(rec.Key); err != nil {
			return i, err
		}
		_, _, sendErr := b.producer.SendMessage(&sarama.ProducerMessage{
			Topic: b.cfg.Topic,
			Key:   sarama.StringEncoder(strconv.FormatUint(uint64(ev.SymbolID), 10)),
			Value: sarama.ByteEncoder(rec.Payload),
			Headers: []sarama.RecordHeader{
				{Key: []byte("session"), Value: b.session},
				{Key: []byte("fill"), Value: []byte(rec.Key.String())},
			},
		})
		if sendErr != nil {
			state, err := b.outbox.MarkRetry(rec.Key, b.cfg.MaxRetries)
			if err != nil {
				return i, err
			}
			if state == exitwal.StateFailed {
				b.log.Error("fill parked after retries", slog.String("key", rec.Key.String()), slog.Any("error", sendErr))
				b.report(ResultFailed)
			} else {
				b.report(ResultRetry)
			}
			return i + 1, errors.Wrapf(sendErr, "publish fill %s", rec.Key)
		}

		if err := b.outbox.MarkAcked(rec.Key); err != nil {
			return i + 1, err
		}
		b.report(ResultAcked)
	}
	return len(pending), nil
}

func (b *Broadcaster) report(result string) {
	if b.onResult != nil {
		b.onResult(result)
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
