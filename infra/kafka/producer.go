package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"tickmatch/api/wire"
	"tickmatch/engine"
)

// Writer is the part of *kafka.Writer the sink needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 5 * time.Millisecond,
	}
}

// QuoteSink publishes top-of-book changes, keyed by symbol id so each
// symbol's quotes stay ordered within one partition. Quotes are not
// journaled: a consumer that misses one simply waits for the next.
// Safe for use by several publishers at once.
type QuoteSink struct {
	w       Writer
	session []byte
	sent    func(int)
}

func NewQuoteSink(w Writer, session uuid.UUID) *QuoteSink {
	return &QuoteSink{w: w, session: []byte(session.String())}
}

// OnSent registers a callback with the number of quotes in each write.
func (s *QuoteSink) OnSent(fn func(n int)) { s.sent = fn }

func (s *QuoteSink) Publish(ctx context.Context, batch []engine.Event) error {
	var msgs []kafka.Message
	for i := range batch {
		ev := &batch[i]
		if ev.Kind != engine.EventQuote {
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatUint(uint64(ev.SymbolID), 10)),
			Value: wire.Marshal(&wire.QuoteEvent{Quote: ev.Quote}),
			Headers: []kafka.Header{
				{Key: "session", Value: s.session},
				{Key: "seq", Value: []byte(strconv.FormatUint(ev.Seq, 10))},
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := s.w.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrapf(err, "kafka: publish %d quotes", len(msgs))
	}
	if s.sent != nil {
		s.sent(len(msgs))
	}
	return nil
}

func (s *QuoteSink) Close() error {
	return s.w.Close()
}
