package exit

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

var (
	ErrNotFound  = errors.New("outbox: record not found")
	ErrBadRecord = errors.New("outbox: invalid record")
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// Key identifies one fill: the instruction that produced it and its
// position among that instruction's fills. Replaying the journal produces
// the same keys, which is what makes Put idempotent.
type Key struct {
	Seq   uint64
	Index uint32
}

const keyPrefix = "fill/"

func (k Key) bytes() []byte {
	return []byte(fmt.Sprintf("%s%020d/%06d", keyPrefix, k.Seq, k.Index))
}

func (k Key) String() string { return fmt.Sprintf("%d/%d", k.Seq, k.Index) }

func parseKey(b []byte) (Key, error) {
	var k Key
	if _, err := fmt.Sscanf(string(b), keyPrefix+"%020d/%06d", &k.Seq, &k.Index); err != nil {
		return Key{}, errors.Wrapf(ErrBadRecord, "key %q", b)
	}
	return k, nil
}

type Entry struct {
	Key     Key
	Payload []byte
}

type Record struct {
	Key         Key
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// value layout: [state:1][retries:4][lastAttempt:8][payload]
const valueHeader = 1 + 4 + 8

func encodeValue(r Record) []byte {
	buf := make([]byte, valueHeader, valueHeader+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	return append(buf, r.Payload...)
}

func decodeValue(k Key, b []byte) (Record, error) {
	if len(b) < valueHeader {
		return Record{}, errors.Wrapf(ErrBadRecord, "%s: %d bytes", k, len(b))
	}
	return Record{
		Key:         k,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[valueHeader:]...),
	}, nil
}

// -------------------- Outbox --------------------

// Outbox is the durable hand-off between the engine and the broadcaster.
// Fills are written NEW, moved to SENT before publishing and to ACKED
// once the broker confirmed; FAILED ones wait for an operator.
type Outbox struct {
	db  *pebble.DB
	log *slog.Logger
	now func() time.Time
}

func Open(dir string, log *slog.Logger) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "outbox: open %s", dir)
	}
	return &Outbox{db: db, log: log, now: time.Now}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// PutBatch stores entries as NEW in one synced batch. Keys already present
// are left alone, whatever their state, and not counted.
func (o *Outbox) PutBatch(entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	b := o.db.NewBatch()
	defer b.Close()

	added := 0
	for _, e := range entries {
		key := e.Key.bytes()
		exists, err := o.has(key)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		if err := b.Set(key, encodeValue(Record{State: StateNew, Payload: e.Payload}), nil); err != nil {
			return 0, errors.Wrap(err, "outbox: batch set")
		}
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "outbox: commit")
	}
	return added, nil
}

func (o *Outbox) has(key []byte) (bool, error) {
	_, closer, err := o.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "outbox: get")
	}
	return true, closer.Close()
}

func (o *Outbox) Get(k Key) (Record, error) {
	val, closer, err := o.db.Get(k.bytes())
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, errors.Wrapf(ErrNotFound, "%s", k)
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "outbox: get")
	}
	defer closer.Close()
	return decodeValue(k, val)
}

func (o *Outbox) MarkSent(k Key) error {
	return o.transition(k, func(r *Record) {
		r.State = StateSent
		r.LastAttempt = o.now().UnixNano()
	})
}

func (o *Outbox) MarkAcked(k Key) error {
	return o.transition(k, func(r *Record) { r.State = StateAcked })
}

// MarkFailed parks a record for an operator without counting an attempt.
func (o *Outbox) MarkFailed(k Key) error {
	return o.transition(k, func(r *Record) { r.State = StateFailed })
}

// MarkRetry records a failed attempt and puts the record back to NEW, or
// to FAILED once it has been tried maxRetries times.
func (o *Outbox) MarkRetry(k Key, maxRetries uint32) (State, error) {
	var next State
	err := o.transition(k, func(r *Record) {
		r.Retries++
		r.LastAttempt = o.now().UnixNano()
		r.State = StateNew
		if r.Retries >= maxRetries {
			r.State = StateFailed
		}
		next = r.State
	})
	return next, err
}

func (o *Outbox) transition(k Key, fn func(*Record)) error {
	rec, err := o.Get(k)
	if err != nil {
		return err
	}
	fn(&rec)
	return errors.Wrapf(o.db.Set(k.bytes(), encodeValue(rec), pebble.Sync), "outbox: update %s", k)
}

// ScanByState visits records in state in key order, at most limit of them
// when limit > 0. fn must not call back into the outbox.
func (o *Outbox) ScanByState(state State, limit int, fn func(Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return errors.Wrap(err, "outbox: iterator")
	}
	defer iter.Close()

	seen := 0
	for iter.First(); iter.Valid(); iter.Next() {
		val := iter.Value()
		if len(val) == 0 || State(val[0]) != state {
			continue
		}
		k, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeValue(k, val)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		seen++
		if limit > 0 && seen >= limit {
			break
		}
	}
	return iter.Error()
}

// Pending collects up to limit NEW records.
func (o *Outbox) Pending(limit int) ([]Record, error) {
	var out []Record
	err := o.ScanByState(StateNew, limit, func(r Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// RequeueSent moves SENT records back to NEW. Run at startup: a SENT
// record means the process died between publishing and the ack.
func (o *Outbox) RequeueSent() (int, error) {
	var keys []Key
	if err := o.ScanByState(StateSent, 0, func(r Record) error {
		keys = append(keys, r.Key)
		return nil
	}); err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := o.transition(k, func(r *Record) { r.State = StateNew }); err != nil {
			return 0, err
		}
	}
	if len(keys) > 0 {
		o.log.Warn("outbox requeued unacknowledged fills", slog.Int("count", len(keys)))
	}
	return len(keys), nil
}

// DeleteAcked removes ACKED records with a sequence at or below upTo.
func (o *Outbox) DeleteAcked(upTo uint64) (int, error) {
	var keys []Key
	if err := o.ScanByState(StateAcked, 0, func(r Record) error {
		if r.Key.Seq <= upTo {
			keys = append(keys, r.Key)
		}
		return nil
	}); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	b := o.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete(k.bytes(), nil); err != nil {
			return 0, errors.Wrap(err, "outbox: batch delete")
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "outbox: commit")
	}
	return len(keys), nil
}
