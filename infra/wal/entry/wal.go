package entry

import (
	"io"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
)

type Config struct {
	Dir         string
	SegmentSize int64
	// SyncEveryAppend fsyncs after each record. Without it records reach
	// the OS on Append and the disk on Sync or rotation.
	SyncEveryAppend bool
}

// WAL is the entry journal: every sequenced instruction is appended here
// before it reaches a shard. It is not safe for concurrent use.
type WAL struct {
	cfg     Config
	log     *slog.Logger
	current *segment
	lastSeq uint64
	buf     []byte
}

// Open prepares dir for appending. A torn frame at the end of the newest
// segment, left by a crash mid-write, is cut off and appends continue in
// that segment until it is full.
func Open(cfg Config, log *slog.Logger) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "entry wal: mkdir")
	}
	files, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{cfg: cfg, log: log, buf: make([]byte, 0, 256)}
	if len(files) == 0 {
		if w.current, err = createSegment(cfg.Dir, 0); err != nil {
			return nil, err
		}
	} else {
		for _, path := range files[:len(files)-1] {
			seq, _, err := scanSegment(path)
			if err != nil {
				return nil, err
			}
			w.lastSeq = max(w.lastSeq, seq)
		}

		last := files[len(files)-1]
		idx, err := segmentIndex(last)
		if err != nil {
			return nil, err
		}
		seq, err := repairTail(last, log)
		if err != nil {
			return nil, err
		}
		w.lastSeq = max(w.lastSeq, seq)
		if w.current, err = openSegment(last, idx); err != nil {
			return nil, err
		}
	}

	if w.current.offset >= cfg.SegmentSize {
		if err := w.rotate(); err != nil {
			return nil, err
		}
	}
	log.Info("entry wal opened",
		slog.String("dir", cfg.Dir),
		slog.Int("segment", w.current.index),
		slog.Uint64("last_seq", w.lastSeq))
	return w, nil
}

// LastSeq is the highest sequence on disk.
func (w *WAL) LastSeq() uint64 { return w.lastSeq }

func (w *WAL) Append(r *Record) error {
	if r.Seq <= w.lastSeq {
		return errors.Wrapf(ErrNonMonotonic, "seq %d after %d", r.Seq, w.lastSeq)
	}
	if len(r.Data) > maxPayload {
		return errors.Wrapf(ErrRecordTooLarge, "%d bytes", len(r.Data))
	}

	w.buf = appendFrame(w.buf[:0], r)
	if err := w.current.append(w.buf); err != nil {
		return errors.Wrapf(err, "entry wal: append seq %d", r.Seq)
	}
	w.lastSeq = r.Seq

	if w.cfg.SyncEveryAppend {
		if err := w.current.sync(); err != nil {
			return errors.Wrap(err, "entry wal: sync")
		}
	}
	if w.current.offset >= w.cfg.SegmentSize {
		return w.rotate()
	}
	return nil
}

func (w *WAL) Sync() error {
	return errors.Wrap(w.current.sync(), "entry wal: sync")
}

func (w *WAL) Close() error {
	if err := w.current.sync(); err != nil {
		_ = w.current.close()
		return errors.Wrap(err, "entry wal: sync")
	}
	return w.current.close()
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return errors.Wrap(err, "entry wal: sync before rotate")
	}
	_ = w.current.close()

	seg, err := createSegment(w.cfg.Dir, w.current.index+1)
	if err != nil {
		return err
	}
	w.current = seg
	w.log.Debug("entry wal rotated", slog.Int("segment", seg.index))
	return nil
}

// TruncateBefore deletes closed segments whose records are all at or
// below seq. The segment being written is never removed.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	files, err := listSegments(w.cfg.Dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range files {
		if path == w.current.path {
			continue
		}
		maxSeq, _, err := scanSegment(path)
		if err != nil {
			return removed, err
		}
		if maxSeq > seq {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, errors.Wrapf(err, "remove %s", path)
		}
		removed++
	}
	return removed, nil
}

// scanSegment returns the highest sequence in a segment and the offset of
// the end of its last complete frame. A torn tail is not an error here.
func scanSegment(path string) (maxSeq uint64, end int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	fr := newFrameReader(f)
	for {
		rec, err := fr.next()
		switch {
		case err == nil:
			if rec.Seq > maxSeq {
				maxSeq = rec.Seq
			}
		case err == io.EOF, err == io.ErrUnexpectedEOF:
			return maxSeq, fr.off, nil
		case errors.Is(err, ErrChecksum) && fr.atEnd():
			return maxSeq, fr.off, nil
		default:
			return maxSeq, fr.off, errors.Wrapf(err, "scan %s", path)
		}
	}
}

// repairTail truncates the segment at path to its last complete frame.
func repairTail(path string, log *slog.Logger) (uint64, error) {
	maxSeq, end, err := scanSegment(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", path)
	}
	if info.Size() > end {
		log.Warn("entry wal torn tail truncated",
			slog.String("segment", path),
			slog.Int64("size", info.Size()),
			slog.Int64("kept", end))
		if err := os.Truncate(path, end); err != nil {
			return 0, errors.Wrapf(err, "truncate %s", path)
		}
	}
	return maxSeq, nil
}
