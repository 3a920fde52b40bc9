package entry

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

type ReplayHandler func(*Record) error

// Replay feeds every record in dir to fn in sequence order and returns the
// last sequence seen. Sequences must strictly increase across segments.
// Only the newest segment may end in a torn frame; that frame is ignored.
// A checksum failure anywhere else is corruption.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	for i, path := range files {
		newest := i == len(files)-1
		lastSeq, err = replaySegment(path, newest, lastSeq, fn)
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, newest bool, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	fr := newFrameReader(f)
	for {
		rec, err := fr.next()
		if err == io.EOF {
			return lastSeq, nil
		}
		if err != nil {
			torn := err == io.ErrUnexpectedEOF || errors.Is(err, ErrChecksum)
			if newest && torn && fr.atEnd() {
				return lastSeq, nil
			}
			return lastSeq, errors.Wrapf(ErrCorrupt, "%s: %v", path, err)
		}

		if rec.Seq <= lastSeq {
			return lastSeq, errors.Wrapf(ErrNonMonotonic, "%s: seq %d after %d", path, rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq

		if err := fn(rec); err != nil {
			return lastSeq, errors.Wrapf(err, "replay seq %d", rec.Seq)
		}
	}
}
