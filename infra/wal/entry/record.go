package entry

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrChecksum       = errors.New("entry wal: checksum mismatch")
	ErrCorrupt        = errors.New("entry wal: corrupt segment")
	ErrNonMonotonic   = errors.New("entry wal: sequence not increasing")
	ErrRecordTooLarge = errors.New("entry wal: record too large")
)

type RecordType uint8

const (
	RecordPlace RecordType = iota + 1
	RecordCancel
)

// frame: [type:1][seq:8][time:8][len:4][payload][crc:4], big endian. The
// crc covers header and payload.
const (
	headerSize = 1 + 8 + 8 + 4
	crcSize    = 4
	maxPayload = 1 << 20
)

type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

func (r *Record) size() int64 {
	return int64(headerSize + len(r.Data) + crcSize)
}

// appendFrame encodes r onto buf.
func appendFrame(buf []byte, r *Record) []byte {
	start := len(buf)
	var hdr [headerSize]byte
	hdr[0] = byte(r.Type)
	binary.BigEndian.PutUint64(hdr[1:9], r.Seq)
	binary.BigEndian.PutUint64(hdr[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(r.Data)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, r.Data...)
	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf[start:]))
}

type frameReader struct {
	r   *bufio.Reader
	off int64 // end of the last good frame
	hdr [headerSize]byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 64<<10)}
}

// next returns io.EOF at a clean end of segment and io.ErrUnexpectedEOF
// when the segment stops in the middle of a frame.
func (fr *frameReader) next() (*Record, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint32(fr.hdr[17:21])
	if l > maxPayload {
		return nil, errors.Wrapf(ErrCorrupt, "payload length %d at offset %d", l, fr.off)
	}

	body := make([]byte, l+crcSize)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	h := crc32.NewIEEE()
	_, _ = h.Write(fr.hdr[:])
	_, _ = h.Write(body[:l])
	if h.Sum32() != binary.BigEndian.Uint32(body[l:]) {
		return nil, errors.Wrapf(ErrChecksum, "offset %d", fr.off)
	}

	rec := &Record{
		Type: RecordType(fr.hdr[0]),
		Seq:  binary.BigEndian.Uint64(fr.hdr[1:9]),
		Time: int64(binary.BigEndian.Uint64(fr.hdr[9:17])),
		Data: body[:l:l],
	}
	fr.off += rec.size()
	return rec, nil
}

// atEnd reports whether nothing follows the frame just read.
func (fr *frameReader) atEnd() bool {
	_, err := fr.r.Peek(1)
	return err == io.EOF
}
