// Package wire holds the binary messages tickmatch writes to disk and puts
// on the network: journaled instructions, fill and quote events, and the
// gateway's request and reply types. All of them use the protobuf wire
// format, written and read field by field with protowire, so any protobuf
// runtime can decode them against the schema in doc comments.
package wire

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("wire: malformed message")

// Message is implemented by every type in this package.
type Message interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}

func Marshal(m Message) []byte {
	return m.AppendWire(nil)
}

type field struct {
	num   protowire.Number
	typ   protowire.Type
	v     uint64
	bytes []byte
}

func (f field) int64() int64   { return protowire.DecodeZigZag(f.v) }
func (f field) bool() bool     { return protowire.DecodeBool(f.v) }
func (f field) str() string    { return string(f.bytes) }
func (f field) uint32() uint32 { return uint32(f.v) }

// decode calls fn for every varint and length-delimited field in b.
// Fields of other wire types are skipped.
func decode(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "field %d: %s", num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	return appendUint(b, num, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendUint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m Message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.AppendWire(nil))
}
