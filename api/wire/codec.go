package wire

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype that selects Codec. Clients opt in
// with grpc.CallContentSubtype(CodecName).
const CodecName = "tickwire"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec lets gRPC carry Message values without generated code.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, errors.Newf("wire: cannot marshal %T", v)
	}
	return m.AppendWire(nil), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return errors.Newf("wire: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}
