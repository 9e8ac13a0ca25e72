package signer

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype both ends of the signer service use.
const CodecName = "cbor"

func init() {
	encoding.RegisterCodec(cborCodec{})
}

// cborCodec lets the service carry plain Go structs without generated
// protobuf code.
type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (cborCodec) Name() string {
	return CodecName
}
