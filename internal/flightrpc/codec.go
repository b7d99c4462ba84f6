package flightrpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawFrame is an already-encoded message: a FlightData-shaped frame
// whose payload is produced/consumed by this package, not by
// protobuf reflection. Real Arrow Flight frames a descriptor plus an
// Arrow IPC-encoded schema/batch the same way; this codec lets the
// gRPC transport carry those frames without a protoc-generated
// message type.
type rawFrame struct {
	bytes []byte
}

const codecName = "buzzflight-raw"

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("buzzflight-raw codec: unsupported type %T", v)
	}
	return f.bytes, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("buzzflight-raw codec: unsupported type %T", v)
	}
	f.bytes = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}
