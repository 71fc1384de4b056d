package grpcio

import "fmt"

// rawFrame is the single message type of the extension host service. The
// payload is opaque to gRPC; framing and meaning live one layer up in
// wireformat.
type rawFrame struct {
	data []byte
}

// rawCodec moves frame payloads through gRPC untouched. Both ends force it
// so no protobuf types exist anywhere in the protocol.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("grpcio: cannot marshal %T", v)
	}
	return f.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("grpcio: cannot unmarshal into %T", v)
	}
	f.data = data
	return nil
}

func (rawCodec) Name() string { return "gantry-raw" }
