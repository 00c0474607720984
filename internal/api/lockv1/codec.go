// Package lockv1 defines the control plane wire API: request and response messages,
// the OwnerService, DeviceService and HealthService descriptors, and client stubs.
// Messages are plain structs carried by a JSON codec registered with grpc under
// the "json" content subtype.
package lockv1

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the grpc content subtype for this API.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CallOption selects the JSON codec for client calls. Clients in this package add it
// automatically; use it with a raw grpc.ClientConn.Invoke.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
