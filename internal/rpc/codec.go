// Package rpc implements the inter-node transport of spec §6: the
// Meta-service control RPC and the Broker-inner RPC
// (broker_common_update_cache / broker_mqtt_update_cache / send_last_will /
// delete_session). No .proto-generated stubs are available in this
// environment, so method request/reply values are plain Go structs carried
// over google.golang.org/grpc with a gob-backed encoding.Codec registered
// under the name "gob" and selected per call via grpc.CallContentSubtype,
// the same extension point the teacher's google.golang.org/grpc/codes and
// .../status packages assume a codec provides.
package rpc

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with encoding.RegisterCodec and selected on the
// client side via grpc.CallContentSubtype(CodecName).
const CodecName = "gob"

// gobCodec implements encoding.Codec (formerly grpc.Codec) over
// encoding/gob, standing in for the protobuf codec grpc assumes by default
// when no .proto-generated message types are present.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
