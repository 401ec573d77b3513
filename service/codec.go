package service

import (
	"fmt"

	grpcencoding "google.golang.org/grpc/encoding"

	"github.com/naanagon/yugabyte-db/encoding"
)

// CodecName is the msgpack codec registered with gRPC. All wire messages of
// the service are plain msgpack structs; there are no generated protobuf
// types.
const CodecName = "msgpack"

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return encoding.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return encoding.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return CodecName
}

func init() {
	grpcencoding.RegisterCodec(msgpackCodec{})
}

// ensureCodec reports at run time whether the codec is registered; tests use
// it to confirm registration.
func ensureCodec() error {
	if grpcencoding.GetCodec(CodecName) == nil {
		return fmt.Errorf("msgpack codec not registered")
	}
	return nil
}
