package netconn

import (
	"fmt"
	"os"
)

// Codec defines the interface for encoding/decoding query request and
// result bodies exchanged over the wire.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// CodecType names a Codec implementation.
type CodecType string

const (
	// CodecJSON uses JSON encoding (default).
	CodecJSON CodecType = "json"
	// CodecMessagePack uses MessagePack encoding.
	CodecMessagePack CodecType = "msgpack"
)

// GetJSONCodecType reports which JSON codec implementation is active,
// overridable with the CQLPOOL_JSON_CODEC environment variable for
// diagnostics; the actual implementation is selected at compile time via
// build tags (json_goccy, json_segmentio).
func GetJSONCodecType() string {
	if codecType := os.Getenv("CQLPOOL_JSON_CODEC"); codecType != "" {
		return codecType
	}
	return (&JSONCodec{}).Name()
}

// NewCodec builds a Codec of the given type.
func NewCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecJSON, "":
		return &JSONCodec{}, nil
	case CodecMessagePack:
		return &MessagePackCodec{}, nil
	default:
		return nil, fmt.Errorf("netconn: unknown codec type: %s", codecType)
	}
}
