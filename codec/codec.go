// Package codec turns Go values into frame bodies and back.
//
// The base protocol only carries JSON, so JSONCodec is the single implementation;
// the interface exists so a session can be handed a codec with different encoder
// settings (for example one that validates or records bodies in tests).
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType, falling back to JSON.
func GetCodec(codecType CodecType) Codec {
	return &JSONCodec{}
}
