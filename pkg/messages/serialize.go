package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	CodecNameJSON = "json"
	CodecNameZstd = "zstd"
)

// Codec turns messages into frames and back.
type Codec interface {
	Name() string
	// Binary reports whether frames are sent as binary websocket messages.
	Binary() bool
	Serialize(m *Message) ([]byte, error)
	Deserialize(data []byte) (*Message, error)
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecNameJSON:
		return JSONCodec{}, nil
	case CodecNameZstd:
		return NewZstdCodec()
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}

// JSONCodec sends each message as a text frame holding the flat JSON object.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecNameJSON }

func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Serialize(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return b, nil
}

func (JSONCodec) Deserialize(data []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(data, m); err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, &ProtocolError{Err: err}
	}
	return m, nil
}

// ZstdCodec compresses the JSON encoding with zstd and sends binary frames.
type ZstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewZstdCodec() (*ZstdCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxMessageSize*16))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return &ZstdCodec{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (c *ZstdCodec) Name() string { return CodecNameZstd }

func (c *ZstdCodec) Binary() bool { return true }

func (c *ZstdCodec) Serialize(m *Message) ([]byte, error) {
	b, err := JSONCodec{}.Serialize(m)
	if err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(b, make([]byte, 0, len(b))), nil
}

func (c *ZstdCodec) Deserialize(data []byte) (*Message, error) {
	b, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("failed to decompress message: %w", err)}
	}
	return JSONCodec{}.Deserialize(b)
}
