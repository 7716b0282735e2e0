package store

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstd frame magic, used to sniff compressed rows so databases written with
// compression off stay readable after it is turned on, and vice versa.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// codec transparently compresses event payloads. Level 0 disables writing
// compressed rows but still decodes them.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec(level int) (*codec, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	c := &codec{dec: dec}

	if level > 0 {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

func (c *codec) encode(data []byte) []byte {
	if c.enc == nil || len(data) == 0 {
		return data
	}
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func (c *codec) decode(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress event payload: %w", err)
	}
	return out, nil
}
