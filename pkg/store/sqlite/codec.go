package sqlite

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payload codecs recorded per row in payload_codec.
const (
	codecRaw  = 0
	codecZstd = 1
)

// blobCodec encodes request/response payloads. Decoding honors the codec
// recorded on each row, so toggling compression never strands old rows.
type blobCodec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

func newBlobCodec(compress bool) (*blobCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &blobCodec{compress: compress, enc: enc, dec: dec}, nil
}

// id is the codec recorded on rows written now.
func (c *blobCodec) id() int {
	if c.compress {
		return codecZstd
	}
	return codecRaw
}

// encode returns the stored form of a payload. Nil payloads are stored as
// empty blobs.
func (c *blobCodec) encode(b []byte) []byte {
	if len(b) == 0 {
		return []byte{}
	}
	if !c.compress {
		return b
	}
	return c.enc.EncodeAll(b, make([]byte, 0, len(b)/2))
}

func (c *blobCodec) decode(b []byte, codec int) ([]byte, error) {
	switch codec {
	case codecRaw:
		if b == nil {
			return []byte{}, nil
		}
		return b, nil
	case codecZstd:
		if len(b) == 0 {
			return []byte{}, nil
		}
		out, err := c.dec.DecodeAll(b, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown payload codec %d", codec)
	}
}

func (c *blobCodec) close() {
	c.enc.Close()
	c.dec.Close()
}
