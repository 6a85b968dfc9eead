package revision

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// Codec compresses snapshots kept for undo and transcript checkpoints.
// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec at the given zstd compression level (1-22).
func NewCodec(level int) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

func (c *Codec) Compress(data []byte) []byte {
	return c.encoder.EncodeAll(data, nil)
}

func (c *Codec) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return out, nil
}

// SnapshotBlob serializes and compresses a full blob.
func (c *Codec) SnapshotBlob(b Blob) ([]byte, error) {
	raw, err := Encode(b)
	if err != nil {
		return nil, err
	}
	return c.Compress(raw), nil
}

// RestoreBlob reverses SnapshotBlob.
func (c *Codec) RestoreBlob(data []byte, assets []timeline.Asset) (Blob, error) {
	raw, err := c.Decompress(data)
	if err != nil {
		return Blob{}, err
	}
	return Decode(raw, assets)
}

// SnapshotJSON compresses any JSON-encodable value.
func (c *Codec) SnapshotJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.Compress(raw), nil
}

// RestoreJSON decompresses into v.
func (c *Codec) RestoreJSON(data []byte, v any) error {
	raw, err := c.Decompress(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
