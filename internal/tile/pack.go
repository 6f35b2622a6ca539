package tile

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Packer compresses tile data for long-lived history records.
//
// Thread safety: Packer is safe for concurrent use; zstd's EncodeAll and
// DecodeAll may be called from several goroutines on one coder.
type Packer struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewPacker creates a packer with the given zstd level (1 fastest, 22
// smallest). Levels outside that range are rejected.
func NewPacker(level int) (*Packer, error) {
	if level < 1 || level > 22 {
		return nil, fmt.Errorf("tile: invalid zstd level %d", level)
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("tile: create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("tile: create decoder: %w", err)
	}
	return &Packer{enc: enc, dec: dec}, nil
}

// Pack returns the compressed form of data.
func (p *Packer) Pack(data []byte) []byte {
	return p.enc.EncodeAll(data, make([]byte, 0, len(data)/8))
}

// Unpack decompresses packed into dst, which must have exactly the
// original length.
func (p *Packer) Unpack(packed, dst []byte) error {
	out, err := p.dec.DecodeAll(packed, dst[:0])
	if err != nil {
		return fmt.Errorf("tile: unpack: %w", err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("tile: unpack: got %d bytes, want %d", len(out), len(dst))
	}
	if len(dst) > 0 && &out[0] != &dst[0] {
		copy(dst, out)
	}
	return nil
}

// Close releases the coders. The packer must not be used afterwards.
func (p *Packer) Close() {
	_ = p.enc.Close()
	p.dec.Close()
}

// DefaultPacker returns a shared packer at zstd level 3.
var DefaultPacker = sync.OnceValue(func() *Packer {
	p, err := NewPacker(3)
	if err != nil {
		panic(err)
	}
	return p
})
