package store

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compressor describes the compression applied to every chunk of one
// channel. A nil *Compressor means chunks are stored raw.
type Compressor struct {
	ID      string `json:"id"`
	Level   int    `json:"level,omitempty"`
	Shuffle bool   `json:"shuffle,omitempty"`
}

// Policy chooses a compressor per channel. Returning nil stores the channel
// uncompressed.
type Policy func(name string, col Column) *Compressor

// DefaultPolicy applies bit-shuffled maximum-effort zstd to image channels
// and leaves every other channel raw.
func DefaultPolicy(name string, col Column) *Compressor {
	if strings.Contains(name, "color_image") {
		return &Compressor{ID: "zstd", Level: 19, Shuffle: true}
	}
	return nil
}

// encodeChunk applies the compressor's filter pipeline (shuffle, then
// compress) to one chunk's raw bytes.
func encodeChunk(raw []byte, comp *Compressor, dtype Dtype, enc *zstd.Encoder) ([]byte, error) {
	if comp == nil {
		return raw, nil
	}
	if comp.ID != "zstd" {
		return nil, fmt.Errorf("unknown compressor %q", comp.ID)
	}

	if comp.Shuffle {
		if es := elemSize(dtype); es > 0 {
			raw = bitShuffle(raw, es)
		}
	}
	return enc.EncodeAll(raw, nil), nil
}

// decodeChunk reverses encodeChunk.
func decodeChunk(payload []byte, comp *Compressor, dtype Dtype, dec *zstd.Decoder) ([]byte, error) {
	if comp == nil {
		return payload, nil
	}
	if comp.ID != "zstd" {
		return nil, fmt.Errorf("unknown compressor %q", comp.ID)
	}

	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	if comp.Shuffle {
		if es := elemSize(dtype); es > 0 {
			raw = bitUnshuffle(raw, es)
		}
	}
	return raw, nil
}

func newEncoder(level int) (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
}

// bitShuffle transposes the bits of fixed-width elements into bit planes:
// plane b holds bit b of every element, packed. Elements past the largest
// multiple of 8 are appended untransformed, so any chunk length round-trips.
func bitShuffle(src []byte, es int) []byte {
	bits := es * 8
	n := len(src) / es
	full := n - n%8
	planeLen := full / 8

	out := make([]byte, len(src))
	for b := 0; b < bits; b++ {
		srcByte := b / 8
		srcBit := uint(b % 8)
		for e := 0; e < full; e++ {
			bit := (src[e*es+srcByte] >> srcBit) & 1
			out[b*planeLen+e/8] |= bit << uint(e%8)
		}
	}
	copy(out[bits*planeLen:], src[full*es:])
	return out
}

// bitUnshuffle is the inverse of bitShuffle.
func bitUnshuffle(src []byte, es int) []byte {
	bits := es * 8
	n := len(src) / es
	full := n - n%8
	planeLen := full / 8

	out := make([]byte, len(src))
	for b := 0; b < bits; b++ {
		dstByte := b / 8
		dstBit := uint(b % 8)
		for e := 0; e < full; e++ {
			bit := (src[b*planeLen+e/8] >> uint(e%8)) & 1
			out[e*es+dstByte] |= bit << dstBit
		}
	}
	copy(out[full*es:], src[bits*planeLen:])
	return out
}
