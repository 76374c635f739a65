package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Dtype identifies the element type of a channel.
type Dtype string

const (
	DtypeFloat32 Dtype = "float32"
	DtypeUint8   Dtype = "uint8"
	DtypeUint32  Dtype = "uint32"
	DtypeString  Dtype = "str"
)

// elemSize returns the fixed byte width of a dtype, or 0 for variable-width
// types (strings), which are never shuffled.
func elemSize(d Dtype) int {
	switch d {
	case DtypeFloat32, DtypeUint32:
		return 4
	case DtypeUint8:
		return 1
	default:
		return 0
	}
}

// Column is a full-shape array for one channel. The leading dimension is the
// chunking dimension; trailing dimensions are fixed per channel.
type Column interface {
	Dtype() Dtype
	Shape() []int
	// Rows returns the leading-dimension length.
	Rows() int
	// Validate checks that the declared shape matches the data actually held.
	Validate() error
	// encodeRows serializes rows [lo, hi) to the on-disk byte representation.
	encodeRows(lo, hi int) ([]byte, error)
}

func shapeElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func rowSize(shape []int) int {
	return shapeElems(shape[1:])
}

func validateShape(d Dtype, shape []int, have int) error {
	if len(shape) == 0 {
		return fmt.Errorf("%s column has no shape", d)
	}
	for _, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("%s column has negative dimension in shape %v", d, shape)
		}
	}
	if want := shapeElems(shape); want != have {
		return fmt.Errorf("%s column shape %v declares %d elements but holds %d", d, shape, want, have)
	}
	return nil
}

// Float32Column holds row-major float32 data.
type Float32Column struct {
	shape []int
	data  []float32
}

// NewFloat32Column wraps row-major data with its full shape.
func NewFloat32Column(data []float32, shape ...int) *Float32Column {
	return &Float32Column{shape: shape, data: data}
}

func (c *Float32Column) Dtype() Dtype     { return DtypeFloat32 }
func (c *Float32Column) Shape() []int     { return c.shape }
func (c *Float32Column) Rows() int        { return c.shape[0] }
func (c *Float32Column) Data() []float32  { return c.data }
func (c *Float32Column) Validate() error  { return validateShape(DtypeFloat32, c.shape, len(c.data)) }

func (c *Float32Column) encodeRows(lo, hi int) ([]byte, error) {
	rs := rowSize(c.shape)
	vals := c.data[lo*rs : hi*rs]
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out, nil
}

// Uint8Column holds row-major uint8 data (image bytes, success flags).
type Uint8Column struct {
	shape []int
	data  []byte
}

func NewUint8Column(data []byte, shape ...int) *Uint8Column {
	return &Uint8Column{shape: shape, data: data}
}

func (c *Uint8Column) Dtype() Dtype    { return DtypeUint8 }
func (c *Uint8Column) Shape() []int    { return c.shape }
func (c *Uint8Column) Rows() int       { return c.shape[0] }
func (c *Uint8Column) Data() []byte    { return c.data }
func (c *Uint8Column) Validate() error { return validateShape(DtypeUint8, c.shape, len(c.data)) }

func (c *Uint8Column) encodeRows(lo, hi int) ([]byte, error) {
	rs := rowSize(c.shape)
	out := make([]byte, (hi-lo)*rs)
	copy(out, c.data[lo*rs:hi*rs])
	return out, nil
}

// Uint32Column holds one-dimensional uint32 data (episode_ends).
type Uint32Column struct {
	shape []int
	data  []uint32
}

func NewUint32Column(data []uint32, shape ...int) *Uint32Column {
	return &Uint32Column{shape: shape, data: data}
}

func (c *Uint32Column) Dtype() Dtype    { return DtypeUint32 }
func (c *Uint32Column) Shape() []int    { return c.shape }
func (c *Uint32Column) Rows() int       { return c.shape[0] }
func (c *Uint32Column) Data() []uint32  { return c.data }
func (c *Uint32Column) Validate() error { return validateShape(DtypeUint32, c.shape, len(c.data)) }

func (c *Uint32Column) encodeRows(lo, hi int) ([]byte, error) {
	rs := rowSize(c.shape)
	vals := c.data[lo*rs : hi*rs]
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out, nil
}

// StringColumn holds one-dimensional string data (task ids, provenance
// paths). Chunks are JSON-encoded since elements are variable width.
type StringColumn struct {
	data []string
}

func NewStringColumn(data []string) *StringColumn {
	return &StringColumn{data: data}
}

func (c *StringColumn) Dtype() Dtype    { return DtypeString }
func (c *StringColumn) Shape() []int    { return []int{len(c.data)} }
func (c *StringColumn) Rows() int       { return len(c.data) }
func (c *StringColumn) Data() []string  { return c.data }
func (c *StringColumn) Validate() error { return nil }

func (c *StringColumn) encodeRows(lo, hi int) ([]byte, error) {
	return json.Marshal(c.data[lo:hi])
}

// decodeColumn reassembles a full column from per-chunk payloads that have
// already been decompressed and unshuffled.
func decodeColumn(meta Meta, chunks [][]byte) (Column, error) {
	switch meta.Dtype {
	case DtypeFloat32:
		data := make([]float32, 0, shapeElems(meta.Shape))
		for i, raw := range chunks {
			if len(raw)%4 != 0 {
				return nil, fmt.Errorf("chunk %d: %d bytes is not a whole number of float32s", i, len(raw))
			}
			for off := 0; off < len(raw); off += 4 {
				data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(raw[off:])))
			}
		}
		col := NewFloat32Column(data, meta.Shape...)
		return col, col.Validate()
	case DtypeUint8:
		data := make([]byte, 0, shapeElems(meta.Shape))
		for _, raw := range chunks {
			data = append(data, raw...)
		}
		col := NewUint8Column(data, meta.Shape...)
		return col, col.Validate()
	case DtypeUint32:
		data := make([]uint32, 0, shapeElems(meta.Shape))
		for i, raw := range chunks {
			if len(raw)%4 != 0 {
				return nil, fmt.Errorf("chunk %d: %d bytes is not a whole number of uint32s", i, len(raw))
			}
			for off := 0; off < len(raw); off += 4 {
				data = append(data, binary.LittleEndian.Uint32(raw[off:]))
			}
		}
		col := NewUint32Column(data, meta.Shape...)
		return col, col.Validate()
	case DtypeString:
		var data []string
		for i, raw := range chunks {
			var part []string
			if err := json.Unmarshal(raw, &part); err != nil {
				return nil, fmt.Errorf("chunk %d: %w", i, err)
			}
			data = append(data, part...)
		}
		if len(data) != meta.Shape[0] {
			return nil, fmt.Errorf("str column declares %d rows but chunks hold %d", meta.Shape[0], len(data))
		}
		return NewStringColumn(data), nil
	default:
		return nil, fmt.Errorf("unknown dtype %q", meta.Dtype)
	}
}
