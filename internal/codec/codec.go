// SPDX-License-Identifier: MIT

// Package codec turns a magnitude array into the text-safe payload carried by
// every frame: float32 little-endian, gzip, standard base64.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// MethodGzip is the only compression method tag produced by this package.
const MethodGzip = "gzip"

var (
	// ErrEmptyInput is returned when there is nothing to encode.
	ErrEmptyInput = errors.New("codec: empty magnitude array")
	// ErrNonFinite is returned when a value is NaN or infinite as float32.
	ErrNonFinite = errors.New("codec: non-finite magnitude value")
	// ErrUnknownMethod is returned by Decode for an unsupported method tag.
	ErrUnknownMethod = errors.New("codec: unknown compression method")
)

// Encoded is the wire form of one magnitude array.
type Encoded struct {
	Payload        string // base64 of Compressed
	Compressed     []byte // gzip stream, owned by the caller
	Method         string
	CompressedSize int
	OriginalSize   int // 4 bytes per value
}

// Ratio returns compressed/original, or 0 for an empty result.
func (e Encoded) Ratio() float64 {
	if e.OriginalSize == 0 {
		return 0
	}
	return float64(e.CompressedSize) / float64(e.OriginalSize)
}

// Codec encodes magnitude arrays. It reuses its buffers and gzip writers and
// is safe for concurrent use.
type Codec struct {
	mu      sync.Mutex
	level   int
	writers [gzip.BestCompression + 1]*gzip.Writer
	raw     []byte
	out     bytes.Buffer
}

// New returns a Codec compressing at level (0..9).
func New(level int) (*Codec, error) {
	if err := checkLevel(level); err != nil {
		return nil, err
	}
	return &Codec{level: level}, nil
}

func checkLevel(level int) error {
	if level < gzip.NoCompression || level > gzip.BestCompression {
		return fmt.Errorf("codec: compression level must be between %d and %d, got %d", gzip.NoCompression, gzip.BestCompression, level)
	}
	return nil
}

// Level returns the default compression level.
func (c *Codec) Level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// SetLevel changes the default compression level.
func (c *Codec) SetLevel(level int) error {
	if err := checkLevel(level); err != nil {
		return err
	}
	c.mu.Lock()
	c.level = level
	c.mu.Unlock()
	return nil
}

// Encode compresses magnitudes at the default level.
func (c *Codec) Encode(magnitudes []float64) (Encoded, error) {
	return c.EncodeLevel(magnitudes, c.Level())
}

// EncodeLevel compresses magnitudes at the given level. Invalid input yields
// an error and an empty Encoded; it never panics.
func (c *Codec) EncodeLevel(magnitudes []float64, level int) (Encoded, error) {
	if len(magnitudes) == 0 {
		return Encoded{}, ErrEmptyInput
	}
	if err := checkLevel(level); err != nil {
		return Encoded{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(magnitudes) * 4
	if cap(c.raw) < n {
		c.raw = make([]byte, n)
	}
	c.raw = c.raw[:n]
	for i, v := range magnitudes {
		f := float32(v)
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return Encoded{}, fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
		binary.LittleEndian.PutUint32(c.raw[i*4:], math.Float32bits(f))
	}

	c.out.Reset()
	zw, err := c.writer(level)
	if err != nil {
		return Encoded{}, err
	}
	if _, err := zw.Write(c.raw); err != nil {
		return Encoded{}, fmt.Errorf("codec: gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Encoded{}, fmt.Errorf("codec: gzip close: %w", err)
	}

	compressed := bytes.Clone(c.out.Bytes())
	return Encoded{
		Payload:        base64.StdEncoding.EncodeToString(compressed),
		Compressed:     compressed,
		Method:         MethodGzip,
		CompressedSize: len(compressed),
		OriginalSize:   n,
	}, nil
}

// writer returns the cached gzip writer for level, reset onto c.out.
func (c *Codec) writer(level int) (*gzip.Writer, error) {
	if zw := c.writers[level]; zw != nil {
		zw.Reset(&c.out)
		return zw, nil
	}
	zw, err := gzip.NewWriterLevel(&c.out, level)
	if err != nil {
		return nil, fmt.Errorf("codec: gzip writer: %w", err)
	}
	c.writers[level] = zw
	return zw, nil
}

// Decode reverses Encode for a base64 payload.
func Decode(payload, method string) ([]float32, error) {
	if method != MethodGzip {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: base64: %w", err)
	}
	return DecodeBytes(compressed)
}

// DecodeBytes decompresses a raw gzip stream of float32 little-endian values.
func DecodeBytes(compressed []byte) ([]float32, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("codec: gzip reader: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("codec: gzip read: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("codec: payload is %d bytes, not a whole number of float32 values", len(raw))
	}

	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
