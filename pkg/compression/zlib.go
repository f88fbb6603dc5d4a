// Package compression implements ZLIB payload compression per RFC 5402
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DefaultMaxSize bounds decompressed output unless configured otherwise.
const DefaultMaxSize = 512 << 20

// ErrTooLarge is returned when decompressed data exceeds the size limit.
var ErrTooLarge = errors.New("decompressed data exceeds size limit")

// Compressor handles payload compression
type Compressor struct {
	compressionLevel int
	maxSize          int64
}

// NewCompressor creates a new compressor with default compression level
func NewCompressor() *Compressor {
	return &Compressor{
		compressionLevel: zlib.DefaultCompression,
		maxSize:          DefaultMaxSize,
	}
}

// NewCompressorWithLevel creates a new compressor with specified compression level
func NewCompressorWithLevel(level int) *Compressor {
	return &Compressor{
		compressionLevel: level,
		maxSize:          DefaultMaxSize,
	}
}

// WithMaxSize returns a copy of c that limits decompressed output to n bytes.
func (c *Compressor) WithMaxSize(n int64) *Compressor {
	cp := *c
	cp.maxSize = n
	return &cp
}

// MaxSize returns the decompression limit in bytes.
func (c *Compressor) MaxSize() int64 {
	if c.maxSize <= 0 {
		return DefaultMaxSize
	}
	return c.maxSize
}

// Compress compresses data using ZLIB
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := zlib.NewWriterLevel(&buf, c.compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zlib writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress decompresses ZLIB data
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib reader: %w", err)
	}
	defer reader.Close()

	limit := c.MaxSize()
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read compressed data: %w", err)
	}
	if n > limit {
		return nil, ErrTooLarge
	}

	return buf.Bytes(), nil
}
