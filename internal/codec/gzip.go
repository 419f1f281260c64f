package codec

import (
	"compress/gzip"
	"io"
)

// Compile-time check that Gzip implements Codec.
var _ Codec = (*Gzip)(nil)

// Gzip compresses with gzip, for consumers without zstd support.
type Gzip struct {
	level int
}

// NewGzip returns a gzip codec at the default compression level.
func NewGzip() *Gzip {
	return &Gzip{level: gzip.DefaultCompression}
}

// Reader wraps r to decompress gzip data.
func (c *Gzip) Reader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// Writer wraps w to compress data with gzip.
func (c *Gzip) Writer(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

// Extension returns "gz".
func (c *Gzip) Extension() string {
	return "gz"
}
