package codec

import "io"

// Compile-time check that None implements Codec.
var _ Codec = None{}

// None writes data uncompressed.
type None struct{}

// Reader returns r as a ReadCloser.
func (None) Reader(r io.Reader) (io.ReadCloser, error) {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r), nil
}

// Writer returns w with a Close that leaves w open.
func (None) Writer(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// Extension returns empty string.
func (None) Extension() string {
	return ""
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
