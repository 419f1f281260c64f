// Package codec compresses inventory exports.
package codec

import (
	"fmt"
	"io"
	"sort"
)

// Codec provides compression and decompression functionality.
type Codec interface {
	// Reader wraps r to decompress data read from it.
	Reader(r io.Reader) (io.ReadCloser, error)
	// Writer wraps w to compress data written to it. Closing the writer
	// flushes it but leaves w open.
	Writer(w io.Writer) (io.WriteCloser, error)
	// Extension returns the file extension without dot (e.g., "zst", "gz").
	// Returns empty string for no compression.
	Extension() string
}

var byName = map[string]func() Codec{
	"zstd": func() Codec { return NewZstd() },
	"gzip": func() Codec { return NewGzip() },
	"none": func() Codec { return None{} },
}

// ByName returns the codec registered under name: "zstd", "gzip" or "none".
// An empty name selects zstd.
func ByName(name string) (Codec, error) {
	if name == "" {
		name = "zstd"
	}
	newCodec, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q (want one of %v)", name, Names())
	}
	return newCodec(), nil
}

// Names returns the registered codec names, sorted.
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
