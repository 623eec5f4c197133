// Package compression wraps the codecs used to store text content at rest.
package compression

import (
	"fmt"

	"github.com/debemdeboas/the-calendar/internal/config"
)

type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// New returns the compressor registered under name.
func New(name string) (Compressor, error) {
	switch name {
	case "", config.CompressionZstd:
		return ZstdCompressor{}, nil
	case config.CompressionGzip:
		return GzipCompressor{}, nil
	case config.CompressionNone:
		return NopCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type NopCompressor struct{}

func (NopCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (NopCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
