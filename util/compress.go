package util

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
	snappy "github.com/segmentio/kafka-go/compress/snappy/go-xerial-snappy"
)

// Compression names a payload codec used by producers on the bus.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
)

// ParseCompression normalizes a codec name; "" maps to none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionSnappy, CompressionLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported compression type: %s", s)
	}
}

// CompressMessage encodes a payload with the given codec.
func CompressMessage(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionGzip:
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CompressionSnappy:
		return snappy.Encode(data), nil

	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CompressionNone, "":
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", c)
	}
}

// DecompressMessage reverses CompressMessage.
func DecompressMessage(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := gr.Close(); err != nil {
				Warn("failed to close gzip reader: %v", err)
			}
		}()
		return io.ReadAll(gr)

	case CompressionSnappy:
		return snappy.Decode(data)

	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	case CompressionNone, "":
		return data, nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", c)
	}
}
