package util_test

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/downfa11-org/go-itest/util"
)

func TestParseCompression(t *testing.T) {
	tests := []struct {
		input       string
		want        util.Compression
		expectError bool
	}{
		{"", util.CompressionNone, false},
		{"none", util.CompressionNone, false},
		{"GZIP", util.CompressionGzip, false},
		{" snappy ", util.CompressionSnappy, false},
		{"lz4", util.CompressionLZ4, false},
		{"zstd", "", true},
	}

	for _, tt := range tests {
		got, err := util.ParseCompression(tt.input)
		if tt.expectError {
			if err == nil {
				t.Errorf("ParseCompression(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCompression(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCompression(%q) = %q; want %q", tt.input, got, tt.want)
		}
	}
}

// TestCompressDecompressRoundtrip verifies every codec restores event payloads
func TestCompressDecompressRoundtrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"key":"index-create-6f1c2e0a-93f4-4c55-9d3e-1f2a3b4c5d6e"}`),
		bytes.Repeat([]byte("sbom-"), 2000),
	}

	for _, p := range payloads {
		for _, c := range []util.Compression{util.CompressionGzip, util.CompressionSnappy, util.CompressionLZ4, util.CompressionNone} {
			p, c := p, c
			t.Run(fmt.Sprintf("%s_%dB", c, len(p)), func(t *testing.T) {
				compressed, err := util.CompressMessage(p, c)
				if err != nil {
					t.Fatalf("compression failed: %v", err)
				}

				decompressed, err := util.DecompressMessage(compressed, c)
				if err != nil {
					t.Fatalf("decompression failed: %v", err)
				}

				if !bytes.Equal(decompressed, p) {
					t.Fatalf("roundtrip failed: original=%d decompressed=%d", len(p), len(decompressed))
				}
			})
		}
	}
}

func TestDecompressMessage_Invalid(t *testing.T) {
	if _, err := util.DecompressMessage([]byte("not gzip"), util.CompressionGzip); err == nil {
		t.Fatal("expected gzip error for garbage input")
	}
	if _, err := util.DecompressMessage([]byte("x"), util.Compression("brotli")); err == nil {
		t.Fatal("expected error for unsupported codec")
	}
}

func TestConcurrentCompression(t *testing.T) {
	testData := []byte("Hello, concurrent compression")
	codecs := []util.Compression{util.CompressionGzip, util.CompressionSnappy, util.CompressionLZ4, util.CompressionNone}

	var wg sync.WaitGroup
	errCh := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			c := codecs[id%len(codecs)]
			enc, err := util.CompressMessage(testData, c)
			if err != nil {
				errCh <- fmt.Errorf("compress failed (id=%d type=%s): %v", id, c, err)
				return
			}

			dec, err := util.DecompressMessage(enc, c)
			if err != nil {
				errCh <- fmt.Errorf("decompress failed (id=%d type=%s): %v", id, c, err)
				return
			}

			if !bytes.Equal(dec, testData) {
				errCh <- fmt.Errorf("data mismatch (id=%d type=%s)", id, c)
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}
