package util_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/downfa11-org/go-itest/util"
)

func TestEncodeDecodeMessage(t *testing.T) {
	topic := "sbom-indexed"
	payload := "PUBLISH topic=sbom-indexed acks=1 message=hello"

	data := util.EncodeMessage(topic, payload)
	if len(data) != 2+len(topic)+len(payload) {
		t.Errorf("Unexpected encoded length: got %d", len(data))
	}

	decodedTopic, decodedPayload, err := util.DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage failed unexpectedly: %v", err)
	}
	if decodedTopic != topic {
		t.Errorf("Expected topic %s, got %s", topic, decodedTopic)
	}
	if decodedPayload != payload {
		t.Errorf("Expected payload %s, got %s", payload, decodedPayload)
	}
}

func TestDecodeMessageInvalidData(t *testing.T) {
	t.Run("ShortData", func(t *testing.T) {
		if _, _, err := util.DecodeMessage([]byte{0x00}); err == nil {
			t.Error("Expected error for short data, but got nil")
		}
	})

	t.Run("InvalidTopicLength", func(t *testing.T) {
		_, _, err := util.DecodeMessage([]byte{0x00, 0x05, 'a'})
		if err == nil || err.Error() != "invalid topic length" {
			t.Errorf("Expected 'invalid topic length', got %v", err)
		}
	})
}

func TestWriteReadWithLength(t *testing.T) {
	var buf bytes.Buffer
	frames := [][]byte{[]byte("OK"), {}, []byte(`{"key":"index-1"}`)}

	for _, f := range frames {
		if err := util.WriteWithLength(&buf, f); err != nil {
			t.Fatalf("WriteWithLength failed: %v", err)
		}
	}

	for i, want := range frames {
		got, err := util.ReadWithLength(&buf)
		if err != nil {
			t.Fatalf("frame %d: ReadWithLength failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: got %q, want %q", i, got, want)
		}
	}

	if _, err := util.ReadWithLength(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after last frame, got %v", err)
	}
}

func TestReadWithLengthRejectsOversizedFrame(t *testing.T) {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, util.MaxFrameSize+1)
	if _, err := util.ReadWithLength(bytes.NewReader(hdr)); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestReadWithLengthTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, 10)
	buf.Write(hdr)
	buf.WriteString("short")

	if _, err := util.ReadWithLength(&buf); err == nil {
		t.Fatal("expected error for truncated body")
	}
}
