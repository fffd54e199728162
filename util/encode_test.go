package util_test

import (
	"strings"
	"testing"

	"github.com/downfa11-org/go-itest/pkg/types"
	"github.com/downfa11-org/go-itest/util"
)

func TestBatchMessagesRoundTrip(t *testing.T) {
	records := []types.Record{
		{Offset: 100, SeqNum: 1, ProducerID: "p1", Key: "k1", Payload: `{"key":"index-a"}`, Epoch: 1},
		{Offset: 101, SeqNum: 2, ProducerID: "p1", Key: "k2", Payload: "index-b", Epoch: 1},
	}

	data, err := util.EncodeBatchMessages("resource-events", 3, "all", records)
	if err != nil {
		t.Fatalf("EncodeBatchMessages failed: %v", err)
	}
	if !util.IsBatchFrame(data) {
		t.Fatal("encoded batch does not start with the batch magic")
	}

	batch, err := util.DecodeBatchMessages(data)
	if err != nil {
		t.Fatalf("DecodeBatchMessages failed: %v", err)
	}

	if batch.Topic != "resource-events" || batch.Partition != 3 || batch.Acks != "all" {
		t.Errorf("header mismatch: %+v", batch)
	}
	if len(batch.Records) != len(records) {
		t.Fatalf("record count mismatch: got %d, want %d", len(batch.Records), len(records))
	}
	for i := range records {
		if batch.Records[i] != records[i] {
			t.Errorf("record %d mismatch: got %+v, want %+v", i, batch.Records[i], records[i])
		}
	}
}

func TestBatchMessagesEdgeCases(t *testing.T) {
	t.Run("EmptyBatch", func(t *testing.T) {
		data, err := util.EncodeBatchMessages("topic", 0, "1", nil)
		if err != nil {
			t.Fatalf("Encoding empty batch failed: %v", err)
		}
		batch, err := util.DecodeBatchMessages(data)
		if err != nil {
			t.Fatalf("Decoding empty batch failed: %v", err)
		}
		if len(batch.Records) != 0 {
			t.Errorf("Expected 0 records, got %d", len(batch.Records))
		}
	})

	t.Run("InvalidMagic", func(t *testing.T) {
		if _, err := util.DecodeBatchMessages([]byte{0x00, 0x01, 0x00}); err == nil {
			t.Error("expected error for invalid magic")
		}
	})

	t.Run("TruncatedPayload", func(t *testing.T) {
		data, err := util.EncodeBatchMessages("topic", 0, "1", []types.Record{{Payload: strings.Repeat("x", 64)}})
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if _, err := util.DecodeBatchMessages(data[:len(data)-10]); err == nil {
			t.Error("expected error for truncated payload")
		}
	})

	t.Run("OversizedKey", func(t *testing.T) {
		_, err := util.EncodeBatchMessages("topic", 0, "1", []types.Record{{Key: strings.Repeat("k", 0x10000)}})
		if err == nil {
			t.Error("expected error for oversized key")
		}
	})

	t.Run("ErrorResponseIsNotBatch", func(t *testing.T) {
		if util.IsBatchFrame([]byte("ERROR: topic not found")) {
			t.Error("plain response misdetected as batch")
		}
	})
}

func BenchmarkDecodeBatchMessages(b *testing.B) {
	records := make([]types.Record, 256)
	for i := range records {
		records[i] = types.Record{
			Offset:     uint64(i),
			SeqNum:     uint64(i + 1),
			ProducerID: "producer-1",
			Payload:    strings.Repeat("x", 512),
		}
	}
	data, err := util.EncodeBatchMessages("bench", 0, "1", records)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := util.DecodeBatchMessages(data); err != nil {
			b.Fatal(err)
		}
	}
}
