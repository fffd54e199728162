package util

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/downfa11-org/go-itest/pkg/types"
)

// BatchMagic prefixes every cursus batch frame.
const BatchMagic uint16 = 0xBA7C

// IsBatchFrame reports whether a broker response carries a batch.
func IsBatchFrame(data []byte) bool {
	return len(data) >= 2 && binary.BigEndian.Uint16(data[:2]) == BatchMagic
}

// EncodeBatchMessages builds a batch frame in the layout the broker sends on CONSUME.
func EncodeBatchMessages(topic string, partition int, acks string, records []types.Record) ([]byte, error) {
	var buf bytes.Buffer

	write := func(v any) error {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return fmt.Errorf("encode value failed: %w", err)
		}
		return nil
	}
	writeString16 := func(field, s string) error {
		if len(s) > 0xFFFF {
			return fmt.Errorf("%s too long: %d bytes", field, len(s))
		}
		if err := write(uint16(len(s))); err != nil {
			return err
		}
		buf.WriteString(s)
		return nil
	}

	if err := write(BatchMagic); err != nil {
		return nil, err
	}
	if err := writeString16("topic", topic); err != nil {
		return nil, err
	}
	if err := write(int32(partition)); err != nil {
		return nil, err
	}
	if len(acks) > 0xFF {
		return nil, fmt.Errorf("acks value too long: %d bytes", len(acks))
	}
	if err := write(uint8(len(acks))); err != nil {
		return nil, err
	}
	buf.WriteString(acks)

	var batchStart, batchEnd uint64
	if len(records) > 0 {
		batchStart = records[0].SeqNum
		batchEnd = records[len(records)-1].SeqNum
	}
	for _, v := range []any{batchStart, batchEnd, int32(len(records))} {
		if err := write(v); err != nil {
			return nil, err
		}
	}

	for _, r := range records {
		if err := write(r.Offset); err != nil {
			return nil, err
		}
		if err := write(r.SeqNum); err != nil {
			return nil, err
		}
		if err := writeString16("producerID", r.ProducerID); err != nil {
			return nil, err
		}
		if err := writeString16("key", r.Key); err != nil {
			return nil, err
		}
		if err := write(r.Epoch); err != nil {
			return nil, err
		}
		if err := write(uint32(len(r.Payload))); err != nil {
			return nil, err
		}
		buf.WriteString(r.Payload)
	}

	return buf.Bytes(), nil
}

// DecodeBatchMessages decodes a batch encoded by EncodeBatchMessages
func DecodeBatchMessages(data []byte) (*types.Batch, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("data too short")
	}

	reader := bytes.NewReader(data)
	read := func(what string, v any) error {
		if err := binary.Read(reader, binary.BigEndian, v); err != nil {
			return fmt.Errorf("failed to read %s: %w", what, err)
		}
		return nil
	}
	readBytes := func(what string, n int) (string, error) {
		if n > reader.Len() {
			return "", fmt.Errorf("failed to read %s: need %d bytes, have %d", what, n, reader.Len())
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return "", fmt.Errorf("failed to read %s: %w", what, err)
		}
		return string(b), nil
	}
	readString16 := func(what string) (string, error) {
		var n uint16
		if err := read(what+" length", &n); err != nil {
			return "", err
		}
		return readBytes(what, int(n))
	}

	var magic uint16
	if err := read("magic number", &magic); err != nil {
		return nil, err
	}
	if magic != BatchMagic {
		return nil, fmt.Errorf("invalid magic number: %x", magic)
	}

	topic, err := readString16("topic")
	if err != nil {
		return nil, err
	}

	var partition int32
	if err := read("partition", &partition); err != nil {
		return nil, err
	}

	var acksLen uint8
	if err := read("acks length", &acksLen); err != nil {
		return nil, err
	}
	acks, err := readBytes("acks", int(acksLen))
	if err != nil {
		return nil, err
	}

	var batchStart, batchEnd uint64
	if err := read("batch start", &batchStart); err != nil {
		return nil, err
	}
	if err := read("batch end", &batchEnd); err != nil {
		return nil, err
	}

	var count int32
	if err := read("message count", &count); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("negative message count: %d", count)
	}

	batch := &types.Batch{
		Topic:     topic,
		Partition: int(partition),
		Acks:      acks,
		Records:   make([]types.Record, 0, min(int(count), 1024)),
	}

	for i := 0; i < int(count); i++ {
		var r types.Record
		prefix := fmt.Sprintf("message[%d]", i)

		if err := read(prefix+" offset", &r.Offset); err != nil {
			return nil, err
		}
		if err := read(prefix+" seqNum", &r.SeqNum); err != nil {
			return nil, err
		}
		if r.ProducerID, err = readString16(prefix + " producerID"); err != nil {
			return nil, err
		}
		if r.Key, err = readString16(prefix + " key"); err != nil {
			return nil, err
		}
		if err := read(prefix+" epoch", &r.Epoch); err != nil {
			return nil, err
		}
		var payloadLen uint32
		if err := read(prefix+" payload length", &payloadLen); err != nil {
			return nil, err
		}
		if r.Payload, err = readBytes(prefix+" payload", int(payloadLen)); err != nil {
			return nil, err
		}

		batch.Records = append(batch.Records, r)
	}

	return batch, nil
}
