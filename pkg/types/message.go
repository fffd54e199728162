package types

import (
	"fmt"
	"time"
)

// Message is a single record observed on (or written to) a bus topic.
type Message struct {
	Topic     string
	Partition int
	Offset    uint64
	Key       string
	Payload   []byte
	Timestamp time.Time
}

// String identifies the message by position, e.g. "orders/0@42".
func (m Message) String() string {
	return fmt.Sprintf("%s/%d@%d", m.Topic, m.Partition, m.Offset)
}

// Record is one message inside a cursus batch frame.
type Record struct {
	Offset     uint64
	SeqNum     uint64
	ProducerID string
	Key        string
	Epoch      int64
	Payload    string
}

// Batch is a decoded cursus CONSUME response.
type Batch struct {
	Topic     string
	Partition int
	Acks      string
	Records   []Record
}
