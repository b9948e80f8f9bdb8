package bus

import (
	"fmt"
	"time"
)

// RecordSize is the fixed payload capacity of one bus record.
const RecordSize = 250

// Record is a fixed-size inbound bus message.
type Record struct {
	data       [RecordSize]byte
	n          int
	From       string
	ReceivedAt time.Time
}

func NewRecord(from string, p []byte, at time.Time) (Record, error) {
	if len(p) > RecordSize {
		return Record{}, fmt.Errorf("%w: %d > %d", ErrRecordTooLarge, len(p), RecordSize)
	}
	r := Record{n: len(p), From: from, ReceivedAt: at}
	copy(r.data[:], p)
	return r, nil
}

func (r Record) Bytes() []byte {
	out := make([]byte, r.n)
	copy(out, r.data[:r.n])
	return out
}

func (r Record) Len() int {
	return r.n
}
