// Package record implements the fixed-header binary format of a custody
// ledger entry.
//
// Every record is a 144-byte header followed by DataLength payload bytes.
// All multi-byte numeric fields are little-endian:
//
//	offset  size  field
//	     0    32  previous hash (SHA-256 of the preceding record's raw bytes)
//	    32     8  timestamp (float64 seconds since the Unix epoch, UTC)
//	    40    32  case id (16 UUID bytes, zero padded)
//	    72    32  item id (uint32, zero padded)
//	   104    12  state tag (ASCII, NUL padded)
//	   116    12  creator (NUL padded)
//	   128    12  owner (NUL padded)
//	   140     4  data length (uint32)
//	   144     n  data
package record

import (
	"crypto/sha256"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Record is a single custody event in the ledger.
type Record struct {
	PreviousHash Digest    `json:"previous_hash"`
	Timestamp    float64   `json:"timestamp"`
	CaseID       uuid.UUID `json:"case_id"`
	ItemID       uint32    `json:"item_id"`
	State        State     `json:"state"`
	Creator      string    `json:"creator"`
	Owner        string    `json:"owner"`
	Data         string    `json:"data"`

	// Offset is the byte position of the record in the ledger file.
	// It is only meaningful for records produced by a ledger scan.
	Offset int64 `json:"offset"`

	raw []byte
}

// Raw returns the exact serialized bytes the record was decoded from, or
// the bytes produced by its last successful Encode.
func (r *Record) Raw() []byte {
	return r.raw
}

// Size is the number of bytes the record occupies on disk.
func (r *Record) Size() int64 {
	return int64(HeaderSize + len(r.Data))
}

// Hash returns the SHA-256 of the record's raw bytes. Records that were
// never encoded or decoded are encoded first. Hash panics if that encode
// fails: such a record has no on-disk form, and any digest returned for it
// could be mistaken for a real one, including the zero genesis parent.
// Call Encode first when the record comes from untrusted input.
func (r *Record) Hash() Digest {
	if r.raw == nil {
		if _, err := r.Encode(); err != nil {
			panic(fmt.Sprintf("record: hash of unencodable record: %v", err))
		}
	}
	return Digest(sha256.Sum256(r.raw))
}

// Time converts the float timestamp to a UTC time.
func (r *Record) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// IsGenesis reports whether r has the shape of the genesis record.
func (r *Record) IsGenesis() bool {
	return r.State == StateInitial && r.PreviousHash.IsZero()
}

// Timestamp converts t to the float seconds stored in a record.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
