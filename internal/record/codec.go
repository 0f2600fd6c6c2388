package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// byte sizes of the header fields
const (
	PreviousHashSize = DigestSize
	TimestampSize    = 8
	CaseIDSize       = 32
	ItemIDSize       = 32
	StateSize        = 12
	CreatorSize      = 12
	OwnerSize        = 12
	DataLengthSize   = 4

	caseIDBytes = 16 // UUID bytes at the start of the case id slot
	itemIDBytes = 4  // uint32 bytes at the start of the item id slot
)

// offsets of the header fields
const (
	previousHashOffset = 0
	timestampOffset    = previousHashOffset + PreviousHashSize
	caseIDOffset       = timestampOffset + TimestampSize
	itemIDOffset       = caseIDOffset + CaseIDSize
	stateOffset        = itemIDOffset + ItemIDSize
	creatorOffset      = stateOffset + StateSize
	ownerOffset        = creatorOffset + CreatorSize
	dataLengthOffset   = ownerOffset + OwnerSize

	// HeaderSize is the fixed part of every record.
	HeaderSize = dataLengthOffset + DataLengthSize
)

// MaxDataLength bounds the payload of a single record. A larger declared
// length is treated as corruption rather than as an unfinished write.
const MaxDataLength = 16 << 20

var (
	// ErrFieldTooLong is returned by Encode when a field does not fit its slot.
	ErrFieldTooLong = errors.New("field exceeds its fixed size")
	// ErrInvalidText is returned by Encode for text that would not survive a
	// decode: NUL bytes in any text field or a payload that is not UTF-8.
	ErrInvalidText = errors.New("field is not representable")
)

// CorruptRecordError reports bytes that cannot be a record.
type CorruptRecordError struct {
	Offset int64
	Reason string
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record at offset %d: %s", e.Offset, e.Reason)
}

// Header is the fixed 144-byte prefix of a record.
type Header struct {
	PreviousHash Digest
	Timestamp    float64
	CaseID       uuid.UUID
	ItemID       uint32
	State        State
	Creator      string
	Owner        string
	DataLength   uint32
}

// Encode packs the record into its on-disk form and remembers the result
// as the record's raw bytes.
func (r *Record) Encode() ([]byte, error) {
	if !r.State.Valid() {
		return nil, fmt.Errorf("encode record: invalid state %d", uint8(r.State))
	}
	if err := checkField("creator", r.Creator, CreatorSize); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if err := checkField("owner", r.Owner, OwnerSize); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if len(r.Data) > MaxDataLength {
		return nil, fmt.Errorf("encode record: data of %d bytes: %w", len(r.Data), ErrFieldTooLong)
	}
	if !utf8.ValidString(r.Data) || strings.IndexByte(r.Data, 0) >= 0 {
		return nil, fmt.Errorf("encode record: data: %w", ErrInvalidText)
	}

	buf := make([]byte, HeaderSize+len(r.Data))
	copy(buf[previousHashOffset:], r.PreviousHash[:])
	binary.LittleEndian.PutUint64(buf[timestampOffset:], math.Float64bits(r.Timestamp))
	copy(buf[caseIDOffset:], r.CaseID[:])
	binary.LittleEndian.PutUint32(buf[itemIDOffset:], r.ItemID)
	copy(buf[stateOffset:stateOffset+StateSize], r.State.String())
	copy(buf[creatorOffset:creatorOffset+CreatorSize], r.Creator)
	copy(buf[ownerOffset:ownerOffset+OwnerSize], r.Owner)
	binary.LittleEndian.PutUint32(buf[dataLengthOffset:], uint32(len(r.Data)))
	copy(buf[HeaderSize:], r.Data)

	r.raw = buf
	return buf, nil
}

// DecodeHeader parses the fixed part of a record. b must hold at least
// HeaderSize bytes; extra bytes are ignored.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, &CorruptRecordError{Reason: fmt.Sprintf("header has %d bytes, want %d", len(b), HeaderSize)}
	}

	if err := checkSlots(b[:HeaderSize]); err != nil {
		return h, err
	}

	copy(h.PreviousHash[:], b[previousHashOffset:])
	h.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(b[timestampOffset:]))
	copy(h.CaseID[:], b[caseIDOffset:caseIDOffset+len(h.CaseID)])
	h.ItemID = binary.LittleEndian.Uint32(b[itemIDOffset:])
	h.Creator = trimField(b[creatorOffset : creatorOffset+CreatorSize])
	h.Owner = trimField(b[ownerOffset : ownerOffset+OwnerSize])
	h.DataLength = binary.LittleEndian.Uint32(b[dataLengthOffset:])

	// checked by checkSlots
	h.State, _ = ParseState(trimField(b[stateOffset : stateOffset+StateSize]))

	if h.DataLength > MaxDataLength {
		return h, &CorruptRecordError{Reason: fmt.Sprintf("data length %d exceeds %d", h.DataLength, MaxDataLength)}
	}
	return h, nil
}

// Decode parses a complete record. The record keeps a copy of exactly the
// bytes it occupies, so Hash matches what the next record must reference.
func Decode(b []byte) (*Record, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	size := HeaderSize + int(h.DataLength)
	if len(b) < size {
		return nil, &CorruptRecordError{Reason: fmt.Sprintf("record has %d bytes, want %d", len(b), size)}
	}
	data := b[HeaderSize:size]
	if !utf8.Valid(data) {
		return nil, &CorruptRecordError{Reason: "data is not valid UTF-8"}
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, &CorruptRecordError{Reason: "data contains a NUL byte"}
	}

	raw := make([]byte, size)
	copy(raw, b[:size])
	return &Record{
		PreviousHash: h.PreviousHash,
		Timestamp:    h.Timestamp,
		CaseID:       h.CaseID,
		ItemID:       h.ItemID,
		State:        h.State,
		Creator:      h.Creator,
		Owner:        h.Owner,
		Data:         string(data),
		raw:          raw,
	}, nil
}

// CheckHeaderPrefix validates the slots that lie entirely within b, a
// header cut short by the end of the file. A prefix written by Encode always
// passes; bytes that fail cannot be the start of a record.
func CheckHeaderPrefix(b []byte) error {
	if len(b) > HeaderSize {
		b = b[:HeaderSize]
	}
	return checkSlots(b)
}

// CheckPayloadPrefix validates the first bytes of a payload cut short by
// the end of the file. Payloads never contain NUL, while every header does,
// so a NUL here means the declared length runs over later records.
func CheckPayloadPrefix(b []byte) error {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return &CorruptRecordError{Reason: fmt.Sprintf("data length runs past end of file over binary data at payload byte %d", i)}
	}
	return nil
}

// checkSlots verifies padding and the state tag for every slot that fits
// in b. Slots that are only partly present are skipped.
func checkSlots(b []byte) error {
	has := func(off, size int) bool { return len(b) >= off+size }

	if has(caseIDOffset, CaseIDSize) && !allZero(b[caseIDOffset+caseIDBytes:caseIDOffset+CaseIDSize]) {
		return &CorruptRecordError{Reason: "case id padding is not zero"}
	}
	if has(itemIDOffset, ItemIDSize) && !allZero(b[itemIDOffset+itemIDBytes:itemIDOffset+ItemIDSize]) {
		return &CorruptRecordError{Reason: "item id padding is not zero"}
	}

	slots := []struct {
		name      string
		off, size int
	}{
		{"state", stateOffset, StateSize},
		{"creator", creatorOffset, CreatorSize},
		{"owner", ownerOffset, OwnerSize},
	}
	for _, sl := range slots {
		if !has(sl.off, sl.size) {
			break
		}
		slot := b[sl.off : sl.off+sl.size]
		if i := bytes.IndexByte(slot, 0); i >= 0 && !allZero(slot[i:]) {
			return &CorruptRecordError{Reason: sl.name + " slot has bytes after its NUL padding"}
		}
	}
	if has(stateOffset, StateSize) {
		if _, err := ParseState(trimField(b[stateOffset : stateOffset+StateSize])); err != nil {
			return &CorruptRecordError{Reason: err.Error()}
		}
	}
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func checkField(name, value string, size int) error {
	if len(value) > size {
		return fmt.Errorf("%s %q: %w", name, value, ErrFieldTooLong)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%s %q: %w", name, value, ErrInvalidText)
	}
	return nil
}

// trimField strips NUL padding from a fixed-width text slot.
func trimField(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
