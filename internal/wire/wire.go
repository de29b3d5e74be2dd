package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("querycache: corrupt tier record")
	magic4     = [...]byte{'Q', 'C', 'T', 'R'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record is one tier entry: the payload of a successful fetch plus the
// generation observed before the fetch started and the completion time.
type Record struct {
	Gen       uint64
	FetchedAt time.Time
	Payload   []byte
}

// Entry: magic(4) | ver(1) | kind(1=entry) | gen(u64 be) | fetchedAt(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
func EncodeEntry(gen uint64, fetchedAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	var ts int64
	if !fetchedAt.IsZero() {
		ts = fetchedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(ts))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry parses an entry record. Framing is strict: trailing bytes are
// rejected. The returned payload aliases b.
func DecodeEntry(b []byte) (Record, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Record{}, ErrCorrupt
	}

	off := 6

	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	ts := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Record{}, ErrCorrupt
	}

	var at time.Time
	if ts != 0 {
		at = time.Unix(0, ts)
	}
	return Record{Gen: gen, FetchedAt: at, Payload: b[off : off+vlen]}, nil
}
