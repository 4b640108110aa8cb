package id

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"time"
)

// ID is a 128-bit, lexicographically sortable message identifier encoded as
// 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence]. Sorting IDs
// byte-wise sorts them by creation time, which keeps index scans in
// insertion order.
type ID [16]byte

var zero ID

// ErrInvalidID is returned when parsing a malformed identifier.
var ErrInvalidID = errors.New("id: invalid identifier")

// Bytes returns a copy of the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// IsZero reports whether the ID is the zero value.
func (i ID) IsZero() bool { return i == zero }

// String returns the 32-char lowercase hex form.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// TimeMs returns the millisecond timestamp component.
func (i ID) TimeMs() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// Compare returns -1, 0 or 1 by lexical comparison.
func (i ID) Compare(other ID) int {
	for n := 0; n < 16; n++ {
		if i[n] < other[n] {
			return -1
		}
		if i[n] > other[n] {
			return 1
		}
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Parse decodes a 32-char hex identifier.
func Parse(s string) (ID, error) {
	if len(s) != 32 {
		return ID{}, ErrInvalidID
	}
	var out ID
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return ID{}, ErrInvalidID
	}
	return out, nil
}

// FromBytes copies a raw 16-byte identifier.
func FromBytes(b []byte) (ID, error) {
	if len(b) != 16 {
		return ID{}, ErrInvalidID
	}
	var out ID
	copy(out[:], b)
	return out, nil
}

// NowMs returns current time in milliseconds since the Unix epoch.
// Overridable in tests.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Generator produces monotonically increasing IDs per process. If the wall
// clock goes backwards it keeps using the last observed millisecond and
// bumps the sequence instead.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator creates a Generator.
func NewGenerator() *Generator { return &Generator{} }

// Next returns a new ID strictly greater than any previously returned one.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq++
	} else {
		g.seq = 0
	}
	g.lastMs = ms

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(ms))
	binary.BigEndian.PutUint64(out[8:16], g.seq)
	return out
}

// tokenRand is swappable for deterministic tests.
var tokenRand io.Reader = rand.Reader

// NewToken returns a 32-char random hex lease token. Tokens only need to be
// unguessable enough to fence stale lease holders, not globally unique IDs.
func NewToken() string {
	var buf [16]byte
	if _, err := io.ReadFull(tokenRand, buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to a
		// timestamped token rather than returning an empty fence value.
		binary.BigEndian.PutUint64(buf[0:8], uint64(NowMs()))
		binary.BigEndian.PutUint64(buf[8:16], uint64(time.Now().UnixNano()))
	}
	return hex.EncodeToString(buf[:])
}
