// Package objectid implements the MongoDB ObjectID value (spec §3) and its
// generator.
//
// The source this system is modeled on keeps process-global randomness and
// a bare counter (spec §9, "Ambient process state"). That is replaced here
// with an explicit Generator value constructed once at startup and threaded
// through the document backend, with atomic counter semantics — no package
// level mutable state.
package objectid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// Size is the length in bytes of an ObjectID.
const Size = 12

// ObjectID is a 12-byte identifier: timestamp(4, big-endian seconds) |
// processRandom(5) | counter(3, big-endian, wraps at 2^24).
type ObjectID [Size]byte

// Nil is the zero-value ObjectID.
var Nil ObjectID

// IsZero reports whether id is the zero-value ObjectID.
func (id ObjectID) IsZero() bool {
	return id == Nil
}

// Hex returns the 24-char lowercase hex string form (spec §6: "24-char
// lowercase hex in JSON").
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer as the hex form, matching how the value
// prints in logs and error messages.
func (id ObjectID) String() string {
	return id.Hex()
}

// Timestamp extracts the embedded creation time.
func (id ObjectID) Timestamp() time.Time {
	secs := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(secs), 0).UTC()
}

// MarshalJSON implements json.Marshaler using the hex string form.
func (id ObjectID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.Hex() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler from the hex string form.
func (id *ObjectID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("objectid: invalid JSON value %q", data)
	}
	parsed, err := FromHex(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FromHex parses a 24-char hex string (either case) into an ObjectID.
func FromHex(s string) (ObjectID, error) {
	if len(s) != 24 {
		return Nil, fmt.Errorf("objectid: invalid hex length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, fmt.Errorf("objectid: invalid hex: %w", err)
	}
	var id ObjectID
	copy(id[:], b)
	return id, nil
}

// IsValidHex reports whether s has the shape of an ObjectID hex string,
// without allocating an ObjectID.
func IsValidHex(s string) bool {
	if len(s) != 24 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Generator produces ObjectIDs for a single process. processRandom is fixed
// at construction; counter increments atomically and wraps at 2^24 (spec
// §3). Two ObjectIDs produced by the same Generator within one second are
// strictly ordered by counter (spec §8 invariant).
type Generator struct {
	processRandom [5]byte
	counter       uint32 // low 24 bits significant; atomic
	now           func() time.Time
}

// NewGenerator builds a Generator with freshly seeded process-random bytes
// and a uniformly random counter seed, per spec §3.
func NewGenerator() (*Generator, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("objectid: seeding generator: %w", err)
	}
	g := &Generator{now: time.Now}
	copy(g.processRandom[:], buf[:5])
	seed := binary.BigEndian.Uint32(append([]byte{0}, buf[5:8]...))
	g.counter = seed & 0x00FFFFFF
	return g, nil
}

// New produces the next ObjectID from the generator.
func (g *Generator) New() ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(g.now().Unix()))
	copy(id[4:9], g.processRandom[:])

	c := atomic.AddUint32(&g.counter, 1) & 0x00FFFFFF
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}
