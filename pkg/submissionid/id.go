// Package submissionid packs a submission's time, contest, problem and
// submitter entropy into one 128-bit identifier and unpacks it again.
//
// The identifier is held once, as an unsigned 128-bit integer. Bytes and
// BitString are views computed from it on demand. Its external form is the
// decimal string, since 128-bit integers do not survive 53-bit numeric types.
package submissionid

import (
	"fmt"
	"math/big"
	"time"

	"ojsubmit/pkg/errors"

	"github.com/google/uuid"
	"lukechampine.com/uint128"
)

const resourcePrefix = "submission:"

// ID is a packed submission identifier.
// Layout, MSB to LSB: [timestamp:41][contest:32][problem:32][entropy:16][reserved:7].
type ID struct {
	v uint128.Uint128
}

// Zero is the empty identifier.
var Zero ID

// Encode packs the fields with the canonical layout. It does not read the clock.
func Encode(timestampMillis uint64, problemID uint32, contestID *uint32, submitter uuid.UUID) ID {
	return Canonical.Encode(timestampMillis, problemID, contestID, submitter)
}

// FromUint128 wraps a raw value.
func FromUint128(v uint128.Uint128) ID {
	return ID{v: v}
}

// Uint128 returns the raw value.
func (id ID) Uint128() uint128.Uint128 {
	return id.v
}

func (id ID) IsZero() bool {
	return id.v.IsZero()
}

// Timestamp returns the embedded milliseconds since the Unix epoch.
func (id ID) Timestamp() uint64 {
	return Canonical.extract(id, Canonical.timestampShift(), Canonical.Timestamp)
}

// ContestID returns the embedded contest id; 0 means no contest.
func (id ID) ContestID() uint32 {
	return uint32(Canonical.extract(id, Canonical.contestShift(), Canonical.Contest))
}

func (id ID) ProblemID() uint32 {
	return uint32(Canonical.extract(id, Canonical.problemShift(), Canonical.Problem))
}

func (id ID) Entropy() uint16 {
	return uint16(Canonical.extract(id, Canonical.entropyShift(), Canonical.Entropy))
}

// Time returns the embedded timestamp in UTC.
func (id ID) Time() time.Time {
	return time.UnixMilli(int64(id.Timestamp())).UTC()
}

// Fields decodes every field under the canonical layout.
func (id ID) Fields() (Fields, error) {
	return Canonical.Decode(id)
}

// Validate reports MalformedIdentifier if the reserved bits are set.
func (id ID) Validate() error {
	if !Canonical.reservedClear(id) {
		return errors.Newf(errors.MalformedIdentifier, "identifier %s has non-zero reserved bits", id)
	}
	return nil
}

// String returns the decimal form.
func (id ID) String() string {
	return id.v.String()
}

// ResourceKey returns "submission:<decimal>".
func (id ID) ResourceKey() string {
	return resourcePrefix + id.String()
}

// Bytes returns the 16-byte big-endian form.
func (id ID) Bytes() []byte {
	b := make([]byte, 16)
	id.v.PutBytesBE(b)
	return b
}

// BitString returns the 128 bits, most significant first.
func (id ID) BitString() string {
	return fmt.Sprintf("%064b%064b", id.v.Hi, id.v.Lo)
}

// FromBytes reads a 16-byte big-endian identifier.
func FromBytes(b []byte) (ID, error) {
	if len(b) != 16 {
		return Zero, errors.Newf(errors.MalformedIdentifier, "identifier must be 16 bytes, got %d", len(b))
	}
	return ID{v: uint128.FromBytesBE(b)}, nil
}

// Parse reads the decimal form. Only ASCII digits are accepted and the value
// must be below 2^128.
func Parse(s string) (ID, error) {
	if s == "" {
		return Zero, errors.Newf(errors.MalformedIdentifier, "identifier is empty")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Zero, errors.Newf(errors.MalformedIdentifier, "identifier %q is not a decimal number", s)
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Zero, errors.Newf(errors.MalformedIdentifier, "identifier %q is not a decimal number", s)
	}
	if n.BitLen() > totalBits {
		return Zero, errors.Newf(errors.MalformedIdentifier, "identifier %q exceeds 128 bits", s)
	}
	return ID{v: uint128.FromBig(n)}, nil
}

// ParseResourceKey reads the "submission:<decimal>" form.
func ParseResourceKey(key string) (ID, error) {
	if len(key) <= len(resourcePrefix) || key[:len(resourcePrefix)] != resourcePrefix {
		return Zero, errors.Newf(errors.MalformedIdentifier, "resource key %q has no %q prefix", key, resourcePrefix)
	}
	return Parse(key[len(resourcePrefix):])
}
