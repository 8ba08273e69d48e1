package submissionid

import (
	"encoding/binary"
	"fmt"
	"strings"

	"ojsubmit/pkg/errors"

	"github.com/google/uuid"
	"lukechampine.com/uint128"
)

const totalBits = 128

// Layout describes the field widths of a packed identifier, MSB to LSB:
// timestamp, contest, problem, entropy, then reserved bits up to 128.
type Layout struct {
	Name      string
	Timestamp uint
	Contest   uint
	Problem   uint
	Entropy   uint
}

var (
	// Canonical is the layout produced by Encode.
	Canonical = Layout{Name: "canonical", Timestamp: 41, Contest: 32, Problem: 32, Entropy: 16}
	// Legacy is the older layout with a 26-bit contest field.
	// Identifiers carry no layout marker, so a caller decoding with
	// Legacy must already know the identifier was produced by it.
	Legacy = Layout{Name: "legacy", Timestamp: 41, Contest: 26, Problem: 32, Entropy: 16}
)

// Fields holds the decoded components of an identifier.
type Fields struct {
	Timestamp uint64 `json:"timestamp"`
	ContestID uint32 `json:"contest_id"`
	ProblemID uint32 `json:"problem_id"`
	Entropy   uint16 `json:"entropy"`
}

// LayoutByName returns the named layout. The name must come from the
// caller; it can not be recovered from an identifier.
func LayoutByName(name string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Canonical.Name:
		return Canonical, nil
	case Legacy.Name:
		return Legacy, nil
	default:
		return Layout{}, errors.Newf(errors.InvalidLayout, "unknown layout %q", name)
	}
}

// Reserved returns the number of always-zero low bits.
func (l Layout) Reserved() uint {
	return totalBits - (l.Timestamp + l.Contest + l.Problem + l.Entropy)
}

// Validate checks that every field fits its Go output type and the total fits 128 bits.
func (l Layout) Validate() error {
	switch {
	case l.Timestamp == 0 || l.Timestamp > 64:
		return errors.Newf(errors.InvalidLayout, "timestamp width %d out of range", l.Timestamp)
	case l.Contest == 0 || l.Contest > 32:
		return errors.Newf(errors.InvalidLayout, "contest width %d out of range", l.Contest)
	case l.Problem == 0 || l.Problem > 32:
		return errors.Newf(errors.InvalidLayout, "problem width %d out of range", l.Problem)
	case l.Entropy == 0 || l.Entropy > 16:
		return errors.Newf(errors.InvalidLayout, "entropy width %d out of range", l.Entropy)
	case l.Timestamp+l.Contest+l.Problem+l.Entropy > totalBits:
		return errors.Newf(errors.InvalidLayout, "layout uses more than %d bits", totalBits)
	}
	return nil
}

func (l Layout) String() string {
	return fmt.Sprintf("%s[ts:%d contest:%d problem:%d entropy:%d reserved:%d]",
		l.Name, l.Timestamp, l.Contest, l.Problem, l.Entropy, l.Reserved())
}

// MaxTimestamp is the largest timestamp the layout stores without truncation.
func (l Layout) MaxTimestamp() uint64 { return mask(l.Timestamp) }

func (l Layout) entropyShift() uint   { return l.Reserved() }
func (l Layout) problemShift() uint   { return l.entropyShift() + l.Entropy }
func (l Layout) contestShift() uint   { return l.problemShift() + l.Problem }
func (l Layout) timestampShift() uint { return l.contestShift() + l.Contest }

// Encode packs the fields into an identifier. Values wider than their slot
// lose their high bits; callers validate ranges before encoding.
// A nil contestID encodes as 0, meaning no contest.
func (l Layout) Encode(timestampMillis uint64, problemID uint32, contestID *uint32, submitter uuid.UUID) ID {
	var contest uint64
	if contestID != nil {
		contest = uint64(*contestID)
	}
	v := place(timestampMillis, l.Timestamp, l.timestampShift())
	v = v.Or(place(contest, l.Contest, l.contestShift()))
	v = v.Or(place(uint64(problemID), l.Problem, l.problemShift()))
	v = v.Or(place(uint64(Entropy(submitter)), l.Entropy, l.entropyShift()))
	return ID{v: v}
}

// Decode unpacks every field of id under this layout. Non-zero reserved bits
// mean the value was not produced by this layout and yield MalformedIdentifier.
func (l Layout) Decode(id ID) (Fields, error) {
	if err := l.Validate(); err != nil {
		return Fields{}, err
	}
	if !l.reservedClear(id) {
		return Fields{}, errors.Newf(errors.MalformedIdentifier,
			"identifier %s has non-zero reserved bits for %s layout", id, l.Name)
	}
	return Fields{
		Timestamp: l.extract(id, l.timestampShift(), l.Timestamp),
		ContestID: uint32(l.extract(id, l.contestShift(), l.Contest)),
		ProblemID: uint32(l.extract(id, l.problemShift(), l.Problem)),
		Entropy:   uint16(l.extract(id, l.entropyShift(), l.Entropy)),
	}, nil
}

func (l Layout) extract(id ID, shift, width uint) uint64 {
	return id.v.Rsh(shift).And64(mask(width)).Lo
}

func (l Layout) reservedClear(id ID) bool {
	return id.v.TrailingZeros() >= int(l.Reserved())
}

func place(value uint64, width, shift uint) uint128.Uint128 {
	return uint128.From64(value & mask(width)).Lsh(shift)
}

// mask returns width low ones; width 64 yields all ones.
func mask(width uint) uint64 {
	return uint64(1)<<width - 1
}

// Entropy returns the 16-bit time_mid field of a submitter UUID.
func Entropy(submitter uuid.UUID) uint16 {
	return binary.BigEndian.Uint16(submitter[4:6])
}
