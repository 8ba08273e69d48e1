package service

import (
	"time"

	"ojsubmit/pkg/submissionid"
)

// Identity is the decoded view of a submission identifier.
type Identity struct {
	SubmissionID string    `json:"submission_id"`
	Layout       string    `json:"layout"`
	Timestamp    uint64    `json:"timestamp"`
	Time         time.Time `json:"time"`
	ContestID    uint32    `json:"contest_id"`
	ProblemID    uint32    `json:"problem_id"`
	ProblemKind  string    `json:"problem_kind,omitempty"`
	Entropy      uint16    `json:"entropy"`
	ResourceKey  string    `json:"resource_key"`
	Bits         string    `json:"bits"`
}

// Describe decodes rawID under the named layout. An empty name selects the
// canonical layout. The legacy layout must be asked for by name.
func (s *SubmitService) Describe(rawID, layoutName string) (Identity, error) {
	return DescribeID(rawID, layoutName)
}

// DescribeID is Describe without a service.
func DescribeID(rawID, layoutName string) (Identity, error) {
	layout, err := submissionid.LayoutByName(layoutName)
	if err != nil {
		return Identity{}, err
	}
	id, err := submissionid.Parse(rawID)
	if err != nil {
		return Identity{}, err
	}
	fields, err := layout.Decode(id)
	if err != nil {
		return Identity{}, err
	}
	out := Identity{
		SubmissionID: id.String(),
		Layout:       layout.Name,
		Timestamp:    fields.Timestamp,
		Time:         time.UnixMilli(int64(fields.Timestamp)).UTC(),
		ContestID:    fields.ContestID,
		ProblemID:    fields.ProblemID,
		Entropy:      fields.Entropy,
		ResourceKey:  id.ResourceKey(),
		Bits:         id.BitString(),
	}
	// Legacy ids carry the problem kind in the top bit of the problem field.
	if layout.Name == submissionid.Legacy.Name {
		out.ProblemID = submissionid.UntagProblemID(fields.ProblemID)
		out.ProblemKind = submissionid.KindOf(fields.ProblemID).String()
	}
	return out, nil
}
