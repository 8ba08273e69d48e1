// Package result defines verdict statuses and the rules that fold
// per-testcase outcomes into one overall judgment.
package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the tag of a Status.
type Kind string

const (
	KindPending           Kind = "pending"
	KindAccepted          Kind = "accepted"
	KindWrongAnswer       Kind = "wrong_answer"
	KindTimeLimitExceeded Kind = "time_limit_exceeded"
	KindRuntimeError      Kind = "runtime_error"
	KindPartialPoints     Kind = "partial_points"
	KindCompilationError  Kind = "compilation_error"
	KindUnknownError      Kind = "unknown_error"
)

var kinds = []Kind{
	KindPending,
	KindAccepted,
	KindWrongAnswer,
	KindTimeLimitExceeded,
	KindRuntimeError,
	KindPartialPoints,
	KindCompilationError,
	KindUnknownError,
}

var displayNames = map[Kind]string{
	KindPending:           "Pending",
	KindAccepted:          "Accepted",
	KindWrongAnswer:       "Wrong Answer",
	KindTimeLimitExceeded: "Time Limit Exceeded",
	KindRuntimeError:      "Runtime Error",
	KindPartialPoints:     "Partial Execution",
	KindCompilationError:  "Compilation Error",
	KindUnknownError:      "UnknownError",
}

// Kinds returns every known kind.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := displayNames[k]
	return ok
}

// DisplayName returns the human readable name.
func (k Kind) DisplayName() string {
	if name, ok := displayNames[k]; ok {
		return name
	}
	return string(k)
}

// Status is a verdict. Detail is only set for KindUnknownError.
// The zero value is Pending.
type Status struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

var (
	Pending           = Status{Kind: KindPending}
	Accepted          = Status{Kind: KindAccepted}
	WrongAnswer       = Status{Kind: KindWrongAnswer}
	TimeLimitExceeded = Status{Kind: KindTimeLimitExceeded}
	RuntimeError      = Status{Kind: KindRuntimeError}
	PartialPoints     = Status{Kind: KindPartialPoints}
	CompilationError  = Status{Kind: KindCompilationError}
)

// UnknownError builds the catch-all status.
func UnknownError(detail string) Status {
	return Status{Kind: KindUnknownError, Detail: detail}
}

// Normalize maps the empty kind to Pending.
func (s Status) Normalize() Status {
	if s.Kind == "" {
		return Pending
	}
	return s
}

// IsPending reports whether judging has not produced a verdict yet.
func (s Status) IsPending() bool {
	return s.Normalize().Kind == KindPending
}

// String returns the display form, e.g. "Wrong Answer" or "UnknownError:(detail)".
func (s Status) String() string {
	s = s.Normalize()
	if s.Kind == KindUnknownError {
		return fmt.Sprintf("UnknownError:(%s)", s.Detail)
	}
	return s.Kind.DisplayName()
}

// ParseStatus accepts the kind form ("wrong_answer"), the display form
// ("Wrong Answer") or "UnknownError:(detail)". Anything else becomes
// UnknownError carrying the raw text.
func ParseStatus(raw string) Status {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Pending
	}
	if strings.HasPrefix(text, "UnknownError:(") && strings.HasSuffix(text, ")") {
		return UnknownError(text[len("UnknownError:(") : len(text)-1])
	}
	for _, k := range kinds {
		if k == KindUnknownError {
			continue
		}
		if text == string(k) || strings.EqualFold(text, displayNames[k]) {
			return Status{Kind: k}
		}
	}
	return UnknownError(text)
}

// UnmarshalJSON accepts the object form or a bare string. Kinds outside
// Kinds() decode as UnknownError carrying the raw kind, and Detail is
// dropped for every kind except KindUnknownError.
func (s *Status) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*s = ParseStatus(text)
		return nil
	}
	var raw struct {
		Kind   Kind   `json:"kind"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Kind == "":
		*s = Pending
	case raw.Kind == KindUnknownError:
		*s = UnknownError(raw.Detail)
	case raw.Kind.Valid():
		*s = Status{Kind: raw.Kind}
	default:
		*s = UnknownError(string(raw.Kind))
	}
	return nil
}
