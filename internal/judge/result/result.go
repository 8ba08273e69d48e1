package result

import "sort"

// JudgeStatus represents the lifecycle state of a submission.
type JudgeStatus string

const (
	StatusPending  JudgeStatus = "Pending"
	StatusRunning  JudgeStatus = "Running"
	StatusFinished JudgeStatus = "Finished"
	StatusFailed   JudgeStatus = "Failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JudgeStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// CanTransition reports whether a submission may move from s to next.
// Pending may finish directly when preparation fails.
func (s JudgeStatus) CanTransition(next JudgeStatus) bool {
	switch s {
	case "", StatusPending:
		return next == StatusRunning || next == StatusFinished || next == StatusFailed
	case StatusRunning:
		return next == StatusFinished || next == StatusFailed
	default:
		return false
	}
}

// ProcessOutput is the raw output of one process run.
type ProcessOutput struct {
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// PrepareOutcome is the result of the compile or prepare step.
type PrepareOutcome struct {
	OK     bool           `json:"ok"`
	Output *ProcessOutput `json:"output,omitempty"`
}

// TestcaseResult is one test case outcome reported by the execution engine.
type TestcaseResult struct {
	ID     int            `json:"id"`
	Status Status         `json:"status"`
	Output *ProcessOutput `json:"output,omitempty"`
}

// Timestamps captures submission lifecycle timestamps.
type Timestamps struct {
	ReceivedAt int64 `json:"received_at"`
	FinishedAt int64 `json:"finished_at"`
}

// JudgeResult is the overall result of a submission. It is built once by
// Resolve and not modified afterwards.
type JudgeResult struct {
	Overall        Status           `json:"overall"`
	DecidingTestID *int             `json:"deciding_test_id,omitempty"`
	Tests          []TestcaseResult `json:"tests"`
	Prepare        *ProcessOutput   `json:"prepare,omitempty"`
}

// Resolve runs Reduce and assembles the overall result. Tests are copied
// and ordered by id.
func Resolve(prepare *PrepareOutcome, tests []TestcaseResult) (JudgeResult, error) {
	res, err := Reduce(prepare, tests)
	if err != nil {
		return JudgeResult{}, err
	}
	ordered := make([]TestcaseResult, len(tests))
	copy(ordered, tests)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	out := JudgeResult{
		Overall:        res.Status,
		DecidingTestID: res.DecidingTestID,
		Tests:          ordered,
	}
	if prepare != nil {
		out.Prepare = prepare.Output
	}
	return out, nil
}
