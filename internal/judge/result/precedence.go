package result

import (
	"ojsubmit/pkg/errors"
)

// precedence orders in-run outcomes, higher is more severe.
// Pending, CompilationError and UnknownError are absent on purpose.
var precedence = map[Kind]int{
	KindAccepted:          0,
	KindPartialPoints:     1,
	KindWrongAnswer:       2,
	KindTimeLimitExceeded: 3,
	KindRuntimeError:      4,
}

// Precedence returns the severity of k and whether k takes part in the ordering.
func Precedence(k Kind) (int, bool) {
	rank, ok := precedence[k]
	return rank, ok
}

// Resolution is the outcome of Reduce.
type Resolution struct {
	Status Status
	// DecidingTestID is the test case whose status was selected.
	// Nil when the verdict did not come from a test case.
	DecidingTestID *int
}

// Reduce folds the prepare outcome and per-testcase results into one status.
//
//   - a failed prepare step yields CompilationError and the tests are ignored
//   - no tests yields Accepted
//   - otherwise the most severe status wins, ties go to the lowest test id
//
// A test whose status is outside the precedence table yields an
// InconsistentVerdict error naming the lowest such test id.
func Reduce(prepare *PrepareOutcome, tests []TestcaseResult) (Resolution, error) {
	if prepare != nil && !prepare.OK {
		return Resolution{Status: CompilationError}, nil
	}
	if len(tests) == 0 {
		return Resolution{Status: Accepted}, nil
	}

	var (
		worst     *TestcaseResult
		worstRank = -1
		offending *TestcaseResult
	)
	for i := range tests {
		tc := &tests[i]
		rank, ok := Precedence(tc.Status.Kind)
		if !ok {
			if offending == nil || tc.ID < offending.ID {
				offending = tc
			}
			continue
		}
		if rank > worstRank || (rank == worstRank && tc.ID < worst.ID) {
			worst = tc
			worstRank = rank
		}
	}

	if offending != nil {
		return Resolution{}, errors.Newf(errors.InconsistentVerdict,
			"test case %d reported status %q outside the verdict vocabulary", offending.ID, offending.Status.Kind).
			WithDetail("test_id", offending.ID).
			WithDetail("status", string(offending.Status.Kind))
	}

	id := worst.ID
	return Resolution{Status: Status{Kind: worst.Status.Kind}, DecidingTestID: &id}, nil
}
