package result

import "fmt"

// Testlib checker exit codes.
const (
	TestlibAccepted         = 0
	TestlibWrongAnswer      = 1
	TestlibFormatError      = 2
	TestlibPartialExecution = 7
)

// cmp(1) exit codes.
const (
	CmpEqual     = 0
	CmpDifferent = 1
	CmpProblem   = 2
)

// FromTestlibExit maps a testlib checker exit code to a status.
// A presentation error counts as a wrong answer.
func FromTestlibExit(code int) Status {
	switch code {
	case TestlibAccepted:
		return Accepted
	case TestlibWrongAnswer, TestlibFormatError:
		return WrongAnswer
	case TestlibPartialExecution:
		return PartialPoints
	default:
		return UnknownError(fmt.Sprintf("testlib exit code %d", code))
	}
}

// FromCmpExit maps a cmp exit code to a status.
func FromCmpExit(code int) Status {
	switch code {
	case CmpEqual:
		return Accepted
	case CmpDifferent:
		return WrongAnswer
	case CmpProblem:
		return UnknownError("cmp failed to compare outputs")
	default:
		return UnknownError(fmt.Sprintf("cmp exit code %d", code))
	}
}
