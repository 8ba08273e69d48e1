package result_test

import (
	"testing"

	"ojsubmit/internal/judge/result"
	"ojsubmit/pkg/errors"
)

func testcases(statuses ...result.Status) []result.TestcaseResult {
	out := make([]result.TestcaseResult, len(statuses))
	for i, s := range statuses {
		out[i] = result.TestcaseResult{ID: i + 1, Status: s}
	}
	return out
}

func TestReduce(t *testing.T) {
	t.Parallel()
	ok := &result.PrepareOutcome{OK: true}
	failed := &result.PrepareOutcome{OK: false}

	cases := []struct {
		name     string
		prepare  *result.PrepareOutcome
		tests    []result.TestcaseResult
		want     result.Status
		deciding int
	}{
		{
			name:     "runtime error dominates",
			prepare:  ok,
			tests:    testcases(result.Accepted, result.WrongAnswer, result.RuntimeError),
			want:     result.RuntimeError,
			deciding: 3,
		},
		{
			name:     "all accepted",
			tests:    testcases(result.Accepted, result.Accepted),
			want:     result.Accepted,
			deciding: 1,
		},
		{
			name:  "no tests is a vacuous pass",
			tests: nil,
			want:  result.Accepted,
		},
		{
			name:    "compile failure short circuits",
			prepare: failed,
			tests:   testcases(result.Accepted, result.RuntimeError),
			want:    result.CompilationError,
		},
		{
			name:    "compile failure ignores foreign statuses",
			prepare: failed,
			tests:   testcases(result.UnknownError("boom")),
			want:    result.CompilationError,
		},
		{
			name:     "partial beats accepted",
			tests:    testcases(result.Accepted, result.PartialPoints),
			want:     result.PartialPoints,
			deciding: 2,
		},
		{
			name:     "time limit beats wrong answer",
			tests:    testcases(result.TimeLimitExceeded, result.WrongAnswer, result.PartialPoints),
			want:     result.TimeLimitExceeded,
			deciding: 1,
		},
	}
	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := result.Reduce(tt.prepare, tt.tests)
			if err != nil {
				t.Fatalf("reduce failed: %v", err)
			}
			if res.Status != tt.want {
				t.Fatalf("status = %v, want %v", res.Status, tt.want)
			}
			if tt.deciding == 0 {
				if res.DecidingTestID != nil {
					t.Fatalf("expected no deciding test, got %d", *res.DecidingTestID)
				}
				return
			}
			if res.DecidingTestID == nil || *res.DecidingTestID != tt.deciding {
				t.Fatalf("deciding test = %v, want %d", res.DecidingTestID, tt.deciding)
			}
		})
	}
}

func TestReduceTieBreaksOnLowestID(t *testing.T) {
	t.Parallel()
	in := []result.TestcaseResult{
		{ID: 9, Status: result.WrongAnswer},
		{ID: 4, Status: result.Accepted},
		{ID: 5, Status: result.WrongAnswer},
		{ID: 7, Status: result.WrongAnswer},
	}
	for i := 0; i < 3; i++ {
		res, err := result.Reduce(nil, in)
		if err != nil {
			t.Fatalf("reduce failed: %v", err)
		}
		if res.Status != result.WrongAnswer || res.DecidingTestID == nil || *res.DecidingTestID != 5 {
			t.Fatalf("unexpected resolution %+v", res)
		}
	}
}

func TestReduceIsOrderIndependent(t *testing.T) {
	t.Parallel()
	a := []result.TestcaseResult{
		{ID: 1, Status: result.TimeLimitExceeded},
		{ID: 2, Status: result.TimeLimitExceeded},
		{ID: 3, Status: result.Accepted},
	}
	b := []result.TestcaseResult{a[2], a[1], a[0]}
	ra, errA := result.Reduce(nil, a)
	rb, errB := result.Reduce(nil, b)
	if errA != nil || errB != nil {
		t.Fatalf("reduce failed: %v %v", errA, errB)
	}
	if ra.Status != rb.Status || *ra.DecidingTestID != *rb.DecidingTestID {
		t.Fatalf("order changed the resolution: %+v vs %+v", ra, rb)
	}
}

func TestReduceSurfacesInconsistentStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		status result.Status
	}{
		{name: "pending", status: result.Pending},
		{name: "zero value", status: result.Status{}},
		{name: "compilation error", status: result.CompilationError},
		{name: "unknown error", status: result.UnknownError("sandbox crashed")},
		{name: "foreign kind", status: result.Status{Kind: "memory_limit_exceeded"}},
	}
	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := []result.TestcaseResult{
				{ID: 1, Status: result.RuntimeError},
				{ID: 8, Status: tt.status},
				{ID: 3, Status: tt.status},
			}
			_, err := result.Reduce(&result.PrepareOutcome{OK: true}, in)
			if !errors.Is(err, errors.InconsistentVerdict) {
				t.Fatalf("expected InconsistentVerdict, got %v", err)
			}
			if got := errors.GetError(err).Details["test_id"]; got != 3 {
				t.Fatalf("expected lowest offending test id 3, got %v", got)
			}
		})
	}
}

func TestPrecedence(t *testing.T) {
	t.Parallel()
	order := []result.Kind{
		result.KindAccepted,
		result.KindPartialPoints,
		result.KindWrongAnswer,
		result.KindTimeLimitExceeded,
		result.KindRuntimeError,
	}
	for i, k := range order {
		rank, ok := result.Precedence(k)
		if !ok || rank != i {
			t.Fatalf("Precedence(%s) = %d, %v; want %d", k, rank, ok, i)
		}
	}
	for _, k := range []result.Kind{result.KindPending, result.KindCompilationError, result.KindUnknownError} {
		if _, ok := result.Precedence(k); ok {
			t.Fatalf("%s must not be ranked", k)
		}
	}
}

func TestResolveAssemblesResult(t *testing.T) {
	t.Parallel()
	exit := 1
	prepare := &result.PrepareOutcome{OK: true, Output: &result.ProcessOutput{Stdout: "built"}}
	in := []result.TestcaseResult{
		{ID: 2, Status: result.WrongAnswer, Output: &result.ProcessOutput{ExitCode: &exit}},
		{ID: 1, Status: result.Accepted},
	}
	res, err := result.Resolve(prepare, in)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Overall != result.WrongAnswer || *res.DecidingTestID != 2 {
		t.Fatalf("unexpected verdict %+v", res)
	}
	if len(res.Tests) != 2 || res.Tests[0].ID != 1 || res.Tests[1].ID != 2 {
		t.Fatalf("tests should be ordered by id: %+v", res.Tests)
	}
	if in[0].ID != 2 {
		t.Fatalf("input slice must not be reordered")
	}
	if res.Prepare == nil || res.Prepare.Stdout != "built" {
		t.Fatalf("prepare output missing")
	}
}

func TestResolveCompileFailureKeepsDiagnostics(t *testing.T) {
	t.Parallel()
	prepare := &result.PrepareOutcome{OK: false, Output: &result.ProcessOutput{Stderr: "main.cpp:1: error"}}
	res, err := result.Resolve(prepare, nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Overall != result.CompilationError || res.Prepare.Stderr != "main.cpp:1: error" {
		t.Fatalf("unexpected result %+v", res)
	}
}
