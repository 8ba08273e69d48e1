package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "ojsubmit/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{SubmissionNotFound, "Submission not found"},
		{MalformedIdentifier, "Malformed submission identifier"},
		{DatabaseError, "Database operation failed"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{ValidationFailed, 400},
		{MalformedIdentifier, 400},
		{SubmissionNotFound, 404},
		{DuplicateSubmission, 409},
		{SubmitTooFrequently, 429},
		{InconsistentVerdict, 500},
		{JudgeQueueFull, 503},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(MalformedIdentifier, "identifier %q is not decimal", "12a")

	want := `identifier "12a" is not decimal`
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	if err.Stack == "" {
		t.Error("Stack should be captured")
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, DatabaseError)

	if wrappedErr.Code != DatabaseError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, DatabaseError)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrap_RecodesCustomError(t *testing.T) {
	err := Newf(CacheError, "redis down")
	wrapped := Wrap(err, ServiceUnavailable)

	if wrapped != err {
		t.Fatal("Wrap should reuse the custom error")
	}
	if wrapped.Code != ServiceUnavailable || wrapped.Error() != "redis down" {
		t.Errorf("unexpected wrapped error: code=%v msg=%v", wrapped.Code, wrapped.Error())
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "nil error",
			err:  nil,
			want: Success,
		},
		{
			name: "custom error",
			err:  New(SubmissionNotFound),
			want: SubmissionNotFound,
		},
		{
			name: "wrapped custom error",
			err:  fmt.Errorf("decode: %w", New(MalformedIdentifier)),
			want: MalformedIdentifier,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: InternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(InconsistentVerdict)

	if !Is(err, InconsistentVerdict) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, DatabaseError) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, InconsistentVerdict) {
		t.Error("Is() should return false for nil error")
	}
	if !Is(fmt.Errorf("judge: %w", err), InconsistentVerdict) {
		t.Error("Is() should see codes through fmt wrapping")
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("BadRequest", func(t *testing.T) {
		err := BadRequest("invalid input")
		if err.Code != InvalidParams {
			t.Error("BadRequest should use InvalidParams code")
		}
	})

	t.Run("NotFoundError", func(t *testing.T) {
		err := NotFoundError("submission")
		if err.Code != NotFound || err.Error() != "submission not found" {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("InternalError", func(t *testing.T) {
		err := InternalError(errors.New("db error"))
		if err.Code != InternalServerError {
			t.Error("InternalError should use InternalServerError code")
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("problem_id", "must be positive")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "problem_id" {
			t.Error("Field detail not set")
		}
	})
}
