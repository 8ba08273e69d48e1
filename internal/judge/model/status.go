package model

import "ojsubmit/internal/judge/result"

// JudgeStatusResponse is returned to API clients.
type JudgeStatusResponse struct {
	SubmissionID   string                  `json:"submission_id"`
	Status         result.JudgeStatus      `json:"status"`
	Verdict        result.Status           `json:"verdict"`
	VerdictText    string                  `json:"verdict_text"`
	DecidingTestID *int                    `json:"deciding_test_id,omitempty"`
	Language       string                  `json:"language,omitempty"`
	Tests          []result.TestcaseResult `json:"tests,omitempty"`
	ArchiveKey     string                  `json:"archive_key,omitempty"`
	Timestamps     result.Timestamps       `json:"timestamps"`
	Progress       Progress                `json:"progress"`
	ErrorCode      int                     `json:"error_code,omitempty"`
	ErrorMessage   string                  `json:"error_message,omitempty"`
}

// Progress represents judge progress.
type Progress struct {
	TotalTests int `json:"total_tests"`
	DoneTests  int `json:"done_tests"`
}

// StatusEventType represents the status event type.
type StatusEventType string

const (
	// StatusEventFinal indicates the final status event.
	StatusEventFinal StatusEventType = "final"
)

// StatusEvent carries status updates for async processing.
type StatusEvent struct {
	Type      StatusEventType     `json:"type"`
	Status    JudgeStatusResponse `json:"status"`
	CreatedAt int64               `json:"created_at"`
}
