package model

import "ojsubmit/internal/judge/result"

// JudgeMessage is the Kafka payload dispatched to the execution engine.
// Ids travel as decimal strings.
type JudgeMessage struct {
	SubmissionID      string   `json:"submission_id"`
	ProblemID         uint32   `json:"problem_id"`
	ContestID         uint32   `json:"contest_id,omitempty"`
	LanguageID        string   `json:"language_id"`
	SourceKey         string   `json:"source_key"`
	SourceHash        string   `json:"source_hash"`
	UserID            string   `json:"user_id"`
	Scene             string   `json:"scene"`
	Priority          int      `json:"priority"`
	ExtraCompileFlags []string `json:"extra_compile_flags,omitempty"`
}

// ExecutionReport is what the execution engine sends back once a submission
// has been compiled and run.
type ExecutionReport struct {
	SubmissionID string                  `json:"submission_id"`
	LanguageID   string                  `json:"language_id"`
	ReceivedAt   int64                   `json:"received_at"`
	Prepare      *result.PrepareOutcome  `json:"prepare,omitempty"`
	Tests        []result.TestcaseResult `json:"tests"`
	// EngineError is set when the engine could not run the submission at all.
	EngineError string `json:"engine_error,omitempty"`
}
