package service

import (
	"context"
	"encoding/json"

	"ojsubmit/internal/common/mq"
	"ojsubmit/internal/judge/model"
	"ojsubmit/internal/judge/result"
	appErr "ojsubmit/pkg/errors"
	"ojsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

// ProgressReport is an intermediate update from the execution engine.
type ProgressReport struct {
	SubmissionID string `json:"submission_id"`
	TotalTests   int    `json:"total_tests"`
	DoneTests    int    `json:"done_tests"`
}

// advance moves status to next when the lifecycle allows it. A running
// submission may stay Running so progress can be recorded.
func advance(status *model.JudgeStatusResponse, next result.JudgeStatus) bool {
	if status.Status == result.StatusRunning && next == result.StatusRunning {
		return true
	}
	if !status.Status.CanTransition(next) {
		return false
	}
	status.Status = next
	return true
}

func (s *Service) persistStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	ctxStatus, cancel := withTimeout(ctx, s.statusTimeout)
	defer cancel()
	return s.statusRepo.Save(ctxStatus, status)
}

// HandleProgressMessage records test progress while a submission runs.
// Updates for finished submissions are dropped.
func (s *Service) HandleProgressMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return mq.Permanent(appErr.New(appErr.InvalidParams).WithMessage("message is nil"))
	}
	var update ProgressReport
	if err := json.Unmarshal(msg.Body, &update); err != nil {
		return mq.Permanent(appErr.Wrapf(err, appErr.ReportInvalid, "decode progress report failed"))
	}
	id, err := parseSubmissionID(update.SubmissionID)
	if err != nil {
		return mq.Permanent(err)
	}
	if update.DoneTests < 0 || update.TotalTests < 0 || update.DoneTests > update.TotalTests {
		return mq.Permanent(appErr.New(appErr.ReportInvalid).WithMessage("progress counters out of range"))
	}
	ctx = logger.WithSubmission(ctx, id.String())

	ctxStatus, cancel := withTimeout(ctx, s.statusTimeout)
	current, err := s.statusRepo.Get(ctxStatus, id.String())
	cancel()
	if err != nil && !appErr.Is(err, appErr.NotFound) {
		return err
	}
	if err != nil {
		current = model.JudgeStatusResponse{
			SubmissionID: id.String(),
			Verdict:      result.Pending,
			VerdictText:  result.Pending.String(),
			Timestamps:   result.Timestamps{ReceivedAt: id.Time().Unix()},
		}
	}
	if !advance(&current, result.StatusRunning) {
		return nil
	}
	current.Progress = model.Progress{TotalTests: update.TotalTests, DoneTests: update.DoneTests}
	if err := s.persistStatus(ctx, current); err != nil {
		logger.Warn(ctx, "update intermediate status failed", zap.Error(err))
		return err
	}
	return nil
}

// handleFailure marks the submission Failed and publishes the final event.
func (s *Service) handleFailure(ctx context.Context, current model.JudgeStatusResponse, cause error) error {
	code := appErr.GetCode(cause)
	failed := current
	if !advance(&failed, result.StatusFailed) {
		logger.Info(ctx, "failure for finished submission ignored", zap.String("status", string(current.Status)), zap.Error(cause))
		return nil
	}
	failed.Verdict = result.UnknownError(cause.Error())
	failed.VerdictText = failed.Verdict.String()
	failed.DecidingTestID = nil
	failed.ErrorCode = int(code)
	failed.ErrorMessage = cause.Error()
	failed.Timestamps.FinishedAt = s.now().Unix()
	if err := s.finalize(ctx, failed); err != nil {
		logger.Warn(ctx, "update failure status failed", zap.Error(err))
		return err
	}
	return nil
}
