package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ojsubmit/internal/common/mq"
	"ojsubmit/internal/judge/model"
	appErr "ojsubmit/pkg/errors"
	"ojsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

// FinalStatusHandler handles final status events for post-processing.
type FinalStatusHandler interface {
	HandleFinalStatus(ctx context.Context, status model.JudgeStatusResponse) error
}

// HandleFinalStatusMessage persists a final status event to the submission
// row. Undecodable events are permanent failures.
func (s *SubmitService) HandleFinalStatusMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return mq.Permanent(appErr.New(appErr.InvalidParams).WithMessage("message is nil"))
	}
	var event model.StatusEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return mq.Permanent(appErr.Wrapf(err, appErr.InvalidParams, "decode status event failed"))
	}
	if event.Type != model.StatusEventFinal {
		return mq.Permanent(appErr.New(appErr.InvalidParams).WithMessage("status event type is invalid"))
	}
	id, err := parseSubmissionID(event.Status.SubmissionID)
	if err != nil {
		return mq.Permanent(err)
	}
	event.Status.SubmissionID = id.String()
	ctx = logger.WithSubmission(ctx, event.Status.SubmissionID)

	if err := s.persistFinalStatus(ctx, event.Status); err != nil {
		if appErr.Is(err, appErr.SubmissionNotFound) || appErr.Is(err, appErr.ValidationFailed) {
			logger.Warn(ctx, "final status dropped", zap.Error(err))
			return mq.Permanent(err)
		}
		return err
	}
	for _, handler := range s.finalStatusHandlers {
		if handler == nil {
			continue
		}
		if err := handler.HandleFinalStatus(ctx, event.Status); err != nil {
			return fmt.Errorf("handle final status failed: %w", err)
		}
	}
	logger.Debug(ctx, "final status persisted", zap.String("verdict", event.Status.Verdict.String()))
	return nil
}

func (s *SubmitService) persistFinalStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	return s.statusRepo.PersistFinalStatus(ctxDB.ctx, status)
}
