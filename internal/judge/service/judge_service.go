package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ojsubmit/internal/common/mq"
	"ojsubmit/internal/judge/archive"
	"ojsubmit/internal/judge/model"
	"ojsubmit/internal/judge/repository"
	"ojsubmit/internal/judge/result"
	appErr "ojsubmit/pkg/errors"
	"ojsubmit/pkg/submissionid"
	"ojsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

// StatusStore reads and writes live submission statuses.
type StatusStore interface {
	Get(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error)
	Save(ctx context.Context, status model.JudgeStatusResponse) error
}

// ResultArchiver keeps the raw process output of judged submissions.
type ResultArchiver interface {
	Store(ctx context.Context, id submissionid.ID, prepare *result.ProcessOutput, tests []result.TestcaseResult) (string, error)
	Load(ctx context.Context, id submissionid.ID) (archive.Bundle, error)
}

// Service turns execution reports into verdicts.
type Service struct {
	statusRepo     StatusStore
	publisher      repository.StatusEventPublisher
	archiver       ResultArchiver
	statusTimeout  time.Duration
	publishTimeout time.Duration
	slotWait       time.Duration
	sem            chan struct{}
	now            func() time.Time
	requeue        RequeuePolicy
}

// Config holds service dependencies and settings.
type Config struct {
	StatusRepo     StatusStore
	Publisher      repository.StatusEventPublisher
	Archiver       ResultArchiver
	StatusTimeout  time.Duration
	PublishTimeout time.Duration
	WorkerPoolSize int
	// SlotWait bounds how long a report waits for a free worker slot.
	SlotWait time.Duration
	Now      func() time.Time

	// Requeue is used when the pool stays full for SlotWait. Leave its
	// RetryTopic empty to let the consumer retry instead.
	Requeue RequeuePolicy
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("status publisher is required")
	}
	if cfg.Archiver == nil {
		return nil, fmt.Errorf("result archiver is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	if cfg.SlotWait <= 0 {
		cfg.SlotWait = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		statusRepo:     cfg.StatusRepo,
		publisher:      cfg.Publisher,
		archiver:       cfg.Archiver,
		statusTimeout:  cfg.StatusTimeout,
		publishTimeout: cfg.PublishTimeout,
		slotWait:       cfg.SlotWait,
		sem:            make(chan struct{}, poolSize),
		now:            cfg.Now,
		requeue:        cfg.Requeue,
	}, nil
}

// HandleResultMessage processes one execution report.
//
// Malformed reports and reports whose test statuses fall outside the
// verdict vocabulary are returned as permanent errors so the consumer does
// not retry them. Storage failures are returned as is and retried.
func (s *Service) HandleResultMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return mq.Permanent(appErr.New(appErr.InvalidParams).WithMessage("message is nil"))
	}
	var report model.ExecutionReport
	if err := json.Unmarshal(msg.Body, &report); err != nil {
		return mq.Permanent(appErr.Wrapf(err, appErr.ReportInvalid, "decode execution report failed"))
	}
	id, err := parseSubmissionID(report.SubmissionID)
	if err != nil {
		return mq.Permanent(err)
	}
	ctx = logger.WithSubmission(ctx, id.String())

	if err := s.acquireSlot(ctx); err != nil {
		if appErr.Is(err, appErr.JudgeQueueFull) && s.requeue.enabled() {
			return s.requeue.Requeue(ctx, msg)
		}
		return err
	}
	defer s.releaseSlot()

	current, err := s.loadStatus(ctx, id, report)
	if err != nil {
		return err
	}
	running := current
	if !advance(&running, result.StatusRunning) {
		logger.Info(ctx, "execution report for finished submission ignored", zap.String("status", string(current.Status)))
		return nil
	}
	running.Progress = model.Progress{TotalTests: len(report.Tests)}
	if current.Status != result.StatusRunning {
		if err := s.persistStatus(ctx, running); err != nil {
			return err
		}
	}

	if report.EngineError != "" {
		return s.handleFailure(ctx, running, appErr.New(appErr.JudgeSystemError).WithMessage(report.EngineError))
	}

	res, err := result.Resolve(report.Prepare, report.Tests)
	if err != nil {
		if appErr.Is(err, appErr.InconsistentVerdict) {
			logger.Error(ctx, "execution report is inconsistent", zap.Error(err))
			if failErr := s.handleFailure(ctx, running, err); failErr != nil {
				return failErr
			}
			return mq.Permanent(err)
		}
		return err
	}

	archiveKey, err := s.archiver.Store(ctx, id, res.Prepare, res.Tests)
	if err != nil {
		logger.Warn(ctx, "archive raw outputs failed", zap.Error(err))
		return err
	}

	finished := running
	if !advance(&finished, result.StatusFinished) {
		return mq.Permanent(appErr.Newf(appErr.JudgeSystemError, "status cannot move from %s to %s", running.Status, result.StatusFinished))
	}
	finished.Verdict = res.Overall
	finished.VerdictText = res.Overall.String()
	finished.DecidingTestID = res.DecidingTestID
	finished.Tests = summarizeTests(res.Tests)
	finished.ArchiveKey = archiveKey
	finished.Timestamps.FinishedAt = s.now().Unix()
	finished.Progress = model.Progress{TotalTests: len(res.Tests), DoneTests: len(res.Tests)}
	finished.ErrorCode = 0
	finished.ErrorMessage = ""

	if err := s.finalize(ctx, finished); err != nil {
		return err
	}
	logger.Info(ctx, "submission judged",
		zap.String("verdict", finished.VerdictText),
		zap.Int("tests", len(res.Tests)))
	return nil
}

// GetStatus returns the live status of a submission.
func (s *Service) GetStatus(ctx context.Context, rawID string) (model.JudgeStatusResponse, error) {
	id, err := parseSubmissionID(rawID)
	if err != nil {
		return model.JudgeStatusResponse{}, err
	}
	ctxStatus, cancel := withTimeout(ctx, s.statusTimeout)
	defer cancel()
	return s.statusRepo.Get(ctxStatus, id.String())
}

// GetOutputs returns the archived raw outputs of a judged submission.
func (s *Service) GetOutputs(ctx context.Context, rawID string) (archive.Bundle, error) {
	id, err := parseSubmissionID(rawID)
	if err != nil {
		return archive.Bundle{}, err
	}
	return s.archiver.Load(ctx, id)
}

func (s *Service) loadStatus(ctx context.Context, id submissionid.ID, report model.ExecutionReport) (model.JudgeStatusResponse, error) {
	ctxStatus, cancel := withTimeout(ctx, s.statusTimeout)
	defer cancel()
	current, err := s.statusRepo.Get(ctxStatus, id.String())
	if err == nil {
		if current.Language == "" {
			current.Language = report.LanguageID
		}
		return current, nil
	}
	if !appErr.Is(err, appErr.NotFound) {
		return model.JudgeStatusResponse{}, err
	}
	receivedAt := report.ReceivedAt
	if receivedAt == 0 {
		receivedAt = id.Time().Unix()
	}
	return model.JudgeStatusResponse{
		SubmissionID: id.String(),
		Status:       result.StatusPending,
		Verdict:      result.Pending,
		VerdictText:  result.Pending.String(),
		Language:     report.LanguageID,
		Timestamps:   result.Timestamps{ReceivedAt: receivedAt},
	}, nil
}

func (s *Service) finalize(ctx context.Context, status model.JudgeStatusResponse) error {
	if err := s.persistStatus(ctx, status); err != nil {
		return err
	}
	ctxPub, cancel := withTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.publisher.PublishFinalStatus(ctxPub, status); err != nil {
		logger.Warn(ctx, "publish final status failed", zap.Error(err))
		return err
	}
	return nil
}

// summarizeTests drops raw output. It lives in the archive.
func summarizeTests(tests []result.TestcaseResult) []result.TestcaseResult {
	out := make([]result.TestcaseResult, len(tests))
	for i, tc := range tests {
		out[i] = result.TestcaseResult{ID: tc.ID, Status: tc.Status}
	}
	return out
}

func parseSubmissionID(raw string) (submissionid.ID, error) {
	id, err := submissionid.Parse(raw)
	if err != nil {
		return submissionid.Zero, err
	}
	if err := id.Validate(); err != nil {
		return submissionid.Zero, err
	}
	return id, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
