package service

import (
	"context"
	"strconv"
	"time"

	"ojsubmit/internal/common/mq"
	appErr "ojsubmit/pkg/errors"
	"ojsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

// requeueHeader counts how many times a report was sent back because every
// worker slot was busy. It is separate from the consumer's own retry count.
const requeueHeader = "x-pool-retry"

// RequeuePolicy sends reports that found the worker pool full to a retry
// topic with exponential backoff, and to the dead letter topic once
// MaxAttempts is reached. MaxAttempts 0 means no limit.
type RequeuePolicy struct {
	Queue           mq.Publisher
	RetryTopic      string
	DeadLetterTopic string
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

func (p RequeuePolicy) enabled() bool {
	return p.Queue != nil && p.RetryTopic != ""
}

// Backoff returns BaseDelay doubled attempt times, capped at MaxDelay.
func (p RequeuePolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Requeue waits out the backoff for msg and republishes it.
func (p RequeuePolicy) Requeue(ctx context.Context, msg *mq.Message) error {
	if !p.enabled() {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	ctx = logger.WithSubmission(ctx, msg.ID)
	attempt := RequeueAttempts(msg.Headers)

	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		if p.DeadLetterTopic == "" {
			logger.Warn(ctx, "report requeue exhausted", zap.Int("attempt", attempt))
			return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
		}
		logger.Warn(ctx, "report requeue exhausted, dead-lettering",
			zap.Int("attempt", attempt), zap.String("topic", p.DeadLetterTopic))
		return p.Queue.Publish(ctx, p.DeadLetterTopic, requeuedCopy(msg, attempt))
	}

	delay := p.Backoff(attempt)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	logger.Info(ctx, "report requeued",
		zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.String("topic", p.RetryTopic))
	return p.Queue.Publish(ctx, p.RetryTopic, requeuedCopy(msg, attempt+1))
}

// RequeueAttempts reads the requeue counter; missing or bad values are 0.
func RequeueAttempts(headers map[string]string) int {
	n, err := strconv.Atoi(headers[requeueHeader])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// requeuedCopy keeps the submission id as the Kafka key so the retry lands on
// the same partition as later reports for that submission.
func requeuedCopy(msg *mq.Message, attempt int) *mq.Message {
	out := mq.NewMessage(msg.Body)
	out.ID = msg.ID
	out.MaxRetries = msg.MaxRetries
	out.Expiration = msg.Expiration
	for k, v := range msg.Headers {
		out.SetHeader(k, v)
	}
	out.SetHeader(requeueHeader, strconv.Itoa(attempt))
	return out
}

func (s *Service) acquireSlot(ctx context.Context) error {
	timer := time.NewTimer(s.slotWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}
