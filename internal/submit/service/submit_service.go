package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"ojsubmit/internal/common/cache"
	"ojsubmit/internal/common/mq"
	"ojsubmit/internal/common/storage"
	"ojsubmit/internal/judge/model"
	"ojsubmit/internal/judge/result"
	"ojsubmit/internal/submit/repository"
	appErr "ojsubmit/pkg/errors"
	"ojsubmit/pkg/submissionid"
	"ojsubmit/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "submit:idempotency:"
	rateUserKeyPrefix    = "submit:rate:user:"
	rateIPKeyPrefix      = "submit:rate:ip:"
	defaultSourcePrefix  = "submissions"
	defaultBatchLimit    = 200
	processingMarker     = "processing"
)

// StatusRepository is the status store used by the submit flow.
type StatusRepository interface {
	Get(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error)
	GetBatch(ctx context.Context, submissionIDs []string) ([]model.JudgeStatusResponse, []string, error)
	Save(ctx context.Context, status model.JudgeStatusResponse) error
	PersistFinalStatus(ctx context.Context, status model.JudgeStatusResponse) error
}

// TopicConfig defines routing topics for judge tasks.
type TopicConfig struct {
	Level0 string `yaml:"level0"`
	Level1 string `yaml:"level1"`
	Level2 string `yaml:"level2"`
	Level3 string `yaml:"level3"`
}

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
	Status  time.Duration `yaml:"status"`
}

// Config holds submit service dependencies and settings.
type Config struct {
	SubmissionRepo repository.SubmissionRepository
	StatusRepo     StatusRepository
	Storage        storage.ObjectStorage
	MQ             mq.Publisher
	Cache          cache.Cache

	Topics              TopicConfig
	FinalStatusHandlers []FinalStatusHandler
	SourceBucket        string
	SourceKeyPrefix     string
	MaxCodeBytes        int
	// Languages lists accepted language ids. Empty accepts any.
	Languages      []string
	IdempotencyTTL time.Duration
	BatchLimit     int
	RateLimit      RateLimitConfig
	Timeouts       TimeoutConfig
	// Clock supplies submission timestamps. Defaults to time.Now.
	Clock func() time.Time
}

// SubmitService handles submission intake and dispatch.
type SubmitService struct {
	submissionRepo repository.SubmissionRepository
	statusRepo     StatusRepository
	storage        storage.ObjectStorage
	mq             mq.Publisher
	cache          cache.Cache

	topics              TopicConfig
	finalStatusHandlers []FinalStatusHandler
	sourceBucket        string
	sourceKeyPrefix     string
	maxCodeBytes        int
	languages           map[string]struct{}
	idempotencyTTL      time.Duration
	batchLimit          int
	rateLimit           RateLimitConfig
	timeouts            TimeoutConfig
	clock               func() time.Time
}

// SubmitInput describes a submission request. Numeric ids arrive wider than
// the identifier fields and are range checked before encoding.
type SubmitInput struct {
	ProblemID         int64
	ContestID         *int64
	UserID            string
	LanguageID        string
	SourceCode        string
	Scene             string
	ExtraCompileFlags []string
	IdempotencyKey    string
	ClientIP          string
}

// SourceView is a stored submission with its source code.
type SourceView struct {
	Submission *repository.Submission
	SourceCode string
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.MQ == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if cfg.SourceKeyPrefix == "" {
		cfg.SourceKeyPrefix = defaultSourcePrefix
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	var languages map[string]struct{}
	if len(cfg.Languages) > 0 {
		languages = make(map[string]struct{}, len(cfg.Languages))
		for _, lang := range cfg.Languages {
			languages[strings.ToLower(strings.TrimSpace(lang))] = struct{}{}
		}
	}
	return &SubmitService{
		submissionRepo:      cfg.SubmissionRepo,
		statusRepo:          cfg.StatusRepo,
		storage:             cfg.Storage,
		mq:                  cfg.MQ,
		cache:               cfg.Cache,
		topics:              cfg.Topics,
		finalStatusHandlers: cfg.FinalStatusHandlers,
		sourceBucket:        cfg.SourceBucket,
		sourceKeyPrefix:     cfg.SourceKeyPrefix,
		maxCodeBytes:        cfg.MaxCodeBytes,
		languages:           languages,
		idempotencyTTL:      cfg.IdempotencyTTL,
		batchLimit:          cfg.BatchLimit,
		rateLimit:           cfg.RateLimit,
		timeouts:            cfg.Timeouts,
		clock:               cfg.Clock,
	}, nil
}

// Submit creates a submission and dispatches it to judge queues.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (submissionid.ID, model.JudgeStatusResponse, error) {
	fields, submitter, err := s.validateInput(input)
	if err != nil {
		return submissionid.Zero, model.JudgeStatusResponse{}, err
	}
	createdAt := s.clock()
	millis := createdAt.UnixMilli()
	if millis < 0 || uint64(millis) > submissionid.Canonical.MaxTimestamp() {
		return submissionid.Zero, model.JudgeStatusResponse{}, appErr.ValidationError("timestamp", "out_of_range")
	}

	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return submissionid.Zero, model.JudgeStatusResponse{}, err
	}

	acquired, existingID, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return submissionid.Zero, model.JudgeStatusResponse{}, err
	}
	if !acquired && existingID != "" {
		id, parseErr := submissionid.Parse(existingID)
		if parseErr != nil {
			return submissionid.Zero, model.JudgeStatusResponse{}, appErr.Wrapf(parseErr, appErr.CacheError, "stored idempotency value is invalid")
		}
		status, statusErr := s.GetStatus(ctx, id.String())
		if statusErr != nil {
			return submissionid.Zero, model.JudgeStatusResponse{}, statusErr
		}
		return id, status, nil
	}

	id := submissionid.Encode(uint64(millis), fields.problemID, fields.contestID, submitter)
	ctx = logger.WithSubmission(ctx, id.String())
	sourceKey := s.buildSourceKey(id)

	if err := s.uploadSource(ctx, sourceKey, input.SourceCode); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return submissionid.Zero, model.JudgeStatusResponse{}, err
	}

	submission := &repository.Submission{
		SubmissionID: id,
		ProblemID:    fields.problemID,
		ContestID:    fields.contestID,
		UserID:       submitter.String(),
		LanguageID:   strings.ToLower(strings.TrimSpace(input.LanguageID)),
		SourceKey:    sourceKey,
		SourceHash:   hashSource(input.SourceCode),
		Scene:        normalizeScene(input.Scene, fields.contestID),
		CreatedAt:    createdAt,
	}
	if err := s.createSubmission(ctx, submission); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return submissionid.Zero, model.JudgeStatusResponse{}, err
	}

	pending := model.JudgeStatusResponse{
		SubmissionID: id.String(),
		Status:       result.StatusPending,
		Verdict:      result.Pending,
		VerdictText:  result.Pending.String(),
		Language:     submission.LanguageID,
		Timestamps:   result.Timestamps{ReceivedAt: createdAt.Unix()},
	}
	if err := s.saveStatus(ctx, pending); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return submissionid.Zero, model.JudgeStatusResponse{}, err
	}

	if err := s.publishMessage(ctx, submission, input.ExtraCompileFlags); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return submissionid.Zero, model.JudgeStatusResponse{}, err
	}

	s.finalizeIdempotency(ctx, input.IdempotencyKey, id.String(), acquired)
	logger.Info(ctx, "submission accepted",
		zap.Uint32("problem_id", submission.ProblemID),
		zap.String("scene", submission.Scene))
	return id, pending, nil
}

// GetStatus returns status for one submission.
func (s *SubmitService) GetStatus(ctx context.Context, rawID string) (model.JudgeStatusResponse, error) {
	id, err := parseSubmissionID(rawID)
	if err != nil {
		return model.JudgeStatusResponse{}, err
	}
	ctxStatus := withTimeout(ctx, s.timeouts.Status)
	defer ctxStatus.cancel()
	return s.statusRepo.Get(ctxStatus.ctx, id.String())
}

// GetStatusBatch returns statuses for multiple submissions and the ids that
// have none. Duplicate ids are looked up once.
func (s *SubmitService) GetStatusBatch(ctx context.Context, rawIDs []string) ([]model.JudgeStatusResponse, []string, error) {
	if len(rawIDs) == 0 {
		return nil, nil, appErr.ValidationError("submission_ids", "required")
	}
	if len(rawIDs) > s.batchLimit {
		return nil, nil, appErr.ValidationError("submission_ids", "too_many")
	}
	ids := make([]string, 0, len(rawIDs))
	seen := make(map[string]struct{}, len(rawIDs))
	for i, raw := range rawIDs {
		id, err := parseSubmissionID(raw)
		if err != nil {
			if e := appErr.GetError(err); e != nil {
				e.WithDetail("index", i)
			}
			return nil, nil, err
		}
		key := id.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, key)
	}
	ctxStatus := withTimeout(ctx, s.timeouts.Status)
	defer ctxStatus.cancel()
	return s.statusRepo.GetBatch(ctxStatus.ctx, ids)
}

// GetSource returns a stored submission and its source code.
func (s *SubmitService) GetSource(ctx context.Context, rawID string) (*SourceView, error) {
	id, err := parseSubmissionID(rawID)
	if err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, nil, id)
	ctxDB.cancel()
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}

	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader, err := s.storage.GetObject(ctxStorage.ctx, s.sourceBucket, submission.SourceKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErr.New(appErr.NotFound).WithMessage("submission source not found")
		}
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "download source failed")
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "read source failed")
	}
	if hashSource(string(data)) != submission.SourceHash {
		logger.Warn(ctx, "stored source hash mismatch", zap.String("submission_id", id.String()))
	}
	return &SourceView{Submission: submission, SourceCode: string(data)}, nil
}

type validatedFields struct {
	problemID uint32
	contestID *uint32
}

func (s *SubmitService) validateInput(input SubmitInput) (validatedFields, uuid.UUID, error) {
	var out validatedFields
	if input.ProblemID <= 0 || input.ProblemID > math.MaxUint32 {
		return out, uuid.Nil, appErr.ValidationError("problem_id", "out_of_range")
	}
	out.problemID = uint32(input.ProblemID)
	if input.ContestID != nil {
		if *input.ContestID < 0 || *input.ContestID > math.MaxUint32 {
			return out, uuid.Nil, appErr.ValidationError("contest_id", "out_of_range")
		}
		contest := uint32(*input.ContestID)
		out.contestID = &contest
	}
	submitter, err := uuid.Parse(strings.TrimSpace(input.UserID))
	if err != nil {
		return out, uuid.Nil, appErr.ValidationError("user_id", "invalid_uuid")
	}
	if submitter == uuid.Nil {
		return out, uuid.Nil, appErr.ValidationError("user_id", "required")
	}
	lang := strings.ToLower(strings.TrimSpace(input.LanguageID))
	if lang == "" {
		return out, uuid.Nil, appErr.ValidationError("language_id", "required")
	}
	if s.languages != nil {
		if _, ok := s.languages[lang]; !ok {
			return out, uuid.Nil, appErr.New(appErr.LanguageNotSupported).WithMessage("language is not supported").
				WithDetail("language_id", lang)
		}
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return out, uuid.Nil, appErr.ValidationError("source_code", "required")
	}
	if s.maxCodeBytes > 0 && len(input.SourceCode) > s.maxCodeBytes {
		return out, uuid.Nil, appErr.New(appErr.CodeTooLarge).WithMessage("source code too large")
	}
	return out, submitter, nil
}

func (s *SubmitService) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, "", nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}

	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err = s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *SubmitService) finalizeIdempotency(ctx context.Context, key, submissionID string, acquired bool) {
	if !acquired || strings.TrimSpace(key) == "" {
		return
	}
	cacheKey := idempotencyKeyPrefix + strings.TrimSpace(key)
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, cacheKey, submissionID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	if !acquired || strings.TrimSpace(key) == "" {
		return
	}
	cacheKey := idempotencyKeyPrefix + strings.TrimSpace(key)
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, cacheKey); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID, clientIP string) error {
	if s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 && userID != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateUserKeyPrefix+strings.ToLower(strings.TrimSpace(userID)), s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubmitService) checkRateCounter(ctx context.Context, key string, max int) error {
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, s.rateLimit.Window)
	}
	if int(count) > max {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

func (s *SubmitService) uploadSource(ctx context.Context, objectKey, source string) error {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if err := s.storage.PutObject(ctxStorage.ctx, s.sourceBucket, objectKey, strings.NewReader(source), int64(len(source)), "text/plain; charset=utf-8"); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "upload source failed")
	}
	return nil
}

func (s *SubmitService) createSubmission(ctx context.Context, submission *repository.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissionRepo.Create(ctxDB.ctx, nil, submission); err != nil {
		if errors.Is(err, repository.ErrDuplicateID) {
			return appErr.New(appErr.DuplicateSubmission).
				WithMessage("an identical submission was made in the same millisecond").
				WithDetail("submission_id", submission.SubmissionID.String())
		}
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	return nil
}

func (s *SubmitService) saveStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	ctxStatus := withTimeout(ctx, s.timeouts.Status)
	defer ctxStatus.cancel()
	return s.statusRepo.Save(ctxStatus.ctx, status)
}

func (s *SubmitService) publishMessage(ctx context.Context, submission *repository.Submission, extraFlags []string) error {
	payload := model.JudgeMessage{
		SubmissionID:      submission.SubmissionID.String(),
		ProblemID:         submission.ProblemID,
		LanguageID:        submission.LanguageID,
		SourceKey:         submission.SourceKey,
		SourceHash:        submission.SourceHash,
		UserID:            submission.UserID,
		Scene:             submission.Scene,
		Priority:          resolvePriority(submission.Scene),
		ExtraCompileFlags: extraFlags,
	}
	if submission.ContestID != nil {
		payload.ContestID = *submission.ContestID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "encode judge message failed")
	}
	message := mq.NewMessage(body)
	message.ID = payload.SubmissionID
	message.SetHeader("scene", submission.Scene)

	topic := resolveTopic(submission.Scene, s.topics)
	if topic == "" {
		return appErr.New(appErr.SubmissionCreateFailed).WithMessage("judge topic is not configured")
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.mq.Publish(ctxMQ.ctx, topic, message); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "publish judge message failed")
	}
	return nil
}

func (s *SubmitService) buildSourceKey(id submissionid.ID) string {
	return fmt.Sprintf("%s/%s/source.code", s.sourceKeyPrefix, id)
}

func parseSubmissionID(raw string) (submissionid.ID, error) {
	id, err := submissionid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return submissionid.Zero, err
	}
	if err := id.Validate(); err != nil {
		return submissionid.Zero, err
	}
	return id, nil
}

func hashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func normalizeScene(scene string, contestID *uint32) string {
	scene = strings.TrimSpace(strings.ToLower(scene))
	if scene == "" && contestID != nil {
		return "contest"
	}
	if scene == "" {
		return "practice"
	}
	return scene
}

func resolvePriority(scene string) int {
	switch strings.ToLower(scene) {
	case "contest":
		return 0
	case "practice":
		return 1
	case "custom":
		return 2
	case "rejudge":
		return 3
	default:
		return 1
	}
}

func resolveTopic(scene string, topics TopicConfig) string {
	switch strings.ToLower(scene) {
	case "contest":
		return topics.Level0
	case "practice":
		return topics.Level1
	case "custom":
		return topics.Level2
	case "rejudge":
		return topics.Level3
	default:
		return topics.Level1
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
