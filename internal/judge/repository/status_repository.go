package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ojsubmit/internal/common/cache"
	"ojsubmit/internal/judge/model"
	appErr "ojsubmit/pkg/errors"
	"ojsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

const statusKeyPrefix = "judge:status:"

const (
	defaultStatusCacheTTL      = 30 * time.Minute
	defaultStatusCacheEmptyTTL = 5 * time.Minute
)

// ErrFinalStatusNotFound is returned by a FinalStatusStore when no final
// status was recorded for the submission.
var ErrFinalStatusNotFound = errors.New("final status not found")

// FinalStatusStore keeps final statuses in durable storage.
type FinalStatusStore interface {
	UpdateFinalStatus(ctx context.Context, submissionID, payload string, finishedAt time.Time) (int64, error)
	FindFinalStatus(ctx context.Context, submissionID string) (string, error)
	FindFinalStatusBatch(ctx context.Context, submissionIDs []string) (map[string]string, error)
}

// StatusRepository handles status persistence. Redis holds the live status;
// the optional FinalStatusStore backs reads once the cache entry expires.
type StatusRepository struct {
	cache    cache.Cache
	store    FinalStatusStore
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewStatusRepository creates a new repository. store may be nil.
func NewStatusRepository(cacheClient cache.Cache, store FinalStatusStore, ttl, emptyTTL time.Duration) *StatusRepository {
	if ttl <= 0 {
		ttl = defaultStatusCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultStatusCacheEmptyTTL
	}
	return &StatusRepository{cache: cacheClient, store: store, ttl: ttl, emptyTTL: emptyTTL}
}

// Get returns status by submission id.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	if submissionID == "" {
		return model.JudgeStatusResponse{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return r.getFinalStatus(ctx, submissionID)
	}
	status, err := cache.GetWithCached[*model.JudgeStatusResponse](
		ctx,
		r.cache,
		statusKeyPrefix+submissionID,
		r.ttl,
		r.emptyTTL,
		func(st *model.JudgeStatusResponse) bool { return st == nil },
		marshalStatus,
		unmarshalStatus,
		func(ctx context.Context) (*model.JudgeStatusResponse, error) {
			status, err := r.getFinalStatus(ctx, submissionID)
			if err != nil {
				if appErr.Is(err, appErr.NotFound) {
					return nil, nil
				}
				return nil, err
			}
			return &status, nil
		},
	)
	if err != nil {
		return model.JudgeStatusResponse{}, err
	}
	if status == nil {
		return model.JudgeStatusResponse{}, appErr.New(appErr.NotFound).WithMessage("submission status not found")
	}
	return *status, nil
}

// GetBatch returns statuses for multiple submission ids, plus the ids that
// have no status anywhere.
func (r *StatusRepository) GetBatch(ctx context.Context, submissionIDs []string) ([]model.JudgeStatusResponse, []string, error) {
	if len(submissionIDs) == 0 {
		return nil, nil, appErr.ValidationError("submission_ids", "required")
	}
	for _, id := range submissionIDs {
		if id == "" {
			return nil, nil, appErr.ValidationError("submission_id", "required")
		}
	}

	statuses := make([]model.JudgeStatusResponse, 0, len(submissionIDs))
	missing := make([]string, 0)
	if r.cache != nil {
		keys := make([]string, 0, len(submissionIDs))
		for _, id := range submissionIDs {
			keys = append(keys, statusKeyPrefix+id)
		}
		values, err := r.cache.MGet(ctx, keys...)
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.CacheError, "batch get status failed")
		}
		for i, id := range submissionIDs {
			raw := ""
			if i < len(values) {
				raw = values[i]
			}
			switch raw {
			case "":
				missing = append(missing, id)
			case cache.NullCacheValue:
			default:
				st, err := unmarshalStatus(raw)
				if err != nil {
					return nil, nil, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
				}
				statuses = append(statuses, *st)
			}
		}
	} else {
		missing = append(missing, submissionIDs...)
	}
	if len(missing) == 0 || r.store == nil {
		return statuses, missing, nil
	}

	records, err := r.store.FindFinalStatusBatch(ctx, missing)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "batch get final status failed")
	}
	notFound := make([]string, 0)
	backfill := make(map[string]string, len(missing))
	for _, id := range missing {
		payload, ok := records[id]
		if !ok {
			notFound = append(notFound, id)
			backfill[id] = cache.NullCacheValue
			continue
		}
		st, err := unmarshalStatus(payload)
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "decode final status failed")
		}
		st.SubmissionID = id
		statuses = append(statuses, *st)
		if data, err := marshalStatus(st); err == nil {
			backfill[id] = data
		}
	}
	r.backfill(ctx, backfill)
	return statuses, notFound, nil
}

// backfill caches store lookups in one round trip. Misses get the short
// empty TTL.
func (r *StatusRepository) backfill(ctx context.Context, entries map[string]string) {
	if r.cache == nil || len(entries) == 0 {
		return
	}
	err := r.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		for id, data := range entries {
			ttl := r.ttl
			if data == cache.NullCacheValue {
				ttl = r.emptyTTL
			}
			if err := pipe.Set(statusKeyPrefix+id, data, cache.JitterTTL(ttl)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn(ctx, "backfill status cache failed", zap.Error(err))
	}
}

// Save writes status to the cache.
func (r *StatusRepository) Save(ctx context.Context, status model.JudgeStatusResponse) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.SubmissionID, string(data), cache.JitterTTL(r.ttl)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

// PersistFinalStatus writes a terminal status to the durable store and
// refreshes the cache entry.
func (r *StatusRepository) PersistFinalStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !status.Status.IsTerminal() {
		return appErr.ValidationError("status", "final_required")
	}
	if r.store == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("final status store is not configured")
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal final status failed: %w", err)
	}
	finishedAt := time.Now()
	if status.Timestamps.FinishedAt > 0 {
		finishedAt = time.Unix(status.Timestamps.FinishedAt, 0)
	}
	affected, err := r.store.UpdateFinalStatus(ctx, status.SubmissionID, string(payload), finishedAt)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "store final status failed")
	}
	if affected == 0 {
		return appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, statusKeyPrefix+status.SubmissionID, string(payload), cache.JitterTTL(r.ttl)); err != nil {
			logger.Warn(ctx, "refresh status cache failed", zap.String("submission_id", status.SubmissionID), zap.Error(err))
		}
	}
	return nil
}

func (r *StatusRepository) getFinalStatus(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	if r.store == nil {
		return model.JudgeStatusResponse{}, appErr.New(appErr.NotFound).WithMessage("submission status not found")
	}
	payload, err := r.store.FindFinalStatus(ctx, submissionID)
	if err != nil {
		if errors.Is(err, ErrFinalStatusNotFound) {
			return model.JudgeStatusResponse{}, appErr.New(appErr.NotFound).WithMessage("submission status not found")
		}
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.DatabaseError, "get final status failed")
	}
	st, err := unmarshalStatus(payload)
	if err != nil {
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.DatabaseError, "decode final status failed")
	}
	st.SubmissionID = submissionID
	return *st, nil
}

func marshalStatus(status *model.JudgeStatusResponse) (string, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStatus(data string) (*model.JudgeStatusResponse, error) {
	var resp model.JudgeStatusResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
