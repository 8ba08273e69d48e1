package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ojsubmit/internal/common/cache"
	"ojsubmit/internal/common/db"
	judgeRepo "ojsubmit/internal/judge/repository"
	"ojsubmit/pkg/submissionid"
)

const (
	defaultSubmissionCacheTTL      = 30 * time.Minute
	defaultSubmissionCacheEmptyTTL = 5 * time.Minute
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrDuplicateID        = errors.New("submission id already exists")
)

// Submission represents a judge submission record.
type Submission struct {
	SubmissionID submissionid.ID `json:"submission_id"`
	ProblemID    uint32          `json:"problem_id"`
	ContestID    *uint32         `json:"contest_id,omitempty"`
	UserID       string          `json:"user_id"`
	LanguageID   string          `json:"language_id"`
	SourceKey    string          `json:"source_key"`
	SourceHash   string          `json:"source_hash"`
	Scene        string          `json:"scene"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID submissionid.ID) (*Submission, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL. It
// also serves as the durable store for final judge statuses.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository with defaults.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) *MySQLSubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const submissionColumns = "submission_id, problem_id, contest_id, user_id, language_id, source_key, source_hash, scene, created_at"

// Create inserts a submission record. The id is stored as its decimal string.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID.IsZero() {
		return errors.New("submissionID is required")
	}
	if submission.ProblemID == 0 {
		return errors.New("problemID is required")
	}
	if submission.UserID == "" {
		return errors.New("userID is required")
	}
	if submission.LanguageID == "" {
		return errors.New("languageID is required")
	}
	if submission.SourceKey == "" {
		return errors.New("sourceKey is required")
	}
	if submission.SourceHash == "" {
		return errors.New("sourceHash is required")
	}

	var contestID interface{}
	if submission.ContestID != nil {
		contestID = *submission.ContestID
	}
	query := `
		INSERT INTO submissions
		(submission_id, problem_id, contest_id, user_id, language_id, source_key, source_hash, scene, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.SubmissionID,
		submission.ProblemID,
		contestID,
		submission.UserID,
		submission.LanguageID,
		submission.SourceKey,
		submission.SourceHash,
		submission.Scene,
		submission.CreatedAt.UTC(),
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrDuplicateID
		}
		return err
	}
	if r.cache != nil && tx == nil {
		r.setCache(ctx, submission)
	}
	return nil
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID submissionid.ID) (*Submission, error) {
	if submissionID.IsZero() {
		return nil, errors.New("submissionID is required")
	}
	if r.cache != nil && tx == nil {
		submission, err := cache.GetWithCached[*Submission](
			ctx,
			r.cache,
			submissionID.ResourceKey(),
			r.ttl,
			r.emptyTTL,
			func(submission *Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*Submission, error) {
				submission, err := r.getByIDFromDB(ctx, nil, submissionID)
				if err != nil {
					if errors.Is(err, ErrSubmissionNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return submission, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if submission == nil {
			return nil, ErrSubmissionNotFound
		}
		return submission, nil
	}
	return r.getByIDFromDB(ctx, tx, submissionID)
}

// UpdateFinalStatus stores the final status payload and returns the number
// of rows changed.
func (r *MySQLSubmissionRepository) UpdateFinalStatus(ctx context.Context, submissionID, payload string, finishedAt time.Time) (int64, error) {
	res, err := r.db.Exec(ctx,
		"UPDATE submissions SET final_status = ?, finished_at = ? WHERE submission_id = ?",
		payload, finishedAt.UTC(), submissionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindFinalStatus returns the stored final status payload.
func (r *MySQLSubmissionRepository) FindFinalStatus(ctx context.Context, submissionID string) (string, error) {
	var payload sql.NullString
	row := r.db.QueryRow(ctx, "SELECT final_status FROM submissions WHERE submission_id = ? LIMIT 1", submissionID)
	if err := row.Scan(&payload); err != nil {
		if db.IsNoRows(err) {
			return "", judgeRepo.ErrFinalStatusNotFound
		}
		return "", err
	}
	if !payload.Valid || payload.String == "" {
		return "", judgeRepo.ErrFinalStatusNotFound
	}
	return payload.String, nil
}

// FindFinalStatusBatch returns the final status payloads that exist among ids.
func (r *MySQLSubmissionRepository) FindFinalStatusBatch(ctx context.Context, submissionIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(submissionIDs))
	if len(submissionIDs) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(submissionIDs))
	for i, id := range submissionIDs {
		args[i] = id
	}
	query := "SELECT submission_id, final_status FROM submissions WHERE final_status IS NOT NULL AND submission_id IN (" +
		db.Placeholders(len(submissionIDs)) + ")"
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		if strings.TrimSpace(payload) != "" {
			out[id] = payload
		}
	}
	return out, rows.Err()
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, submissionID submissionid.ID) (*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID)
	submission := &Submission{}
	var contestID sql.NullInt64
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.ProblemID,
		&contestID,
		&submission.UserID,
		&submission.LanguageID,
		&submission.SourceKey,
		&submission.SourceHash,
		&submission.Scene,
		&submission.CreatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if contestID.Valid {
		v := uint32(contestID.Int64)
		submission.ContestID = &v
	}
	return submission, nil
}

func (r *MySQLSubmissionRepository) setCache(ctx context.Context, submission *Submission) {
	if submission == nil || r.cache == nil {
		return
	}
	payload, err := marshalSubmission(submission)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, submission.SubmissionID.ResourceKey(), payload, cache.JitterTTL(r.ttl))
}

func marshalSubmission(submission *Submission) (string, error) {
	data, err := json.Marshal(submission)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalSubmission(data string) (*Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

var (
	_ SubmissionRepository       = (*MySQLSubmissionRepository)(nil)
	_ judgeRepo.FinalStatusStore = (*MySQLSubmissionRepository)(nil)
)
