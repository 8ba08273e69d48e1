package repository_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ojsubmit/internal/common/cache"
	"ojsubmit/internal/common/db"
	judgeRepo "ojsubmit/internal/judge/repository"
	"ojsubmit/internal/submit/repository"
	"ojsubmit/pkg/submissionid"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeDB struct {
	execs       []execCall
	execErr     error
	affected    int64
	rowValues   []interface{}
	rowErr      error
	queryRows   [][]interface{}
	queryRowHit int
}

func (f *fakeDB) Query(_ context.Context, query string, args ...interface{}) (db.Rows, error) {
	return &fakeRows{rows: f.queryRows, idx: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, query string, args ...interface{}) db.Row {
	f.queryRowHit++
	return fakeRow{values: f.rowValues, err: f.rowErr}
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...interface{}) (db.Result, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult(f.affected), nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return errors.New("not supported")
}

func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assignAll(dest, r.values)
}

type fakeRows struct {
	rows [][]interface{}
	idx  int
}

func (r *fakeRows) Next() bool                     { r.idx++; return r.idx < len(r.rows) }
func (r *fakeRows) Scan(dest ...interface{}) error { return assignAll(dest, r.rows[r.idx]) }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Err() error                     { return nil }

func assignAll(dest, values []interface{}) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan expects %d columns, got %d", len(dest), len(values))
	}
	for i := range dest {
		if err := assign(dest[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

func assign(dest, src interface{}) error {
	if scanner, ok := dest.(sql.Scanner); ok {
		return scanner.Scan(src)
	}
	switch d := dest.(type) {
	case *string:
		*d = src.(string)
	case *uint32:
		*d = uint32(src.(int64))
	case *time.Time:
		*d = src.(time.Time)
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}

func newTestCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func u32(v uint32) *uint32 { return &v }

var (
	testID    = submissionid.Encode(1700000000000, 42, u32(7), uuid.MustParse("00000000-1234-4000-8000-000000000000"))
	createdAt = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
)

func sampleSubmission() *repository.Submission {
	return &repository.Submission{
		SubmissionID: testID,
		ProblemID:    42,
		ContestID:    u32(7),
		UserID:       "00000000-1234-4000-8000-000000000000",
		LanguageID:   "cpp17",
		SourceKey:    "submissions/" + testID.String() + "/source.code",
		SourceHash:   strings.Repeat("a", 64),
		Scene:        "contest",
		CreatedAt:    createdAt,
	}
}

func rowFor(s *repository.Submission) []interface{} {
	var contest interface{}
	if s.ContestID != nil {
		contest = int64(*s.ContestID)
	}
	return []interface{}{
		[]byte(s.SubmissionID.String()), int64(s.ProblemID), contest, s.UserID, s.LanguageID,
		s.SourceKey, s.SourceHash, s.Scene, s.CreatedAt,
	}
}

func TestCreateStoresDecimalID(t *testing.T) {
	t.Parallel()
	fdb := &fakeDB{}
	repo := repository.NewSubmissionRepository(fdb, nil)
	if err := repo.Create(context.Background(), nil, sampleSubmission()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(fdb.execs) != 1 {
		t.Fatalf("expected one insert, got %d", len(fdb.execs))
	}
	valuer, ok := fdb.execs[0].args[0].(driver.Valuer)
	if !ok {
		t.Fatalf("id argument should be a driver.Valuer")
	}
	v, _ := valuer.Value()
	if v != testID.String() {
		t.Fatalf("unexpected stored id %v", v)
	}
	if fdb.execs[0].args[2] != uint32(7) {
		t.Fatalf("unexpected contest arg %#v", fdb.execs[0].args[2])
	}

	noContest := sampleSubmission()
	noContest.ContestID = nil
	_ = repo.Create(context.Background(), nil, noContest)
	if fdb.execs[1].args[2] != nil {
		t.Fatalf("missing contest should insert NULL, got %#v", fdb.execs[1].args[2])
	}
}

func TestCreateValidatesAndMapsDuplicates(t *testing.T) {
	t.Parallel()
	fdb := &fakeDB{execErr: fmt.Errorf("exec failed: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'PRIMARY'"})}
	repo := repository.NewSubmissionRepository(fdb, nil)
	if err := repo.Create(context.Background(), nil, sampleSubmission()); !errors.Is(err, repository.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	invalid := []func(*repository.Submission){
		func(s *repository.Submission) { s.SubmissionID = submissionid.Zero },
		func(s *repository.Submission) { s.ProblemID = 0 },
		func(s *repository.Submission) { s.UserID = "" },
		func(s *repository.Submission) { s.LanguageID = "" },
		func(s *repository.Submission) { s.SourceKey = "" },
		func(s *repository.Submission) { s.SourceHash = "" },
	}
	for i, mutate := range invalid {
		s := sampleSubmission()
		mutate(s)
		if err := repo.Create(context.Background(), nil, s); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if err := repo.Create(context.Background(), nil, nil); err == nil {
		t.Fatalf("nil submission should fail")
	}
}

func TestGetByIDCacheAside(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	want := sampleSubmission()
	fdb := &fakeDB{rowValues: rowFor(want)}
	repo := repository.NewSubmissionRepository(fdb, newTestCache(t))

	for i := 0; i < 2; i++ {
		got, err := repo.GetByID(ctx, nil, testID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.SubmissionID != testID || got.ProblemID != 42 || got.ContestID == nil || *got.ContestID != 7 {
			t.Fatalf("unexpected submission %+v", got)
		}
		if !got.CreatedAt.Equal(createdAt) {
			t.Fatalf("unexpected created_at %v", got.CreatedAt)
		}
	}
	if fdb.queryRowHit != 1 {
		t.Fatalf("second read should be served from cache, db hits=%d", fdb.queryRowHit)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fdb := &fakeDB{rowErr: sql.ErrNoRows}
	repo := repository.NewSubmissionRepository(fdb, newTestCache(t))
	for i := 0; i < 2; i++ {
		if _, err := repo.GetByID(ctx, nil, testID); !errors.Is(err, repository.ErrSubmissionNotFound) {
			t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
		}
	}
	if fdb.queryRowHit != 1 {
		t.Fatalf("miss should be cached, db hits=%d", fdb.queryRowHit)
	}

	noCache := repository.NewSubmissionRepository(&fakeDB{rowErr: sql.ErrNoRows}, nil)
	if _, err := noCache.GetByID(ctx, nil, testID); !errors.Is(err, repository.ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound without cache, got %v", err)
	}
}

func TestFinalStatusStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fdb := &fakeDB{affected: 1}
	repo := repository.NewSubmissionRepository(fdb, nil)

	n, err := repo.UpdateFinalStatus(ctx, testID.String(), `{"status":"Finished"}`, createdAt)
	if err != nil || n != 1 {
		t.Fatalf("update failed: %d %v", n, err)
	}
	if !strings.Contains(fdb.execs[0].query, "final_status") || fdb.execs[0].args[2] != testID.String() {
		t.Fatalf("unexpected update %+v", fdb.execs[0])
	}

	fdb.rowValues = []interface{}{nil}
	if _, err := repo.FindFinalStatus(ctx, testID.String()); !errors.Is(err, judgeRepo.ErrFinalStatusNotFound) {
		t.Fatalf("NULL final status should be not found, got %v", err)
	}
	fdb.rowValues = []interface{}{`{"status":"Finished"}`}
	if payload, err := repo.FindFinalStatus(ctx, testID.String()); err != nil || payload != `{"status":"Finished"}` {
		t.Fatalf("unexpected payload %q %v", payload, err)
	}

	fdb.queryRows = [][]interface{}{{"1", `{"status":"Finished"}`}, {"2", " "}}
	found, err := repo.FindFinalStatusBatch(ctx, []string{"1", "2", "3"})
	if err != nil || len(found) != 1 || found["1"] == "" {
		t.Fatalf("unexpected batch %v %v", found, err)
	}
}
