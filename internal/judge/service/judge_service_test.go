package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ojsubmit/internal/common/mq"
	"ojsubmit/internal/common/storage"
	"ojsubmit/internal/judge/archive"
	"ojsubmit/internal/judge/model"
	"ojsubmit/internal/judge/result"
	"ojsubmit/internal/judge/service"
	appErr "ojsubmit/pkg/errors"
	"ojsubmit/pkg/submissionid"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

type memoryStatusStore struct {
	mu       sync.Mutex
	statuses map[string]model.JudgeStatusResponse
	history  []result.JudgeStatus
	saveErr  error
}

func newMemoryStatusStore() *memoryStatusStore {
	return &memoryStatusStore{statuses: map[string]model.JudgeStatusResponse{}}
}

func (m *memoryStatusStore) Get(_ context.Context, id string) (model.JudgeStatusResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[id]
	if !ok {
		return model.JudgeStatusResponse{}, appErr.New(appErr.NotFound).WithMessage("submission status not found")
	}
	return st, nil
}

func (m *memoryStatusStore) Save(_ context.Context, st model.JudgeStatusResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.statuses[st.SubmissionID] = st
	m.history = append(m.history, st.Status)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.JudgeStatusResponse
}

func (p *fakePublisher) PublishFinalStatus(_ context.Context, st model.JudgeStatusResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, st)
	return nil
}

type failingArchiver struct{}

func (failingArchiver) Store(context.Context, submissionid.ID, *result.ProcessOutput, []result.TestcaseResult) (string, error) {
	return "", appErr.New(appErr.ArchiveFailed).WithMessage("minio unavailable")
}

func (failingArchiver) Load(context.Context, submissionid.ID) (archive.Bundle, error) {
	return archive.Bundle{}, appErr.New(appErr.ArchiveFailed)
}

type harness struct {
	svc       *service.Service
	store     *memoryStatusStore
	publisher *fakePublisher
	objects   *storage.MemoryStorage
}

var fixedNow = time.Unix(1700000100, 0)

func newHarness(t *testing.T, archiver service.ResultArchiver) *harness {
	t.Helper()
	h := &harness{
		store:     newMemoryStatusStore(),
		publisher: &fakePublisher{},
		objects:   storage.NewMemoryStorage(),
	}
	if archiver == nil {
		codec, err := archive.NewCodec(zstd.SpeedFastest)
		if err != nil {
			t.Fatalf("create codec failed: %v", err)
		}
		t.Cleanup(codec.Close)
		archiver = archive.NewArchiver(h.objects, "results", codec, time.Second)
	}
	svc, err := service.NewService(service.Config{
		StatusRepo:     h.store,
		Publisher:      h.publisher,
		Archiver:       archiver,
		WorkerPoolSize: 2,
		Now:            func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	h.svc = svc
	return h
}

func u32(v uint32) *uint32 { return &v }

var testID = submissionid.Encode(1700000000000, 7, u32(42), uuid.MustParse("00000000-1234-4000-8000-000000000000"))

func reportMessage(t *testing.T, report model.ExecutionReport) *mq.Message {
	t.Helper()
	body, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal report failed: %v", err)
	}
	return mq.NewMessage(body)
}

func tc(id int, st result.Status, stdout string) result.TestcaseResult {
	return result.TestcaseResult{ID: id, Status: st, Output: &result.ProcessOutput{Stdout: stdout}}
}

func TestHandleResultMessageResolvesVerdict(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	msg := reportMessage(t, model.ExecutionReport{
		SubmissionID: testID.String(),
		LanguageID:   "cpp17",
		Prepare:      &result.PrepareOutcome{OK: true},
		Tests: []result.TestcaseResult{
			tc(3, result.WrongAnswer, "3"),
			tc(1, result.Accepted, "1"),
			tc(2, result.WrongAnswer, "2"),
		},
	})
	if err := h.svc.HandleResultMessage(ctx, msg); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	st, _ := h.store.Get(ctx, testID.String())
	if st.Status != result.StatusFinished || st.Verdict != result.WrongAnswer || st.VerdictText != "Wrong Answer" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.DecidingTestID == nil || *st.DecidingTestID != 2 {
		t.Fatalf("expected deciding test 2, got %v", st.DecidingTestID)
	}
	if len(st.Tests) != 3 || st.Tests[0].ID != 1 || st.Tests[0].Output != nil {
		t.Fatalf("tests should be ordered and stripped of output: %+v", st.Tests)
	}
	if st.Timestamps.ReceivedAt != testID.Time().Unix() || st.Timestamps.FinishedAt != fixedNow.Unix() {
		t.Fatalf("unexpected timestamps %+v", st.Timestamps)
	}
	if st.Language != "cpp17" || st.Progress.DoneTests != 3 {
		t.Fatalf("unexpected language/progress %+v", st)
	}
	if got := h.store.history; len(got) != 2 || got[0] != result.StatusRunning || got[1] != result.StatusFinished {
		t.Fatalf("unexpected transitions %v", got)
	}
	if len(h.publisher.events) != 1 || h.publisher.events[0].Verdict != result.WrongAnswer {
		t.Fatalf("expected one final event, got %+v", h.publisher.events)
	}

	bundle, err := h.svc.GetOutputs(ctx, testID.String())
	if err != nil {
		t.Fatalf("load outputs failed: %v", err)
	}
	if st.ArchiveKey != archive.ObjectKey(testID) || len(bundle.Tests) != 3 || bundle.Tests[2].Output.Stdout != "3" {
		t.Fatalf("raw outputs not archived: key=%q bundle=%+v", st.ArchiveKey, bundle)
	}
}

func TestHandleResultMessageCompilationError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	exit := 1
	msg := reportMessage(t, model.ExecutionReport{
		SubmissionID: testID.String(),
		Prepare:      &result.PrepareOutcome{OK: false, Output: &result.ProcessOutput{ExitCode: &exit, Stderr: "error: expected ';'"}},
		Tests:        []result.TestcaseResult{tc(1, result.RuntimeError, "")},
	})
	if err := h.svc.HandleResultMessage(ctx, msg); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	st, _ := h.store.Get(ctx, testID.String())
	if st.Verdict != result.CompilationError || st.DecidingTestID != nil {
		t.Fatalf("unexpected verdict %+v", st)
	}
	bundle, _ := h.svc.GetOutputs(ctx, testID.String())
	if bundle.Prepare == nil || bundle.Prepare.Stderr != "error: expected ';'" {
		t.Fatalf("compiler output should be archived, got %+v", bundle.Prepare)
	}
}

func TestHandleResultMessageEmptyTestsAccepted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.svc.HandleResultMessage(ctx, reportMessage(t, model.ExecutionReport{SubmissionID: testID.String()})); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	st, _ := h.store.Get(ctx, testID.String())
	if st.Verdict != result.Accepted {
		t.Fatalf("expected Accepted, got %+v", st.Verdict)
	}
}

func TestHandleResultMessageInconsistentVerdict(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	msg := reportMessage(t, model.ExecutionReport{
		SubmissionID: testID.String(),
		Tests: []result.TestcaseResult{
			tc(1, result.Accepted, ""),
			tc(5, result.CompilationError, ""),
			tc(4, result.UnknownError("checker crashed"), ""),
		},
	})
	err := h.svc.HandleResultMessage(ctx, msg)
	if !mq.IsPermanent(err) || appErr.GetCode(err) != appErr.InconsistentVerdict {
		t.Fatalf("expected permanent InconsistentVerdict, got %v", err)
	}
	if e := appErr.GetError(err); e.Details["test_id"] != 4 {
		t.Fatalf("expected lowest offending test 4, got %v", e.Details)
	}
	st, _ := h.store.Get(ctx, testID.String())
	if st.Status != result.StatusFailed || st.ErrorCode != int(appErr.InconsistentVerdict) {
		t.Fatalf("submission should be failed, got %+v", st)
	}
	if len(h.publisher.events) != 1 || h.publisher.events[0].Status != result.StatusFailed {
		t.Fatalf("failure should be published once, got %+v", h.publisher.events)
	}
	if _, err := h.objects.StatObject(ctx, "results", archive.ObjectKey(testID)); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("inconsistent report must not be archived")
	}
}

func TestHandleResultMessageRejectsBadReports(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		msg  *mq.Message
		code appErr.ErrorCode
	}{
		{"nil", nil, appErr.InvalidParams},
		{"not json", mq.NewMessage([]byte("{")), appErr.ReportInvalid},
		{"non decimal id", reportMessage(t, model.ExecutionReport{SubmissionID: "12ab"}), appErr.MalformedIdentifier},
		{"reserved bits set", reportMessage(t, model.ExecutionReport{SubmissionID: "1"}), appErr.MalformedIdentifier},
	}
	for _, c := range cases {
		err := h.svc.HandleResultMessage(ctx, c.msg)
		if !mq.IsPermanent(err) || appErr.GetCode(err) != c.code {
			t.Errorf("%s: expected permanent %d, got %v", c.name, c.code, err)
		}
	}
	if len(h.store.statuses) != 0 {
		t.Fatalf("bad reports must not touch status")
	}
}

func TestHandleResultMessageIgnoresFinishedSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	done := model.JudgeStatusResponse{SubmissionID: testID.String(), Status: result.StatusFinished, Verdict: result.Accepted}
	_ = h.store.Save(ctx, done)

	msg := reportMessage(t, model.ExecutionReport{SubmissionID: testID.String(), Tests: []result.TestcaseResult{tc(1, result.WrongAnswer, "")}})
	if err := h.svc.HandleResultMessage(ctx, msg); err != nil {
		t.Fatalf("duplicate delivery should be acknowledged, got %v", err)
	}
	st, _ := h.store.Get(ctx, testID.String())
	if st.Verdict != result.Accepted || len(h.publisher.events) != 0 {
		t.Fatalf("finished submission must not change, got %+v", st)
	}
}

func TestHandleResultMessageIgnoresFailedSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	failed := model.JudgeStatusResponse{SubmissionID: testID.String(), Status: result.StatusFailed, Verdict: result.UnknownError("sandbox crashed")}
	_ = h.store.Save(ctx, failed)

	msg := reportMessage(t, model.ExecutionReport{SubmissionID: testID.String(), Tests: []result.TestcaseResult{tc(1, result.Accepted, "")}})
	if err := h.svc.HandleResultMessage(ctx, msg); err != nil {
		t.Fatalf("report for failed submission should be acknowledged, got %v", err)
	}
	engine := reportMessage(t, model.ExecutionReport{SubmissionID: testID.String(), EngineError: "second crash"})
	if err := h.svc.HandleResultMessage(ctx, engine); err != nil {
		t.Fatalf("engine failure for failed submission should be acknowledged, got %v", err)
	}
	body, _ := json.Marshal(service.ProgressReport{SubmissionID: testID.String(), TotalTests: 3, DoneTests: 1})
	if err := h.svc.HandleProgressMessage(ctx, mq.NewMessage(body)); err != nil {
		t.Fatalf("progress for failed submission should be dropped, got %v", err)
	}

	st, _ := h.store.Get(ctx, testID.String())
	if st.Status != result.StatusFailed || st.Verdict != failed.Verdict || len(h.publisher.events) != 0 {
		t.Fatalf("failed submission must not change, got %+v", st)
	}
	if len(h.store.history) != 1 {
		t.Fatalf("expected only the seeded save, got %v", h.store.history)
	}
}

func TestHandleResultMessageStatusHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	msg := reportMessage(t, model.ExecutionReport{SubmissionID: testID.String(), Tests: []result.TestcaseResult{tc(1, result.Accepted, "")}})
	if err := h.svc.HandleResultMessage(ctx, msg); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	want := []result.JudgeStatus{result.StatusRunning, result.StatusFinished}
	if len(h.store.history) != len(want) {
		t.Fatalf("history = %v, want %v", h.store.history, want)
	}
	for i := 1; i < len(h.store.history); i++ {
		if !h.store.history[i-1].CanTransition(h.store.history[i]) {
			t.Fatalf("illegal transition %s -> %s", h.store.history[i-1], h.store.history[i])
		}
	}
	for i, st := range want {
		if h.store.history[i] != st {
			t.Fatalf("history = %v, want %v", h.store.history, want)
		}
	}
}

func TestHandleResultMessageArchiveFailureIsRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t, failingArchiver{})
	ctx := context.Background()
	msg := reportMessage(t, model.ExecutionReport{SubmissionID: testID.String(), Tests: []result.TestcaseResult{tc(1, result.Accepted, "")}})
	err := h.svc.HandleResultMessage(ctx, msg)
	if err == nil || mq.IsPermanent(err) || appErr.GetCode(err) != appErr.ArchiveFailed {
		t.Fatalf("expected retryable ArchiveFailed, got %v", err)
	}
	st, _ := h.store.Get(ctx, testID.String())
	if st.Status != result.StatusRunning || len(h.publisher.events) != 0 {
		t.Fatalf("submission should stay running, got %+v", st)
	}
}

func TestHandleResultMessageEngineError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	msg := reportMessage(t, model.ExecutionReport{SubmissionID: testID.String(), EngineError: "sandbox crashed"})
	if err := h.svc.HandleResultMessage(ctx, msg); err != nil {
		t.Fatalf("engine failure should be recorded and acknowledged, got %v", err)
	}
	st, _ := h.store.Get(ctx, testID.String())
	if st.Status != result.StatusFailed || st.ErrorCode != int(appErr.JudgeSystemError) || st.ErrorMessage != "sandbox crashed" {
		t.Fatalf("unexpected failure status %+v", st)
	}
	if st.VerdictText != "UnknownError:(sandbox crashed)" {
		t.Fatalf("unexpected verdict text %q", st.VerdictText)
	}
}

func TestHandleProgressMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	body, _ := json.Marshal(service.ProgressReport{SubmissionID: testID.String(), TotalTests: 10, DoneTests: 4})
	if err := h.svc.HandleProgressMessage(ctx, mq.NewMessage(body)); err != nil {
		t.Fatalf("progress failed: %v", err)
	}
	st, _ := h.store.Get(ctx, testID.String())
	if st.Status != result.StatusRunning || st.Progress.DoneTests != 4 || st.Progress.TotalTests != 10 {
		t.Fatalf("unexpected progress %+v", st)
	}

	bad, _ := json.Marshal(service.ProgressReport{SubmissionID: testID.String(), TotalTests: 1, DoneTests: 2})
	if err := h.svc.HandleProgressMessage(ctx, mq.NewMessage(bad)); !mq.IsPermanent(err) {
		t.Fatalf("out of range progress should be permanent, got %v", err)
	}

	_ = h.store.Save(ctx, model.JudgeStatusResponse{SubmissionID: testID.String(), Status: result.StatusFinished})
	if err := h.svc.HandleProgressMessage(ctx, mq.NewMessage(body)); err != nil {
		t.Fatalf("late progress should be dropped, got %v", err)
	}
	st, _ = h.store.Get(ctx, testID.String())
	if st.Status != result.StatusFinished {
		t.Fatalf("late progress must not reopen submission")
	}
}

func TestGetStatusValidatesIdentifier(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.GetStatus(ctx, "abc"); appErr.GetCode(err) != appErr.MalformedIdentifier {
		t.Fatalf("expected MalformedIdentifier, got %v", err)
	}
	if _, err := h.svc.GetStatus(ctx, testID.String()); appErr.GetCode(err) != appErr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	_ = h.store.Save(ctx, model.JudgeStatusResponse{SubmissionID: testID.String(), Status: result.StatusPending})
	if _, err := h.svc.GetStatus(ctx, "0"+testID.String()); err != nil {
		t.Fatalf("leading zeros should resolve to the canonical key, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := service.NewService(service.Config{}); err == nil {
		t.Fatalf("expected error without dependencies")
	}
}
