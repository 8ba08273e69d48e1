package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ojsubmit/internal/judge/archive"
	"ojsubmit/internal/judge/controller"
	"ojsubmit/internal/judge/model"
	"ojsubmit/internal/judge/result"
	appErr "ojsubmit/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeReader struct {
	statuses map[string]model.JudgeStatusResponse
}

func (f *fakeReader) GetStatus(_ context.Context, id string) (model.JudgeStatusResponse, error) {
	if id == "bad" {
		return model.JudgeStatusResponse{}, appErr.New(appErr.MalformedIdentifier).WithMessage("identifier \"bad\" is not a decimal number")
	}
	st, ok := f.statuses[id]
	if !ok {
		return model.JudgeStatusResponse{}, appErr.New(appErr.NotFound)
	}
	return st, nil
}

func (f *fakeReader) GetOutputs(_ context.Context, id string) (archive.Bundle, error) {
	if _, ok := f.statuses[id]; !ok {
		return archive.Bundle{}, appErr.New(appErr.NotFound)
	}
	return archive.Bundle{SubmissionID: id, Tests: []result.TestcaseResult{{ID: 1, Status: result.Accepted}}}, nil
}

type envelope struct {
	Code appErr.ErrorCode `json:"code"`
	Data json.RawMessage  `json:"data"`
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	controller.NewJudgeController(&fakeReader{statuses: map[string]model.JudgeStatusResponse{
		"128": {SubmissionID: "128", Status: result.StatusFinished, Verdict: result.PartialPoints, VerdictText: "Partial Execution"},
	}}).RegisterRoutes(router)
	return router
}

func do(t *testing.T, router *gin.Engine, path string) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response failed: %v body=%s", err, rec.Body.String())
	}
	return rec.Code, env
}

func TestJudgeControllerGetStatus(t *testing.T) {
	t.Parallel()
	router := newRouter()

	code, env := do(t, router, "/api/v1/judge/status/128")
	if code != http.StatusOK || env.Code != appErr.Success {
		t.Fatalf("unexpected response %d %+v", code, env)
	}
	var st model.JudgeStatusResponse
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode status failed: %v", err)
	}
	if st.Verdict != result.PartialPoints || st.VerdictText != "Partial Execution" {
		t.Fatalf("unexpected status %+v", st)
	}

	cases := []struct {
		path   string
		status int
		code   appErr.ErrorCode
	}{
		{"/api/v1/judge/status/bad", http.StatusBadRequest, appErr.MalformedIdentifier},
		{"/api/v1/judge/status/256", http.StatusNotFound, appErr.NotFound},
		{"/api/v1/judge/status/256/outputs", http.StatusNotFound, appErr.NotFound},
	}
	for _, c := range cases {
		code, env := do(t, router, c.path)
		if code != c.status || env.Code != c.code {
			t.Errorf("%s: got %d/%d, want %d/%d", c.path, code, env.Code, c.status, c.code)
		}
	}
}

func TestJudgeControllerGetOutputs(t *testing.T) {
	t.Parallel()
	code, env := do(t, newRouter(), "/api/v1/judge/status/128/outputs")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	var b archive.Bundle
	if err := json.Unmarshal(env.Data, &b); err != nil || b.SubmissionID != "128" || len(b.Tests) != 1 {
		t.Fatalf("unexpected bundle %+v err=%v", b, err)
	}
}
