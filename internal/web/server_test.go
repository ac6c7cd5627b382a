package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucasnoah/postfactory/internal/db"
	"github.com/lucasnoah/postfactory/internal/metrics"
	"github.com/lucasnoah/postfactory/internal/orchestrator"
	"github.com/lucasnoah/postfactory/internal/pipeline"
)

// ---- fakes ----

type fakeGen struct {
	gotName string
	gotPC   *pipeline.Context
	out     *pipeline.Outcome
	err     error
}

func (f *fakeGen) Run(ctx context.Context, name string, pc *pipeline.Context) (*pipeline.Outcome, error) {
	f.gotName = name
	f.gotPC = pc
	pc.RunID = "run-1"
	return f.out, f.err
}

type fakeRunLog struct {
	runs   []db.Run
	stages []db.StageRun
	gates  []db.GateRun
	err    error
	limit  int
}

func (f *fakeRunLog) RecentRuns(limit int) ([]db.Run, error) {
	f.limit = limit
	return f.runs, f.err
}

func (f *fakeRunLog) GetRun(id string) (*db.Run, error) {
	for _, r := range f.runs {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, f.err
}

func (f *fakeRunLog) StageRuns(string) ([]db.StageRun, error) { return f.stages, nil }
func (f *fakeRunLog) GateRuns(string) ([]db.GateRun, error)   { return f.gates, nil }

type fakeStore map[string]*pipeline.RunRecord

func (f fakeStore) Get(id string) (*pipeline.RunRecord, error) {
	if rec, ok := f[id]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("run %s not found", id)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// ---- generate ----

func TestGenerate_OK(t *testing.T) {
	gen := &fakeGen{out: &pipeline.Outcome{
		RunID:    "run-1",
		Success:  true,
		Content:  "본문",
		Title:    "제목",
		Metadata: pipeline.OutcomeMetadata{QualityThresholdMet: false, RefinementAttempts: 2},
	}}
	s := NewServer(gen)

	body := `{"pipeline":"premium","topic":"동구 체육관 건립","user_profile":{"name":"김민수","campaign_stage":"registered_candidate"},"required_keywords":["동구 체육관","생활체육"],"target_word_count":1800}`
	rec := do(t, s, http.MethodPost, "/v1/generate", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gen.gotName != "premium" {
		t.Errorf("pipeline = %q", gen.gotName)
	}
	if gen.gotPC.TargetLength != 1800 || len(gen.gotPC.RequiredKeywords) != 2 {
		t.Errorf("context = %+v", gen.gotPC)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}

	var out pipeline.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// unconverged content is still a 200 with the flag set
	if out.Metadata.QualityThresholdMet || out.Metadata.RefinementAttempts != 2 || out.Content != "본문" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestGenerate_BadBody(t *testing.T) {
	s := NewServer(&fakeGen{})
	if rec := do(t, s, http.MethodPost, "/v1/generate", `{"topic":`); rec.Code != http.StatusBadRequest {
		t.Errorf("truncated json: status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/v1/generate", `{"topic":"x","tone":"angry"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d", rec.Code)
	}
}

func TestGenerate_ValidationErrors(t *testing.T) {
	gen := &fakeGen{}
	s := NewServer(gen)
	rec := do(t, s, http.MethodPost, "/v1/generate", `{"topic":"","user_profile":{"campaign_stage":"elected"}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Details) != 2 {
		t.Errorf("details = %v", resp.Details)
	}
	if gen.gotPC != nil {
		t.Error("generator must not run on invalid input")
	}
}

func TestGenerate_UnknownPipeline(t *testing.T) {
	gen := &fakeGen{err: fmt.Errorf("%w: unknown pipeline definition %q", orchestrator.ErrUnknownPipeline, "express")}
	rec := do(t, NewServer(gen), http.MethodPost, "/v1/generate", `{"topic":"t","pipeline":"express"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGenerate_FatalCarriesPartialOutcome(t *testing.T) {
	gen := &fakeGen{
		out: &pipeline.Outcome{RunID: "run-1", Metadata: pipeline.OutcomeMetadata{Error: "writer down"}},
		err: &orchestrator.FatalStageError{Slot: "writer", Stage: "writer", Err: errors.New("writer down")},
	}
	rec := do(t, NewServer(gen), http.MethodPost, "/v1/generate", `{"topic":"t"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome == nil || resp.Outcome.RunID != "run-1" {
		t.Errorf("partial outcome missing: %+v", resp)
	}
}

func TestGenerate_OtherError(t *testing.T) {
	gen := &fakeGen{err: errors.New("boom")}
	rec := do(t, NewServer(gen), http.MethodPost, "/v1/generate", `{"topic":"t"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGenerate_MethodNotAllowed(t *testing.T) {
	rec := do(t, NewServer(&fakeGen{}), http.MethodGet, "/v1/generate", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

// ---- runs ----

func TestListRuns(t *testing.T) {
	log := &fakeRunLog{runs: []db.Run{
		{ID: "b", Pipeline: "default", Topic: "t2", Status: db.RunSucceeded, QualityMet: true},
		{ID: "a", Pipeline: "default", Topic: "t1", Status: db.RunFailed, Error: "writer down"},
	}}
	s := NewServer(&fakeGen{}, WithRunLog(log))

	rec := do(t, s, http.MethodGet, "/v1/runs?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if log.limit != 5 {
		t.Errorf("limit = %d, want 5", log.limit)
	}
	var resp struct {
		Runs []runView `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Runs) != 2 || resp.Runs[0].ID != "b" || !resp.Runs[0].QualityMet {
		t.Errorf("runs = %+v", resp.Runs)
	}

	do(t, s, http.MethodGet, "/v1/runs?limit=100000", "")
	if log.limit != maxRunsLimit {
		t.Errorf("limit = %d, want cap %d", log.limit, maxRunsLimit)
	}
	if rec := do(t, s, http.MethodGet, "/v1/runs?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: status = %d", rec.Code)
	}
}

func TestListRuns_NotConfigured(t *testing.T) {
	rec := do(t, NewServer(&fakeGen{}), http.MethodGet, "/v1/runs", "")
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestListRuns_Error(t *testing.T) {
	s := NewServer(&fakeGen{}, WithRunLog(&fakeRunLog{err: errors.New("db locked")}))
	if rec := do(t, s, http.MethodGet, "/v1/runs", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetRun(t *testing.T) {
	log := &fakeRunLog{
		runs:   []db.Run{{ID: "r1", Pipeline: "default", Status: db.RunSucceeded}},
		stages: []db.StageRun{{RunID: "r1", Slot: "writer", Stage: "writer", Success: true, DurationMs: 900}},
		gates:  []db.GateRun{{RunID: "r1", Gate: "compliance", Phase: db.PhaseStage, Passed: false, IssueIDs: []string{"bribery_offer"}}},
	}
	store := fakeStore{"r1": {RunID: "r1", Outcome: &pipeline.Outcome{RunID: "r1", Title: "제목"}}}
	s := NewServer(&fakeGen{}, WithRunLog(log), WithRunStore(store))

	rec := do(t, s, http.MethodGet, "/v1/runs/r1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var detail runDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Run == nil || detail.Run.ID != "r1" {
		t.Errorf("run = %+v", detail.Run)
	}
	if len(detail.Stages) != 1 || detail.Stages[0].DurationMs != 900 {
		t.Errorf("stages = %+v", detail.Stages)
	}
	if len(detail.Gates) != 1 || detail.Gates[0].IssueIDs[0] != "bribery_offer" {
		t.Errorf("gates = %+v", detail.Gates)
	}
	if detail.Outcome == nil || detail.Outcome.Title != "제목" {
		t.Errorf("outcome = %+v", detail.Outcome)
	}
}

func TestGetRun_StoreOnly(t *testing.T) {
	store := fakeStore{"r2": {RunID: "r2", Outcome: &pipeline.Outcome{RunID: "r2"}}}
	s := NewServer(&fakeGen{}, WithRunStore(store))
	if rec := do(t, s, http.MethodGet, "/v1/runs/r2", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := NewServer(&fakeGen{}, WithRunLog(&fakeRunLog{}), WithRunStore(fakeStore{}))
	if rec := do(t, s, http.MethodGet, "/v1/runs/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

// ---- ambient ----

func TestHealthz(t *testing.T) {
	rec := do(t, NewServer(&fakeGen{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRequestLoggerUsesRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewServer(&fakeGen{}, WithLogger(zap.New(core)))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 request log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "abc-123" || fields["status"] != int64(200) {
		t.Errorf("log fields = %v", fields)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveGate("compliance", true)

	rec := do(t, NewServer(&fakeGen{}, WithGatherer(reg)), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `factory_gate_results_total{check="compliance",passed="true"} 1`) {
		t.Errorf("metrics output missing gate counter:\n%s", rec.Body.String())
	}
}

func TestRecoverer(t *testing.T) {
	gen := &panicGen{}
	rec := do(t, NewServer(gen), http.MethodPost, "/v1/generate", `{"topic":"t"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

type panicGen struct{}

func (panicGen) Run(context.Context, string, *pipeline.Context) (*pipeline.Outcome, error) {
	panic("stage bug")
}
