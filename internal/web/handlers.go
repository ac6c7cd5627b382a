package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lucasnoah/postfactory/internal/db"
	"github.com/lucasnoah/postfactory/internal/orchestrator"
	"github.com/lucasnoah/postfactory/internal/pipeline"
)

const (
	maxRequestBytes  = 1 << 20
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

type errorResponse struct {
	Error   string            `json:"error"`
	Details []string          `json:"details,omitempty"`
	Outcome *pipeline.Outcome `json:"outcome,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details ...string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGenerate runs one pipeline synchronously. Unconverged content is a
// 200 with quality_threshold_met=false; only a fatal stage failure is an
// error status, and it still carries the partial outcome.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.GenerateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid generate request", errs...)
		return
	}

	pc := req.Context()
	log := s.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
	out, err := s.gen.Run(r.Context(), req.Pipeline, pc)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownPipeline):
		writeError(w, http.StatusBadRequest, err.Error())
	case orchestrator.IsFatal(err):
		log.Warn("generate failed", zap.String("run_id", pc.RunID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Outcome: out})
	case err != nil:
		log.Error("generate failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

// runView is the JSON form of an event-log run.
type runView struct {
	ID                 string `json:"id"`
	Pipeline           string `json:"pipeline"`
	Topic              string `json:"topic"`
	Region             string `json:"region,omitempty"`
	CampaignStage      string `json:"campaign_stage,omitempty"`
	Status             string `json:"status"`
	QualityMet         bool   `json:"quality_met"`
	RefinementAttempts int    `json:"refinement_attempts"`
	ComplianceRisk     string `json:"compliance_risk,omitempty"`
	WordCount          int    `json:"word_count"`
	DurationMs         int64  `json:"duration_ms"`
	Error              string `json:"error,omitempty"`
	StartedAt          string `json:"started_at"`
	FinishedAt         string `json:"finished_at,omitempty"`
}

func newRunView(r db.Run) runView {
	return runView{
		ID:                 r.ID,
		Pipeline:           r.Pipeline,
		Topic:              r.Topic,
		Region:             r.Region,
		CampaignStage:      r.CampaignStage,
		Status:             r.Status,
		QualityMet:         r.QualityMet,
		RefinementAttempts: r.RefinementAttempts,
		ComplianceRisk:     r.ComplianceRisk,
		WordCount:          r.WordCount,
		DurationMs:         r.DurationMs,
		Error:              r.Error,
		StartedAt:          r.StartedAt,
		FinishedAt:         r.FinishedAt,
	}
}

type stageView struct {
	Slot       string `json:"slot"`
	Stage      string `json:"stage"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type gateView struct {
	Gate     string   `json:"gate"`
	Phase    string   `json:"phase"`
	FixRound int      `json:"fix_round"`
	Passed   bool     `json:"passed"`
	Risk     string   `json:"risk,omitempty"`
	IssueIDs []string `json:"issue_ids,omitempty"`
}

type runDetail struct {
	Run     *runView          `json:"run,omitempty"`
	Stages  []stageView       `json:"stages,omitempty"`
	Gates   []gateView        `json:"gates,omitempty"`
	Outcome *pipeline.Outcome `json:"outcome,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "run log not configured")
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.runs.RecentRuns(limit)
	if err != nil {
		s.logger.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": views})
}

// handleGetRun merges the event-log rows with the stored outcome. Either
// source alone is enough to answer.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || strings.ContainsAny(id, `/\`) {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	if s.runs == nil && s.store == nil {
		writeError(w, http.StatusNotImplemented, "run log not configured")
		return
	}

	var detail runDetail
	if s.runs != nil {
		run, err := s.runs.GetRun(id)
		if err != nil {
			s.logger.Error("get run", zap.String("run_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get run failed")
			return
		}
		if run != nil {
			v := newRunView(*run)
			detail.Run = &v
			stages, err := s.runs.StageRuns(id)
			if err != nil {
				s.logger.Warn("stage runs", zap.String("run_id", id), zap.Error(err))
			}
			for _, st := range stages {
				detail.Stages = append(detail.Stages, stageView{
					Slot: st.Slot, Stage: st.Stage, Success: st.Success, Skipped: st.Skipped,
					DurationMs: st.DurationMs, Error: st.Error,
				})
			}
			gates, err := s.runs.GateRuns(id)
			if err != nil {
				s.logger.Warn("gate runs", zap.String("run_id", id), zap.Error(err))
			}
			for _, g := range gates {
				detail.Gates = append(detail.Gates, gateView{
					Gate: g.Gate, Phase: g.Phase, FixRound: g.FixRound, Passed: g.Passed,
					Risk: g.Risk, IssueIDs: g.IssueIDs,
				})
			}
		}
	}
	if s.store != nil {
		if rec, err := s.store.Get(id); err == nil {
			detail.Outcome = rec.Outcome
		}
	}

	if detail.Run == nil && detail.Outcome == nil {
		writeError(w, http.StatusNotFound, "run "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
