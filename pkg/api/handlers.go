package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/ethpandaops/flakeoor/pkg/ingest"
	"github.com/ethpandaops/flakeoor/pkg/store"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"history": s.store != nil,
	})
}

// --- Detection ---

// detectRequest is the body of POST /detect. Options fields that are
// omitted keep their configured values.
type detectRequest struct {
	Source  string          `json:"source,omitempty"`
	Records json.RawMessage `json:"records"`
	Options json.RawMessage `json:"options,omitempty"`
}

type detectResponse struct {
	RunID *uint `json:"run_id,omitempty"`
	*detector.Result
}

// handleDetect runs the detection pipeline over the posted records.
func (s *server) handleDetect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.metrics.observeFailure("too_large")
			writeJSON(w, http.StatusRequestEntityTooLarge,
				errorResponse{"request body too large"})

			return
		}

		s.metrics.observeFailure("invalid")
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if len(req.Records) == 0 {
		s.metrics.observeFailure("invalid")
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"records are required"})

		return
	}

	opts := s.cfg.DetectorOptions()
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			s.metrics.observeFailure("invalid")
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid options: " + err.Error()})

			return
		}
	}

	det, err := detector.New(s.log, opts, nil)
	if err != nil {
		s.metrics.observeFailure("invalid")
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	loader := ingest.NewLoader(s.log, ingest.Options{
		Format: ingest.FormatJSON,
		Strict: true,
	})

	parsed, err := loader.Parse(r.Context(), "request", ingest.FormatJSON, req.Records)
	if err != nil {
		s.metrics.observeFailure("invalid")

		var ierr *ingest.IngestionError
		if errors.As(err, &ierr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{ierr.Error()})

			return
		}

		writeJSON(w, http.StatusBadRequest,
			errorResponse{fmt.Sprintf("invalid records: %v", err)})

		return
	}

	if limit := s.cfg.API.MaxRecords; limit > 0 && len(parsed.Records) > limit {
		s.metrics.observeFailure("too_large")
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			fmt.Sprintf("%d records exceed the limit of %d", len(parsed.Records), limit),
		})

		return
	}

	start := time.Now()

	res, err := det.Detect(r.Context(), parsed.Records)
	if err != nil {
		s.metrics.observeFailure("error")
		s.log.WithError(err).Error("Detection failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"detection failed"})

		return
	}

	s.metrics.observeDetection(res, time.Since(start))

	resp := detectResponse{Result: res}

	if s.store != nil {
		source := req.Source
		if source == "" {
			source = "api"
		}

		run, err := s.store.SaveRun(r.Context(), source, res)
		if err != nil {
			s.log.WithError(err).Error("Failed to save detection run")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}

		resp.RunID = &run.ID
	}

	s.log.WithFields(logrus.Fields{
		"user":       userFromContext(r.Context()),
		"executions": res.Summary.TotalExecutions,
		"flaky":      res.Summary.FlakyExecutions,
	}).Info("Detection request served")

	writeJSON(w, http.StatusOK, resp)
}

// --- History ---

type runResponse struct {
	Run   *store.DetectionRun    `json:"run"`
	Tests []store.TestSummaryRow `json:"tests"`
}

// handleListRuns returns the most recent detection runs.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if runs == nil {
		runs = []store.DetectionRun{}
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns one run with its per-test summaries.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid run id"})

		return
	}

	run, err := s.store.GetRun(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	tests, err := s.store.ListTestSummaries(r.Context(), run.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list test summaries")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if tests == nil {
		tests = []store.TestSummaryRow{}
	}

	writeJSON(w, http.StatusOK, runResponse{Run: run, Tests: tests})
}

// handleTestHistory returns one test's summaries across runs. Test ids
// containing "/" must be sent path-escaped.
func (s *server) handleTestHistory(w http.ResponseWriter, r *http.Request) {
	testID, err := url.PathUnescape(chi.URLParam(r, "testID"))
	if err != nil || testID == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid test id"})

		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	rows, err := s.store.ListTestHistory(r.Context(), testID, limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list test history")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if rows == nil {
		rows = []store.TestSummaryRow{}
	}

	writeJSON(w, http.StatusOK, rows)
}

// parseLimit reads the optional "limit" query parameter.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}

	return min(limit, maxListLimit), nil
}
