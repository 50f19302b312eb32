package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BadgerOps/mirrorgen/internal/store"
)

type runJSON struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	Filters        string    `json:"filters"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	RecordsTotal   int       `json:"records_total"`
	RecordsSkipped int       `json:"records_skipped"`
	RecordsMatched int       `json:"records_matched"`
	MirrorsEmitted int       `json:"mirrors_emitted"`
	OutputPath     string    `json:"output_path,omitempty"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
}

type skippedJSON struct {
	Index  int    `json:"index"`
	URL    string `json:"url"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

type runDetailJSON struct {
	runJSON
	Skipped []skippedJSON `json:"skipped"`
}

func runToJSON(run store.GenerationRun) runJSON {
	return runJSON{
		ID:             run.ID,
		Source:         run.Source,
		Filters:        run.Filters,
		StartTime:      run.StartTime,
		EndTime:        run.EndTime,
		DurationMS:     run.Duration().Milliseconds(),
		RecordsTotal:   run.RecordsTotal,
		RecordsSkipped: run.RecordsSkipped,
		RecordsMatched: run.RecordsMatched,
		MirrorsEmitted: run.MirrorsEmitted,
		OutputPath:     run.OutputPath,
		Status:         run.Status,
		Error:          run.ErrorMessage,
	}
}

// handleAPIRuns lists recent generation runs, newest first.
func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.URL.Query().Get("status"), limit)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		result = append(result, runToJSON(run))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleAPIRun returns one run with its skipped records.
func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	id := r.PathValue("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "run not found: "+id)
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	skipped, err := s.store.ListSkippedRecords(id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	detail := runDetailJSON{runJSON: runToJSON(*run), Skipped: make([]skippedJSON, 0, len(skipped))}
	for _, sk := range skipped {
		detail.Skipped = append(detail.Skipped, skippedJSON{
			Index:  sk.RecordIndex,
			URL:    sk.URL,
			Stage:  sk.Stage,
			Reason: sk.Reason,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}
