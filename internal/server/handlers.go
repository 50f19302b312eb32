package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/BadgerOps/mirrorgen/internal/engine"
	"github.com/BadgerOps/mirrorgen/internal/feed"
	"github.com/BadgerOps/mirrorgen/internal/mirror"
)

// handleRedirectMirrorlist redirects / to /mirrorlist.
func (s *Server) handleRedirectMirrorlist(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/mirrorlist", http.StatusFound)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleMirrorlist fetches the feed and renders a mirrorlist for the
// configured filters, overridden by any query parameters.
func (s *Server) handleMirrorlist(w http.ResponseWriter, r *http.Request) {
	opts, err := s.mirrorlistOptions(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.generator.Generate(r.Context(), opts)
	if err != nil {
		var ferr *feed.FetchError
		var perr *mirror.ParseError
		switch {
		case errors.As(err, &ferr), errors.As(err, &perr):
			jsonError(w, http.StatusBadGateway, err.Error())
		default:
			jsonError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Mirrors-Emitted", strconv.Itoa(report.Emitted))
	w.Header().Set("X-Records-Skipped", strconv.Itoa(len(report.Skipped)))
	if report.RunID != "" {
		w.Header().Set("X-Run-ID", report.RunID)
	}
	w.WriteHeader(http.StatusOK)
	for _, line := range report.Lines {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			s.logger.Warn("failed to write mirrorlist response", "error", err)
			return
		}
	}
}

func (s *Server) mirrorlistOptions(r *http.Request) (engine.Options, error) {
	q := r.URL.Query()
	fc := s.config.Filter
	limit := s.config.Output.Limit

	if v := q.Get("protocol"); v != "" {
		fc.Protocol = v
	}
	if v := q.Get("country"); v != "" {
		fc.Country = v
	}
	if v := q.Get("max_delay"); v != "" {
		fc.MaxDelay = v
	}
	if v := q.Get("min_completion"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return engine.Options{}, errors.New("min_completion must be a number")
		}
		fc.MinCompletion = f
	}
	if v := q.Get("max_duration"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return engine.Options{}, errors.New("max_duration must be a number")
		}
		fc.MaxDuration = f
	}
	for name, dst := range map[string]*bool{"ipv4": &fc.RequireIPv4, "ipv6": &fc.RequireIPv6} {
		if v := q.Get(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return engine.Options{}, errors.New(name + " must be a boolean")
			}
			*dst = b
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return engine.Options{}, errors.New("limit must be a non-negative integer")
		}
		limit = n
	}

	filter, err := fc.Build()
	if err != nil {
		return engine.Options{}, err
	}

	return engine.Options{
		Filter:       filter,
		Limit:        limit,
		Directive:    s.config.Output.Directive,
		PathTemplate: s.config.Output.PathTemplate,
	}, nil
}

func jsonError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": strings.TrimSpace(message)})
}
