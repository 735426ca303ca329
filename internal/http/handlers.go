package portalhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/strongaya/federated-data-portal/internal/auth"
	"github.com/strongaya/federated-data-portal/internal/http/problem"
	"github.com/strongaya/federated-data-portal/internal/report"
	"github.com/strongaya/federated-data-portal/internal/store"
	"github.com/strongaya/federated-data-portal/internal/vantage6"
	pkglog "github.com/strongaya/federated-data-portal/pkg/log"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		pkglog.Named("http").Errorw("failed to encode response", "error", err)
	}
}

// latestSnapshot fetches the newest snapshot or writes the problem response
// for an empty store.
func (s *Server) latestSnapshot(w http.ResponseWriter, r *http.Request) (store.Snapshot, bool) {
	snap, ok := s.store.Latest()
	if !ok {
		problem.Write(w, http.StatusNotFound, "No Data", "No snapshot available yet",
			traceIDFromContext(r.Context()), r.URL.Path)
		return store.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	reportOut := s.checker.Readiness(r.Context())
	status := http.StatusOK
	if reportOut.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, reportOut)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latestSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.Summarise(snap, s.cfg.Report.SubjectLabel))
}

func (s *Server) handleOrganisationDistribution(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latestSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.ByOrganisation(snap, s.cfg.Report.SubjectLabel))
}

func (s *Server) handleCountryDistribution(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latestSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.ByCountry(snap, s.cfg.Report.SubjectLabel))
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latestSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.BuildAvailability(s.schemas.Current(), snap, s.cfg.Report.SubjectLabel))
}

func (s *Server) handleCompleteness(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latestSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.BuildCompleteness(s.schemas.Current(), snap))
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.schemas.Current().Expanded())
}

// snapshotList is the default /api/v1/snapshots payload.
type snapshotList struct {
	Count      int         `json:"count"`
	Timestamps []time.Time `json:"timestamps"`
}

// snapshotDetail is returned when a specific snapshot is requested with ?at=.
type snapshotDetail struct {
	Timestamp     time.Time                           `json:"timestamp"`
	Organisations []vantage6.OrganisationDescriptives `json:"organisations"`
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	at := r.URL.Query().Get("at")
	if at == "" {
		timestamps := s.store.Timestamps()
		writeJSON(w, http.StatusOK, snapshotList{Count: len(timestamps), Timestamps: timestamps})
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		problem.Write(w, http.StatusBadRequest, "Invalid Parameter",
			"at must be an RFC 3339 timestamp", traceIDFromContext(r.Context()), r.URL.Path)
		return
	}

	snap, ok := s.store.At(ts)
	if !ok {
		problem.Write(w, http.StatusNotFound, "No Data",
			"No snapshot at the given timestamp", traceIDFromContext(r.Context()), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, snapshotDetail{Timestamp: snap.Timestamp, Organisations: snap.Organisations})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFromContext(r.Context())

	if s.auth == nil {
		problem.Write(w, http.StatusServiceUnavailable, "Refresh Not Configured",
			"Manual refresh requires JWT authentication to be configured", traceID, r.URL.Path)
		return
	}
	if s.collector == nil {
		problem.Write(w, http.StatusServiceUnavailable, "Refresh Not Configured",
			"No collector is attached to this server", traceID, r.URL.Path)
		return
	}

	principal, err := s.auth.Authenticate(r)
	if err != nil {
		status := http.StatusUnauthorized
		title := "Authentication Required"
		detail := err.Error()
		var authErr auth.Error
		if errors.As(err, &authErr) {
			status = authErr.Status
			title = authErr.Title
			detail = authErr.Detail
		}
		problem.Write(w, status, title, detail, traceID, r.URL.Path)
		return
	}

	if !principal.HasAnyScope([]string{auth.ScopeRefresh}) {
		problem.Write(w, http.StatusForbidden, "Insufficient Scope",
			"Token lacks the "+auth.ScopeRefresh+" scope", traceID, r.URL.Path)
		return
	}

	s.collector.Refresh()
	pkglog.Named("http").Infow("manual refresh requested", "subject", principal.Subject)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
