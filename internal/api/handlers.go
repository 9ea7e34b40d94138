package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/streampilot/streampilot-server/internal/models"
	"github.com/streampilot/streampilot-server/internal/storage"
)

// ========== Health handlers ==========

// HandleHealth reports collector liveness plus per-device freshness: last
// sample timestamp, active session count and the recent age history.
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.poller.Status()

	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ages := s.tracker.AgeHistory()

	type deviceHealth struct {
		ID             int64      `json:"id"`
		Name           string     `json:"name"`
		Host           string     `json:"host"`
		Port           int        `json:"port"`
		LastSampleTS   *time.Time `json:"last_sample_ts"`
		ActiveSessions int        `json:"active_sessions"`
		AgeHistory     any        `json:"age_history,omitempty"`
	}

	out := make([]deviceHealth, 0, len(devices))
	for _, d := range devices {
		dh := deviceHealth{ID: d.ID, Name: d.Name, Host: d.Host, Port: d.Port}

		if ts, err := s.store.LastSampleTime(r.Context(), d.Host); err == nil {
			dh.LastSampleTS = ts
		}
		if n, err := s.store.ActiveSessionCount(r.Context(), d.Host); err == nil {
			dh.ActiveSessions = n
		}
		if hist, ok := ages[d.Host]; ok {
			dh.AgeHistory = hist
		}
		out = append(out, dh)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"poller": map[string]interface{}{
			"running":         status.Running,
			"interval":        status.Interval.Seconds(),
			"last_cycle_secs": status.LastCycleSecs,
			"last_error":      status.LastError,
		},
		"devices": out,
	})
}

// ========== Device handlers ==========

// HandleListDevices lists the device registry
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   len(devices),
	})
}

// HandleCreateDevice registers a device to poll
func (s *RESTServer) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req models.Device
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Host == "" {
		s.respondError(w, http.StatusBadRequest, "host is required")
		return
	}
	if req.Name == "" {
		req.Name = "StreamHub"
	}
	if req.Protocol == "" {
		req.Protocol = "https"
	}
	if req.Port == 0 {
		req.Port = 443
	}
	if req.APIPath == "" {
		req.APIPath = "/rest-api/"
	}

	if err := s.store.CreateDevice(r.Context(), &req); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Int64("id", req.ID).Str("host", req.Host).Msg("Device registered")
	s.respondJSON(w, http.StatusCreated, &req)
}

// HandleDeleteDevice removes a device from the registry
func (s *RESTServer) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	if err := s.store.DeleteDevice(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// ========== Session handlers ==========

// HandleListSessions lists all recorded sessions
func (s *RESTServer) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// HandleGetSession fetches one session
func (s *RESTServer) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromURL(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

// HandleListSamples fetches the samples of a session ordered by insertion
func (s *RESTServer) HandleListSamples(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromURL(w, r)
	if !ok {
		return
	}

	samples, err := s.store.ListSamples(r.Context(), session.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
		"samples": samples,
		"total":   len(samples),
	})
}

// HandleSetSessionTitle assigns a user title to a session
func (s *RESTServer) HandleSetSessionTitle(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromURL(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.SetSessionTitle(r.Context(), session.ID, req.Title); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": session.ID, "title": req.Title})
}

// HandleDeleteSession purges a session and its samples
func (s *RESTServer) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromURL(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteSession(r.Context(), session.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": session.ID})
}

// sessionFromURL resolves the {id} parameter, writing the error response on
// failure.
func (s *RESTServer) sessionFromURL(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return session, true
}

// ========== Response helpers ==========

func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{"error": message})
}
