package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/session"
)

// HandleListSessions lists the stored sessions and the current one
func (s *RESTServer) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names, err := s.deps.Sessions.ListSessions(ctx)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	sort.Strings(names)

	current, err := s.deps.Sessions.Current(ctx)
	if err != nil && err != session.ErrNoCurrentSession {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": names,
		"current":  current,
		"total":    len(names),
	})
}

// HandleCreateSession creates an empty session and makes it current
func (s *RESTServer) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.deps.Sessions.CreateSession(r.Context(), req.Name); err != nil {
		s.respondErr(w, err)
		return
	}
	s.syncAnalyzer(r)

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"name":    req.Name,
		"current": true,
	})
}

// HandleGetSession shows every parameter of a session
func (s *RESTServer) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	rec, err := s.deps.Sessions.With(name).Record(ctx)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	current, _ := s.deps.Sessions.Current(ctx)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"current": name == current,
		"params":  rec.Values(),
	})
}

// HandleDeleteSession deletes a session
func (s *RESTServer) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleActivateSession makes a session current
func (s *RESTServer) HandleActivateSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.deps.Sessions.Activate(r.Context(), name); err != nil {
		s.respondErr(w, err)
		return
	}
	s.syncAnalyzer(r)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"current": name,
	})
}

// HandleResetSession clears every parameter of a session
func (s *RESTServer) HandleResetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.With(chi.URLParam(r, "name")).Reset(r.Context()); err != nil {
		s.respondErr(w, err)
		return
	}
	s.syncAnalyzer(r)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetParam sets one parameter, usually a root key
func (s *RESTServer) HandleSetParam(w http.ResponseWriter, r *http.Request) {
	p, err := session.ParseParam(chi.URLParam(r, "param"))
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req struct {
		Value string `json:"value" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.deps.Sessions.With(name).Set(r.Context(), p, req.Value); err != nil {
		s.respondErr(w, err)
		return
	}
	s.syncAnalyzer(r)

	log.Info().Str("session", name).Str("param", p.String()).Msg("Session parameter set via API")
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"param": p.String(),
		"value": req.Value,
	})
}

// HandleUnsetParam clears one parameter
func (s *RESTServer) HandleUnsetParam(w http.ResponseWriter, r *http.Request) {
	p, err := session.ParseParam(chi.URLParam(r, "param"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.deps.Sessions.With(chi.URLParam(r, "name")).Unset(r.Context(), p); err != nil {
		s.respondErr(w, err)
		return
	}
	s.syncAnalyzer(r)
	w.WriteHeader(http.StatusNoContent)
}

// syncAnalyzer refreshes the analyzer state after an operator edit
func (s *RESTServer) syncAnalyzer(r *http.Request) {
	if s.deps.Analyzer == nil {
		return
	}
	if err := s.deps.Analyzer.Sync(r.Context()); err != nil && err != session.ErrNoCurrentSession {
		log.Warn().Err(err).Msg("Analyzer sync failed")
	}
}
