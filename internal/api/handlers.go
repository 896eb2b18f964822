package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/auth"
	"github.com/lorawan-server/lorawan-tester/internal/session"
	"github.com/lorawan-server/lorawan-tester/internal/storage"
	"github.com/lorawan-server/lorawan-tester/pkg/lorawan"
)

// ========== Auth handlers ==========

// HandleLogin exchanges operator credentials for an access token
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	token, expires, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrNoSecret) {
			s.respondError(w, http.StatusServiceUnavailable, "authentication is not configured")
			return
		}
		log.Warn().Str("username", req.Username).Msg("Login rejected")
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   int(time.Until(expires).Seconds()),
		"token_type":   "Bearer",
	})
}

// HandleMe returns the authenticated operator
func (s *RESTServer) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"username": "", "authenticated": false})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"username":      claims.Username,
		"authenticated": true,
		"expires_at":    claims.ExpiresAt.Time,
	})
}

// ========== Helper methods ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
	})
}

// decode reads and validates a JSON body; it responds itself on failure
func (s *RESTServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validator.Validate(v); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondErr maps engine errors to HTTP status codes
func (s *RESTServer) respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lorawan.ErrCorruptSessionState):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrInvalidData),
		errors.Is(err, session.ErrUnknownParam),
		errors.Is(err, session.ErrInvalidValue),
		errors.Is(err, lorawan.ErrTruncatedFrame),
		errors.Is(err, lorawan.ErrUnsupportedVersion):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNoCurrentSession),
		errors.Is(err, session.ErrSessionExists):
		status = http.StatusConflict
	case errors.Is(err, lorawan.ErrMissingKey):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("API request failed")
	}

	body := map[string]string{"error": err.Error()}
	var lerr *lorawan.Error
	if errors.As(err, &lerr) && lerr.Field != "" {
		body["field"] = lerr.Field
	}
	s.respondJSON(w, status, body)
}
