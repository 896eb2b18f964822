package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lorawan-server/lorawan-tester/internal/models"
)

// HandleTestIntegration publishes a test record through the configured integrations
func (s *RESTServer) HandleTestIntegration(w http.ResponseWriter, r *http.Request) {
	if s.deps.Publisher == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no integration configured")
		return
	}

	rec := models.NewFrameRecord(models.CapturedFrame{Source: "api:test", ReceivedAt: time.Now()})
	rec.MType = "Test"
	rec.Note("integration test record")
	if current, err := s.deps.Sessions.Current(r.Context()); err == nil {
		rec.Session = current
	}

	if err := s.deps.Publisher.Publish(r.Context(), rec); err != nil {
		s.respondError(w, http.StatusBadGateway, fmt.Sprintf("integration test failed: %v", err))
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "integration test successful",
		"id":      rec.ID,
	})
}
