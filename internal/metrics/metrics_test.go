package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposed(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.FramesProcessed.WithLabelValues("JoinRequest", "ok").Inc()
	m.FramesForged.WithLabelValues("ack").Add(2)
	m.AnalyzerState.Set(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesProcessed.WithLabelValues("JoinRequest", "ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.FramesForged.WithLabelValues("ack")))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lorawan_tester_frames_processed_total{mtype="JoinRequest",result="ok"} 1`)
	assert.Contains(t, string(body), "lorawan_tester_analyzer_state 3")
	assert.Contains(t, string(body), "go_goroutines")
}
