package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	TransitionsTotal.WithLabelValues("Done").Inc()
	SetWatcherHealth("gmail", "running", "stopped", "running", "degraded", "error")

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	assert.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.True(t, strings.Contains(string(body), "overseer_task_transitions_total"))
	assert.Equal(t, 1.0, testutil.ToFloat64(WatcherHealth.WithLabelValues("gmail", "running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(WatcherHealth.WithLabelValues("gmail", "error")))
}
