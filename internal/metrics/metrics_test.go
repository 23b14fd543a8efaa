package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.Submitted()
	c.Submitted()
	c.PipelineFinished("ASSIGNED", 120*time.Millisecond)
	c.CollaboratorCall("classification", nil)
	c.CollaboratorCall("classification", errors.New("boom"))
	c.BreakerChanged("classification", gobreaker.StateClosed, gobreaker.StateOpen)
	c.HotspotRun(nil, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.submissions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pipelineOutcomes.WithLabelValues("ASSIGNED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.collaboratorCalls.WithLabelValues("classification", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.breakerState.WithLabelValues("classification")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.hotspotsActive))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.Submitted()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.submissions))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.ConfigVersion(4)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "civic_pipeline_department_config_version 4")
}
