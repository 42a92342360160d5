package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordUpload(OutcomeUploaded)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Uploads.WithLabelValues(OutcomeUploaded)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Uploads.WithLabelValues(OutcomeUploaded)))
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordBatch(3)
	m.RecordCapture(true)
	m.RecordCapture(false)
	m.RecordRefresh(false)
	m.RecordPass(time.Second)
	m.SetBackedOff(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesAllocated))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SentencesAssigned))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Captures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackupFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CredentialRefreshes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcilePasses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ContributorsBackedOff))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordEvent("voice")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cvbot_events_received_total{kind="voice"} 1`)
}
