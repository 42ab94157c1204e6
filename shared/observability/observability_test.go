package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupMetricsServesInstruments(t *testing.T) {
	m, err := SetupMetrics("responder-test")
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	counter, err := m.Provider.Meter("test").Int64Counter("messages_received")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	w := httptest.NewRecorder()
	m.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "messages_received_total")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSetupTracingExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := SetupTracing("responder-test", &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "pipeline.HandleMessage")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "pipeline.HandleMessage")
}
