package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// The observers must be usable straight after import. A consumer that
// records before any explicit setup ran previously dereferenced nil
// collectors.

func TestObserveHTTPRequestWithoutSetup(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))

	ObserveHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	require.Equal(t, before+1, after)
}

func TestConnectionGaugeWithoutSetup(t *testing.T) {
	before := testutil.ToFloat64(realtimeConnections)

	IncConnections()
	IncConnections()
	DecConnections()

	after := testutil.ToFloat64(realtimeConnections)
	require.Equal(t, before+1, after)
}

func TestObservePacerDelayRecordsSample(t *testing.T) {
	ObservePacerDelay("example.com", 150*time.Millisecond)
	require.GreaterOrEqual(t, testutil.CollectAndCount(schedulerPacerDelaySeconds), 1)
}

func TestCounterHelpers(t *testing.T) {
	autosaves := testutil.ToFloat64(autosaveWritesTotal.WithLabelValues("auto"))
	versions := testutil.ToFloat64(draftVersionsTotal.WithLabelValues("manual"))
	messages := testutil.ToFloat64(realtimeMessagesTotal.WithLabelValues("cursor-move", "in"))

	ObserveAutosave("auto")
	ObserveVersion("manual")
	ObserveRealtimeMessage("cursor-move", "in")

	require.Equal(t, autosaves+1, testutil.ToFloat64(autosaveWritesTotal.WithLabelValues("auto")))
	require.Equal(t, versions+1, testutil.ToFloat64(draftVersionsTotal.WithLabelValues("manual")))
	require.Equal(t, messages+1, testutil.ToFloat64(realtimeMessagesTotal.WithLabelValues("cursor-move", "in")))
}
