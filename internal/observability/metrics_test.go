package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	RecordCheckpointOp("put", 5*time.Millisecond, true)
	RecordCheckpointOp("put", time.Millisecond, false)
	RecordCheckpointWritten()
	RecordWriteThrough(time.Millisecond)
	RecordSyncWarning("write")
	RecordConflict("memory")
	SetWorkspaceFiles("disk", 3)
	RecordReconcile(time.Millisecond)
	IncActiveRuntimes()
	DecActiveRuntimes()

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "checkpoint_operation_duration_seconds")
	assert.Contains(t, text, `checkpoint_errors_total{op="put"} 1`)
	assert.Contains(t, text, `workspace_sync_warnings_total{op="write"} 1`)
	assert.Contains(t, text, `workspace_conflicts_total{winner="memory"} 1`)
	assert.Contains(t, text, `workspace_memory_files{mode="disk"} 3`)
	assert.Contains(t, text, "active_runtimes 0")
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}
