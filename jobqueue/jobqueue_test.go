package jobqueue

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// openTestQueue connects to a live Postgres instance carrying the catalog's
// jobs table. Skipped unless JOBQUEUE_TEST_DSN is set, since this package
// has no in-memory substitute for database/sql + pgx.
func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	dsn := os.Getenv("JOBQUEUE_TEST_DSN")
	if dsn == "" {
		t.Skip("JOBQUEUE_TEST_DSN not set, skipping jobqueue integration test")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	return New(db, 100*time.Millisecond)
}

func TestEnqueueClaimCompleteLifecycle(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "reembed", `{"model":"v2"}`, 5, "doc-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Claim(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	require.Equal(t, StatusProcessing, job.Status)

	require.NoError(t, q.ReportProgress(ctx, id, 3, 10))
	require.NoError(t, q.Heartbeat(ctx, id))
	require.NoError(t, q.Complete(ctx, id, StatusCompleted, ""))
}

func TestCancellationFlagIsPolled(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "resegment", `{}`, 1, "doc-2")
	require.NoError(t, err)

	cancelled, err := q.IsCancelRequested(ctx, id)
	require.NoError(t, err)
	require.False(t, cancelled)

	require.NoError(t, q.RequestCancel(ctx, id))

	cancelled, err = q.IsCancelRequested(ctx, id)
	require.NoError(t, err)
	require.True(t, cancelled)
}
