package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailxai/draft-publisher/app/database"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := database.NewConnection(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)
	return New(database.NewJobRepository(db))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to database.JobStatus
		allowed  bool
	}{
		{database.JobStatusPending, database.JobStatusRunning, true},
		{database.JobStatusPending, database.JobStatusCancelled, true},
		{database.JobStatusPending, database.JobStatusSuccess, false},
		{database.JobStatusRunning, database.JobStatusSuccess, true},
		{database.JobStatusRunning, database.JobStatusFailed, true},
		{database.JobStatusRunning, database.JobStatusCancelled, false},
		{database.JobStatusRunning, database.JobStatusPending, false},
		{database.JobStatusFailed, database.JobStatusPending, true},
		{database.JobStatusFailed, database.JobStatusCancelled, true},
		{database.JobStatusCancelled, database.JobStatusPending, true},
		{database.JobStatusSuccess, database.JobStatusPending, false},
		{database.JobStatusSuccess, database.JobStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	job, err := l.Enqueue(ctx, database.JobKindPublish, map[string]string{"destination": "microblog"})
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)

	got, err := l.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"destination":"microblog"}`, string(got.Payload))

	_, err = l.Enqueue(ctx, database.JobKind("compile"), nil)
	assert.Error(t, err)

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestNewJobIsNotStored(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	job, err := l.NewJob(database.JobKindAnalyze, nil)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusPending, job.Status)
	assert.NotEmpty(t, job.ID)

	_, err = l.Get(ctx, job.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRetryRules(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	job, err := l.Enqueue(ctx, database.JobKindPublish, nil)
	require.NoError(t, err)

	_, err = l.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "pending job is not retryable")

	claimed, err := l.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = l.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "running job is not retryable")

	require.NoError(t, l.Fail(ctx, job.ID, "newsletter API error: 500 - upstream"))

	retried, err := l.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusPending, retried.Status)
	assert.Equal(t, 2, retried.Attempts)
	assert.Empty(t, retried.ErrorText)
	assert.Nil(t, retried.StartedAt)
	assert.Nil(t, retried.FinishedAt)

	claimed, err = l.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, l.Succeed(ctx, job.ID))

	_, err = l.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "successful job is not retryable")
	assert.Contains(t, err.Error(), "success")

	_, err = l.Retry(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCancelThenRetry(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	job, err := l.Enqueue(ctx, database.JobKindAISummary, nil)
	require.NoError(t, err)

	cancelled, err := l.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.FinishedAt)

	_, err = l.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	retried, err := l.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusPending, retried.Status)
	assert.Equal(t, 2, retried.Attempts)
}

func TestSucceedRequiresRunning(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	job, err := l.Enqueue(ctx, database.JobKindPublish, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Succeed(ctx, job.ID), ErrInvalidState)
	assert.ErrorIs(t, l.Fail(ctx, job.ID, "x"), ErrInvalidState)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	job, err := l.Enqueue(ctx, database.JobKindPublish, nil)
	require.NoError(t, err)

	results := make([]bool, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := l.Claim(ctx, job.ID)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	assert.NotEqual(t, results[0], results[1], "exactly one claim wins")
}

func TestConcurrentRetryIncrementsOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	job, err := l.Enqueue(ctx, database.JobKindPublish, nil)
	require.NoError(t, err)
	_, err = l.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, l.Fail(ctx, job.ID, "boom"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Retry(ctx, job.ID)
		}()
	}
	wg.Wait()

	got, err := l.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
}
