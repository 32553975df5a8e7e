package scraping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/cache"
	"github.com/kiranshivaraju/viralspy/internal/cache/cachetest"
	"github.com/kiranshivaraju/viralspy/internal/store/storetest"
	"github.com/kiranshivaraju/viralspy/internal/workflow"
	"github.com/kiranshivaraju/viralspy/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []workflow.DispatchRequest
	err      error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req workflow.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return d.err
}

func ptr[T any](v T) *T { return &v }

func newTestManager(t *testing.T, d *fakeDispatcher, opts ...Option) (*Manager, *storetest.Memory, *cachetest.Memory) {
	t.Helper()
	st := storetest.NewMemory()
	ca := cachetest.NewMemory()
	return NewManager(st, ca, d, opts...), st, ca
}

// --- Start ---

func TestStart_CreatesPendingJobAndDispatches(t *testing.T) {
	d := &fakeDispatcher{}
	m, st, ca := newTestManager(t, d)
	owner := uuid.New()

	job, err := m.Start(context.Background(), owner, StartRequest{
		URLs:         []string{"https://instagram.com/a", "https://instagram.com/b"},
		ResultsLimit: ptr(50),
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, owner, job.OwnerID)
	assert.Equal(t, 50, job.ResultsLimit)
	assert.Nil(t, job.CompletedAt)

	stored, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)

	require.Len(t, d.requests, 1)
	req := d.requests[0]
	assert.Equal(t, job.ID, req.JobID)
	assert.Equal(t, owner, req.OwnerID)
	assert.Equal(t, []string{"https://instagram.com/a", "https://instagram.com/b"}, req.URLs)
	assert.Equal(t, 50, req.ResultsLimit)
	assert.Empty(t, req.CallbackToken)
	assert.Empty(t, req.CallbackURL)

	status, ok := ca.Status(job.ID)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusPending, status)
}

func TestStart_DefaultResultsLimit(t *testing.T) {
	d := &fakeDispatcher{}
	m, _, _ := newTestManager(t, d)

	job, err := m.Start(context.Background(), uuid.New(), StartRequest{URLs: []string{"https://x.com/a"}})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultResultsLimit, job.ResultsLimit)
	assert.Equal(t, models.DefaultResultsLimit, d.requests[0].ResultsLimit)
}

func TestStart_CustomDefaultResultsLimit(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeDispatcher{}, WithDefaultResultsLimit(25))

	job, err := m.Start(context.Background(), uuid.New(), StartRequest{URLs: []string{"https://x.com/a"}})
	require.NoError(t, err)
	assert.Equal(t, 25, job.ResultsLimit)
}

func TestStart_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  StartRequest
		msg  string
	}{
		{"nil urls", StartRequest{}, "urls is required"},
		{"empty urls", StartRequest{URLs: []string{}}, "urls must contain at least one URL"},
		{"blank url", StartRequest{URLs: []string{""}}, "urls[0] is required"},
		{"relative url", StartRequest{URLs: []string{"https://ok.com", "/profile"}}, "urls[1] must be an absolute http(s) URL"},
		{"zero limit", StartRequest{URLs: []string{"https://ok.com"}, ResultsLimit: ptr(0)}, "results_limit must be a positive integer"},
		{"negative limit", StartRequest{URLs: []string{"https://ok.com"}, ResultsLimit: ptr(-3)}, "results_limit must be a positive integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			m, st, _ := newTestManager(t, d)
			owner := uuid.New()

			_, err := m.Start(context.Background(), owner, tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.msg)

			assert.Empty(t, d.requests)
			jobs, _ := st.ListJobsByOwner(context.Background(), owner)
			assert.Empty(t, jobs)
		})
	}
}

func TestStart_NilOwner(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeDispatcher{})
	_, err := m.Start(context.Background(), uuid.Nil, StartRequest{URLs: []string{"https://x.com"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStart_DispatchFailureMovesJobToError(t *testing.T) {
	d := &fakeDispatcher{err: fmt.Errorf("%w: connection refused", workflow.ErrUnreachable)}
	m, st, ca := newTestManager(t, d)

	job, err := m.Start(context.Background(), uuid.New(), StartRequest{URLs: []string{"https://x.com"}})
	require.ErrorIs(t, err, ErrDispatchFailed)
	require.NotNil(t, job)

	stored, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "Failed to start scraping workflow", *stored.ErrorMessage)
	assert.NotNil(t, stored.CompletedAt)

	assert.Equal(t, models.JobStatusError, job.Status)
	status, _ := ca.Status(job.ID)
	assert.Equal(t, models.JobStatusError, status)
}

func TestStart_DispatchFailureWithCancelledContext(t *testing.T) {
	d := &fakeDispatcher{err: fmt.Errorf("%w: context canceled", workflow.ErrTimeout)}
	m, st, _ := newTestManager(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := m.Start(ctx, uuid.New(), StartRequest{URLs: []string{"https://x.com"}})
	require.ErrorIs(t, err, ErrDispatchFailed)

	stored, _ := st.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusError, stored.Status)
}

func TestStart_StoreFailure(t *testing.T) {
	d := &fakeDispatcher{}
	m, st, _ := newTestManager(t, d)
	st.CreateJobErr = errors.New("db down")

	_, err := m.Start(context.Background(), uuid.New(), StartRequest{URLs: []string{"https://x.com"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDispatchFailed)
	assert.Empty(t, d.requests)
}

func TestStart_IssuesCallbackToken(t *testing.T) {
	d := &fakeDispatcher{}
	tokens := NewCallbackTokens("s3cret", time.Hour)
	m, _, _ := newTestManager(t, d, WithCallbackTokens(tokens, "https://api.example.com/"))

	job, err := m.Start(context.Background(), uuid.New(), StartRequest{URLs: []string{"https://x.com"}})
	require.NoError(t, err)

	req := d.requests[0]
	assert.Equal(t, "https://api.example.com/api/v1/callbacks/scrapings/"+job.ID.String(), req.CallbackURL)
	require.NotEmpty(t, req.CallbackToken)
	assert.NoError(t, tokens.Verify(req.CallbackToken, job.ID))
}

// --- ApplyUpdate ---

func startJob(t *testing.T, m *Manager) *models.Job {
	t.Helper()
	job, err := m.Start(context.Background(), uuid.New(), StartRequest{URLs: []string{"https://x.com"}})
	require.NoError(t, err)
	return job
}

func TestApplyUpdate_MergesFields(t *testing.T) {
	m, _, ca := newTestManager(t, &fakeDispatcher{})
	job := startJob(t, m)

	got, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{
		Status:      ptr(models.JobStatusProcessing),
		CurrentStep: ptr("scraping"),
		Progress:    ptr(40),
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Equal(t, "scraping", *got.CurrentStep)
	assert.Equal(t, 40, got.Progress)
	assert.Nil(t, got.CompletedAt)

	got, err = m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{
		SpreadsheetURL: ptr("https://sheets/1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "scraping", *got.CurrentStep, "unsupplied fields are kept")
	assert.Equal(t, "https://sheets/1", *got.SpreadsheetURL)

	status, _ := ca.Status(job.ID)
	assert.Equal(t, models.JobStatusProcessing, status)
}

func TestApplyUpdate_CompletedAtStampedOnce(t *testing.T) {
	m, st, _ := newTestManager(t, &fakeDispatcher{})
	job := startJob(t, m)

	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	st.Now = func() time.Time { return t1 }
	first, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{
		Status:      ptr(models.JobStatusCompleted),
		AssistantID: ptr("asst_1"),
	})
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)
	assert.Equal(t, t1, *first.CompletedAt)

	st.Now = func() time.Time { return t1.Add(time.Hour) }
	dup, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{
		Status:      ptr(models.JobStatusCompleted),
		AssistantID: ptr("asst_1"),
	})
	require.NoError(t, err)
	assert.Equal(t, t1, *dup.CompletedAt, "duplicate terminal callback keeps the first stamp")
	assert.True(t, dup.ChatReady())
}

func TestApplyUpdate_OutOfOrder(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeDispatcher{})
	job := startJob(t, m)

	_, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{Status: ptr(models.JobStatusCompleted), Progress: ptr(100)})
	require.NoError(t, err)

	late, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{Status: ptr(models.JobStatusProcessing), Progress: ptr(60)})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, late.Status)
	assert.Nil(t, late.CompletedAt, "completed_at is set only while terminal")
}

func TestApplyUpdate_NotFound(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeDispatcher{})
	_, err := m.ApplyUpdate(context.Background(), uuid.New(), models.JobUpdate{Progress: ptr(10)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyUpdate_EmptyPatchIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeDispatcher{})
	job := startJob(t, m)

	got, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{})
	require.NoError(t, err)
	assert.Equal(t, job.UpdatedAt, got.UpdatedAt)

	_, err = m.ApplyUpdate(context.Background(), uuid.New(), models.JobUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyUpdate_Invalid(t *testing.T) {
	m, st, _ := newTestManager(t, &fakeDispatcher{})
	job := startJob(t, m)

	_, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{Status: ptr("done")})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{Progress: ptr(101)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{Progress: ptr(-1)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	stored, _ := st.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Equal(t, 0, stored.Progress)
}

// --- List / Get / Status ---

func TestList_NewestFirstAndScopedToOwner(t *testing.T) {
	m, st, _ := newTestManager(t, &fakeDispatcher{})
	owner := uuid.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		st.PutJob(&models.Job{ID: uuid.New(), OwnerID: owner, Status: models.JobStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	st.PutJob(&models.Job{ID: uuid.New(), OwnerID: uuid.New(), Status: models.JobStatusPending, CreatedAt: base})

	jobs, err := m.List(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))
	assert.True(t, jobs[1].CreatedAt.After(jobs[2].CreatedAt))
}

func TestGetForOwner(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeDispatcher{})
	job := startJob(t, m)

	got, err := m.GetForOwner(context.Background(), job.OwnerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = m.GetForOwner(context.Background(), uuid.New(), job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatus_CacheThenStore(t *testing.T) {
	m, st, ca := newTestManager(t, &fakeDispatcher{})
	job := &models.Job{ID: uuid.New(), OwnerID: uuid.New(), Status: models.JobStatusProcessing, CreatedAt: time.Now()}
	st.PutJob(job)

	status, err := m.Status(context.Background(), job.OwnerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, status)

	cached, ok := ca.Status(job.ID)
	assert.True(t, ok, "store read refreshes the mirror")
	assert.Equal(t, models.JobStatusProcessing, cached)

	_, err = m.Status(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatus_MirroredJobOfAnotherOwnerIsNotFound(t *testing.T) {
	m, _, ca := newTestManager(t, &fakeDispatcher{})
	job := startJob(t, m)
	_, mirrored := ca.Status(job.ID)
	require.True(t, mirrored)

	_, err := m.Status(context.Background(), uuid.New(), job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatus_FailedMirrorWriteDoesNotServeOldStatus(t *testing.T) {
	m, _, ca := newTestManager(t, &fakeDispatcher{})
	job := startJob(t, m)

	ca.SetJobStatusErr = errors.New("redis write timeout")
	_, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{Status: ptr(models.JobStatusCompleted)})
	require.NoError(t, err)

	_, mirrored := ca.Status(job.ID)
	assert.False(t, mirrored, "the pending entry is evicted")

	status, err := m.Status(context.Background(), job.OwnerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status)

	ca.SetJobStatusErr = nil
	_, err = m.Status(context.Background(), job.OwnerID, job.ID)
	require.NoError(t, err)
	cached, ok := ca.Status(job.ID)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, cached)
}

// heldCache stalls the mirror write for one status until release is closed.
type heldCache struct {
	*cachetest.Memory
	hold    string
	reached chan struct{}
	release chan struct{}
}

func (c *heldCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, st cache.JobStatus, ttl time.Duration) error {
	if st.Status == c.hold {
		close(c.reached)
		<-c.release
	}
	return c.Memory.SetJobStatus(ctx, jobID, st, ttl)
}

func TestStatus_LateMirrorWriteDoesNotOverwriteNewerStatus(t *testing.T) {
	st := storetest.NewMemory()
	ca := &heldCache{
		Memory:  cachetest.NewMemory(),
		hold:    models.JobStatusProcessing,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := NewManager(st, ca, &fakeDispatcher{})
	job := startJob(t, m)

	done := make(chan error, 1)
	go func() {
		_, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{Status: ptr(models.JobStatusProcessing)})
		done <- err
	}()
	<-ca.reached

	_, err := m.ApplyUpdate(context.Background(), job.ID, models.JobUpdate{Status: ptr(models.JobStatusCompleted)})
	require.NoError(t, err)
	close(ca.release)
	require.NoError(t, <-done)

	status, err := m.Status(context.Background(), job.OwnerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status)
}

func TestStatus_CacheErrorFallsBackToStore(t *testing.T) {
	m, st, ca := newTestManager(t, &fakeDispatcher{})
	ca.Err = errors.New("redis down")
	job := &models.Job{ID: uuid.New(), OwnerID: uuid.New(), Status: models.JobStatusCompleted, CreatedAt: time.Now()}
	st.PutJob(job)

	status, err := m.Status(context.Background(), job.OwnerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status)
}

func TestNewManager_NilCache(t *testing.T) {
	st := storetest.NewMemory()
	m := NewManager(st, nil, &fakeDispatcher{})

	job, err := m.Start(context.Background(), uuid.New(), StartRequest{URLs: []string{"https://x.com"}})
	require.NoError(t, err)
	status, err := m.Status(context.Background(), job.OwnerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status)
}
