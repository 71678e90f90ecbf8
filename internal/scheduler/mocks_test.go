package scheduler

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"duepoint/internal/types"
)

// Shared worker mocks for the scheduler tests.

type mockJobLocker struct {
	mock.Mock
}

func (m *mockJobLocker) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, lockID, workerID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobLocker) Release(ctx context.Context, lockID string, workerID string) error {
	args := m.Called(ctx, lockID, workerID)
	return args.Error(0)
}

type mockJobRecorder struct {
	mock.Mock
}

func (m *mockJobRecorder) Start(ctx context.Context, jobType string) (int64, error) {
	args := m.Called(ctx, jobType)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockJobRecorder) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	args := m.Called(ctx, id, status, items, jobErr)
	return args.Error(0)
}

// grantedLocker returns a locker that always acquires and releases cleanly.
func grantedLocker(jobType, workerID string) *mockJobLocker {
	locks := new(mockJobLocker)
	locks.On("Acquire", mock.Anything, jobType, workerID, mock.Anything).Return(true, nil)
	locks.On("Release", mock.Anything, jobType, workerID).Return(nil)
	return locks
}

// recordingJobs returns a recorder that accepts any start/finish sequence.
func recordingJobs() *mockJobRecorder {
	jobs := new(mockJobRecorder)
	jobs.On("Start", mock.Anything, mock.Anything).Return(int64(1), nil)
	jobs.On("Finish", mock.Anything, int64(1), mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return jobs
}

// fixedClock pins time for deterministic horizon math.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type mockAutomationSource struct {
	mock.Mock
}

func (m *mockAutomationSource) ListActive(ctx context.Context) ([]*types.AutomationRule, error) {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.([]*types.AutomationRule), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTargetSource struct {
	mock.Mock
}

func (m *mockTargetSource) ListEligibleByIDs(ctx context.Context, kind types.TargetKind, accountID string, ids []string) ([]*types.Target, error) {
	args := m.Called(ctx, kind, accountID, ids)
	if r := args.Get(0); r != nil {
		return r.([]*types.Target), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockQueueSink struct {
	mock.Mock
}

func (m *mockQueueSink) UpsertPendingBatch(ctx context.Context, items []*types.ScheduledNotification) (int, error) {
	args := m.Called(ctx, items)
	return args.Int(0), args.Error(1)
}

type mockClaimSource struct {
	mock.Mock
}

func (m *mockClaimSource) ClaimDue(ctx context.Context, limit int) ([]*types.ScheduledNotification, error) {
	args := m.Called(ctx, limit)
	if r := args.Get(0); r != nil {
		return r.([]*types.ScheduledNotification), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClaimSource) CountPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockDeliveryUnit struct {
	mock.Mock
}

func (m *mockDeliveryUnit) Dispatch(ctx context.Context, n *types.ScheduledNotification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type mockRetrySource struct {
	mock.Mock
}

func (m *mockRetrySource) RequeueDueRetries(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockRetrySource) ReclaimStuck(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}
