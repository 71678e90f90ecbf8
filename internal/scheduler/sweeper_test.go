package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(queue *mockRetrySource, locks *mockJobLocker, jobs *mockJobRecorder, now time.Time) *Sweeper {
	return NewSweeper(SweeperConfig{
		Queue:      queue,
		Locks:      locks,
		Jobs:       jobs,
		Clock:      fixedClock{now: now},
		WorkerID:   "worker-test",
		StuckAfter: 15 * time.Minute,
	})
}

func TestSweeper_RequeuesAndReclaims(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	queue := new(mockRetrySource)
	queue.On("RequeueDueRetries", mock.Anything).Return(3, nil)
	// Rows stuck in processing longer than StuckAfter are reclaimed.
	queue.On("ReclaimStuck", mock.Anything, now.Add(-15*time.Minute)).Return(2, nil)

	s := newTestSweeper(queue, grantedLocker(sweeperJobType, "worker-test"), recordingJobs(), now)

	touched, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, touched)
	queue.AssertExpectations(t)
}

func TestSweeper_LockHeldSkipsRun(t *testing.T) {
	locks := new(mockJobLocker)
	locks.On("Acquire", mock.Anything, sweeperJobType, "worker-test", mock.Anything).Return(false, nil)

	queue := new(mockRetrySource)
	jobs := new(mockJobRecorder)

	s := newTestSweeper(queue, locks, jobs, time.Now())

	touched, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, touched)
	queue.AssertNotCalled(t, "RequeueDueRetries", mock.Anything)
	jobs.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestSweeper_RequeueErrorFailsRun(t *testing.T) {
	queue := new(mockRetrySource)
	queue.On("RequeueDueRetries", mock.Anything).Return(0, errors.New("db down"))

	jobs := new(mockJobRecorder)
	jobs.On("Start", mock.Anything, sweeperJobType).Return(int64(3), nil)
	jobs.On("Finish", mock.Anything, int64(3), "failed", 0, mock.Anything).Return(nil)

	s := newTestSweeper(queue, grantedLocker(sweeperJobType, "worker-test"), jobs, time.Now())

	_, err := s.Run(context.Background())
	require.Error(t, err)
	queue.AssertNotCalled(t, "ReclaimStuck", mock.Anything, mock.Anything)
	jobs.AssertExpectations(t)
}

func TestSweeper_ReclaimErrorKeepsRequeuedCount(t *testing.T) {
	queue := new(mockRetrySource)
	queue.On("RequeueDueRetries", mock.Anything).Return(4, nil)
	queue.On("ReclaimStuck", mock.Anything, mock.Anything).Return(0, errors.New("db down"))

	jobs := new(mockJobRecorder)
	jobs.On("Start", mock.Anything, sweeperJobType).Return(int64(3), nil)
	jobs.On("Finish", mock.Anything, int64(3), "failed", 4, mock.Anything).Return(nil)

	s := newTestSweeper(queue, grantedLocker(sweeperJobType, "worker-test"), jobs, time.Now())

	touched, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, touched)
	jobs.AssertExpectations(t)
}
