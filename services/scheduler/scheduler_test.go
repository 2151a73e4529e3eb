package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"renewbot-backend/services/userstore"

	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu        sync.Mutex
	users     []string
	summaries int
}

func (r *recordingRunner) RunUser(ctx context.Context, uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, uid)
}

func (r *recordingRunner) RunSummary(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries++
}

func newTestScheduler(t *testing.T) (*Scheduler, *recordingRunner) {
	t.Helper()
	runner := &recordingRunner{}
	s, err := New(runner, Options{MaxJitter: time.Millisecond})
	require.NoError(t, err)
	return s, runner
}

func TestSetReplacesExistingEntry(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.Set("u1", 3, 30))
	require.NoError(t, s.Set("u1", 5, 0))

	// replacing must not leave the old trigger live
	require.Equal(t, 1, s.EntryCount())
	require.True(t, s.Scheduled("u1"))
}

func TestSetRejectsOutOfRangeSchedule(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.ErrorIs(t, s.Set("u1", 10, 0), userstore.ErrScheduleRange)
	require.ErrorIs(t, s.Set("u1", 3, 60), userstore.ErrScheduleRange)
	require.False(t, s.Scheduled("u1"))
}

func TestRemove(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.Set("u1", 1, 0))
	s.Remove("u1")
	require.False(t, s.Scheduled("u1"))
	require.Equal(t, 0, s.EntryCount())

	// removing an unknown user is a no-op
	s.Remove("ghost")
}

func TestSummaryEntryInstalled(t *testing.T) {
	runner := &recordingRunner{}
	s, err := New(runner, Options{SummarySpec: "0 10 * * *"})
	require.NoError(t, err)
	require.Equal(t, 1, s.EntryCount())

	_, err = New(runner, Options{SummarySpec: "not a spec"})
	require.Error(t, err)
}

func TestSyncInstallsAllUsers(t *testing.T) {
	s, _ := newTestScheduler(t)

	data := userstore.NewData()
	data.EnsureUser("u1").SignHour = 2
	data.EnsureUser("u2").SignHour = 4

	s.Sync(data)
	require.True(t, s.Scheduled("u1"))
	require.True(t, s.Scheduled("u2"))
	require.Equal(t, 2, s.EntryCount())
}

func TestFireUserRunsAfterJitter(t *testing.T) {
	s, runner := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.fireUser("u1")

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Equal(t, []string{"u1"}, runner.users)
}

func TestFireUserRespectsCancellation(t *testing.T) {
	runner := &recordingRunner{}
	s, err := New(runner, Options{MaxJitter: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.fireUser("u1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fireUser did not return after cancellation")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Empty(t, runner.users)
}
