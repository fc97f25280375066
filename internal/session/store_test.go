package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selfie-booth/internal/workflow"
)

func newRegistry(t *testing.T) (*Registry, *int) {
	t.Helper()
	created := 0
	r := NewRegistry(Options{New: func(chatID int64) *workflow.Controller {
		created++
		return workflow.New(workflow.Options{})
	}})
	t.Cleanup(r.Close)
	return r, &created
}

func TestGetReusesController(t *testing.T) {
	r, created := newRegistry(t)

	a, err := r.Get(1)
	require.NoError(t, err)
	b, err := r.Get(1)
	require.NoError(t, err)
	c, err := r.Get(2)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, *created)
	assert.Equal(t, 2, r.Len())

	s, err := a.Do(context.Background(), workflow.ImageCaptured{Image: "data:image/jpeg;base64,eA=="})
	require.NoError(t, err)
	assert.Equal(t, workflow.StepPreview, s.Step)
	assert.Equal(t, workflow.StepCapture, c.Snapshot().Step, "chats do not share state")
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	r, created := newRegistry(t)

	old, err := r.Get(1)
	require.NoError(t, err)

	assert.Equal(t, 0, r.Sweep(time.Hour))
	assert.Equal(t, 1, r.Len())

	assert.Equal(t, 1, r.Sweep(0))
	assert.Equal(t, 0, r.Len())
	select {
	case <-old.Done():
	case <-time.After(time.Second):
		t.Fatal("swept controller still running")
	}

	_, ok := r.Lookup(1)
	assert.False(t, ok)

	fresh, err := r.Get(1)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, 2, *created)
}

func TestClosedRegistry(t *testing.T) {
	r, _ := newRegistry(t)
	ctrl, err := r.Get(7)
	require.NoError(t, err)

	r.Close()
	<-ctrl.Done()

	_, err = r.Get(7)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ctrl.Dispatch(workflow.StartOver{}), workflow.ErrStopped)
}

func TestRunStopsOnCancel(t *testing.T) {
	r, _ := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 5*time.Millisecond, time.Hour) }()

	ctrl, err := r.Get(3)
	require.NoError(t, err)
	cancel()

	require.NoError(t, <-done)
	<-ctrl.Done()
}
