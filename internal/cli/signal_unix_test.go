//go:build unix

package cli

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalManager_OnSignal(t *testing.T) {
	sm := NewSignalManager(context.Background())
	defer sm.Stop()

	fired := make(chan struct{})
	sm.OnSignal(func() { close(fired) })

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("signal was not delivered")
	}
	assert.True(t, sm.Interrupted())
	assert.True(t, sm.CheckRace())
	assert.ErrorIs(t, context.Cause(sm.Context()), ErrInterrupted)
}
