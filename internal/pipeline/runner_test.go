package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunnerReturnsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	o, err := New(Config{Source: "gazette"}, Deps{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		NewRunner([]Entry{{Source: "gazette", Orchestrator: o, BatchSleep: time.Hour}}, nil).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestRunnerWithNoEntries(t *testing.T) {
	t.Parallel()

	NewRunner(nil, nil).Run(context.Background())
}
