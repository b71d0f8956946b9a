package supervisor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDrainWorkerReturnsWhenChannelClosesBeforeTimeout(t *testing.T) {
	done := make(chan struct{})
	close(done)

	start := time.Now()
	DrainWorker(done, time.Second)
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("expected DrainWorker to return immediately, took %v", elapsed)
	}
}

func TestDrainWorkerTimesOutWhenNeverSignaled(t *testing.T) {
	done := make(chan struct{})

	start := time.Now()
	DrainWorker(done, 50*time.Millisecond)
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Fatalf("expected DrainWorker to wait for the timeout, returned after %v", elapsed)
	}
}

func TestRunHeartbeatStopsOnContextCancel(t *testing.T) {
	s := New(zap.NewNop(), nil)

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s.RunHeartbeat(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunHeartbeat did not stop after context cancellation")
	}
}
