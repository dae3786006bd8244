package transport

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWorkerPoolStartStopSerial(t *testing.T) {
	testWorkerPoolStartStop(t)
}

func TestWorkerPoolStartStopConcurrent(t *testing.T) {
	concurrency := 10
	done := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			testWorkerPoolStartStop(t)
			done <- struct{}{}
		}()
	}
	for i := 0; i < concurrency; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
}

func testWorkerPoolStartStop(t *testing.T) {
	t.Helper()
	wp := &workerPool{
		WorkerFunc:      func(*job) {},
		MaxWorkersCount: 10,
		Logger:          zap.NewNop(),
	}
	for i := 0; i < 10; i++ {
		wp.Start()
		wp.Stop()
	}
}

func TestWorkerPoolServesWork(t *testing.T) {
	var count int64
	wp := &workerPool{
		WorkerFunc: func(*job) {
			atomic.AddInt64(&count, 1)
		},
		MaxWorkersCount: 4,
		Logger:          zap.NewNop(),
	}
	wp.Start()
	defer wp.Stop()

	const n = 50
	for i := 0; i < n; i++ {
		if !wp.Serve(&job{}) {
			t.Fatalf("Serve() rejected job %d", i)
		}
	}
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&count) < n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&count); got != n {
		t.Fatalf("processed %d jobs, want %d", got, n)
	}
}

func TestWorkerPoolRejectsWhenSaturated(t *testing.T) {
	release := make(chan struct{})
	wp := &workerPool{
		WorkerFunc: func(*job) {
			<-release
		},
		MaxWorkersCount: 2,
		Logger:          zap.NewNop(),
	}
	wp.Start()
	defer func() {
		close(release)
		wp.Stop()
	}()

	if !wp.Serve(&job{}) || !wp.Serve(&job{}) {
		t.Fatal("expected first two Serve calls to be accepted")
	}
	// Give both workers a moment to pick up their job before the pool
	// is asked for a third, otherwise this races the getWorker fast
	// path and can flake accepted instead of rejected.
	time.Sleep(10 * time.Millisecond)
	if wp.Serve(&job{}) {
		t.Fatal("expected Serve to reject once MaxWorkersCount workers are all busy")
	}
}
