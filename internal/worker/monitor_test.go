package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
	"github.com/cloudpilot-labs/cloudpilot/internal/services"
)

type countingScanner struct {
	calls int64
}

func (s *countingScanner) Scan(ctx context.Context) (*services.ScanResult, error) {
	atomic.AddInt64(&s.calls, 1)
	return &services.ScanResult{ScanID: "scan"}, nil
}

type countingJanitor struct {
	sweeps int64
}

func (j *countingJanitor) CleanupOldEvidence() {
	atomic.AddInt64(&j.sweeps, 1)
}

func TestMonitorScansImmediatelyAndOnInterval(t *testing.T) {
	scanner := &countingScanner{}
	m := NewMonitor(scanner, nil, 20*time.Millisecond, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&scanner.calls) < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 scans, got %d", atomic.LoadInt64(&scanner.calls))
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}

func TestMonitorSweepsEvidenceAtStartup(t *testing.T) {
	janitor := &countingJanitor{}
	m := NewMonitor(&countingScanner{}, janitor, time.Hour, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&janitor.sweeps) < 1 {
		select {
		case <-deadline:
			t.Fatal("startup evidence sweep never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}
