package lra

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFuture_ResolveOnce(t *testing.T) {
	f := newFuture("tx-1", LegComplete)
	if f.Status() != StatusCompleting {
		t.Fatalf("expected Completing, got %s", f.Status())
	}
	select {
	case <-f.Done():
		t.Fatal("future should not be done")
	default:
	}

	f.resolve(StatusCompleted, nil)
	f.resolve(StatusFailedToComplete, errors.New("late"))

	status, err := f.Wait(context.Background())
	if status != StatusCompleted || err != nil {
		t.Errorf("expected Completed/nil, got %s/%v", status, err)
	}
	if f.TxID() != "tx-1" || f.Leg() != LegComplete {
		t.Error("identity mismatch")
	}
}

func TestFuture_WaitContext(t *testing.T) {
	f := newFuture("tx-1", LegCompensate)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	status, err := f.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if status != StatusCompensating {
		t.Errorf("expected Compensating, got %s", status)
	}
}

func TestResolvedFuture(t *testing.T) {
	f := resolvedFuture("tx-2", LegCompensate, StatusCompensated)
	select {
	case <-f.Done():
	default:
		t.Fatal("resolved future should be done")
	}
	if f.Status() != StatusCompensated || f.Err() != nil {
		t.Errorf("unexpected %s/%v", f.Status(), f.Err())
	}
}
