package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

var errStop = errors.New("stopped by user")

func TestInFlightCancelCarriesCause(t *testing.T) {
	r := NewInFlightRegistry()
	ctx, cancel := context.WithCancelCause(context.Background())
	release := r.Register("sess_a", cancel)
	defer release()

	if !r.Cancel("sess_a", errStop) {
		t.Fatal("Cancel found nothing")
	}
	if !errors.Is(context.Cause(ctx), errStop) {
		t.Errorf("cause = %v", context.Cause(ctx))
	}
	if r.Cancel("sess_a", errStop) {
		t.Error("second Cancel should find nothing")
	}
	if r.Cancel("sess_unknown", errStop) {
		t.Error("unknown id should find nothing")
	}
}

func TestInFlightRelease(t *testing.T) {
	r := NewInFlightRegistry()
	ctx, cancel := context.WithCancelCause(context.Background())
	release := r.Register("sess_a", cancel)

	release()
	release()
	if r.Cancel("sess_a", errStop) {
		t.Error("released entry was still cancellable")
	}
	if ctx.Err() != nil {
		t.Error("release must not cancel")
	}
}

func TestInFlightReleaseAfterReplace(t *testing.T) {
	r := NewInFlightRegistry()
	oldRelease := r.Register("sess_a", func(error) {})
	newCtx, newCancel := context.WithCancelCause(context.Background())
	r.Register("sess_a", newCancel)

	oldRelease()
	if r.Len() != 1 {
		t.Fatalf("Len = %d; an old release dropped the newer run", r.Len())
	}
	r.Cancel("sess_a", errStop)
	if newCtx.Err() == nil {
		t.Error("newer run was not cancelled")
	}
}

func TestInFlightConcurrent(t *testing.T) {
	const n = 64
	r := NewInFlightRegistry()
	releases := make([]func(), n)
	var cancelled sync.Map

	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			id := fmt.Sprintf("sess_%02d", i)
			releases[i] = r.Register(id, func(error) { cancelled.Store(id, true) })
		})
	}
	wg.Wait()

	for i := range n {
		wg.Go(func() {
			if i%2 == 0 {
				r.Cancel(fmt.Sprintf("sess_%02d", i), errStop)
			} else {
				releases[i]()
			}
		})
	}
	wg.Wait()

	count := 0
	cancelled.Range(func(_, _ any) bool { count++; return true })
	if count != n/2 {
		t.Errorf("cancelled %d runs, want %d", count, n/2)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}
