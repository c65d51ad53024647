package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/config"
)

// fakeSweeper closes up to limit of its remaining sessions per call.
type fakeSweeper struct {
	remaining int
	calls     int
	err       error
}

func (f *fakeSweeper) SubmitExpired(_ context.Context, limit int) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	n := limit
	if f.remaining < n {
		n = f.remaining
	}
	f.remaining -= n
	return n, nil
}

func TestRunOnceDrainsInBatches(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		wantCalls int
	}{
		{"nothing expired", 0, 1},
		{"partial batch", 3, 1},
		{"exact batch", 10, 2},
		{"several batches", 25, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSweeper{remaining: tt.remaining}
			w := NewSweepWorker(s, nil, &config.Config{SweepBatch: 10}, zerolog.Nop())

			n, err := w.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if n != tt.remaining || s.calls != tt.wantCalls {
				t.Errorf("submitted %d in %d calls, want %d in %d", n, s.calls, tt.remaining, tt.wantCalls)
			}
		})
	}
}

func TestRunOnceReturnsSweeperError(t *testing.T) {
	boom := errors.New("db down")
	w := NewSweepWorker(&fakeSweeper{err: boom}, nil, &config.Config{SweepBatch: 10}, zerolog.Nop())
	if _, err := w.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
