package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func startLoop(t *testing.T, size int) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(size, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, cancel
}

func TestLoopPreservesOrder(t *testing.T) {
	l, _ := startLoop(t, 10)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		if err := l.DoSync(context.Background(), func(context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("DoSync: %v", err)
		}
	}

	// A synchronous barrier guarantees everything before it has run.
	if err := l.DoSyncWithResult(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("barrier: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 50 {
		t.Fatalf("expected 50 items, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("position %d: got %d", i, v)
		}
	}
}

func TestLoopDoSyncWithResultReturnsError(t *testing.T) {
	l, _ := startLoop(t, 1)
	want := errors.New("boom")

	err := l.DoSyncWithResult(context.Background(), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

func TestLoopSurvivesPanic(t *testing.T) {
	l, _ := startLoop(t, 4)

	l.Do(context.Background(), func(context.Context) { panic("bad work") })

	ran := false
	err := l.DoSyncWithResult(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Errorf("loop did not continue after panic: ran=%v err=%v", ran, err)
	}
}

func TestLoopRejectsAfterClose(t *testing.T) {
	l := New(1, zerolog.Nop())
	l.Close()

	// the queue has room, so a random select would accept some of these
	for i := 0; i < 100; i++ {
		if l.Do(context.Background(), func(context.Context) {}) {
			t.Fatal("Do accepted work after Close")
		}
		if err := l.DoSync(context.Background(), func(context.Context) {}); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
		err := l.DoSyncWithResult(context.Background(), func(context.Context) error { return nil })
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed from DoSyncWithResult, got %v", err)
		}
	}
}

func TestLoopDoDropsWhenFull(t *testing.T) {
	l := New(1, zerolog.Nop())

	if !l.Do(context.Background(), func(context.Context) {}) {
		t.Fatal("first Do should fit")
	}
	if l.Do(context.Background(), func(context.Context) {}) {
		t.Error("second Do should be dropped on a full queue")
	}
}

func TestLoopDrainsOnClose(t *testing.T) {
	l := New(4, zerolog.Nop())
	count := 0
	for i := 0; i < 3; i++ {
		l.Do(context.Background(), func(context.Context) { count++ })
	}
	l.Close()

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	if count != 3 {
		t.Errorf("expected queued work to drain, ran %d", count)
	}
}
