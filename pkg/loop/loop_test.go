package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/clock"
)

func TestInlinePostRunsInOrder(t *testing.T) {
	l := New(Config{Inline: true, Clock: clock.Fake(time.Unix(0, 0))})

	var order []int
	if err := l.Post(func() {
		order = append(order, 1)
		// Nested posts run after the current item completes.
		_ = l.Post(func() { order = append(order, 3) })
		order = append(order, 2)
	}); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
	if l.Executed() != 2 {
		t.Errorf("Executed() = %d, want 2", l.Executed())
	}
}

func TestAfterFuncPostsToLoop(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	l := New(Config{Inline: true, Clock: fake})

	fired := false
	l.AfterFunc(5*time.Second, func() { fired = true })

	fake.Advance(4 * time.Second)
	if fired {
		t.Fatal("timer fired early")
	}
	fake.Advance(time.Second)
	if !fired {
		t.Fatal("timer did not fire")
	}
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	l := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		if err := l.Post(func() { count.Add(1) }); err != nil {
			t.Fatalf("Post failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for count.Load() < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if count.Load() != 10 {
		t.Fatalf("executed %d items, want 10", count.Load())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if err := l.Post(func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Post after stop error = %v, want ErrStopped", err)
	}
}

func TestGuardStrictPanics(t *testing.T) {
	g := NewGuard("pathstore", true, nil)
	if !g.Enter() {
		t.Fatal("first Enter should succeed")
	}
	defer func() {
		if recover() == nil {
			t.Error("re-entrant Enter did not panic in strict mode")
		}
	}()
	g.Enter()
}

func TestGuardLenient(t *testing.T) {
	g := NewGuard("pathstore", false, nil)
	g.Enter()
	if g.Enter() {
		t.Error("re-entrant Enter should report false")
	}
	g.Exit()
	if g.Held() {
		t.Error("Held() = true after Exit")
	}
}
