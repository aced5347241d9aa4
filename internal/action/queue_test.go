package action

import (
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(20 * time.Millisecond)
	got := make(chan int, 3)

	for i := 0; i < 3; i++ {
		i := i
		q.Push(func() { got <- i })
	}

	for want := 0; want < 3; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("fired %d, want %d", v, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for invocation")
		}
	}
}

func TestQueuePacing(t *testing.T) {
	const pace = 50 * time.Millisecond
	q := NewQueue(pace)
	starts := make(chan time.Time, 3)

	for i := 0; i < 3; i++ {
		q.Push(func() { starts <- time.Now() })
	}

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		select {
		case ts := <-starts:
			stamps = append(stamps, ts)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for invocation")
		}
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		if gap < pace/2 {
			t.Fatalf("gap %d→%d = %v, want at least %v", i-1, i, gap, pace/2)
		}
	}
}

func TestQueueDrainsAndRestarts(t *testing.T) {
	q := NewQueue(0)
	done := make(chan struct{}, 2)

	q.Push(func() { done <- struct{}{} })
	<-done

	// Wait for the drain goroutine to park, then push again.
	deadline := time.After(time.Second)
	for q.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("queue never drained")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	q.Push(func() { done <- struct{}{} })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second drain never fired")
	}
}

func TestQueueSlowInvocationDoesNotBlockDrain(t *testing.T) {
	q := NewQueue(time.Millisecond)
	release := make(chan struct{})
	second := make(chan struct{})

	q.Push(func() { <-release })
	q.Push(func() { close(second) })

	// The second invocation starts even though the first never returns.
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("drain blocked on a slow invocation")
	}
	close(release)
}
