package shutdown

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	c := NewController()

	var woke atomic.Int32
	for i := 0; i < 5; i++ {
		go func() {
			<-c.Done()
			woke.Add(1)
		}()
	}

	if c.Triggered() {
		t.Fatal("controller triggered before Shutdown")
	}

	c.Shutdown()
	c.Shutdown() // idempotent

	deadline := time.After(time.Second)
	for woke.Load() != 5 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 5 subscribers woke", woke.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if !c.Triggered() {
		t.Fatal("Triggered should report true after Shutdown")
	}
}

func TestWaitJoinsTasks(t *testing.T) {
	c := NewController()

	for i := 0; i < 3; i++ {
		done := c.Register("worker")
		go func() {
			<-c.Done()
			time.Sleep(10 * time.Millisecond)
			done()
		}()
	}

	c.Shutdown()
	if !c.Wait(time.Second) {
		t.Fatal("tasks should have finished within the deadline")
	}
}

func TestWaitAbandonsStuckTasks(t *testing.T) {
	c := NewController()

	fast := c.Register("fast")
	c.Register("stuck") // never completes

	fast()
	c.Shutdown()

	start := time.Now()
	if c.Wait(50 * time.Millisecond) {
		t.Fatal("Wait should report failure with a stuck task")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Wait held past its deadline: %v", elapsed)
	}
}

func TestRegisterDoneIsIdempotent(t *testing.T) {
	c := NewController()
	done := c.Register("worker")
	done()
	done() // must not panic

	c.Shutdown()
	if !c.Wait(time.Second) {
		t.Fatal("completed task should satisfy Wait")
	}
}
