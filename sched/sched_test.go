package sched

import (
	"testing"
	"time"
)

func mkThread(s *Scheduler, name string, prio int) *Thread {
	started := make(chan struct{})
	t := s.Spawn(name, prio, nil, func(self *Thread) {
		close(started)
		<-self.resume // park forever until test exits it via Block/Unblock dance
	})
	<-started
	return t
}

func TestReadyQueueOrdersByEffectivePriority(t *testing.T) {
	s := New(ModePriority)
	lo := mkThread(s, "lo", 10)
	hi := mkThread(s, "hi", 40)
	mid := mkThread(s, "mid", 20)

	next := s.NextToRun()
	if next != hi {
		t.Fatalf("expected highest priority thread %v ready first, got %v", hi.Name, next.Name)
	}
	_ = lo
	_ = mid
}

func TestEffPriorityNeverBelowBase(t *testing.T) {
	s := New(ModePriority)
	th := mkThread(s, "a", 15)
	if th.EffPriority() < th.BasePriority() {
		t.Fatalf("eff priority %d below base %d", th.EffPriority(), th.BasePriority())
	}
}

func TestCanaryDetectsCorruption(t *testing.T) {
	s := New(ModePriority)
	th := mkThread(s, "a", 15)
	th.CheckCanary() // should not panic

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on corrupted canary")
		}
	}()
	th.canary = 0
	th.CheckCanary()
}

func TestBlockUnblockWakesBothWaiters(t *testing.T) {
	s := New(ModePriority)

	type result struct {
		name string
	}
	results := make(chan result, 2)

	mkWaiter := func(name string, prio int) *Thread {
		ready := make(chan struct{})
		return s.Spawn(name, prio, nil, func(self *Thread) {
			old := self.IRQ.Disable()
			close(ready)
			s.Block(self)
			self.IRQ.Restore(old)
			results <- result{name: self.Name}
		})
	}

	lo := mkWaiter("lo", 10)
	hi := mkWaiter("hi", 50)
	time.Sleep(10 * time.Millisecond) // let both threads reach Block

	s.Unblock(lo)
	s.Unblock(hi)

	first := <-results
	<-results
	_ = first
}
