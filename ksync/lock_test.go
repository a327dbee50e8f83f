package ksync

import (
	"testing"
	"time"

	"maverickos/sched"
)

// TestPriorityDonationChain reproduces the core of the donation
// scenario (spec.md §8 invariant 1/2) with two threads: Low acquires a
// lock, High blocks trying to acquire Low's lock. Low's effective
// priority must rise to High's while it holds the lock, and fall back to
// its base once it releases.
func TestPriorityDonationChain(t *testing.T) {
	s := sched.New(sched.ModePriority)
	lock := NewLock(s)

	lowDone := make(chan struct{})
	lowHasLock := make(chan struct{})
	releaseLow := make(chan struct{})

	low := s.Spawn("low", 10, nil, func(self *sched.Thread) {
		lock.Acquire(self)
		close(lowHasLock)
		<-releaseLow
		lock.Release(self)
		close(lowDone)
	})

	<-lowHasLock
	if low.EffPriority() != 10 {
		t.Fatalf("low eff priority should start at base 10, got %d", low.EffPriority())
	}

	highBlocked := make(chan struct{})
	s.Spawn("high", 50, nil, func(self *sched.Thread) {
		close(highBlocked)
		lock.Acquire(self)
		lock.Release(self)
	})

	// Give the high-priority thread time to block on the lock and
	// donate.
	<-highBlocked
	deadline := time.Now().Add(time.Second)
	for low.EffPriority() != 50 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if low.EffPriority() != 50 {
		t.Fatalf("expected donation to raise low's eff priority to 50, got %d", low.EffPriority())
	}

	close(releaseLow)
	<-lowDone

	deadline = time.Now().Add(time.Second)
	for low.EffPriority() != 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if low.EffPriority() != 10 {
		t.Fatalf("expected low's eff priority to fall back to base 10 after release, got %d", low.EffPriority())
	}
}

func TestLockNotReentrant(t *testing.T) {
	s := sched.New(sched.ModePriority)
	lock := NewLock(s)
	panicked := make(chan bool, 1)
	s.Spawn("a", 10, nil, func(self *sched.Thread) {
		lock.Acquire(self)
		defer func() { panicked <- recover() != nil }()
		lock.Acquire(self)
	})
	if !<-panicked {
		t.Fatalf("expected panic on reentrant acquire")
	}
}

func TestSemaWakesHighestPriorityWaiter(t *testing.T) {
	s := sched.New(sched.ModePriority)
	sem := NewSema(s, 0)

	woke := make(chan string, 2)
	blocked := make(chan struct{}, 2)

	s.Spawn("lo", 10, nil, func(self *sched.Thread) {
		blocked <- struct{}{}
		sem.Down(self)
		woke <- "lo"
	})
	s.Spawn("hi", 40, nil, func(self *sched.Thread) {
		blocked <- struct{}{}
		sem.Down(self)
		woke <- "hi"
	})
	<-blocked
	<-blocked
	time.Sleep(10 * time.Millisecond)

	sem.Up()
	first := <-woke
	if first != "hi" {
		t.Fatalf("expected high priority waiter woken first, got %s", first)
	}
	sem.Up()
	<-woke
}
