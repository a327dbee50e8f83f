package sched

// onTick is registered with s.Timer and implements spec.md §4.E's
// per-tick, per-4-ticks, and per-second MLFQS bookkeeping. It also
// drives plain round-robin preemption under ModePriority: every tick it
// requests a yield of the current thread once its time slice (modeled
// here as a fixed tick count) expires.
//
// Grounded in the reference MLFQS formulas spec.md §4.E specifies
// verbatim:
//
//	recent_cpu := (2*load_avg)/(2*load_avg+1) * recent_cpu + nice
//	priority   := PRI_MAX - (recent_cpu / 4) - (nice * 2), clamped to
//	              [PRI_MIN, PRI_MAX] (spec.md's redesign flag: clamp
//	              rather than panic on underflow below PRI_MIN)
//	load_avg   := (59/60)*load_avg + (1/60)*ready_count
const ticksPerSecond = 100
const timeSliceTicks = 4

func (s *Scheduler) onTick(ticks uint64) {
	s.wakeDue(ticks)

	if s.mode != ModeMLFQS {
		if ticks%timeSliceTicks == 0 {
			s.Timer.RequestYield()
		}
		return
	}

	s.mu.Lock()
	running := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		if t.State() == Running || t.State() == Ready {
			running = append(running, t)
		}
	}
	readyCount := 0
	for p := PriMin; p <= PriMax; p++ {
		readyCount += s.queues[p].Len()
	}
	s.mu.Unlock()

	// Every tick: the running thread's recent_cpu += 1 (its caller is
	// expected to mark itself Running; bookkeeping here only touches
	// threads the scheduler believes are actually executing).
	for _, t := range running {
		if t.State() == Running {
			t.mu.Lock()
			t.recentCPU = t.recentCPU.addInt(1)
			t.mu.Unlock()
		}
	}

	if ticks%ticksPerSecond == 0 {
		s.mu.Lock()
		coeff := intToFixed(2).mul(s.loadAvg).div(intToFixed(2).mul(s.loadAvg).addInt(1))
		s.loadAvg = intToFixed(59).divInt(60).mul(s.loadAvg).add(intToFixed(1).divInt(60).mulInt(readyCount))
		s.mu.Unlock()

		for _, t := range running {
			t.mu.Lock()
			t.recentCPU = coeff.mul(t.recentCPU).addInt(t.nice)
			t.mu.Unlock()
		}
	}

	if ticks%timeSliceTicks == 0 {
		for _, t := range running {
			s.recomputeMLFQSPriority(t)
		}
		s.Timer.RequestYield()
	}
}

func (s *Scheduler) recomputeMLFQSPriority(t *Thread) {
	t.mu.Lock()
	p := PriMax - t.recentCPU.divInt(4).toIntTrunc() - t.nice*2
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	wasReady := t.state == Ready
	t.mu.Unlock()

	s.mu.Lock()
	if wasReady {
		s.dequeueSpecific(t)
	}
	t.setEffPrio(p)
	t.mu.Lock()
	t.basePrio = p
	t.mu.Unlock()
	if wasReady {
		s.enqueue(t)
	}
	s.mu.Unlock()
}

/// SetNice sets a thread's nice value and immediately recomputes its
/// priority (spec.md §4.E: "set_nice recalculates the thread's own
/// priority immediately using the current formula").
func (s *Scheduler) SetNice(t *Thread, nice int) {
	if nice < -20 {
		nice = -20
	}
	if nice > 20 {
		nice = 20
	}
	t.mu.Lock()
	t.nice = nice
	t.mu.Unlock()
	s.recomputeMLFQSPriority(t)
}

/// Nice returns a thread's nice value.
func (t *Thread) Nice() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nice
}

/// RecentCPU returns a thread's recent_cpu, rounded to the nearest
/// integer per spec.md's reporting convention for get_recent_cpu-style
/// introspection.
func (t *Thread) RecentCPU() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recentCPU.toIntRound()
}

/// LoadAvg returns the scheduler's system-wide load average multiplied
/// by 100 and rounded to the nearest integer, the conventional
/// get_load_avg reporting scale. The raw fixed-point value is not
/// exported.
func (s *Scheduler) LoadAvg() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg.mulInt(100).toIntRound()
}
