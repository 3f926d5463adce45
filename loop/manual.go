package loop

import (
	"container/heap"
	"time"
)

type (
	// Manual is a [Scheduler] driven by virtual time.
	// Nothing runs until [Manual.Advance] or [Manual.Flush] is called,
	// which makes timer-dependent behaviour deterministic.
	// Manual is not safe for concurrent use.
	// Constructed by [NewManual].
	Manual struct {
		timers timerHeap
		now    time.Duration
		seq    uint64
	}
	manualTimer struct {
		callback func()
		due      time.Duration
		seq      uint64
		index    int
		stopped  bool
	}
	timerHeap []*manualTimer
)

// NewManual creates a [Manual] scheduler at virtual time zero.
func NewManual() *Manual {
	return new(Manual)
}

// Post schedules callback at the current virtual time.
func (m *Manual) Post(callback func()) {
	m.AfterFunc(0, callback)
}

// AfterFunc schedules callback at now+delay.
// Callbacks due at the same time run in scheduling order.
func (m *Manual) AfterFunc(delay time.Duration, callback func()) Timer {
	m.seq++
	timer := &manualTimer{
		callback: callback,
		due:      m.now + max(delay, 0),
		seq:      m.seq,
	}
	heap.Push(&m.timers, timer)
	return timer
}

func (mt *manualTimer) Stop() bool {
	if mt.stopped || mt.index < 0 {
		return false
	}
	mt.stopped = true
	return true
}

// Now returns the virtual time elapsed since construction.
func (m *Manual) Now() time.Duration { return m.now }

// Pending returns the number of callbacks that have not run or been stopped.
func (m *Manual) Pending() int {
	var pending int
	for _, timer := range m.timers {
		if !timer.stopped {
			pending++
		}
	}
	return pending
}

// Advance moves virtual time forward by delta,
// running every callback that becomes due, including
// callbacks scheduled by other callbacks within the window.
func (m *Manual) Advance(delta time.Duration) {
	deadline := m.now + max(delta, 0)
	for len(m.timers) > 0 {
		next := m.timers[0]
		if next.due > deadline {
			break
		}
		heap.Pop(&m.timers)
		m.now = next.due
		if !next.stopped {
			next.callback()
		}
	}
	m.now = deadline
}

// Flush runs every callback due at the current virtual time.
func (m *Manual) Flush() { m.Advance(0) }

func (th timerHeap) Len() int { return len(th) }

func (th timerHeap) Less(i, j int) bool {
	if th[i].due == th[j].due {
		return th[i].seq < th[j].seq
	}
	return th[i].due < th[j].due
}

func (th timerHeap) Swap(i, j int) {
	th[i], th[j] = th[j], th[i]
	th[i].index = i
	th[j].index = j
}

func (th *timerHeap) Push(x any) {
	timer := x.(*manualTimer)
	timer.index = len(*th)
	*th = append(*th, timer)
}

func (th *timerHeap) Pop() any {
	var (
		old   = *th
		last  = len(old) - 1
		timer = old[last]
	)
	old[last] = nil
	timer.index = -1
	*th = old[:last]
	return timer
}
