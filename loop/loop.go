// Package loop provides the cooperative, single-threaded runtime
// that every component of the cache is driven by.
//
// Callbacks posted to a [Scheduler] run one at a time and to completion;
// suspension only happens between callbacks. Components never block,
// asynchronous completion is observed by scheduling a continuation.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type (
	// Poster defers a callback to a later turn of the runtime.
	// Post never runs callback inline.
	Poster interface {
		Post(callback func())
	}
	// Scheduler runs callbacks after a delay, one at a time.
	Scheduler interface {
		Poster
		AfterFunc(delay time.Duration, callback func()) Timer
	}
	// Timer is a pending callback returned by [Scheduler.AfterFunc].
	Timer interface {
		// Stop prevents the callback from running.
		// It reports whether the call stopped the timer.
		Stop() bool
	}
	// Loop is a [Scheduler] backed by a single goroutine.
	// Post and AfterFunc may be called from any goroutine;
	// callbacks only run inside [Loop.Run].
	// Constructed by [New].
	Loop struct {
		mu      sync.Mutex
		pending []func()
		wake    chan struct{}
	}
	loopTimer struct {
		timer   *time.Timer
		stopped atomic.Bool
	}
)

// New creates an idle [Loop].
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues callback to run on the loop goroutine.
func (l *Loop) Post(callback func()) {
	l.mu.Lock()
	l.pending = append(l.pending, callback)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc posts callback after delay has elapsed.
func (l *Loop) AfterFunc(delay time.Duration, callback func()) Timer {
	timer := new(loopTimer)
	timer.timer = time.AfterFunc(delay, func() {
		l.Post(func() {
			if !timer.stopped.Load() {
				callback()
			}
		})
	})
	return timer
}

func (lt *loopTimer) Stop() bool {
	if lt.stopped.Swap(true) {
		return false
	}
	lt.timer.Stop()
	return true
}

// Run executes posted callbacks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for _, callback := range l.drain() {
			callback()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Call runs callback on the loop and waits for it to return.
// Must not be called from the loop goroutine.
func (l *Loop) Call(ctx context.Context, callback func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		callback()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) drain() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := l.pending
	l.pending = nil
	return pending
}
