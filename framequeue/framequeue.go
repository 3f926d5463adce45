// Package framequeue serializes render operations.
//
// Exactly one request is in service at a time. Each request is held
// in service for a simulated duration derived from the bytes it has to
// decode and the speed of the device, so renders never run back to back
// without that delay.
package framequeue

import (
	"time"

	"github.com/djdv/go-imagecache/event"
	"github.com/djdv/go-imagecache/internal/logging"
	"github.com/djdv/go-imagecache/internal/ordered"
	"github.com/djdv/go-imagecache/loop"
	"github.com/sirupsen/logrus"
)

type (
	// Request is a unit of render work.
	Request interface {
		// Decoded reports whether the image is already
		// decoded at the requested size (rendering is free).
		Decoded() bool
		// UncompressedBytes is the decoded pixel volume.
		UncompressedBytes() int64
		// Render starts the operation; renderTime
		// is how long it will hold the queue.
		Render(renderTime time.Duration)
	}
	// FrameQueue is a single-flight, FIFO render scheduler.
	// Concurrent access must be guarded by the caller.
	// Constructed by [New].
	FrameQueue struct {
		scheduler     loop.Scheduler
		log           logrus.FieldLogger
		timer         loop.Timer
		queue         *ordered.Map[Request, struct{}]
		events        event.Emitter[EventType, Event]
		hardwareRank  float64
		bytesPerFrame float64
		scheduled     bool
	}
	// Option configures a [FrameQueue] during [New].
	Option func(*FrameQueue) error
	// EventType enumerates [FrameQueue] notifications.
	EventType uint32
	// Event describes a scheduling step.
	Event struct {
		Request    Request
		Type       EventType
		RenderTime time.Duration
		Pending    int
	}
)

const (
	// RequestAdded is sent by [FrameQueue.Add].
	RequestAdded EventType = 1 << iota
	// Processing is sent when a request enters service.
	Processing
	// Processed is sent when a request's service time elapses.
	Processed

	AllEvents = RequestAdded | Processing | Processed
)

const (
	// DefaultBytesPerFrame is the baseline throughput:
	// uncompressed bytes a device of rank 0 renders per millisecond.
	DefaultBytesPerFrame = 500
	// DefaultHardwareRank describes the fastest device (no added latency).
	DefaultHardwareRank = 1
)

// New creates an idle [FrameQueue] driven by scheduler.
func New(scheduler loop.Scheduler, options ...Option) (*FrameQueue, error) {
	queue := &FrameQueue{
		scheduler:     scheduler,
		queue:         ordered.New[Request, struct{}](),
		hardwareRank:  DefaultHardwareRank,
		bytesPerFrame: DefaultBytesPerFrame,
	}
	for _, apply := range options {
		if err := apply(queue); err != nil {
			return nil, err
		}
	}
	queue.log = logging.Component(queue.log, "framequeue")
	queue.log.WithField("hardwareRank", queue.hardwareRank).Info("created frame queue")
	return queue, nil
}

// WithHardwareRank sets the device speed in [0,1]; 1 is the fastest.
func WithHardwareRank(rank float64) Option {
	return func(q *FrameQueue) error {
		if rank < 0 || rank > 1 {
			return rankError(rank)
		}
		q.hardwareRank = rank
		return nil
	}
}

// WithBytesPerFrame sets the throughput baseline.
func WithBytesPerFrame(bytes float64) Option {
	return func(q *FrameQueue) error {
		if bytes <= 0 {
			return bytesPerFrameError(bytes)
		}
		q.bytesPerFrame = bytes
		return nil
	}
}

// WithLogger sets the logger used by the [FrameQueue].
func WithLogger(log logrus.FieldLogger) Option {
	return func(q *FrameQueue) error {
		q.log = log
		return nil
	}
}

// On subscribes handler to the events in mask.
func (q *FrameQueue) On(mask EventType, handler func(Event)) event.Token {
	return q.events.On(mask, handler)
}

// Off removes a subscription made with [FrameQueue.On].
func (q *FrameQueue) Off(token event.Token) bool { return q.events.Off(token) }

// HardwareRank returns the configured device speed.
func (q *FrameQueue) HardwareRank() float64 { return q.hardwareRank }

// Len returns the number of pending requests.
func (q *FrameQueue) Len() int { return q.queue.Len() }

// Scheduled reports whether a request is in service.
func (q *FrameQueue) Scheduled() bool { return q.scheduled }

// Add appends request to the pending set (once) and
// starts processing if the queue is idle.
func (q *FrameQueue) Add(request Request) {
	q.queue.Set(request, struct{}{})
	q.events.Emit(RequestAdded, Event{
		Type:    RequestAdded,
		Request: request,
		Pending: q.queue.Len(),
	})
	q.log.WithField("pending", q.queue.Len()).Debug("added")
	q.next()
}

// Remove drops request if it has not entered service yet.
func (q *FrameQueue) Remove(request Request) bool {
	return q.queue.Delete(request)
}

// Clear drops every pending request and ends the current service period.
func (q *FrameQueue) Clear() {
	q.queue.Clear()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.scheduled = false
}

// RenderTime returns how long request will hold the queue:
// zero if already decoded at its size, otherwise its uncompressed bytes
// over the throughput baseline, discounted by the hardware rank.
func (q *FrameQueue) RenderTime(request Request) time.Duration {
	if request.Decoded() {
		return 0
	}
	var (
		frames       = float64(request.UncompressedBytes()) / q.bytesPerFrame
		milliseconds = frames * (1 - q.hardwareRank)
	)
	return time.Duration(milliseconds * float64(time.Millisecond))
}

// next is the processing step.
func (q *FrameQueue) next() {
	if q.scheduled {
		return
	}
	request, _, ok := q.queue.PopFront()
	if !ok {
		return
	}
	q.scheduled = true
	renderTime := q.RenderTime(request)
	q.log.WithFields(logrus.Fields{
		"pending":    q.queue.Len(),
		"renderTime": renderTime,
	}).Debug("processing")
	q.events.Emit(Processing, Event{
		Type:       Processing,
		Request:    request,
		RenderTime: renderTime,
		Pending:    q.queue.Len(),
	})
	request.Render(renderTime)
	q.timer = q.scheduler.AfterFunc(renderTime, func() {
		q.timer = nil
		q.scheduled = false
		q.events.Emit(Processed, Event{
			Type:       Processed,
			Request:    request,
			RenderTime: renderTime,
			Pending:    q.queue.Len(),
		})
		q.next()
	})
}
