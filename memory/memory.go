// Package memory implements a byte budget tracker.
//
// A [Memory] accounts bytes against a fixed ceiling but never rejects a write:
// adding past the ceiling puts it into an overflow state, which is reported
// (by return value and [Overflow] event) and left for the caller to resolve.
package memory

import (
	"github.com/djdv/go-imagecache/event"
	"github.com/djdv/go-imagecache/internal/logging"
	"github.com/sirupsen/logrus"
)

type (
	// Memory tracks bytes used against a ceiling of size units.
	// Concurrent access must be guarded by the caller.
	// Constructed by [New].
	Memory struct {
		log    logrus.FieldLogger
		events event.Emitter[EventType, Event]
		name   string
		units  Units
		size   float64
		scale  int64
		bytes  int64
		count  int
	}
	// Option configures a [Memory] during [New].
	Option func(*Memory)
	// EventType enumerates [Memory] notifications.
	// Values may be combined into a mask for [Memory.On].
	EventType uint32
	// Event describes a change to a [Memory].
	Event struct {
		Target *Memory
		Type   EventType
		// Bytes is the amount added or removed.
		// For [Overflow] it is the (negative) remaining capacity.
		Bytes int64
		// Remaining is the capacity left after the change.
		Remaining int64
		Overflow  bool
	}
	// Space is an amount of memory in several views.
	Space struct {
		Bytes   int64
		Units   float64
		Percent float64
	}
	// State describes the configuration and contribution count.
	State struct {
		Units     Units
		Size      float64
		SizeBytes int64
		Count     int
	}
	// Stats is a snapshot suitable for logging or dashboards.
	Stats struct {
		State State
		Free  Space
		Used  Space
	}
)

const (
	// Overflow is sent before the write that exceeds the ceiling is applied.
	Overflow EventType = 1 << iota
	// BytesAdded is sent after [Memory.AddBytes].
	BytesAdded
	// BytesRemoved is sent after [Memory.RemoveBytes].
	BytesRemoved
	// Update is sent after every mutation, carrying the overflow state.
	Update
	// Cleared is sent after [Memory.Clear].
	Cleared

	// AllEvents subscribes to every notification.
	AllEvents = Overflow | BytesAdded | BytesRemoved | Update | Cleared
)

// New creates a [Memory] named name with a ceiling of size units.
func New(name string, size float64, units Units, options ...Option) (*Memory, error) {
	scale, ok := units.Scale()
	if !ok {
		return nil, unitsError(units)
	}
	if size < 0 {
		return nil, sizeError(size)
	}
	memory := &Memory{
		name:  name,
		size:  size,
		units: units,
		scale: scale,
	}
	for _, apply := range options {
		apply(memory)
	}
	memory.log = logging.Component(memory.log, "memory").
		WithField("memory", name)
	memory.log.WithFields(logrus.Fields{
		"size":  size,
		"units": units,
	}).Info("created memory")
	return memory, nil
}

// WithLogger sets the logger used by the [Memory].
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Memory) { m.log = log }
}

// On subscribes handler to the events in mask.
func (m *Memory) On(mask EventType, handler func(Event)) event.Token {
	return m.events.On(mask, handler)
}

// Off removes a subscription made with [Memory.On].
func (m *Memory) Off(token event.Token) bool { return m.events.Off(token) }

// Name returns the name given to [New].
func (m *Memory) Name() string { return m.name }

// Bytes returns the bytes currently accounted.
func (m *Memory) Bytes() int64 { return m.bytes }

// Count returns the number of adds minus the number of removes.
func (m *Memory) Count() int { return m.count }

// Size returns the ceiling in units.
func (m *Memory) Size() float64 { return m.size }

// Units returns the units of the ceiling.
func (m *Memory) Units() Units { return m.units }

// Capacity returns the ceiling in bytes.
func (m *Memory) Capacity() int64 {
	return int64(m.size * float64(m.scale))
}

// Remaining returns the capacity left if withBytes were added.
// A negative result means the tracker would be in overflow.
func (m *Memory) Remaining(withBytes int64) int64 {
	return m.Capacity() - (m.bytes + withBytes)
}

// Overflowed reports whether usage currently exceeds the ceiling.
func (m *Memory) Overflowed() bool { return m.Remaining(0) < 0 }

// AddBytes accounts bytes and returns the remaining capacity.
// A negative result is the overflow amount; resolving it is up to the caller.
func (m *Memory) AddBytes(bytes int64) int64 {
	remaining := m.Remaining(bytes)
	overflow := remaining < 0
	if overflow {
		m.log.WithFields(m.statsFields()).
			WithField("overflow", -remaining).
			Warn("overflow")
		m.emit(Event{Type: Overflow, Bytes: remaining, Remaining: remaining, Overflow: true})
	}
	m.count++
	m.bytes += bytes
	m.emit(Event{Type: BytesAdded, Bytes: bytes, Remaining: remaining, Overflow: overflow})
	m.emit(Event{Type: Update, Remaining: remaining, Overflow: overflow})
	m.log.WithFields(m.statsFields()).
		WithField("added", m.units.ToUnits(bytes)).
		Debug("added bytes")
	return remaining
}

// AddUnits is [Memory.AddBytes] expressed in the tracker's units.
// It returns the remaining capacity in units.
func (m *Memory) AddUnits(units float64) float64 {
	remaining := m.AddBytes(int64(units * float64(m.scale)))
	return m.units.ToUnits(remaining)
}

// RemoveBytes releases bytes and returns the remaining capacity.
// Usage is not clamped at zero; callers must balance adds and removes.
func (m *Memory) RemoveBytes(bytes int64) int64 {
	m.count--
	m.bytes -= bytes
	if m.bytes < 0 || m.count < 0 {
		m.log.WithFields(m.statsFields()).
			Error("removed more than was added")
	}
	if debugging {
		assert(m.bytes >= 0, "memory usage below zero")
		assert(m.count >= 0, "memory count below zero")
	}
	remaining := m.Remaining(0)
	m.emit(Event{Type: BytesRemoved, Bytes: bytes, Remaining: remaining, Overflow: remaining < 0})
	m.emit(Event{Type: Update, Remaining: remaining, Overflow: remaining < 0})
	m.log.WithFields(m.statsFields()).
		WithField("removed", m.units.ToUnits(bytes)).
		Debug("removed bytes")
	return remaining
}

// Clear resets usage and count to zero.
func (m *Memory) Clear() {
	m.bytes = 0
	m.count = 0
	m.emit(Event{Type: Cleared, Remaining: m.Capacity()})
	m.log.Info("cleared")
}

// ToUnits converts bytes into the tracker's units.
func (m *Memory) ToUnits(bytes int64) float64 { return m.units.ToUnits(bytes) }

// Used returns the space in use.
func (m *Memory) Used() Space {
	used := m.ToUnits(m.bytes)
	return Space{
		Bytes:   m.bytes,
		Units:   used,
		Percent: m.percent(used),
	}
}

// Free returns the space left before overflow.
func (m *Memory) Free() Space {
	used := m.ToUnits(m.bytes)
	return Space{
		Bytes:   m.Remaining(0),
		Units:   m.size - used,
		Percent: 100 - m.percent(used),
	}
}

// Average returns the mean contribution per counted add.
func (m *Memory) Average() Space {
	if m.count == 0 || m.bytes == 0 {
		return Space{}
	}
	var (
		count = float64(m.count)
		used  = m.ToUnits(m.bytes)
	)
	return Space{
		Bytes:   m.bytes / int64(m.count),
		Units:   used / count,
		Percent: m.percent(used) / count,
	}
}

// State returns the tracker configuration and count.
func (m *Memory) State() State {
	return State{
		Units:     m.units,
		Size:      m.size,
		SizeBytes: m.Capacity(),
		Count:     m.count,
	}
}

// Stats returns a snapshot of state and usage.
func (m *Memory) Stats() Stats {
	return Stats{
		State: m.State(),
		Free:  m.Free(),
		Used:  m.Used(),
	}
}

func (m *Memory) percent(used float64) float64 {
	if m.size == 0 {
		return 0
	}
	return used / m.size * 100
}

func (m *Memory) statsFields() logrus.Fields {
	return logrus.Fields{
		"bytes":    m.bytes,
		"count":    m.count,
		"capacity": m.Capacity(),
	}
}

func (m *Memory) emit(e Event) {
	e.Target = m
	m.events.Emit(e.Type, e)
}
