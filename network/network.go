// Package network implements a bounded queue of [Loader] jobs.
//
// At most MaxLoaders jobs are in flight at once; the rest wait in
// insertion order. Jobs are identified by URL, so adding the same
// URL twice before it settles is a no-op.
package network

import (
	"github.com/djdv/go-imagecache/event"
	"github.com/djdv/go-imagecache/internal/logging"
	"github.com/djdv/go-imagecache/internal/ordered"
	"github.com/sirupsen/logrus"
)

type (
	// Network admits queued loaders up to a concurrency ceiling.
	// Concurrent access must be guarded by the caller.
	// Constructed by [New].
	Network struct {
		log        logrus.FieldLogger
		queue      *ordered.Map[string, Loader]
		inFlight   *ordered.Map[string, *flight]
		events     event.Emitter[EventType, Event]
		maxLoaders int
		paused     bool
		// aborting holds removed flights until their terminal
		// event; they keep their slot but not their URL.
		aborting map[*flight]struct{}
	}
	// Option configures a [Network] during [New].
	Option func(*Network) error
	flight struct {
		loader  Loader
		unwatch func()
	}
)

// DefaultMaxLoaders matches the per-host connection limit of common browsers.
const DefaultMaxLoaders = 6

// New creates an empty, running [Network].
func New(options ...Option) (*Network, error) {
	network := &Network{
		queue:      ordered.New[string, Loader](),
		inFlight:   ordered.New[string, *flight](),
		aborting:   make(map[*flight]struct{}),
		maxLoaders: DefaultMaxLoaders,
	}
	for _, apply := range options {
		if err := apply(network); err != nil {
			return nil, err
		}
	}
	network.log = logging.Component(network.log, "network")
	return network, nil
}

// WithMaxLoaders sets the concurrency ceiling.
func WithMaxLoaders(loaders int) Option {
	return func(n *Network) error {
		if loaders < 1 {
			return maxLoadersError(loaders)
		}
		n.maxLoaders = loaders
		return nil
	}
}

// WithLogger sets the logger used by the [Network].
func WithLogger(log logrus.FieldLogger) Option {
	return func(n *Network) error {
		n.log = log
		return nil
	}
}

// On subscribes handler to the events in mask.
// Loader events are re-emitted with the originating loader.
func (n *Network) On(mask EventType, handler func(Event)) event.Token {
	return n.events.On(mask, handler)
}

// Off removes a subscription made with [Network.On].
func (n *Network) Off(token event.Token) bool { return n.events.Off(token) }

// Add queues loader unless its URL is already queued or in flight.
func (n *Network) Add(loader Loader) {
	url := loader.URL()
	if !n.queue.Has(url) && !n.inFlight.Has(url) {
		n.queue.Set(url, loader)
		n.log.WithField("url", url).Debug("queued")
	}
	n.update()
}

// Remove drops loader from the queue, or requests
// an abort if it is already in flight.
// An aborting loader holds its slot until it settles,
// but its URL may be added again right away.
func (n *Network) Remove(loader Loader) {
	url := loader.URL()
	if queued, ok := n.queue.Get(url); ok && queued == loader {
		n.queue.Delete(url)
		n.update()
	}
	if current, ok := n.inFlight.Get(url); ok && current.loader == loader {
		n.inFlight.Delete(url)
		n.aborting[current] = struct{}{}
		n.log.WithField("url", url).Debug("aborting")
		current.loader.Abort()
	}
}

// Clear aborts every in-flight loader and empties the queue.
// It does not wait for the aborts to settle.
func (n *Network) Clear() {
	for _, current := range n.inFlight.All() {
		current.loader.Abort()
	}
	n.inFlight.Clear()
	clear(n.aborting)
	n.queue.Clear()
	n.log.Debug("cleared")
}

// Pause stops admission; in-flight loaders run to completion.
func (n *Network) Pause() {
	n.paused = true
	n.events.Emit(Pause, Event{Type: Pause})
}

// Resume restarts admission.
func (n *Network) Resume() {
	n.paused = false
	n.events.Emit(Resume, Event{Type: Resume})
	n.update()
}

// Paused reports whether admission is paused.
func (n *Network) Paused() bool { return n.paused }

// Queued returns the number of loaders waiting for admission.
func (n *Network) Queued() int { return n.queue.Len() }

// InFlight returns the number of loaders started and not yet settled,
// including removed loaders whose abort is pending.
func (n *Network) InFlight() int { return n.inFlight.Len() + len(n.aborting) }

// MaxLoaders returns the concurrency ceiling.
func (n *Network) MaxLoaders() int { return n.maxLoaders }

// IsQueued reports whether url is waiting for admission.
func (n *Network) IsQueued(url string) bool { return n.queue.Has(url) }

// IsInFlight reports whether url has been started and not yet
// settled or removed.
func (n *Network) IsInFlight(url string) bool { return n.inFlight.Has(url) }

// update is the admission pass.
func (n *Network) update() {
	for n.InFlight() < n.maxLoaders {
		if n.paused {
			if n.queue.Len() > 0 {
				n.log.Warn("network paused")
			}
			return
		}
		url, loader, ok := n.queue.PopFront()
		if !ok {
			return
		}
		current := &flight{loader: loader}
		n.inFlight.Set(url, current)
		n.launch(current)
	}
}

func (n *Network) launch(current *flight) {
	current.unwatch = current.loader.Watch(func(e Event) {
		n.onLoaderEvent(current, e)
	})
	n.log.WithFields(logrus.Fields{
		"url":      current.loader.URL(),
		"inFlight": n.InFlight(),
	}).Debug("launched")
	current.loader.Load()
}

func (n *Network) onLoaderEvent(current *flight, e Event) {
	e.Loader = current.loader
	if !e.Type.IsTerminal() {
		n.events.Emit(e.Type, e)
		return
	}
	current.unwatch()
	url := current.loader.URL()
	// A loader re-added after Clear or Remove has a different flight.
	if _, ok := n.aborting[current]; ok {
		delete(n.aborting, current)
	} else if active, ok := n.inFlight.Get(url); ok && active == current {
		n.inFlight.Delete(url)
	}
	n.log.WithFields(logrus.Fields{
		"url":   url,
		"event": e.Type,
	}).Debug("settled")
	n.events.Emit(e.Type, e)
	n.update()
}
