// Package event provides a typed publish/subscribe capability
// that components own (rather than inherit).
//
// Each component declares its own bitmask Kind type and Event payload;
// listeners subscribe with a mask and receive only matching kinds.
package event

type (
	// Kind is the bitmask type a component uses to enumerate its events.
	Kind interface{ ~uint32 }
	// Token identifies a subscription made with [Emitter.On].
	Token uint64
	// Emitter dispatches events of type Event to listeners
	// subscribed for a matching Kind.
	// The zero value is ready to use.
	// Concurrent access must be guarded by the caller.
	Emitter[K Kind, Event any] struct {
		listeners []*listener[K, Event]
		last      Token
	}
	listener[K Kind, Event any] struct {
		token   Token
		mask    K
		handler func(Event)
		removed bool
	}
)

// On subscribes handler to every kind set in mask.
// The returned token can be passed to [Emitter.Off].
func (em *Emitter[K, Event]) On(mask K, handler func(Event)) Token {
	em.last++
	em.listeners = append(em.listeners, &listener[K, Event]{
		token:   em.last,
		mask:    mask,
		handler: handler,
	})
	return em.last
}

// Off removes the subscription identified by token.
// It reports whether the subscription existed.
func (em *Emitter[K, Event]) Off(token Token) bool {
	for i, l := range em.listeners {
		if l.token != token {
			continue
		}
		l.removed = true
		em.listeners = append(em.listeners[:i:i], em.listeners[i+1:]...)
		return true
	}
	return false
}

// Emit calls every listener subscribed to kind, in subscription order.
// Listeners removed while the event is being dispatched are skipped.
// It reports whether any listener handled the event.
func (em *Emitter[K, Event]) Emit(kind K, event Event) bool {
	if len(em.listeners) == 0 {
		return false
	}
	var (
		handled  bool
		snapshot = append([]*listener[K, Event](nil), em.listeners...)
	)
	for _, l := range snapshot {
		if l.removed || l.mask&kind == 0 {
			continue
		}
		handled = true
		l.handler(event)
	}
	return handled
}

// Reset removes every subscription.
func (em *Emitter[K, Event]) Reset() {
	for _, l := range em.listeners {
		l.removed = true
	}
	em.listeners = nil
}

// Len returns the number of subscriptions.
func (em *Emitter[_, _]) Len() int { return len(em.listeners) }
