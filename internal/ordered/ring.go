package ordered

// ring is a specialized adaption of `container/ring`
// holding one key/value pair per element.
// The zero value is a one-element ring.
type ring[Key comparable, Value any] struct {
	next, prev *ring[Key, Value]
	key        Key
	value      Value
}

func (r *ring[Key, Value]) init() *ring[Key, Value] {
	r.next = r
	r.prev = r
	return r
}

// Next returns the next ring element.
func (r *ring[Key, Value]) Next() *ring[Key, Value] {
	if r.next == nil {
		return r.init()
	}
	return r.next
}

// Prev returns the previous ring element.
func (r *ring[Key, Value]) Prev() *ring[Key, Value] {
	if r.next == nil {
		return r.init()
	}
	return r.prev
}

// Link connects ring r with ring s such that r.Next()
// becomes s and returns the original value for r.Next().
//
// If r and s point to different rings, linking
// them creates a single ring with the elements of s inserted
// after r.
func (r *ring[Key, Value]) Link(s *ring[Key, Value]) *ring[Key, Value] {
	n := r.Next()
	if s != nil {
		p := s.Prev()
		// Note: Cannot use multiple assignment because
		// evaluation order of LHS is not specified.
		r.next = s
		s.prev = r
		n.prev = p
		p.next = n
	}
	return n
}

// Unlink removes r from the ring it belongs to
// and leaves it as a detached one-element ring.
func (r *ring[Key, Value]) Unlink() {
	if r.next == nil || r.next == r {
		return
	}
	r.prev.next = r.next
	r.next.prev = r.prev
	r.init()
}
