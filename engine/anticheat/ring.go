package anticheat

// ring keeps the most recent cap values, oldest first
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](cap int) ring[T] {
	return ring[T]{buf: make([]T, cap)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) len() int {
	return r.n
}

// at returns the i-th oldest value
func (r *ring[T]) at(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// reverse visits values newest first until f returns false
func (r *ring[T]) reverse(f func(v T) bool) {
	for i := r.n - 1; i >= 0; i-- {
		if !f(r.at(i)) {
			return
		}
	}
}

func (r *ring[T]) values() []T {
	vals := make([]T, r.n)
	for i := range vals {
		vals[i] = r.at(i)
	}
	return vals
}
