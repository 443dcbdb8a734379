package l2tracks

// ring is a fixed-capacity buffer that keeps the most recent values.
type ring[T any] struct {
	values  []T
	counter int
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{values: make([]T, size)}
}

func (r *ring[T]) len() int {
	if r.counter >= len(r.values) {
		return len(r.values)
	}
	return r.counter
}

func (r *ring[T]) add(v T) {
	if len(r.values) == 0 {
		return
	}
	r.values[r.counter%len(r.values)] = v
	r.counter++
}

// items returns the buffered values oldest first.
func (r *ring[T]) items() []T {
	n := r.len()
	out := make([]T, 0, n)
	start := r.counter - n
	for i := start; i < r.counter; i++ {
		out = append(out, r.values[i%len(r.values)])
	}
	return out
}
