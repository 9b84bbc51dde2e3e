package demand

import "time"

// Window is a bounded FIFO of the most recent demand values. Once full, each
// Push evicts the oldest value. The zero value is not usable; use NewWindow.
//
// Window is not safe for concurrent use. It is owned by the control loop.
type Window struct {
	values []int
	start  int
	size   int
}

// NewWindow creates a window holding at most capacity values.
// A capacity below 1 is raised to 1.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{values: make([]int, capacity)}
}

// Size returns the number of samples a window must hold to cover pollWindow
// when sampling every pollInterval. The result is at least 1.
func Size(pollWindow, pollInterval time.Duration) int {
	if pollInterval <= 0 {
		return 1
	}
	n := int(pollWindow / pollInterval)
	if n < 1 {
		return 1
	}
	return n
}

// Push appends v, evicting the oldest value if the window is full.
func (w *Window) Push(v int) {
	capacity := len(w.values)
	if w.size < capacity {
		w.values[(w.start+w.size)%capacity] = v
		w.size++
		return
	}
	w.values[w.start] = v
	w.start = (w.start + 1) % capacity
}

// Max returns the largest value in the window, or 0 when it is empty.
func (w *Window) Max() int {
	if w.size == 0 {
		return 0
	}
	m := w.at(0)
	for i := 1; i < w.size; i++ {
		if v := w.at(i); v > m {
			m = v
		}
	}
	return m
}

// Len returns the number of values currently held.
func (w *Window) Len() int { return w.size }

// Cap returns the maximum number of values the window holds.
func (w *Window) Cap() int { return len(w.values) }

// Values returns a copy of the window contents, oldest first.
func (w *Window) Values() []int {
	out := make([]int, w.size)
	for i := range out {
		out[i] = w.at(i)
	}
	return out
}

func (w *Window) at(i int) int {
	return w.values[(w.start+i)%len(w.values)]
}
