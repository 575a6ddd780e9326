package main

import "sync"

// turnTimer is the cancellation handle for one turn's countdown. A session
// holds at most one, and every tick compares handles before acting, so a
// tick already in flight when a new timer starts can never fire twice.
type turnTimer struct {
	stop chan struct{}
	once sync.Once
}

func newTurnTimer() *turnTimer {
	return &turnTimer{
		stop: make(chan struct{}),
	}
}

// cancel stops all future ticks. Safe to call any number of times,
// including on a timer that already expired.
func (t *turnTimer) cancel() {
	t.once.Do(func() {
		close(t.stop)
	})
}
