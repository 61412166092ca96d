package pool

import "time"

// backoffState tracks the reconnect delay for one target address. The delay
// for attempt k is initial*factor^(k-1); it resets only on a successful
// connect, never on the passage of time alone.
type backoffState struct {
	initial time.Duration
	factor  float64
	current time.Duration
}

func newBackoffState(initial time.Duration, factor float64) *backoffState {
	return &backoffState{initial: initial, factor: factor, current: initial}
}

// next returns the delay to wait before the next attempt and advances the
// state for the attempt after that.
func (b *backoffState) next() time.Duration {
	d := b.current
	b.current = time.Duration(float64(b.current) * b.factor)
	return d
}

// reset restores the initial delay after a successful connect.
func (b *backoffState) reset() {
	b.current = b.initial
}
