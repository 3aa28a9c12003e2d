package history

import "time"

// Clock schedules deferred work. The fetcher's retry delays go through a
// Clock so tests can drive the schedule deterministically.
type Clock interface {
	AfterFunc(d time.Duration, fn func())
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock {
	return systemClock{}
}
