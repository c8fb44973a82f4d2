package overlay

import "time"

type Timer interface {
	Stop() bool
}

// Clock schedules delayed callbacks. Callbacks run on their own goroutine.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is backed by time.AfterFunc.
var RealClock Clock = realClock{}
