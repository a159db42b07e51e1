package lock

import "time"

// Clock supplies the engine's notion of "now" in unix seconds. Every public
// operation reads it exactly once, so a single call never sees two
// different timestamps.
type Clock interface {
	Now() uint64
}

type systemClock struct{}

func (systemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// SystemClock returns the wall-clock implementation used in production.
func SystemClock() Clock { return systemClock{} }
