package tieredcache

import "time"

// Clock abstracts wall-clock reads so the coordinator's TTL and expiry
// arithmetic can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
