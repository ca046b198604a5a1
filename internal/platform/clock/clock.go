package clock

import "time"

// Clock supplies the current time. Services take it as a dependency so tests
// can pin offer timestamps and eviction order.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
