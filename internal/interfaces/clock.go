package interfaces

import "time"

// Clock is the time source used for accrual comparisons. It must not go backwards.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
