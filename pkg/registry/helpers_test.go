package registry

import "time"

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return func() time.Time { return at }
}
