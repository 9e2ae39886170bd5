package utils

import (
	"time"
)

// SecondsToDuration converts a whole number of seconds from a request body
// into a time.Duration. Zero or negative values stay zero.
func SecondsToDuration(seconds int64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
