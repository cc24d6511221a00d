package rfc9111

import (
	"fmt"
	"strconv"
	"time"
)

// §  1.2.2. Delta Seconds
// §
// §  The delta-seconds rule specifies a non-negative integer, representing time in
// §  seconds.
// §
// §    delta-seconds  = 1*DIGIT
// §
// §  A recipient parsing a delta-seconds value and converting it to binary form ought
// §  to use an arithmetic type of at least 31 bits of non-negative integer range. If a
// §  cache receives a delta-seconds value greater than the greatest integer it can
// §  represent, or if any of its subsequent calculations overflows, the cache MUST
// §  consider the value to be 2147483648 (2^31) or the greatest positive integer it
// §  can conveniently represent.

const maxDeltaSeconds = 1 << 31

// deltaSeconds parses delta-seconds, returning 0 for anything that is not 1*DIGIT.
func deltaSeconds(secondsStr string) time.Duration {
	seconds, err := strconv.ParseUint(secondsStr, 10, 64)
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return time.Second * maxDeltaSeconds
		}
		return 0
	}
	if seconds > maxDeltaSeconds {
		seconds = maxDeltaSeconds
	}
	return time.Second * time.Duration(seconds)
}

// toDeltaSeconds formats a duration as delta-seconds, truncating to whole seconds.
// Negative durations are formatted as 0.
func toDeltaSeconds(duration time.Duration) string {
	if duration < 0 {
		duration = 0
	}
	return fmt.Sprintf("%d", int64(duration/time.Second))
}

// DeltaSeconds is the exported form of toDeltaSeconds, used when generating directives.
func DeltaSeconds(duration time.Duration) string {
	return toDeltaSeconds(duration)
}
