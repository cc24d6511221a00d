package rfc9111

import (
	"net/http"
	"time"
)

// §  5.1.  Age
// §
// §     The "Age" response header field conveys the sender's estimate of the
// §     time since the response was generated or successfully validated at
// §     the origin server.
// §
// §       Age = delta-seconds

// AddAgeHeader sets the Age field of a stored response served at `now`.
// The stored response was received from the origin at `receivedAt`.
// Simplified from the 4.2.3 calculation: there is no upstream Age and no response delay.
func AddAgeHeader(storedResponse *http.Response, receivedAt, now time.Time) {
	storedResponse.Header.Set("Age", toDeltaSeconds(now.Sub(receivedAt)))
}
