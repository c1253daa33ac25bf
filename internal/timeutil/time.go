// Package timeutil provides small time-formatting helpers shared by the
// external data adapters.
package timeutil

import "time"

// GetUTCString formats a time.Time to the ENTSO-E API format YYYYMMDDHHmm.
func GetUTCString(t time.Time) string {
	return t.UTC().Format("200601021504")
}
