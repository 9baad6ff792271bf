package utils

import "time"

// FormatTime renders t in UTC with nanosecond precision, the wire format of every timestamp
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
