package pinnit

import (
	"fmt"
	"time"
)

// FormatTimeAgo renders the relative "Pinned ..." label shown next to a pin.
// Anything four weeks or older is shown as an absolute date.
func FormatTimeAgo(timestamp int64, now time.Time) string {
	diff := now.UnixMilli() - timestamp
	seconds := diff / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	weeks := days / 7

	switch {
	case seconds < 60:
		return "Pinned just now"
	case minutes < 60:
		return fmt.Sprintf("Pinned %d %s ago", minutes, plural(minutes, "min"))
	case hours < 24:
		return fmt.Sprintf("Pinned %d %s ago", hours, plural(hours, "hour"))
	case days < 7:
		return fmt.Sprintf("Pinned %d %s ago", days, plural(days, "day"))
	case weeks < 4:
		return fmt.Sprintf("Pinned %d %s ago", weeks, plural(weeks, "week"))
	default:
		return "Pinned on " + time.UnixMilli(timestamp).In(now.Location()).Format("2006-01-02")
	}
}

func plural(n int64, unit string) string {
	if n > 1 {
		return unit + "s"
	}
	return unit
}
