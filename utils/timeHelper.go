package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Business times are always expressed in a fixed offset, not device-local
// time: a sale rung up at 23:30 on a terminal whose clock drifted into the
// next UTC day must still land on the right business day.
const defaultBusinessTzOffsetMinutes = -360 // UTC-6

func businessTzOffsetMinutes() int {
	v := strings.TrimSpace(os.Getenv("BUSINESS_TZ_OFFSET_MINUTES"))
	if v == "" {
		return defaultBusinessTzOffsetMinutes
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultBusinessTzOffsetMinutes
	}
	return n
}

// BusinessLocation returns the fixed business timezone.
func BusinessLocation() *time.Location {
	offset := businessTzOffsetMinutes()
	return time.FixedZone("business", offset*60)
}

// NormalizeToBusinessTime re-expresses t in the fixed business offset.
// The instant is unchanged; only the zone is.
func NormalizeToBusinessTime(t time.Time) time.Time {
	return t.In(BusinessLocation())
}

// BusinessDay returns the calendar day of t in the business timezone,
// formatted as 2006-01-02. Used for expense bucketing.
func BusinessDay(t time.Time) string {
	return NormalizeToBusinessTime(t).Format("2006-01-02")
}

// LogicalTimestamp formats t for use as a record's logical timestamp: the
// business-meaningful creation time, captured once at user-action time and
// part of the idempotency key, so the format must be stable.
func LogicalTimestamp(t time.Time) string {
	return NormalizeToBusinessTime(t).Format(time.RFC3339)
}
