package store

import "time"

// BucketWidth is the width of one stored time slot.
const BucketWidth = 15 * time.Minute

// Bucket moves t onto the 15-minute grid used as the record key. Minutes
// round to the nearest quarter hour, except that 45-59 all map to :45 so a
// bucket never crosses into the next hour. Seconds and below are dropped.
func Bucket(t time.Time) time.Time {
	var minute int
	switch m := t.Minute(); {
	case m < 8:
		minute = 0
	case m < 23:
		minute = 15
	case m < 38:
		minute = 30
	default:
		minute = 45
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}
