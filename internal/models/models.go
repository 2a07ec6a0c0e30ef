package models

import (
	"time"
)

// TimestampLayout is the on-disk format of a bucketed record timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Flag is a tri-state yes/no/unknown field.
type Flag string

const (
	FlagYes     Flag = "yes"
	FlagNo      Flag = "no"
	FlagUnknown Flag = "unknown"
)

// FlagOf converts a known boolean into a Flag.
func FlagOf(b bool) Flag {
	if b {
		return FlagYes
	}
	return FlagNo
}

// Category is the simplified weather category.
type Category string

const (
	CategoryClear   Category = "clear"
	CategoryCloudy  Category = "cloudy"
	CategoryRainy   Category = "rainy"
	CategorySnowy   Category = "snowy"
	CategoryFoggy   Category = "foggy"
	CategoryUnknown Category = "unknown"
)

// WeatherReading is one upstream weather sample. Temperature is nil when
// the upstream did not report one.
type WeatherReading struct {
	Temperature *float64
	Symbol      string
}

// Conditions is the enriched form of a WeatherReading symbol.
type Conditions struct {
	Category  Category
	IsRaining Flag
	IsDaytime Flag
}

// UnknownConditions is used when no weather reading is available.
var UnknownConditions = Conditions{
	Category:  CategoryUnknown,
	IsRaining: FlagUnknown,
	IsDaytime: FlagUnknown,
}

// SpecialKind classifies a calendar date.
type SpecialKind string

const (
	KindHoliday  SpecialKind = "holiday"
	KindVacation SpecialKind = "vacation"
	KindRegular  SpecialKind = "regular"
)

// Classification is the calendar oracle's answer for a single date.
type Classification struct {
	Kind SpecialKind
	Name string
}

// IsSpecial reports whether the date is a holiday or inside a vacation period.
func (c Classification) IsSpecial() bool {
	return c.Kind == KindHoliday || c.Kind == KindVacation
}

// VisitorRecord is one persisted row, keyed by its bucketed Timestamp.
type VisitorRecord struct {
	Timestamp        time.Time
	VisitorCount     int
	Temperature      *float64
	WeatherCategory  Category
	IsRaining        Flag
	IsDaytime        Flag
	IsHoliday        bool
	IsVacationPeriod bool
	SpecialDateName  string
}

// Key returns the record's identity within a store.
func (r VisitorRecord) Key() string {
	return r.Timestamp.Format(TimestampLayout)
}

// Float64 returns a pointer to v, for populating optional fields.
func Float64(v float64) *float64 {
	return &v
}
