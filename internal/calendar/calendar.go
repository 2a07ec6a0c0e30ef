// Package calendar classifies dates as Norwegian public holidays or common
// institutional vacation periods.
package calendar

import (
	"sync"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/aa"
	"github.com/rickar/cal/v2/no"

	"github.com/lox/visitorlog/internal/models"
)

const easterSundayName = "Første påskedag"

// Vacation period labels.
const (
	ExamPeriod      = "Eksamensperiode (Exam Period)"
	StudentVacation = "Studentferie (Student Summer Vacation)"
	SummerVacation  = "Fellesferie (Summer Vacation)"
	ChristmasBreak  = "Juleferie (Christmas Break)"
	WinterBreak     = "Vinterferie (Winter Break)"
	EasterBreak     = "Påskeferie (Easter Break)"
)

const (
	winterBreakWeek  = 8
	winterBreakDays  = 7
	easterBreakDays  = 6
	examDaysInJune   = 7
	studentDaysInAug = 14
)

// Norwegian Sundays that are official holidays but absent from no.Holidays.
var (
	FoerstePaaskedag = aa.Easter.Clone(&cal.Holiday{Name: easterSundayName, Type: cal.ObservancePublic})
	FoerstePinsedag  = aa.Pentecost.Clone(&cal.Holiday{Name: "Første pinsedag", Type: cal.ObservancePublic})

	// Kristihimmelfartsdag is no.Kristihimmelfartsdag with the name in
	// the spelling used in stored rows.
	Kristihimmelfartsdag = no.Kristihimmelfartsdag.Clone(&cal.Holiday{Name: "Kristi himmelfartsdag"})
)

// Holidays lists the official Norwegian public holidays, including Easter
// and Whit Sunday. Ordinary Sundays are not included.
var Holidays = []*cal.Holiday{
	no.FoersteNyttaarsdag,
	no.Skjaertorsdag,
	no.Langfredag,
	FoerstePaaskedag,
	no.AndrePaaskedag,
	no.Arbeiderenesdag,
	no.Grunnlovsdag,
	Kristihimmelfartsdag,
	FoerstePinsedag,
	no.AndrePinsedag,
	no.FoersteJuledag,
	no.AndreJuledag,
}

type day struct {
	year  int
	month time.Month
	day   int
}

func dayOf(t time.Time) day {
	y, m, d := t.Date()
	return day{y, m, d}
}

func date(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// Calendar is the special-date table for a single year. It is immutable
// after New returns.
type Calendar struct {
	year      int
	holidays  map[day]string
	vacations map[day]string
	easter    time.Time
}

// New builds the holiday and vacation tables for year.
func New(year int) *Calendar {
	c := &Calendar{
		year:      year,
		holidays:  make(map[day]string),
		vacations: make(map[day]string),
	}

	for _, h := range Holidays {
		actual, _ := h.Calc(year)
		if actual.IsZero() {
			continue
		}
		c.holidays[dayOf(actual)] = h.Name
		if h.Name == easterSundayName {
			c.easter = actual
		}
	}

	c.buildVacations()
	return c
}

func (c *Calendar) buildVacations() {
	y := c.year

	// Exam and summer windows are written without checking the holiday table.
	c.fill(date(y, time.May, 1), 31, ExamPeriod, false)
	c.fill(date(y, time.June, 1), examDaysInJune, ExamPeriod, false)
	c.fill(date(y, time.June, 8), 23, StudentVacation, false)
	c.fill(date(y, time.July, 1), 31, SummerVacation, false)
	c.fill(date(y, time.August, 1), studentDaysInAug, StudentVacation, false)

	c.fill(date(y, time.December, 20), 12, ChristmasBreak, true)
	c.fill(date(y, time.January, 1), 2, ChristmasBreak, true)

	c.fill(isoWeekMonday(y, winterBreakWeek), winterBreakDays, WinterBreak, false)

	if !c.easter.IsZero() {
		for i := 1; i <= easterBreakDays; i++ {
			c.set(c.easter.AddDate(0, 0, -i), EasterBreak, true)
			c.set(c.easter.AddDate(0, 0, i), EasterBreak, true)
		}
	}
}

func (c *Calendar) fill(start time.Time, days int, name string, skipHolidays bool) {
	for i := 0; i < days; i++ {
		c.set(start.AddDate(0, 0, i), name, skipHolidays)
	}
}

func (c *Calendar) set(t time.Time, name string, skipHolidays bool) {
	d := dayOf(t)
	if skipHolidays {
		if _, ok := c.holidays[d]; ok {
			return
		}
	}
	c.vacations[d] = name
}

// isoWeekMonday returns the Monday of ISO week number week in year.
func isoWeekMonday(year, week int) time.Time {
	jan4 := date(year, time.January, 4)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -offset+7*(week-1))
}

// Year returns the calendar year this table covers.
func (c *Calendar) Year() int {
	return c.year
}

// Easter returns Easter Sunday for the table's year.
func (c *Calendar) Easter() time.Time {
	return c.easter
}

// Holiday returns the official holiday name for the date of t.
func (c *Calendar) Holiday(t time.Time) (string, bool) {
	name, ok := c.holidays[dayOf(t)]
	return name, ok
}

// Vacation looks up the raw vacation table for the date of t, ignoring
// holiday precedence.
func (c *Calendar) Vacation(t time.Time) (string, bool) {
	name, ok := c.vacations[dayOf(t)]
	return name, ok
}

// Classify reports the date of t as holiday, vacation or regular. Official
// holidays take precedence over vacation periods. Dates outside the table's
// year are regular.
func (c *Calendar) Classify(t time.Time) models.Classification {
	if name, ok := c.Holiday(t); ok {
		return models.Classification{Kind: models.KindHoliday, Name: name}
	}
	if name, ok := c.Vacation(t); ok {
		return models.Classification{Kind: models.KindVacation, Name: name}
	}
	return models.Classification{Kind: models.KindRegular}
}

// Norway classifies dates of any year, building each year's table on first
// use.
type Norway struct {
	mu    sync.Mutex
	years map[int]*Calendar
}

// NewNorway returns a Norway oracle with the given years prebuilt.
func NewNorway(years ...int) *Norway {
	n := &Norway{years: make(map[int]*Calendar)}
	for _, y := range years {
		n.years[y] = New(y)
	}
	return n
}

// Year returns the table for year, building it if needed.
func (n *Norway) Year(year int) *Calendar {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, ok := n.years[year]
	if !ok {
		c = New(year)
		n.years[year] = c
	}
	return c
}

// Classify implements the store's calendar oracle.
func (n *Norway) Classify(t time.Time) models.Classification {
	return n.Year(t.Year()).Classify(t)
}
