package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lox/visitorlog/internal/models"
	"github.com/lox/visitorlog/internal/weather"
)

// SchemaVersion identifies a historical column layout of the CSV file.
type SchemaVersion int

const (
	SchemaUnknown SchemaVersion = iota
	// SchemaCount is timestamp and visitor count only.
	SchemaCount
	// SchemaWeather adds temperature and the raw weather symbol.
	SchemaWeather
	// SchemaCalendar is the current layout.
	SchemaCalendar
)

// CurrentSchema is the layout every new row is written in.
const CurrentSchema = SchemaCalendar

var currentHeader = []string{
	"timestamp",
	"visitor_count",
	"temperature",
	"weather_category",
	"is_raining",
	"is_daytime",
	"is_holiday",
	"is_vacation_period",
	"special_date_name",
}

var headers = map[SchemaVersion][]string{
	SchemaCount:    {"timestamp", "visitor_count"},
	SchemaWeather:  {"timestamp", "visitor_count", "temperature", "weather_symbol"},
	SchemaCalendar: currentHeader,
}

// Header returns the column names of the current schema.
func Header() []string {
	return append([]string(nil), headers[CurrentSchema]...)
}

func (v SchemaVersion) String() string {
	switch v {
	case SchemaCount:
		return "v1 (count)"
	case SchemaWeather:
		return "v2 (count+weather)"
	case SchemaCalendar:
		return "v3 (count+weather+calendar)"
	default:
		return "unknown"
	}
}

// DetectSchema matches a header row against the known layouts.
func DetectSchema(header []string) SchemaVersion {
	clean := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		clean[i] = strings.ToLower(strings.TrimSpace(h))
	}

	for v, want := range headers {
		if equalFields(clean, want) {
			return v
		}
	}
	return SchemaUnknown
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func encodeRecord(r models.VisitorRecord) []string {
	temp := ""
	if r.Temperature != nil {
		temp = strconv.FormatFloat(*r.Temperature, 'f', -1, 64)
	}
	return []string{
		r.Key(),
		strconv.Itoa(r.VisitorCount),
		temp,
		string(r.WeatherCategory),
		string(r.IsRaining),
		string(r.IsDaytime),
		yesNo(r.IsHoliday),
		yesNo(r.IsVacationPeriod),
		r.SpecialDateName,
	}
}

func decodeRecord(row []string, loc *time.Location) (models.VisitorRecord, error) {
	if len(row) != len(headers[CurrentSchema]) {
		return models.VisitorRecord{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedRow, len(headers[CurrentSchema]), len(row))
	}

	rec, err := decodeBase(row, loc)
	if err != nil {
		return models.VisitorRecord{}, err
	}
	if rec.Temperature, err = parseTemperature(row[2]); err != nil {
		return models.VisitorRecord{}, err
	}

	rec.WeatherCategory = models.Category(row[3])
	rec.IsRaining = parseFlag(row[4])
	rec.IsDaytime = parseFlag(row[5])
	if rec.IsHoliday, err = parseYesNo(row[6]); err != nil {
		return models.VisitorRecord{}, err
	}
	if rec.IsVacationPeriod, err = parseYesNo(row[7]); err != nil {
		return models.VisitorRecord{}, err
	}
	rec.SpecialDateName = row[8]
	return rec, nil
}

// decodeLegacy converts a row written under an older schema. Weather fields
// are derived from the stored symbol where one exists; calendar fields are
// left for the caller to fill from the timestamp.
func decodeLegacy(v SchemaVersion, row []string, loc *time.Location) (models.VisitorRecord, error) {
	if len(row) != len(headers[v]) {
		return models.VisitorRecord{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedRow, len(headers[v]), len(row))
	}

	rec, err := decodeBase(row, loc)
	if err != nil {
		return models.VisitorRecord{}, err
	}

	cond := models.UnknownConditions
	if v == SchemaWeather {
		if rec.Temperature, err = parseTemperature(row[2]); err != nil {
			return models.VisitorRecord{}, err
		}
		cond = weather.Simplify(row[3])
	}
	rec.WeatherCategory = cond.Category
	rec.IsRaining = cond.IsRaining
	rec.IsDaytime = cond.IsDaytime
	return rec, nil
}

func decodeBase(row []string, loc *time.Location) (models.VisitorRecord, error) {
	ts, err := time.ParseInLocation(models.TimestampLayout, strings.TrimSpace(row[0]), loc)
	if err != nil {
		return models.VisitorRecord{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedRow, row[0], err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(row[1]))
	if err != nil {
		return models.VisitorRecord{}, fmt.Errorf("%w: visitor_count %q: %v", ErrMalformedRow, row[1], err)
	}
	return models.VisitorRecord{Timestamp: ts, VisitorCount: count}, nil
}

func parseTemperature(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	// Older rows may hold "None" for a missing reading.
	if s == "" || s == "None" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: temperature %q: %v", ErrMalformedRow, s, err)
	}
	return &v, nil
}

func parseFlag(s string) models.Flag {
	switch models.Flag(strings.ToLower(strings.TrimSpace(s))) {
	case models.FlagYes:
		return models.FlagYes
	case models.FlagNo:
		return models.FlagNo
	default:
		return models.FlagUnknown
	}
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		return true, nil
	case "no", "false", "":
		return false, nil
	default:
		return false, fmt.Errorf("%w: boolean %q", ErrMalformedRow, s)
	}
}
