// Package config holds the collector's runtime settings. Fields carry kong
// tags so the CLI can embed Config directly; every field also reads from an
// environment variable, optionally loaded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/lox/visitorlog/internal/httputil"
	"github.com/lox/visitorlog/internal/ingest"
	"github.com/lox/visitorlog/internal/store"
)

const (
	DefaultVisitorURL       = "https://medlem.xakt.no/MinSide/Home/VisitorStatistics?org=818598912"
	DefaultWeatherURL       = "https://api.met.no/weatherapi/locationforecast/2.0/compact"
	DefaultScraperUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultWeatherUserAgent = "visitorlog/1.0 github.com/lox/visitorlog"
)

type Config struct {
	DataDir string `name:"data-dir" env:"DATA_DIR" default:"data" help:"Directory holding the CSV file."`
	CSVFile string `name:"csv-file" env:"CSV_FILE" default:"visitor_counts.csv" help:"CSV file name inside the data directory."`

	Latitude  float64 `env:"LATITUDE" default:"58.853" help:"Venue latitude."`
	Longitude float64 `env:"LONGITUDE" default:"5.732" help:"Venue longitude."`
	Timezone  string  `env:"TIMEZONE" default:"Europe/Oslo" help:"Venue IANA timezone."`

	VisitorURL       string        `name:"visitor-url" env:"VISITOR_URL" default:"${visitor_url}" help:"Visitor statistics page."`
	WeatherURL       string        `name:"weather-url" env:"WEATHER_URL" default:"${weather_url}" help:"MET Norway locationforecast endpoint."`
	ScraperUserAgent string        `name:"scraper-user-agent" env:"SCRAPER_USER_AGENT" default:"${scraper_user_agent}" help:"User-Agent for the visitor page."`
	WeatherUserAgent string        `name:"weather-user-agent" env:"WEATHER_USER_AGENT" default:"${weather_user_agent}" help:"Identifying User-Agent for MET Norway."`
	HTTPTimeout      time.Duration `name:"http-timeout" env:"HTTP_TIMEOUT" default:"30s" help:"Per-request timeout."`
	FetchRetries     int           `name:"fetch-retries" env:"FETCH_RETRIES" default:"2" help:"Retries per upstream fetch after the first attempt."`
	NoWeather        bool          `name:"no-weather" env:"NO_WEATHER" help:"Skip the weather fetch."`

	Interval      time.Duration `env:"INTERVAL" default:"15m" help:"Interval between cycles for the run command."`
	LockFile      string        `name:"lock-file" env:"LOCK_FILE" default:"visitor_tracker.lock" help:"PID lock file for the watch command."`
	AuditDB       string        `name:"audit-db" env:"AUDIT_DB" help:"SQLite cycle audit database. Empty disables auditing."`
	MetricsAddr   string        `name:"metrics-addr" env:"METRICS_ADDR" help:"Listen address for /metrics. Empty disables."`
	UpgradeLegacy bool          `name:"upgrade-legacy" env:"UPGRADE_LEGACY" default:"true" negatable:"" help:"Rewrite older CSV layouts in place."`
	LogLevel      string        `name:"log-level" env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`
}

// Vars supplies the long defaults referenced from the struct tags.
func Vars() map[string]string {
	return map[string]string{
		"visitor_url":        DefaultVisitorURL,
		"weather_url":        DefaultWeatherURL,
		"scraper_user_agent": DefaultScraperUserAgent,
		"weather_user_agent": DefaultWeatherUserAgent,
	}
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.CSVFile == "" {
		errs = append(errs, errors.New("csv file name is required"))
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %v out of range", c.Latitude))
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude %v out of range", c.Longitude))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		errs = append(errs, fmt.Errorf("unknown timezone %q", c.Timezone))
	}
	for name, raw := range map[string]string{"visitor url": c.VisitorURL, "weather url": c.WeatherURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute URL", name, raw))
		}
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http timeout must be positive"))
	}
	if c.FetchRetries < 0 {
		errs = append(errs, errors.New("fetch retries must not be negative"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.LockFile == "" {
		errs = append(errs, errors.New("lock file is required"))
	}
	return errors.Join(errs...)
}

// Location loads the venue timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Store returns the CSV store settings.
func (c *Config) Store(loc *time.Location) store.Config {
	return store.Config{
		Dir:           c.DataDir,
		Filename:      c.CSVFile,
		Location:      loc,
		UpgradeLegacy: c.UpgradeLegacy,
	}
}

// Fetch returns client and retry settings for an upstream using userAgent.
func (c *Config) Fetch(userAgent string) ingest.FetchConfig {
	return ingest.FetchConfig{
		Client:    httputil.NewClient(c.HTTPTimeout),
		UserAgent: userAgent,
		Retries:   c.FetchRetries,
	}
}
