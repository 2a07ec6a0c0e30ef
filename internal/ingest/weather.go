package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lox/visitorlog/internal/models"
	"github.com/lox/visitorlog/internal/weather"
)

// WeatherSource returns the current weather at a coordinate.
type WeatherSource interface {
	FetchWeather(ctx context.Context, lat, lon float64) (*models.WeatherReading, error)
}

// METClient reads the MET Norway locationforecast compact product.
type METClient struct {
	baseURL string
	fetch   *fetcher
}

// NewMETClient returns a client for baseURL. MET Norway rejects requests
// without an identifying User-Agent, so cfg.UserAgent should be set.
func NewMETClient(baseURL string, cfg FetchConfig) *METClient {
	return &METClient{
		baseURL: baseURL,
		fetch:   newFetcher("weather", cfg),
	}
}

type locationForecast struct {
	Properties struct {
		Timeseries []struct {
			Time string `json:"time"`
			Data struct {
				Instant struct {
					Details struct {
						AirTemperature *float64 `json:"air_temperature"`
					} `json:"details"`
				} `json:"instant"`
				Next1Hours *forecastPeriod `json:"next_1_hours"`
				Next6Hours *forecastPeriod `json:"next_6_hours"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

type forecastPeriod struct {
	Summary struct {
		SymbolCode string `json:"symbol_code"`
	} `json:"summary"`
}

func (m *METClient) FetchWeather(ctx context.Context, lat, lon float64) (*models.WeatherReading, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))

	header := http.Header{}
	header.Set("Accept", "application/json")

	body, err := m.fetch.get(ctx, m.baseURL+"?"+q.Encode(), header)
	if err != nil {
		return nil, err
	}
	return ParseLocationForecast(body)
}

// ParseLocationForecast reads the first timeseries entry. The symbol comes
// from the next hour's summary, falling back to the next six hours.
func ParseLocationForecast(body []byte) (*models.WeatherReading, error) {
	var data locationForecast
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(data.Properties.Timeseries) == 0 {
		return nil, fmt.Errorf("%w: empty timeseries", ErrParse)
	}

	current := data.Properties.Timeseries[0].Data
	symbol := weather.SymbolUnknown
	switch {
	case current.Next1Hours != nil && current.Next1Hours.Summary.SymbolCode != "":
		symbol = current.Next1Hours.Summary.SymbolCode
	case current.Next6Hours != nil && current.Next6Hours.Summary.SymbolCode != "":
		symbol = current.Next6Hours.Summary.SymbolCode
	}

	return &models.WeatherReading{
		Temperature: current.Instant.Details.AirTemperature,
		Symbol:      symbol,
	}, nil
}
