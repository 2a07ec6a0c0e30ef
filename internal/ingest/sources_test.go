package ingest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/visitorlog/internal/weather"
)

const (
	testVisitorURL = "https://visitors.example.test/stats"
	testWeatherURL = "https://weather.example.test/compact"
)

func testFetchConfig(userAgent string) FetchConfig {
	return FetchConfig{
		Client:          &http.Client{Timeout: 5 * time.Second},
		UserAgent:       userAgent,
		Retries:         2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func activate(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

const visitorPage = `<html><body>
<div class="stats">
  <div style="font-size: 1rem;">Antall besøkende</div>
  <div style="font-size: 2rem;"> 37 </div>
</div>
</body></html>`

func TestParseVisitorCount(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr error
	}{
		{name: "count", body: visitorPage, want: 37},
		{name: "zero", body: `<div style="font-size: 2rem;">0</div>`, want: 0},
		{name: "missing element", body: `<div style="font-size: 3rem;">37</div>`, wantErr: ErrElementNotFound},
		{name: "not a number", body: `<div style="font-size: 2rem;">mange</div>`, wantErr: ErrParse},
		{name: "negative", body: `<div style="font-size: 2rem;">-4</div>`, wantErr: ErrParse},
		{name: "empty", body: ``, wantErr: ErrElementNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVisitorCount([]byte(tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVisitorPageFetchCount(t *testing.T) {
	activate(t)

	var gotUA string
	httpmock.RegisterResponder("GET", testVisitorURL, func(req *http.Request) (*http.Response, error) {
		gotUA = req.Header.Get("User-Agent")
		return httpmock.NewStringResponse(200, visitorPage), nil
	})

	page := NewVisitorPage(testVisitorURL, testFetchConfig("Mozilla/5.0 test"))
	count, err := page.FetchCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 37, count)
	assert.Equal(t, "Mozilla/5.0 test", gotUA)
}

func TestVisitorPageRetriesServerErrors(t *testing.T) {
	activate(t)

	httpmock.RegisterResponder("GET", testVisitorURL,
		httpmock.NewStringResponder(503, "busy").Then(
			httpmock.NewStringResponder(200, visitorPage)))

	page := NewVisitorPage(testVisitorURL, testFetchConfig(""))
	count, err := page.FetchCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 37, count)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestVisitorPageGivesUpAfterRetries(t *testing.T) {
	activate(t)
	httpmock.RegisterResponder("GET", testVisitorURL, httpmock.NewStringResponder(500, "down"))

	page := NewVisitorPage(testVisitorURL, testFetchConfig(""))
	_, err := page.FetchCount(context.Background())
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestVisitorPageClientErrorNotRetried(t *testing.T) {
	activate(t)
	httpmock.RegisterResponder("GET", testVisitorURL, httpmock.NewStringResponder(404, "gone"))

	page := NewVisitorPage(testVisitorURL, testFetchConfig(""))
	_, err := page.FetchCount(context.Background())
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestVisitorPageCircuitOpens(t *testing.T) {
	activate(t)
	httpmock.RegisterResponder("GET", testVisitorURL, httpmock.NewStringResponder(404, "gone"))

	cfg := testFetchConfig("")
	cfg.Retries = 0
	page := NewVisitorPage(testVisitorURL, cfg)
	for i := 0; i < 5; i++ {
		_, err := page.FetchCount(context.Background())
		require.ErrorIs(t, err, ErrUpstream)
	}

	_, err := page.FetchCount(context.Background())
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, 5, httpmock.GetTotalCallCount())
}

func TestVisitorPageContextCancelled(t *testing.T) {
	activate(t)
	httpmock.RegisterResponder("GET", testVisitorURL, httpmock.NewStringResponder(200, visitorPage))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := NewVisitorPage(testVisitorURL, testFetchConfig(""))
	_, err := page.FetchCount(ctx)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

const forecastBody = `{
  "type": "Feature",
  "properties": {
    "timeseries": [
      {
        "time": "2024-06-10T12:00:00Z",
        "data": {
          "instant": {"details": {"air_temperature": 14.3, "wind_speed": 4.1}},
          "next_1_hours": {"summary": {"symbol_code": "lightrain"}},
          "next_6_hours": {"summary": {"symbol_code": "cloudy"}}
        }
      },
      {
        "time": "2024-06-10T13:00:00Z",
        "data": {"instant": {"details": {"air_temperature": 15.0}}}
      }
    ]
  }
}`

func TestParseLocationForecast(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantTemp   *float64
		wantSymbol string
		wantErr    bool
	}{
		{
			name:       "next hour symbol",
			body:       forecastBody,
			wantTemp:   ptr(14.3),
			wantSymbol: "lightrain",
		},
		{
			name:       "falls back to six hours",
			body:       `{"properties":{"timeseries":[{"data":{"instant":{"details":{"air_temperature":-2}},"next_6_hours":{"summary":{"symbol_code":"snow"}}}}]}}`,
			wantTemp:   ptr(-2),
			wantSymbol: "snow",
		},
		{
			name:       "no period summary",
			body:       `{"properties":{"timeseries":[{"data":{"instant":{"details":{"air_temperature":3.5}}}}]}}`,
			wantTemp:   ptr(3.5),
			wantSymbol: weather.SymbolUnknown,
		},
		{
			name:       "no temperature",
			body:       `{"properties":{"timeseries":[{"data":{"instant":{"details":{}},"next_1_hours":{"summary":{"symbol_code":"fog"}}}}]}}`,
			wantSymbol: "fog",
		},
		{
			name:    "empty timeseries",
			body:    `{"properties":{"timeseries":[]}}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			body:    `<html>maintenance</html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocationForecast([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSymbol, got.Symbol)
			assert.Equal(t, tt.wantTemp, got.Temperature)
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestMETClientFetchWeather(t *testing.T) {
	activate(t)

	var gotUA, gotLat, gotLon string
	httpmock.RegisterResponder("GET", testWeatherURL, func(req *http.Request) (*http.Response, error) {
		gotUA = req.Header.Get("User-Agent")
		gotLat = req.URL.Query().Get("lat")
		gotLon = req.URL.Query().Get("lon")
		return httpmock.NewStringResponse(200, forecastBody), nil
	})

	client := NewMETClient(testWeatherURL, testFetchConfig("visitorlog-test/1.0"))
	got, err := client.FetchWeather(context.Background(), 58.853, 5.732)
	require.NoError(t, err)
	assert.Equal(t, "lightrain", got.Symbol)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 14.3, *got.Temperature)

	assert.Equal(t, "visitorlog-test/1.0", gotUA)
	assert.Equal(t, "58.8530", gotLat)
	assert.Equal(t, "5.7320", gotLon)
}

func TestMETClientForbidden(t *testing.T) {
	activate(t)
	httpmock.RegisterResponder("GET", testWeatherURL, httpmock.NewStringResponder(403, "missing user agent"))

	client := NewMETClient(testWeatherURL, testFetchConfig(""))
	_, err := client.FetchWeather(context.Background(), 58.853, 5.732)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.True(t, IsFetchError(err))
}

func TestMETClientContextCancelled(t *testing.T) {
	activate(t)
	httpmock.RegisterResponder("GET", testWeatherURL, httpmock.NewStringResponder(200, forecastBody))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewMETClient(testWeatherURL, testFetchConfig("visitorlog-test/1.0"))
	got, err := client.FetchWeather(ctx, 58.853, 5.732)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Nil(t, got)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}
