package weather

import (
	"strings"

	"github.com/lox/visitorlog/internal/models"
)

// SymbolUnknown is reported by the weather source when no forecast period
// carries a symbol code.
const SymbolUnknown = "unknown"

// Simplify maps a met.no symbol code such as "lightrainshowers_day" onto the
// coarse category and rain/daytime flags stored alongside each visitor count.
func Simplify(symbol string) models.Conditions {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	if symbol == "" || symbol == SymbolUnknown {
		return models.UnknownConditions
	}

	raining := strings.Contains(symbol, "rain")

	return models.Conditions{
		Category:  category(symbol, raining),
		IsRaining: models.FlagOf(raining),
		IsDaytime: models.FlagOf(!isNight(symbol)),
	}
}

func category(symbol string, raining bool) models.Category {
	switch {
	case raining:
		return models.CategoryRainy
	case strings.Contains(symbol, "clearsky") || strings.Contains(symbol, "fair"):
		return models.CategoryClear
	case strings.Contains(symbol, "partlycloudy") || symbol == "cloudy":
		return models.CategoryCloudy
	case strings.Contains(symbol, "snow") || strings.Contains(symbol, "sleet"):
		return models.CategorySnowy
	case symbol == "fog":
		return models.CategoryFoggy
	default:
		return models.CategoryUnknown
	}
}

// Polar twilight symbols are treated as night.
func isNight(symbol string) bool {
	return strings.Contains(symbol, "_night") || strings.Contains(symbol, "_polartwilight")
}

// Conditions enriches an optional reading. A nil reading yields all-unknown
// conditions rather than an error.
func Conditions(r *models.WeatherReading) models.Conditions {
	if r == nil {
		return models.UnknownConditions
	}
	return Simplify(r.Symbol)
}
