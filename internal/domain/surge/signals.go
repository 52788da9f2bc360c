package surge

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

type AirQualitySource interface {
	AirQuality(ctx context.Context, city string) (AQIReading, error)
}

type WeatherSource interface {
	Weather(ctx context.Context, city string) (Weather, error)
}

// MockSignals returns fixed readings. It is used when no air-quality
// endpoint is configured and as the fallback when the endpoint fails.
type MockSignals struct{}

func (MockSignals) AirQuality(context.Context, string) (AQIReading, error) {
	return AQIReading{AQI: 180, Category: "unhealthy", PM25: 108, PM10: 144, PrimaryPollutant: "PM2.5"}, nil
}

func (MockSignals) Weather(context.Context, string) (Weather, error) {
	return Weather{Temperature: 28, Humidity: 65, Condition: "partly_cloudy"}, nil
}

// OpenAQProvider reads the latest city measurements from an OpenAQ v2
// compatible API and converts particulate concentrations to a US AQI.
type OpenAQProvider struct {
	client *resty.Client
	logger zerolog.Logger
}

func NewOpenAQProvider(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *OpenAQProvider {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &OpenAQProvider{client: client, logger: logger}
}

type openAQLatest struct {
	Results []struct {
		Location     string `json:"location"`
		Measurements []struct {
			Parameter string  `json:"parameter"`
			Value     float64 `json:"value"`
		} `json:"measurements"`
	} `json:"results"`
}

func (p *OpenAQProvider) AirQuality(ctx context.Context, city string) (AQIReading, error) {
	var out openAQLatest
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"city": city, "limit": "100"}).
		SetResult(&out).
		Get("/latest")
	if err != nil {
		return AQIReading{}, fmt.Errorf("openaq latest: %w", err)
	}
	if resp.IsError() {
		return AQIReading{}, fmt.Errorf("openaq latest: status %d", resp.StatusCode())
	}

	var pm25, pm10 []float64
	for _, r := range out.Results {
		for _, m := range r.Measurements {
			if m.Value < 0 {
				continue
			}
			switch m.Parameter {
			case "pm25":
				pm25 = append(pm25, m.Value)
			case "pm10":
				pm10 = append(pm10, m.Value)
			}
		}
	}
	if len(pm25) == 0 && len(pm10) == 0 {
		return AQIReading{}, fmt.Errorf("openaq latest: no particulate measurements for %s", city)
	}

	reading := AQIReading{PM25: mean(pm25), PM10: mean(pm10)}
	a25, a10 := -1, -1
	if len(pm25) > 0 {
		a25 = subIndex(pm25Breakpoints, math.Floor(reading.PM25*10)/10)
	}
	if len(pm10) > 0 {
		a10 = subIndex(pm10Breakpoints, math.Floor(reading.PM10))
	}
	if a25 >= a10 {
		reading.AQI, reading.PrimaryPollutant = a25, "PM2.5"
	} else {
		reading.AQI, reading.PrimaryPollutant = a10, "PM10"
	}
	reading.Category = Category(reading.AQI)
	p.logger.Debug().Str("city", city).Int("aqi", reading.AQI).Int("stations", len(out.Results)).Msg("air quality fetched")
	return reading, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return math.Round(sum/float64(len(xs))*10) / 10
}

type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh int
}

// US EPA breakpoints (µg/m³).
var pm25Breakpoints = []breakpoint{
	{0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

var pm10Breakpoints = []breakpoint{
	{0, 54, 0, 50},
	{55, 154, 51, 100},
	{155, 254, 101, 150},
	{255, 354, 151, 200},
	{355, 424, 201, 300},
	{425, 504, 301, 400},
	{505, 604, 401, 500},
}

func subIndex(table []breakpoint, c float64) int {
	for _, b := range table {
		if c <= b.cHigh {
			if c < b.cLow {
				c = b.cLow
			}
			v := float64(b.iHigh-b.iLow)/(b.cHigh-b.cLow)*(c-b.cLow) + float64(b.iLow)
			return int(math.Round(v))
		}
	}
	return 500
}

// Category names the AQI band.
func Category(aqi int) string {
	switch {
	case aqi <= 50:
		return "good"
	case aqi <= 100:
		return "moderate"
	case aqi <= 150:
		return "unhealthy_for_sensitive_groups"
	case aqi <= 200:
		return "unhealthy"
	case aqi <= 300:
		return "very_unhealthy"
	default:
		return "hazardous"
	}
}
