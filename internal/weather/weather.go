package weather

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/excessus1/openweather-pub/internal/store"
	"github.com/excessus1/openweather-pub/internal/timekey"
)

// Payload kinds. Hourly payloads wrap observations in a data array; daily
// payloads are flat aggregates.
const (
	KindHourly = "hourly"
	KindDaily  = "daily"
)

// CallType describes one remote data product: its audit identity, payload
// shape, key granularity and the URL prototype seeded into the audit store.
type CallType struct {
	Name            string
	Kind            string
	Granularity     timekey.Granularity
	DefaultTemplate string
	AuditNote       string
}

var (
	// Timemachine is the hourly history product.
	Timemachine = CallType{
		Name:            "timemachine",
		Kind:            KindHourly,
		Granularity:     timekey.Hourly,
		DefaultTemplate: "https://api.openweathermap.org/data/3.0/onecall/timemachine?lat={lat}&lon={lon}&dt={time}&appid={API_key}",
		AuditNote:       "OpenWeather API Historical Timemachine",
	}
	// DaySummary is the daily aggregate product.
	DaySummary = CallType{
		Name:            "day_summary",
		Kind:            KindDaily,
		Granularity:     timekey.Daily,
		DefaultTemplate: "https://api.openweathermap.org/data/3.0/onecall/day_summary?lat={lat}&lon={lon}&date={date}&appid={API_key}",
		AuditNote:       "OpenWeather API Daily Summary",
	}
)

// ByName resolves a call type from its audit identifier.
func ByName(name string) (CallType, bool) {
	switch name {
	case Timemachine.Name:
		return Timemachine, true
	case DaySummary.Name:
		return DaySummary, true
	default:
		return CallType{}, false
	}
}

// All lists the supported call types in seeding order.
func All() []CallType {
	return []CallType{Timemachine, DaySummary}
}

// laxInt decodes numbers and silently folds anything else to zero. Upstream
// occasionally ships visibility as text or omits it.
type laxInt int

func (v *laxInt) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		*v = 0
		return nil
	}
	*v = laxInt(int(f))
	return nil
}

type hourlyPoint struct {
	DT         *int64   `json:"dt"`
	Sunrise    int64    `json:"sunrise"`
	Sunset     int64    `json:"sunset"`
	Temp       *float64 `json:"temp"`
	FeelsLike  *float64 `json:"feels_like"`
	Pressure   *int     `json:"pressure"`
	Humidity   *int     `json:"humidity"`
	DewPoint   float64  `json:"dew_point"`
	Visibility laxInt   `json:"visibility"`
	Clouds     int      `json:"clouds"`
	WindSpeed  float64  `json:"wind_speed"`
	WindDeg    int      `json:"wind_deg"`
	Weather    []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

type hourlyPayload struct {
	Lat            float64       `json:"lat"`
	Lon            float64       `json:"lon"`
	Timezone       string        `json:"timezone"`
	TimezoneOffset int           `json:"timezone_offset"`
	Data           []hourlyPoint `json:"data"`
}

// DecodeHourly validates a timemachine response body and shapes it for the
// observation store. The five critical fields and the description must be
// present; visibility falls back to zero.
func DecodeHourly(body []byte, locationID int64) (store.Hourly, error) {
	var p hourlyPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return store.Hourly{}, fmt.Errorf("data extraction failed: %w", err)
	}
	if len(p.Data) == 0 {
		return store.Hourly{}, fmt.Errorf("data extraction failed: empty data array")
	}
	d := p.Data[0]

	var dt int64
	if d.DT != nil {
		dt = *d.DT
	}
	var missing []string
	if d.Temp == nil {
		missing = append(missing, "temp")
	}
	if d.FeelsLike == nil {
		missing = append(missing, "feels_like")
	}
	if d.Pressure == nil {
		missing = append(missing, "pressure")
	}
	if d.Humidity == nil {
		missing = append(missing, "humidity")
	}
	if d.DT == nil {
		missing = append(missing, "dt")
	}
	if len(missing) > 0 {
		return store.Hourly{}, fmt.Errorf("missing critical data: %v for timestamp %d", missing, dt)
	}
	if len(d.Weather) == 0 || d.Weather[0].Description == "" {
		return store.Hourly{}, fmt.Errorf("missing 'description' for timestamp %d", dt)
	}

	return store.Hourly{
		DT:             dt,
		Lat:            p.Lat,
		Lon:            p.Lon,
		Timezone:       p.Timezone,
		TimezoneOffset: p.TimezoneOffset,
		Sunrise:        d.Sunrise,
		Sunset:         d.Sunset,
		Temp:           *d.Temp,
		FeelsLike:      *d.FeelsLike,
		Pressure:       *d.Pressure,
		Humidity:       *d.Humidity,
		DewPoint:       d.DewPoint,
		Visibility:     int(d.Visibility),
		Description:    d.Weather[0].Description,
		Clouds:         d.Clouds,
		WindSpeed:      d.WindSpeed,
		WindDeg:        d.WindDeg,
		LocationID:     locationID,
	}, nil
}

type dailyPayload struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	TZ         string  `json:"tz"`
	Date       string  `json:"date"`
	Units      string  `json:"units"`
	CloudCover struct {
		Afternoon *float64 `json:"afternoon"`
	} `json:"cloud_cover"`
	Humidity struct {
		Afternoon *float64 `json:"afternoon"`
	} `json:"humidity"`
	Precipitation struct {
		Total *float64 `json:"total"`
	} `json:"precipitation"`
	Temperature struct {
		Min       *float64 `json:"min"`
		Max       *float64 `json:"max"`
		Afternoon float64  `json:"afternoon"`
		Night     float64  `json:"night"`
		Evening   float64  `json:"evening"`
		Morning   float64  `json:"morning"`
	} `json:"temperature"`
	Pressure struct {
		Afternoon *float64 `json:"afternoon"`
	} `json:"pressure"`
	Wind struct {
		Max struct {
			Speed     *float64 `json:"speed"`
			Direction float64  `json:"direction"`
		} `json:"max"`
	} `json:"wind"`
}

// DecodeDaily validates a day-summary response body and shapes it for the
// observation store. The seven aggregate fields must all be present; the
// date string becomes the UTC epoch of that day's midnight.
func DecodeDaily(body []byte, locationID int64) (store.DailySummary, error) {
	var p dailyPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return store.DailySummary{}, fmt.Errorf("data extraction failed: %w", err)
	}
	if p.Date == "" {
		return store.DailySummary{}, fmt.Errorf("missing 'date' in summary payload")
	}
	key, err := timekey.ParseDate(p.Date)
	if err != nil {
		return store.DailySummary{}, fmt.Errorf("data extraction failed: %w", err)
	}

	var missing []string
	if p.CloudCover.Afternoon == nil {
		missing = append(missing, "cloud_cover_afternoon")
	}
	if p.Humidity.Afternoon == nil {
		missing = append(missing, "humidity_afternoon")
	}
	if p.Precipitation.Total == nil {
		missing = append(missing, "precipitation_total")
	}
	if p.Temperature.Min == nil {
		missing = append(missing, "temperature_min")
	}
	if p.Temperature.Max == nil {
		missing = append(missing, "temperature_max")
	}
	if p.Pressure.Afternoon == nil {
		missing = append(missing, "pressure_afternoon")
	}
	if p.Wind.Max.Speed == nil {
		missing = append(missing, "wind_max_speed")
	}
	if len(missing) > 0 {
		return store.DailySummary{}, fmt.Errorf("missing critical data: %v for date %d", missing, int64(key))
	}

	tzoff, err := OffsetSeconds(p.TZ)
	if err != nil {
		return store.DailySummary{}, fmt.Errorf("data extraction failed: %w", err)
	}
	units := p.Units
	if units == "" {
		units = "metric"
	}

	return store.DailySummary{
		Lat:                 p.Lat,
		Lon:                 p.Lon,
		TZOffset:            tzoff,
		Date:                int64(key),
		Units:               units,
		CloudCoverAfternoon: *p.CloudCover.Afternoon,
		HumidityAfternoon:   *p.Humidity.Afternoon,
		PrecipitationTotal:  *p.Precipitation.Total,
		TempMin:             *p.Temperature.Min,
		TempMax:             *p.Temperature.Max,
		TempAfternoon:       p.Temperature.Afternoon,
		TempNight:           p.Temperature.Night,
		TempEvening:         p.Temperature.Evening,
		TempMorning:         p.Temperature.Morning,
		PressureAfternoon:   *p.Pressure.Afternoon,
		WindMaxSpeed:        *p.Wind.Max.Speed,
		WindMaxDirection:    p.Wind.Max.Direction,
		LocationID:          locationID,
	}, nil
}

// OffsetSeconds converts a zone offset like "+05:30" or "-04:00" to signed
// seconds. An empty value means UTC.
func OffsetSeconds(tz string) (int, error) {
	if tz == "" {
		return 0, nil
	}
	sign := 1
	s := tz
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed zone offset %q", tz)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed zone offset %q", tz)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed zone offset %q", tz)
	}
	return sign * (h*3600 + m*60), nil
}
