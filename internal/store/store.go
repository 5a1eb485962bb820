package store

import (
	"context"
	"errors"
)

// ErrDuplicate is returned by inserts that collide with an existing
// observation for the same key and location. Callers treat it as a failed
// insert, not a failed run.
var ErrDuplicate = errors.New("store: duplicate record")

// Hourly is one hourly observation as persisted. DT, Sunrise and Sunset
// are UTC epoch seconds.
type Hourly struct {
	DT             int64
	Lat            float64
	Lon            float64
	Timezone       string
	TimezoneOffset int
	Sunrise        int64
	Sunset         int64
	Temp           float64
	FeelsLike      float64
	Pressure       int
	Humidity       int
	DewPoint       float64
	Visibility     int
	Description    string
	Clouds         int
	WindSpeed      float64
	WindDeg        int
	LocationID     int64
}

// DailySummary is one aggregated day as persisted. Date is the UTC epoch
// of the day's midnight; TZOffset is the reported zone offset in signed
// seconds.
type DailySummary struct {
	Lat                 float64
	Lon                 float64
	TZOffset            int
	Date                int64
	Units               string
	CloudCoverAfternoon float64
	HumidityAfternoon   float64
	PrecipitationTotal  float64
	TempMin             float64
	TempMax             float64
	TempAfternoon       float64
	TempNight           float64
	TempEvening         float64
	TempMorning         float64
	PressureAfternoon   float64
	WindMaxSpeed        float64
	WindMaxDirection    float64
	LocationID          int64
}

// Store persists ingested observations and answers the gap and duplicate
// questions the pipeline asks. Missing* return ascending epoch keys in
// [stop, start] that have no stored row for the location.

type Store interface {
	EnsureSchema(ctx context.Context) error
	Close() error

	HourlyExists(ctx context.Context, dt, locationID int64) (bool, error)
	InsertHourly(ctx context.Context, rec Hourly) error
	MissingHourly(ctx context.Context, locationID, stop, start int64) ([]int64, error)

	DailyExists(ctx context.Context, date, locationID int64) (bool, error)
	InsertDaily(ctx context.Context, rec DailySummary) error
	MissingDaily(ctx context.Context, locationID, stop, start int64) ([]int64, error)
}
