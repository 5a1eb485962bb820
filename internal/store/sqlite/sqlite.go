package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/excessus1/openweather-pub/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for
// in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hourly_observations(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dt INTEGER NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			tz TEXT NOT NULL DEFAULT '',
			tzoff INTEGER NOT NULL DEFAULT 0,
			sunrise INTEGER NOT NULL DEFAULT 0,
			sunset INTEGER NOT NULL DEFAULT 0,
			temp REAL NOT NULL,
			feels_like REAL NOT NULL,
			pressure INTEGER NOT NULL,
			humidity INTEGER NOT NULL,
			dew_point REAL NOT NULL DEFAULT 0,
			vis INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			clouds INTEGER NOT NULL DEFAULT 0,
			wind_speed REAL NOT NULL DEFAULT 0,
			wind_deg INTEGER NOT NULL DEFAULT 0,
			location_id INTEGER NOT NULL,
			UNIQUE(dt, location_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_hourly_observations_location ON hourly_observations(location_id, dt);`,
		`CREATE TABLE IF NOT EXISTS daily_summaries(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			tzoff INTEGER NOT NULL DEFAULT 0,
			date INTEGER NOT NULL,
			units TEXT NOT NULL DEFAULT '',
			cloud_cover_afternoon REAL NOT NULL,
			humidity_afternoon REAL NOT NULL,
			precipitation_total REAL NOT NULL,
			temperature_min REAL NOT NULL,
			temperature_max REAL NOT NULL,
			temperature_afternoon REAL NOT NULL DEFAULT 0,
			temperature_night REAL NOT NULL DEFAULT 0,
			temperature_evening REAL NOT NULL DEFAULT 0,
			temperature_morning REAL NOT NULL DEFAULT 0,
			pressure_afternoon REAL NOT NULL,
			wind_max_speed REAL NOT NULL,
			wind_max_direction REAL NOT NULL DEFAULT 0,
			location_id INTEGER NOT NULL,
			UNIQUE(date, location_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_daily_summaries_location ON daily_summaries(location_id, date);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) HourlyExists(ctx context.Context, dt, locationID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM hourly_observations WHERE dt=? AND location_id=?;`, dt, locationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *DB) InsertHourly(ctx context.Context, rec store.Hourly) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hourly_observations (dt, lat, lon, tz, tzoff, sunrise, sunset, temp, feels_like, pressure, humidity, dew_point, vis, description, clouds, wind_speed, wind_deg, location_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`,
		rec.DT, rec.Lat, rec.Lon, rec.Timezone, rec.TimezoneOffset, rec.Sunrise, rec.Sunset,
		rec.Temp, rec.FeelsLike, rec.Pressure, rec.Humidity, rec.DewPoint, rec.Visibility,
		rec.Description, rec.Clouds, rec.WindSpeed, rec.WindDeg, rec.LocationID)
	return mapDuplicate(err)
}

func (s *DB) MissingHourly(ctx context.Context, locationID, stop, start int64) ([]int64, error) {
	return s.missingKeys(ctx, "hourly_observations", "dt", 3600, locationID, stop, start)
}

func (s *DB) DailyExists(ctx context.Context, date, locationID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM daily_summaries WHERE date=? AND location_id=?;`, date, locationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *DB) InsertDaily(ctx context.Context, rec store.DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries
		(lat, lon, tzoff, date, units, cloud_cover_afternoon, humidity_afternoon,
		precipitation_total, temperature_min, temperature_max, temperature_afternoon,
		temperature_night, temperature_evening, temperature_morning, pressure_afternoon,
		wind_max_speed, wind_max_direction, location_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`,
		rec.Lat, rec.Lon, rec.TZOffset, rec.Date, rec.Units, rec.CloudCoverAfternoon,
		rec.HumidityAfternoon, rec.PrecipitationTotal, rec.TempMin, rec.TempMax,
		rec.TempAfternoon, rec.TempNight, rec.TempEvening, rec.TempMorning,
		rec.PressureAfternoon, rec.WindMaxSpeed, rec.WindMaxDirection, rec.LocationID)
	return mapDuplicate(err)
}

func (s *DB) MissingDaily(ctx context.Context, locationID, stop, start int64) ([]int64, error) {
	return s.missingKeys(ctx, "daily_summaries", "date", 86400, locationID, stop, start)
}

// missingKeys anti-joins a recursively generated epoch series against the
// stored keys for one location. table and column are package constants,
// never user input.
func (s *DB) missingKeys(ctx context.Context, table, column string, step, locationID, stop, start int64) ([]int64, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE all_keys(k) AS (
			SELECT ?
			UNION ALL
			SELECT k + ? FROM all_keys WHERE k + ? <= ?
		)
		SELECT a.k
		FROM all_keys a
		LEFT JOIN %s e ON e.%s = a.k AND e.location_id = ?
		WHERE e.%s IS NULL
		ORDER BY a.k;`, table, column, column)
	rows, err := s.db.QueryContext(ctx, query, stop, step, step, start, locationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]int64, 0)
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// mapDuplicate folds unique-violation driver errors into store.ErrDuplicate.
func mapDuplicate(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	return err
}
