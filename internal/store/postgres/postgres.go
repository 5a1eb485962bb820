package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/excessus1/openweather-pub/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hourly_observations(
			id BIGSERIAL PRIMARY KEY,
			dt BIGINT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			tz TEXT NOT NULL DEFAULT '',
			tzoff INTEGER NOT NULL DEFAULT 0,
			sunrise BIGINT NOT NULL DEFAULT 0,
			sunset BIGINT NOT NULL DEFAULT 0,
			temp DOUBLE PRECISION NOT NULL,
			feels_like DOUBLE PRECISION NOT NULL,
			pressure INTEGER NOT NULL,
			humidity INTEGER NOT NULL,
			dew_point DOUBLE PRECISION NOT NULL DEFAULT 0,
			vis INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			clouds INTEGER NOT NULL DEFAULT 0,
			wind_speed DOUBLE PRECISION NOT NULL DEFAULT 0,
			wind_deg INTEGER NOT NULL DEFAULT 0,
			location_id BIGINT NOT NULL,
			UNIQUE(dt, location_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_hourly_observations_location ON hourly_observations(location_id, dt);`,
		`CREATE TABLE IF NOT EXISTS daily_summaries(
			id BIGSERIAL PRIMARY KEY,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			tzoff INTEGER NOT NULL DEFAULT 0,
			date BIGINT NOT NULL,
			units TEXT NOT NULL DEFAULT '',
			cloud_cover_afternoon DOUBLE PRECISION NOT NULL,
			humidity_afternoon DOUBLE PRECISION NOT NULL,
			precipitation_total DOUBLE PRECISION NOT NULL,
			temperature_min DOUBLE PRECISION NOT NULL,
			temperature_max DOUBLE PRECISION NOT NULL,
			temperature_afternoon DOUBLE PRECISION NOT NULL DEFAULT 0,
			temperature_night DOUBLE PRECISION NOT NULL DEFAULT 0,
			temperature_evening DOUBLE PRECISION NOT NULL DEFAULT 0,
			temperature_morning DOUBLE PRECISION NOT NULL DEFAULT 0,
			pressure_afternoon DOUBLE PRECISION NOT NULL,
			wind_max_speed DOUBLE PRECISION NOT NULL,
			wind_max_direction DOUBLE PRECISION NOT NULL DEFAULT 0,
			location_id BIGINT NOT NULL,
			UNIQUE(date, location_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_daily_summaries_location ON daily_summaries(location_id, date);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) HourlyExists(ctx context.Context, dt, locationID int64) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM hourly_observations WHERE dt=$1 AND location_id=$2;`, dt, locationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (p *DB) InsertHourly(ctx context.Context, rec store.Hourly) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO hourly_observations (dt, lat, lon, tz, tzoff, sunrise, sunset, temp, feels_like, pressure, humidity, dew_point, vis, description, clouds, wind_speed, wind_deg, location_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18);`,
		rec.DT, rec.Lat, rec.Lon, rec.Timezone, rec.TimezoneOffset, rec.Sunrise, rec.Sunset,
		rec.Temp, rec.FeelsLike, rec.Pressure, rec.Humidity, rec.DewPoint, rec.Visibility,
		rec.Description, rec.Clouds, rec.WindSpeed, rec.WindDeg, rec.LocationID)
	return mapDuplicate(err)
}

func (p *DB) MissingHourly(ctx context.Context, locationID, stop, start int64) ([]int64, error) {
	return p.missingKeys(ctx, "hourly_observations", "dt", 3600, locationID, stop, start)
}

func (p *DB) DailyExists(ctx context.Context, date, locationID int64) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM daily_summaries WHERE date=$1 AND location_id=$2;`, date, locationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (p *DB) InsertDaily(ctx context.Context, rec store.DailySummary) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO daily_summaries
		(lat, lon, tzoff, date, units, cloud_cover_afternoon, humidity_afternoon,
		precipitation_total, temperature_min, temperature_max, temperature_afternoon,
		temperature_night, temperature_evening, temperature_morning, pressure_afternoon,
		wind_max_speed, wind_max_direction, location_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18);`,
		rec.Lat, rec.Lon, rec.TZOffset, rec.Date, rec.Units, rec.CloudCoverAfternoon,
		rec.HumidityAfternoon, rec.PrecipitationTotal, rec.TempMin, rec.TempMax,
		rec.TempAfternoon, rec.TempNight, rec.TempEvening, rec.TempMorning,
		rec.PressureAfternoon, rec.WindMaxSpeed, rec.WindMaxDirection, rec.LocationID)
	return mapDuplicate(err)
}

func (p *DB) MissingDaily(ctx context.Context, locationID, stop, start int64) ([]int64, error) {
	return p.missingKeys(ctx, "daily_summaries", "date", 86400, locationID, stop, start)
}

// missingKeys anti-joins a generated epoch series against the stored keys
// for one location. table and column are package constants, never user
// input.
func (p *DB) missingKeys(ctx context.Context, table, column string, step, locationID, stop, start int64) ([]int64, error) {
	query := fmt.Sprintf(`
		WITH all_keys AS (
			SELECT generate_series($1::bigint, $2::bigint, $3::bigint) AS k
		)
		SELECT a.k
		FROM all_keys a
		LEFT JOIN %s e ON e.%s = a.k AND e.location_id = $4
		WHERE e.%s IS NULL
		ORDER BY a.k;`, table, column, column)
	rows, err := p.db.QueryContext(ctx, query, stop, start, step, locationID)
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
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
