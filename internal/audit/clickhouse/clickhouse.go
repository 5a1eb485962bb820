package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/excessus1/openweather-pub/internal/audit"
)

// executor covers the part of the ClickHouse connection the sink drives.
// driver.Conn satisfies it; tests substitute a recorder.
type executor interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// Sink mirrors call audit rows to ClickHouse using the official ClickHouse
// Go client. It is write-only; the relational audit store stays the source
// of truth.
type Sink struct {
	conn     executor
	table    string
	platform string
	callType string
}

// Config carries the connection settings for the analytics mirror.
type Config struct {
	Addr     string
	Database string
	Table    string
	Username string
	Password string
	Platform string
	CallType string
}

func New(cfg Config) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{
		conn:     conn,
		table:    cfg.Table,
		platform: cfg.Platform,
		callType: cfg.CallType,
	}
	if err := s.ensureTable(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		call_ts DateTime,
		platform String,
		call_type String,
		call_event String,
		request_url String,
		response_code Int32,
		response_message String,
		retry_count Int32,
		note String
	) ENGINE = MergeTree() ORDER BY (platform, call_type, call_ts)`, s.table)
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, rec audit.CallRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (call_ts, platform, call_type, call_event, request_url, response_code, response_message, retry_count, note) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	err := s.conn.Exec(ctx, query,
		time.Unix(rec.Timestamp, 0).UTC(),
		s.platform,
		s.callType,
		rec.Event,
		rec.RequestURL,
		int32(rec.ResponseCode),
		rec.ResponseMessage,
		int32(rec.RetryCount),
		rec.Note,
	)

	if err != nil {
		return fmt.Errorf("failed to insert call event into ClickHouse: %w", err)
	}

	return nil
}
