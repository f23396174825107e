package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// ClickHouseSink writes events to ClickHouse with async inserts so the
// server batches on its side. Send does not wait for the batch flush.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// ClickHouseConfig holds connection settings for the analytics sink.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// NewClickHouseSink connects to ClickHouse and verifies the connection.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	logger.Info("connected to clickhouse",
		zap.String("addr", cfg.Addr),
		zap.String("database", cfg.Database),
		zap.String("table", cfg.Table),
	)

	return &ClickHouseSink{conn: conn, table: cfg.Table}, nil
}

// Send inserts one event. The wait=false async insert returns once the
// server has accepted the row into its buffer.
func (s *ClickHouseSink) Send(ctx context.Context, e Event) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (id, category, action, label, value, client_ip, user_agent, referrer, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.table,
	)
	return s.conn.AsyncInsert(ctx, query, false,
		e.ID, e.Category, e.Action, e.Label, e.Value,
		e.ClientIP, e.UserAgent, e.Referrer, e.Timestamp,
	)
}

// Close closes the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

// LogSink writes events to the application log. Used when no analytics
// backend is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(_ context.Context, e Event) error {
	s.logger.Info("analytics event",
		zap.String("category", e.Category),
		zap.String("action", e.Action),
		zap.String("label", e.Label),
		zap.Int64("value", e.Value),
	)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
