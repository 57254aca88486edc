// Package alerting implements the tiered alert dispatcher behind a small
// Sink interface: a log-backed default Sink plus an optional DB-backed
// sink that additionally persists to retail_dw.data_quality_alerts
// best-effort. Alerts always reach the log; persistence failures never
// surface to the caller.
package alerting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/logging"
)

// Severity levels for an alert.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// Alert is one dispatched notification.
type Alert struct {
	Level   string
	Message string
	Details map[string]interface{}
}

// Sink accepts alerts. The default implementation logs; an optional
// DB-backed sink additionally persists.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// LogSink logs every alert at a level matching its severity. This is the
// default sink.
type LogSink struct {
	logger logging.RetailLogger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger logging.RetailLogger) *LogSink {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &LogSink{logger: logger}
}

// Send logs alert at a level derived from its severity.
func (s *LogSink) Send(ctx context.Context, alert Alert) error {
	switch alert.Level {
	case SeverityCritical, SeverityError:
		s.logger.Error(alert.Message, nil, logging.Fields.String("severity", alert.Level))
	case SeverityWarning:
		s.logger.Warn(alert.Message, logging.Fields.String("severity", alert.Level))
	default:
		s.logger.Info(alert.Message, logging.Fields.String("severity", alert.Level))
	}
	return nil
}

// DBSink persists alerts to data_quality_alerts in addition to logging
// them. A persistence failure never surfaces as an error to the caller.
type DBSink struct {
	log *LogSink
	db  *database.Postgres
}

// NewDBSink builds a DBSink backed by db, always logging through log.
func NewDBSink(db *database.Postgres, logger logging.RetailLogger) *DBSink {
	return &DBSink{log: NewLogSink(logger), db: db}
}

// Send logs alert, then attempts to persist it; persistence failures are
// swallowed after being logged at warn level.
func (s *DBSink) Send(ctx context.Context, alert Alert) error {
	_ = s.log.Send(ctx, alert)

	details, _ := json.Marshal(alert.Details)
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO `+s.db.Schema+`.data_quality_alerts (alert_time, severity, message, metadata)
		 VALUES ($1, $2, $3, $4)`,
		time.Now().UTC(), alert.Level, alert.Message, details)
	if err != nil {
		s.log.logger.Warn("failed to persist quality alert", logging.Fields.Err(err))
	}
	return nil
}
