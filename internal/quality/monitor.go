// Package quality implements the data-quality monitor: per-column metric
// evaluation against a fixed rule registry, threshold comparison, metric
// persistence to data_quality_metrics, drop detection against recent
// history, and trend summaries. Metric computation across a table's
// columns fans out over the shared worker pool; everything else is a
// straight sequence of DB round trips.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/alerting"
	"github.com/retaildw/platform/internal/database"
	"github.com/retaildw/platform/internal/errs"
	"github.com/retaildw/platform/internal/logging"
	"github.com/retaildw/platform/internal/workerpool"
	"github.com/retaildw/platform/pkg/types"
)

// Monitor evaluates, persists, and trends quality metrics for one
// warehouse table at a time.
type Monitor struct {
	db     *database.Postgres
	sink   alerting.Sink
	cfg    types.QualityConfig
	logger logging.RetailLogger
}

// New builds a Monitor. A nil sink falls back to the log-only sink.
func New(db *database.Postgres, sink alerting.Sink, cfg types.QualityConfig, logger logging.RetailLogger) *Monitor {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if sink == nil {
		sink = alerting.NewLogSink(logger)
	}
	if cfg.AnomalyDropThreshold <= 0 {
		cfg.AnomalyDropThreshold = 10
	}
	if cfg.CriticalScore <= 0 {
		cfg.CriticalScore = 70
	}
	if cfg.WarningScore <= 0 {
		cfg.WarningScore = 90
	}
	return &Monitor{db: db, sink: sink, cfg: cfg, logger: logger}
}

// RuleResult is the outcome of one rule evaluation.
type RuleResult struct {
	Rule           Rule
	MetricValue    float64
	ThresholdValue float64
	HasThreshold   bool
	IsThresholdMet bool
	Severity       string
}

// Report summarizes one Check invocation.
type Report struct {
	Table        string
	BatchID      string
	Results      []RuleResult
	OverallScore float64
	MeasuredAt   time.Time
}

// Check evaluates every registered rule for table against records, compares
// each metric to its threshold, persists one data_quality_metrics row per
// rule, and dispatches alerts: one when the overall score falls below the
// configured warning or critical bounds, then one WARNING alert per metric
// whose threshold is not met. Persistence failure is reported
// via ErrQualityPersistFailed but the computed report is still returned:
// per the error taxonomy, a run whose data landed stays SUCCESS even when
// its quality rows do not.
func (m *Monitor) Check(ctx context.Context, table string, records []Record, batchID string) (Report, error) {
	rules := RulesForTable(table)
	if len(rules) == 0 {
		return Report{}, errors.Errorf("no quality rules registered for table %q", table)
	}

	report := Report{
		Table:      table,
		BatchID:    batchID,
		Results:    m.evaluate(ctx, rules, records),
		MeasuredAt: time.Now().UTC(),
	}

	var sum float64
	for _, res := range report.Results {
		sum += res.MetricValue
	}
	report.OverallScore = sum / float64(len(report.Results))

	m.alertOnScore(ctx, report)
	for _, res := range report.Results {
		if !res.HasThreshold || res.IsThresholdMet {
			continue
		}
		_ = m.sink.Send(ctx, alerting.Alert{
			Level: alerting.SeverityWarning,
			Message: fmt.Sprintf("quality metric %s on %s is %.1f, threshold %.1f not met",
				res.Rule.Name, report.Table, res.MetricValue, res.ThresholdValue),
			Details: map[string]interface{}{
				"table": report.Table, "batch_id": report.BatchID, "metric": res.Rule.Name,
				"value": res.MetricValue, "threshold": res.ThresholdValue, "severity": res.Severity,
			},
		})
	}

	if m.db != nil {
		if err := m.persist(ctx, report); err != nil {
			return report, errors.Wrap(errs.ErrQualityPersistFailed, err.Error())
		}
	}
	return report, nil
}

// metricJob adapts one rule evaluation to the worker pool's Job contract.
type metricJob struct {
	rule    Rule
	records []Record
}

func (j metricJob) ID() string { return j.rule.Name }

func (j metricJob) Execute(_ context.Context) workerpool.Result {
	start := time.Now()
	return metricResult{
		jobID:    j.rule.Name,
		value:    j.rule.Fn(j.records, j.rule.Column),
		duration: time.Since(start),
	}
}

type metricResult struct {
	jobID    string
	value    float64
	duration time.Duration
}

func (r metricResult) JobID() string           { return r.jobID }
func (r metricResult) Error() error            { return nil }
func (r metricResult) Duration() time.Duration { return r.duration }

// evaluate computes all rule metrics, fanning out over a worker pool. Pool
// startup or submission failures degrade
// to sequential evaluation: the metrics are pure functions, so the only
// thing lost is parallelism.
func (m *Monitor) evaluate(ctx context.Context, rules []Rule, records []Record) []RuleResult {
	values := make(map[string]float64, len(rules))

	pool := workerpool.NewWorkerPool(workerpool.WorkerPoolConfig{
		Workers:    4,
		BufferSize: len(rules),
		Logger:     m.logger,
	})
	if err := pool.Start(); err == nil {
		submitted := 0
		for _, rule := range rules {
			if err := pool.Submit(metricJob{rule: rule, records: records}); err != nil {
				break
			}
			submitted++
		}
		for i := 0; i < submitted; i++ {
			select {
			case res := <-pool.Results():
				if mr, ok := res.(metricResult); ok {
					values[mr.jobID] = mr.value
				}
			case <-ctx.Done():
				i = submitted
			}
		}
		_ = pool.Shutdown()
	}

	results := make([]RuleResult, 0, len(rules))
	for _, rule := range rules {
		value, ok := values[rule.Name]
		if !ok {
			value = rule.Fn(records, rule.Column)
		}

		res := RuleResult{Rule: rule, MetricValue: value}
		if th, hasTh := DefaultThresholds[rule.Name]; hasTh {
			res.HasThreshold = true
			res.ThresholdValue = th.Value
			res.IsThresholdMet = th.Met(value)
			res.Severity = th.Severity
			if !res.IsThresholdMet {
				m.logger.Warn("quality threshold not met",
					logging.Fields.String("metric", rule.Name),
					logging.Fields.Float64("value", value),
					logging.Fields.Float64("threshold", th.Value),
					logging.Fields.String("severity", th.Severity))
			}
		} else {
			res.IsThresholdMet = true
		}
		results = append(results, res)
	}
	return results
}

func (m *Monitor) alertOnScore(ctx context.Context, report Report) {
	level := ""
	switch {
	case report.OverallScore < m.cfg.CriticalScore:
		level = alerting.SeverityCritical
	case report.OverallScore < m.cfg.WarningScore:
		level = alerting.SeverityWarning
	}
	if level == "" {
		return
	}
	_ = m.sink.Send(ctx, alerting.Alert{
		Level:   level,
		Message: fmt.Sprintf("quality score %.1f for %s below %s bound", report.OverallScore, report.Table, level),
		Details: map[string]interface{}{
			"table":         report.Table,
			"batch_id":      report.BatchID,
			"overall_score": report.OverallScore,
		},
	})
}

func (m *Monitor) persist(ctx context.Context, report Report) error {
	tx, err := m.db.Pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin quality transaction")
	}
	defer tx.Rollback(ctx)

	for _, res := range report.Results {
		details, _ := json.Marshal(map[string]interface{}{
			"description": res.Rule.Describe(),
			"severity":    res.Severity,
		})
		var threshold interface{}
		if res.HasThreshold {
			threshold = res.ThresholdValue
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+m.db.Schema+`.data_quality_metrics
			   (table_name, column_name, metric_name, metric_value, threshold_value,
			    is_threshold_met, batch_id, measured_at, details)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			report.Table, res.Rule.Column, res.Rule.Name, res.MetricValue, threshold,
			res.IsThresholdMet, report.BatchID, report.MeasuredAt, details)
		if err != nil {
			return errors.Wrapf(err, "inserting metric %s", res.Rule.Name)
		}
	}
	return tx.Commit(ctx)
}

// Anomaly is one detected drop between consecutive measurements of the
// same (table, metric).
type Anomaly struct {
	Table      string
	MetricName string
	Previous   float64
	Current    float64
	Drop       float64
	Severity   string // HIGH when the drop exceeds 20, MEDIUM otherwise
	MeasuredAt time.Time
}

// DetectAnomalies scans the last 7 days of persisted metrics for table and
// reports every consecutive pair whose value dropped by more than the
// configured threshold. HIGH-severity anomalies dispatch an ERROR alert.
func (m *Monitor) DetectAnomalies(ctx context.Context, table string) ([]Anomaly, error) {
	rows, err := m.db.Pool.Query(ctx,
		`SELECT metric_name, metric_value, measured_at,
		        lag(metric_value) OVER (PARTITION BY metric_name ORDER BY measured_at) AS prev_value
		   FROM `+m.db.Schema+`.data_quality_metrics
		  WHERE table_name = $1 AND measured_at >= now() - interval '7 days'
		  ORDER BY metric_name, measured_at`,
		table)
	if err != nil {
		return nil, errors.Wrap(err, "querying quality history")
	}
	defer rows.Close()

	var anomalies []Anomaly
	for rows.Next() {
		var name string
		var value float64
		var measuredAt time.Time
		var prev *float64
		if err := rows.Scan(&name, &value, &measuredAt, &prev); err != nil {
			return nil, errors.Wrap(err, "scanning quality history row")
		}
		if prev == nil {
			continue
		}
		if a, ok := ClassifyDrop(*prev, value, m.cfg.AnomalyDropThreshold); ok {
			a.Table = table
			a.MetricName = name
			a.MeasuredAt = measuredAt
			anomalies = append(anomalies, a)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, a := range anomalies {
		if a.Severity != "HIGH" {
			continue
		}
		_ = m.sink.Send(ctx, alerting.Alert{
			Level:   alerting.SeverityError,
			Message: fmt.Sprintf("quality metric %s on %s dropped %.1f points", a.MetricName, a.Table, a.Drop),
			Details: map[string]interface{}{
				"table":    a.Table,
				"metric":   a.MetricName,
				"previous": a.Previous,
				"current":  a.Current,
			},
		})
	}
	return anomalies, nil
}

// ClassifyDrop decides whether the prev -> current transition is an
// anomaly under dropThreshold, and grades its severity.
func ClassifyDrop(prev, current, dropThreshold float64) (Anomaly, bool) {
	drop := prev - current
	if drop <= dropThreshold {
		return Anomaly{}, false
	}
	severity := "MEDIUM"
	if drop > 20 {
		severity = "HIGH"
	}
	return Anomaly{Previous: prev, Current: current, Drop: drop, Severity: severity}, true
}

// TrendSummary aggregates a metric's daily averages over a window.
type TrendSummary struct {
	Table      string
	MetricName string
	Avg        float64
	Min        float64
	Max        float64
	Trend      string // IMPROVING, DECLINING, or STABLE
	Days       int
}

// Trend summarizes the daily-averaged history of (table, metricName) over
// the trailing days window.
func (m *Monitor) Trend(ctx context.Context, table, metricName string, days int) (TrendSummary, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := m.db.Pool.Query(ctx,
		`SELECT avg(metric_value)
		   FROM `+m.db.Schema+`.data_quality_metrics
		  WHERE table_name = $1 AND metric_name = $2
		    AND measured_at >= now() - ($3 || ' days')::interval
		  GROUP BY date_trunc('day', measured_at)
		  ORDER BY date_trunc('day', measured_at)`,
		table, metricName, days)
	if err != nil {
		return TrendSummary{}, errors.Wrap(err, "querying quality trend")
	}
	defer rows.Close()

	var daily []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return TrendSummary{}, errors.Wrap(err, "scanning trend row")
		}
		daily = append(daily, v)
	}
	if err := rows.Err(); err != nil {
		return TrendSummary{}, err
	}

	summary := Summarize(daily)
	summary.Table = table
	summary.MetricName = metricName
	summary.Days = days
	return summary, nil
}

// Summarize computes avg/min/max and a trend label from an ordered series
// of daily values. The trend compares the first and last values: a swing
// of more than 1 point in either direction leaves STABLE.
func Summarize(daily []float64) TrendSummary {
	if len(daily) == 0 {
		return TrendSummary{Trend: "STABLE"}
	}

	sum, min, max := 0.0, daily[0], daily[0]
	for _, v := range daily {
		sum += v
		min = math.Min(min, v)
		max = math.Max(max, v)
	}

	trend := "STABLE"
	delta := daily[len(daily)-1] - daily[0]
	switch {
	case delta > 1:
		trend = "IMPROVING"
	case delta < -1:
		trend = "DECLINING"
	}

	return TrendSummary{Avg: sum / float64(len(daily)), Min: min, Max: max, Trend: trend}
}
