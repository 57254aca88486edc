package quality

import (
	"strconv"
	"strings"
	"time"
)

// Metric type taxonomy persisted alongside each data_quality_metrics row.
const (
	TypeCompleteness = "COMPLETENESS"
	TypeAccuracy     = "ACCURACY"
	TypeConsistency  = "CONSISTENCY"
	TypeValidity     = "VALIDITY"
	TypeUniqueness   = "UNIQUENESS"
	TypeTimeliness   = "TIMELINESS"
	TypeIntegrity    = "INTEGRITY"
)

// Record is one row projected to text columns, the shape every metric
// function consumes. The pipeline builds these from its sampled fact
// records; the on-demand `quality check` command builds them from a
// warehouse query.
type Record map[string]string

// MetricFunc computes a percentage in [0,100] for one column across a set
// of records. An empty record set scores 100: no rows means no violations.
type MetricFunc func(records []Record, column string) float64

// Rule binds a named metric to the column it measures.
type Rule struct {
	Name   string
	Type   string
	Column string
	Fn     MetricFunc
}

// Describe returns a human-readable summary for logs and the details
// payload persisted with each metric row.
func (r Rule) Describe() string {
	return r.Name + " (" + r.Type + ") on " + r.Column
}

// Completeness scores the fraction of non-null, non-blank values.
func Completeness(records []Record, column string) float64 {
	if len(records) == 0 {
		return 100
	}
	filled := 0
	for _, rec := range records {
		if strings.TrimSpace(rec[column]) != "" {
			filled++
		}
	}
	return pct(filled, len(records))
}

// Uniqueness scores distinct values over total values.
func Uniqueness(records []Record, column string) float64 {
	if len(records) == 0 {
		return 100
	}
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		seen[rec[column]] = struct{}{}
	}
	return pct(len(seen), len(records))
}

// Validity scores the fraction of values satisfying pred.
func Validity(pred func(string) bool) MetricFunc {
	return func(records []Record, column string) float64 {
		if len(records) == 0 {
			return 100
		}
		valid := 0
		for _, rec := range records {
			if pred(rec[column]) {
				valid++
			}
		}
		return pct(valid, len(records))
	}
}

// NumericRange scores the fraction of parseable values within [min, max].
// A nil bound is open on that side; an unparseable value always fails.
func NumericRange(min, max *float64) MetricFunc {
	return func(records []Record, column string) float64 {
		if len(records) == 0 {
			return 100
		}
		inRange := 0
		for _, rec := range records {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[column]), 64)
			if err != nil {
				continue
			}
			if min != nil && v < *min {
				continue
			}
			if max != nil && v > *max {
				continue
			}
			inRange++
		}
		return pct(inRange, len(records))
	}
}

func pct(n, total int) float64 {
	return float64(n) / float64(total) * 100
}

func dateParseable(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02", time.RFC3339} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func minLen(n int) func(string) bool {
	return func(s string) bool { return len(strings.TrimSpace(s)) >= n }
}

func floatPtr(f float64) *float64 { return &f }

// RulesForTable returns the fixed rule registry for table. Unknown tables
// get no rules, which Check reports as an error rather than a silent
// perfect score.
func RulesForTable(table string) []Rule {
	switch table {
	case "fact_sales":
		return []Rule{
			{Name: "customer_completeness", Type: TypeCompleteness, Column: "customer_id", Fn: Completeness},
			{Name: "product_completeness", Type: TypeCompleteness, Column: "stock_code", Fn: Completeness},
			{Name: "invoice_completeness", Type: TypeCompleteness, Column: "invoice_no", Fn: Completeness},
			{Name: "invoice_date_validity", Type: TypeValidity, Column: "invoice_date", Fn: Validity(dateParseable)},
			{Name: "quantity_range", Type: TypeValidity, Column: "quantity", Fn: NumericRange(floatPtr(0), nil)},
			{Name: "unit_price_range", Type: TypeValidity, Column: "unit_price", Fn: NumericRange(floatPtr(0), nil)},
			{Name: "line_total_range", Type: TypeValidity, Column: "line_total", Fn: NumericRange(floatPtr(0), nil)},
		}
	case "dim_customer":
		return []Rule{
			{Name: "customer_id_completeness", Type: TypeCompleteness, Column: "customer_id", Fn: Completeness},
			{Name: "customer_id_uniqueness", Type: TypeUniqueness, Column: "customer_id", Fn: Uniqueness},
			{Name: "country_completeness", Type: TypeCompleteness, Column: "country", Fn: Completeness},
		}
	case "dim_product":
		return []Rule{
			{Name: "stock_code_completeness", Type: TypeCompleteness, Column: "stock_code", Fn: Completeness},
			{Name: "stock_code_uniqueness", Type: TypeUniqueness, Column: "stock_code", Fn: Uniqueness},
			{Name: "description_validity", Type: TypeValidity, Column: "description", Fn: Validity(minLen(3))},
		}
	default:
		return nil
	}
}

// Threshold is one comparison applied to a computed metric value.
type Threshold struct {
	MetricName string
	Operator   string // one of ">=", "<=", "=", "!="
	Value      float64
	Severity   string
}

// Met reports whether value satisfies the threshold's comparison.
func (t Threshold) Met(value float64) bool {
	switch t.Operator {
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "=":
		return value == t.Value
	case "!=":
		return value != t.Value
	default:
		return false
	}
}

// DefaultThresholds is the fixed threshold table keyed by metric name.
// Metrics without an entry are recorded but never flagged.
var DefaultThresholds = map[string]Threshold{
	"customer_completeness":    {MetricName: "customer_completeness", Operator: ">=", Value: 90, Severity: "HIGH"},
	"product_completeness":     {MetricName: "product_completeness", Operator: ">=", Value: 99, Severity: "HIGH"},
	"invoice_completeness":     {MetricName: "invoice_completeness", Operator: ">=", Value: 99, Severity: "HIGH"},
	"invoice_date_validity":    {MetricName: "invoice_date_validity", Operator: ">=", Value: 95, Severity: "MEDIUM"},
	"quantity_range":           {MetricName: "quantity_range", Operator: ">=", Value: 99, Severity: "HIGH"},
	"unit_price_range":         {MetricName: "unit_price_range", Operator: ">=", Value: 99, Severity: "HIGH"},
	"line_total_range":         {MetricName: "line_total_range", Operator: ">=", Value: 99, Severity: "MEDIUM"},
	"customer_id_completeness": {MetricName: "customer_id_completeness", Operator: ">=", Value: 100, Severity: "HIGH"},
	"customer_id_uniqueness":   {MetricName: "customer_id_uniqueness", Operator: ">=", Value: 100, Severity: "HIGH"},
	"country_completeness":     {MetricName: "country_completeness", Operator: ">=", Value: 95, Severity: "MEDIUM"},
	"stock_code_completeness":  {MetricName: "stock_code_completeness", Operator: ">=", Value: 100, Severity: "HIGH"},
	"stock_code_uniqueness":    {MetricName: "stock_code_uniqueness", Operator: ">=", Value: 100, Severity: "HIGH"},
	"description_validity":     {MetricName: "description_validity", Operator: ">=", Value: 90, Severity: "LOW"},
}
