package quality

import (
	"context"
	"testing"

	"github.com/retaildw/platform/internal/alerting"
	"github.com/retaildw/platform/pkg/types"
)

func records(column string, values ...string) []Record {
	out := make([]Record, len(values))
	for i, v := range values {
		out[i] = Record{column: v}
	}
	return out
}

func TestCompleteness(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   float64
	}{
		{"all filled", []string{"a", "b", "c"}, 100},
		{"one blank", []string{"a", "", "c", "d"}, 75},
		{"whitespace counts as blank", []string{"a", "   "}, 50},
		{"empty set", nil, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Completeness(records("col", tt.values...), "col")
			if got != tt.want {
				t.Errorf("Completeness(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestUniqueness(t *testing.T) {
	got := Uniqueness(records("col", "a", "a", "b", "c"), "col")
	if got != 75 {
		t.Errorf("Uniqueness = %v, want 75", got)
	}
	if got := Uniqueness(nil, "col"); got != 100 {
		t.Errorf("Uniqueness(empty) = %v, want 100", got)
	}
}

func TestValidityDateParseable(t *testing.T) {
	recs := records("invoice_date",
		"2010-12-01 08:26:00",
		"2010-12-01",
		"not a date",
		"")
	got := Validity(dateParseable)(recs, "invoice_date")
	if got != 50 {
		t.Errorf("date validity = %v, want 50", got)
	}
}

func TestNumericRange(t *testing.T) {
	recs := records("quantity", "1", "5", "-3", "oops", "10")
	got := NumericRange(floatPtr(0), nil)(recs, "quantity")
	if got != 60 {
		t.Errorf("NumericRange[0,∞) = %v, want 60", got)
	}

	got = NumericRange(floatPtr(0), floatPtr(5))(recs, "quantity")
	if got != 40 {
		t.Errorf("NumericRange[0,5] = %v, want 40", got)
	}
}

func TestThresholdMet(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">=", 90, true},
		{">=", 90.1, false},
		{"<=", 90, true},
		{"<=", 89.9, false},
		{"=", 90, true},
		{"!=", 90, false},
		{"bogus", 90, false},
	}
	for _, tt := range tests {
		th := Threshold{Operator: tt.op, Value: tt.value}
		if got := th.Met(90); got != tt.want {
			t.Errorf("Threshold{%s %v}.Met(90) = %v, want %v", tt.op, tt.value, got, tt.want)
		}
	}
}

func TestClassifyDrop(t *testing.T) {
	if _, ok := ClassifyDrop(95, 90, 10); ok {
		t.Error("5-point drop should not be an anomaly at threshold 10")
	}

	a, ok := ClassifyDrop(95, 80, 10)
	if !ok {
		t.Fatal("15-point drop should be an anomaly at threshold 10")
	}
	if a.Severity != "MEDIUM" {
		t.Errorf("15-point drop severity = %s, want MEDIUM", a.Severity)
	}

	a, ok = ClassifyDrop(95, 70, 10)
	if !ok {
		t.Fatal("25-point drop should be an anomaly")
	}
	if a.Severity != "HIGH" {
		t.Errorf("25-point drop severity = %s, want HIGH", a.Severity)
	}
	if a.Drop != 25 {
		t.Errorf("drop = %v, want 25", a.Drop)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name  string
		daily []float64
		trend string
	}{
		{"improving", []float64{80, 85, 92}, "IMPROVING"},
		{"declining", []float64{92, 85, 80}, "DECLINING"},
		{"stable", []float64{90, 89.5, 90.4}, "STABLE"},
		{"empty", nil, "STABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.daily)
			if got.Trend != tt.trend {
				t.Errorf("Summarize(%v).Trend = %s, want %s", tt.daily, got.Trend, tt.trend)
			}
		})
	}

	s := Summarize([]float64{80, 90, 100})
	if s.Avg != 90 || s.Min != 80 || s.Max != 100 {
		t.Errorf("Summarize stats = avg %v min %v max %v, want 90/80/100", s.Avg, s.Min, s.Max)
	}
}

// captureSink records alerts so tests can assert on dispatch without a
// real sink.
type captureSink struct {
	alerts []alerting.Alert
}

func (s *captureSink) Send(_ context.Context, a alerting.Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

func TestCheckComputesScoreAndAlerts(t *testing.T) {
	sink := &captureSink{}
	m := New(nil, sink, types.QualityConfig{CriticalScore: 70, WarningScore: 90, AnomalyDropThreshold: 10}, nil)

	// 2 blank customer IDs in 10 rows: customer_completeness = 80, below
	// the >= 90 threshold.
	recs := make([]Record, 10)
	for i := range recs {
		recs[i] = Record{
			"customer_id":  "17850",
			"stock_code":   "85123A",
			"invoice_no":   "536365",
			"invoice_date": "2010-12-01 08:26:00",
			"quantity":     "2",
			"unit_price":   "3.50",
			"line_total":   "7.00",
		}
	}
	recs[0]["customer_id"] = ""
	recs[1]["customer_id"] = ""

	report, err := m.Check(context.Background(), "fact_sales", recs, "batch-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	var customerResult *RuleResult
	for i := range report.Results {
		if report.Results[i].Rule.Name == "customer_completeness" {
			customerResult = &report.Results[i]
		}
	}
	if customerResult == nil {
		t.Fatal("customer_completeness not evaluated")
	}
	if customerResult.MetricValue != 80 {
		t.Errorf("customer_completeness = %v, want 80", customerResult.MetricValue)
	}
	if customerResult.IsThresholdMet {
		t.Error("customer_completeness threshold should not be met at 80")
	}
	if len(sink.alerts) != 1 || sink.alerts[0].Level != alerting.SeverityWarning {
		t.Errorf("alerts = %+v, want one WARNING alert for the unmet customer_completeness threshold", sink.alerts)
	}

	if report.OverallScore >= 100 {
		t.Errorf("overall score = %v, want < 100", report.OverallScore)
	}
}

func TestCheckUnknownTable(t *testing.T) {
	m := New(nil, &captureSink{}, types.QualityConfig{}, nil)
	if _, err := m.Check(context.Background(), "no_such_table", nil, "b"); err == nil {
		t.Error("expected error for unregistered table")
	}
}

func TestCheckAlertsOnLowScore(t *testing.T) {
	sink := &captureSink{}
	m := New(nil, sink, types.QualityConfig{CriticalScore: 70, WarningScore: 90}, nil)

	// Every record fails every metric it can: blank ids, bad dates,
	// negative quantities.
	recs := make([]Record, 4)
	for i := range recs {
		recs[i] = Record{
			"customer_id":  "",
			"stock_code":   "",
			"invoice_no":   "",
			"invoice_date": "garbage",
			"quantity":     "-5",
			"unit_price":   "-1",
			"line_total":   "-1",
		}
	}

	report, err := m.Check(context.Background(), "fact_sales", recs, "batch-2")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.OverallScore >= 70 {
		t.Fatalf("overall score = %v, want < 70", report.OverallScore)
	}
	if len(sink.alerts) == 0 {
		t.Fatal("expected a critical alert")
	}
	if sink.alerts[0].Level != alerting.SeverityCritical {
		t.Errorf("alert level = %s, want CRITICAL", sink.alerts[0].Level)
	}
}
