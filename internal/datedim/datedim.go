// Package datedim computes the dim_date surrogate key and attribute set
// from a calendar date. It is a pure function package shared by the
// DimensionResolver (to materialize new dim_date rows) and the
// PartitionManager (to name and bound monthly partitions).
package datedim

import (
	"fmt"
	"time"
)

// Attributes holds every derived column dim_date carries besides the
// surrogate key and the natural date itself.
type Attributes struct {
	Year        int
	Quarter     int
	Month       int
	Week        int
	DayOfYear   int
	DayOfMonth  int
	DayOfWeek   int // ISO: Monday=1 ... Sunday=7
	MonthName   string
	DayName     string
	QuarterName string
	IsWeekend   bool
	IsHoliday   bool // always false: no holiday calendar feed is in scope
}

// Key computes the dim_date surrogate key: year*10000 + month*100 + day.
// This is a bijection with civil dates in the Gregorian calendar, so the
// same date always maps to the same key and no two dates collide.
func Key(t time.Time) int32 {
	t = t.UTC()
	return int32(t.Year())*10000 + int32(t.Month())*100 + int32(t.Day())
}

// Derive computes the full attribute set for t's calendar date.
func Derive(t time.Time) Attributes {
	t = t.UTC()
	_, week := t.ISOWeek()
	isoWeekday := int(t.Weekday())
	if isoWeekday == 0 {
		isoWeekday = 7 // Sunday
	}

	return Attributes{
		Year:        t.Year(),
		Quarter:     (int(t.Month())-1)/3 + 1,
		Month:       int(t.Month()),
		Week:        week,
		DayOfYear:   t.YearDay(),
		DayOfMonth:  t.Day(),
		DayOfWeek:   isoWeekday,
		MonthName:   t.Month().String(),
		DayName:     t.Weekday().String(),
		QuarterName: quarterName((int(t.Month())-1)/3 + 1),
		IsWeekend:   isoWeekday >= 6,
		IsHoliday:   false,
	}
}

func quarterName(q int) string {
	switch q {
	case 1:
		return "Q1"
	case 2:
		return "Q2"
	case 3:
		return "Q3"
	default:
		return "Q4"
	}
}

// MonthStart floors t to midnight UTC on the first of its month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextMonthStart returns the first instant of the month after t's.
func NextMonthStart(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, 0)
}

// PartitionName builds the deterministic name for the monthly partition
// covering t's month: fact_sales_yYYYYmMM.
func PartitionName(t time.Time) string {
	t = MonthStart(t)
	return fmt.Sprintf("fact_sales_y%04dm%02d", t.Year(), int(t.Month()))
}
