// Package cleaner applies column-level cleaning transforms and validation
// predicates to raw records, in the two-phase order the pipeline requires:
// cleaning transforms first (may rewrite a field), then validation
// predicates (may reject the record outright).
package cleaner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/retaildw/platform/internal/errs"
	"github.com/retaildw/platform/pkg/types"
)

var (
	stockCodeStrip = regexp.MustCompile(`[^A-Z0-9\-.]`)
	invoiceFormat  = regexp.MustCompile(`^C?\d{5,7}[A-Z]?$`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	trailingPunct  = regexp.MustCompile(`[.,;:!?]+$`)
)

var countryCanon = map[string]string{
	"UK":  "United Kingdom",
	"USA": "United States",
	"UAE": "United Arab Emirates",
	"RSA": "South Africa",
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
	"02-01-2006 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
}

var minDate = time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC)

// Severity of a validation predicate: WARNING predicates only log, ERROR
// predicates reject the record.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Rule describes a named cleaning or validation step as a small interface
// rather than via reflection. No type in this package implements it: Clean
// applies its transforms and predicates as fixed steps in code.
type Rule interface {
	Name() string
	Columns() []string
	Severity() Severity
}

// MissingValueStrategy controls how an empty CustomerID is handled.
type MissingValueStrategy string

const (
	FillUnknown MissingValueStrategy = "fill_unknown"
	Drop        MissingValueStrategy = "drop"
)

// Cleaner holds the configuration and cross-record state (the duplicate
// natural-key set) needed to clean a stream of raw records.
type Cleaner struct {
	duplicateKeyColumns []string
	customerIDStrategy  MissingValueStrategy
	seenKeys            map[string]struct{}
}

// New builds a Cleaner. duplicateKeyColumns defaults to {InvoiceNo,
// StockCode} when empty.
func New(duplicateKeyColumns []string) *Cleaner {
	if len(duplicateKeyColumns) == 0 {
		duplicateKeyColumns = []string{"InvoiceNo", "StockCode"}
	}
	return &Cleaner{
		duplicateKeyColumns: duplicateKeyColumns,
		customerIDStrategy:  FillUnknown,
		seenKeys:            make(map[string]struct{}),
	}
}

// Clean applies the cleaning transforms then the validation predicates to
// one raw record. A non-nil *types.RejectReason means the record did not
// survive; the CleanedRecord return value is only meaningful when reject is
// nil.
func (c *Cleaner) Clean(raw types.RawRecord) (types.CleanedRecord, *types.RejectReason) {
	var rec types.CleanedRecord

	rec.InvoiceNo = strings.ToUpper(strings.TrimSpace(raw.InvoiceNo))
	rec.StockCode = stockCodeStrip.ReplaceAllString(strings.ToUpper(strings.TrimSpace(raw.StockCode)), "")
	rec.Description = cleanDescription(raw.Description)
	rec.Quantity = cleanQuantity(raw.Quantity)
	rec.UnitPriceCents = cleanUnitPriceCents(raw.UnitPrice)
	rec.CustomerID = c.cleanCustomerID(raw.CustomerID)
	rec.Country = cleanCountry(raw.Country)

	invoiceDate, err := parseInvoiceDate(raw.InvoiceDate)
	if err != nil {
		return rec, &types.RejectReason{Stage: "cleaner", Reason: "unparseable invoice date", Err: errs.ErrRecordMalformed}
	}
	rec.InvoiceDate = invoiceDate

	if reject := c.validate(rec); reject != nil {
		return rec, reject
	}

	key := c.duplicateKey(rec)
	if _, seen := c.seenKeys[key]; seen {
		return rec, &types.RejectReason{Stage: "cleaner", Reason: "duplicate natural key", Err: errs.ErrValidationFailed}
	}
	c.seenKeys[key] = struct{}{}

	return rec, nil
}

func (c *Cleaner) duplicateKey(rec types.CleanedRecord) string {
	values := make([]string, 0, len(c.duplicateKeyColumns))
	for _, col := range c.duplicateKeyColumns {
		switch col {
		case "InvoiceNo":
			values = append(values, rec.InvoiceNo)
		case "StockCode":
			values = append(values, rec.StockCode)
		case "CustomerID":
			values = append(values, rec.CustomerID)
		}
	}
	return strings.Join(values, "\x1f")
}

func (c *Cleaner) validate(rec types.CleanedRecord) *types.RejectReason {
	if !invoiceFormat.MatchString(rec.InvoiceNo) {
		return &types.RejectReason{Stage: "cleaner", Reason: "invoice number format invalid", Err: errs.ErrValidationFailed}
	}
	if rec.Quantity == 0 {
		return &types.RejectReason{Stage: "cleaner", Reason: "quantity is zero", Err: errs.ErrValidationFailed}
	}
	if rec.UnitPriceCents < 0 {
		return &types.RejectReason{Stage: "cleaner", Reason: "unit price negative", Err: errs.ErrValidationFailed}
	}
	if rec.InvoiceDate.Before(minDate) || rec.InvoiceDate.After(time.Now().UTC()) {
		return &types.RejectReason{Stage: "cleaner", Reason: "invoice date out of range", Err: errs.ErrValidationFailed}
	}
	return nil
}

func cleanDescription(s string) string {
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	s = trailingPunct.ReplaceAllString(s, "")
	return strings.Title(strings.ToLower(s))
}

func cleanQuantity(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	var b strings.Builder
	for _, r := range s {
		if r == '-' || r == '+' || (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return int(f)
}

// cleanUnitPriceCents strips currency symbols and whitespace, parses as a
// float, and quantizes to fixed-scale cents with round-half-to-even
// (banker's rounding).
func cleanUnitPriceCents(s string) int64 {
	s = strings.TrimSpace(s)
	for _, sym := range []string{"£", "$", "€"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return roundHalfEven(f * 100)
}

func roundHalfEven(x float64) int64 {
	floor := int64(x)
	diff := x - float64(floor)
	switch {
	case diff < 0.5:
		return floor
	case diff > 0.5:
		return floor + 1
	default:
		if floor%2 == 0 {
			return floor
		}
		return floor + 1
	}
}

func (c *Cleaner) cleanCustomerID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")
	if s == "" {
		switch c.customerIDStrategy {
		case Drop:
			return ""
		default:
			return "GUEST"
		}
	}
	return s
}

func cleanCountry(s string) string {
	s = strings.TrimSpace(s)
	if canon, ok := countryCanon[strings.ToUpper(s)]; ok {
		return canon
	}
	return strings.Title(strings.ToLower(s))
}

func parseInvoiceDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// Permissive fallback: RFC3339.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("no layout matched %q", s)
}
