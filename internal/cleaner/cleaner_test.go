package cleaner

import (
	"testing"

	"github.com/retaildw/platform/pkg/types"
)

func raw(invoiceNo, stockCode, desc, qty, date, price, cust, country string) types.RawRecord {
	return types.RawRecord{
		InvoiceNo: invoiceNo, StockCode: stockCode, Description: desc,
		Quantity: qty, InvoiceDate: date, UnitPrice: price,
		CustomerID: cust, Country: country,
	}
}

func TestClean_SimpleSale(t *testing.T) {
	c := New(nil)
	rec, reject := c.Clean(raw("536365", "85123A", "WHITE HANGING HEART T-LIGHT HOLDER",
		"2", "2010-12-01 08:26:00", "3.50", "17850", "United Kingdom"))
	if reject != nil {
		t.Fatalf("unexpected reject: %+v", reject)
	}
	if rec.InvoiceNo != "536365" {
		t.Errorf("InvoiceNo = %q", rec.InvoiceNo)
	}
	if rec.Quantity != 2 {
		t.Errorf("Quantity = %d, want 2", rec.Quantity)
	}
	if rec.UnitPriceCents != 350 {
		t.Errorf("UnitPriceCents = %d, want 350", rec.UnitPriceCents)
	}
	if rec.CustomerID != "17850" {
		t.Errorf("CustomerID = %q", rec.CustomerID)
	}
}

func TestClean_EmptyCustomerIDBecomesGuest(t *testing.T) {
	c := New(nil)
	rec, reject := c.Clean(raw("573585", "AMAZONFEE", "AMAZON FEE",
		"1", "2011-10-31 14:00:00", "11.62", "", "United Kingdom"))
	if reject != nil {
		t.Fatalf("unexpected reject: %+v", reject)
	}
	if rec.CustomerID != "GUEST" {
		t.Errorf("CustomerID = %q, want GUEST", rec.CustomerID)
	}
}

func TestClean_CreditInvoiceNegativeQuantity(t *testing.T) {
	c := New(nil)
	rec, reject := c.Clean(raw("C536379", "22629", "SPACEBOY LUNCH BOX",
		"-1", "2010-12-01 09:41:00", "1.95", "14527", "United Kingdom"))
	if reject != nil {
		t.Fatalf("unexpected reject: %+v", reject)
	}
	if rec.Quantity != -1 {
		t.Errorf("Quantity = %d, want -1", rec.Quantity)
	}
	if rec.InvoiceNo != "C536379" {
		t.Errorf("InvoiceNo = %q", rec.InvoiceNo)
	}
}

func TestClean_CountryCanonicalization(t *testing.T) {
	c := New(nil)
	rec, _ := c.Clean(raw("536365", "85123A", "X", "1", "2010-12-01", "1.00", "1", "UK"))
	if rec.Country != "United Kingdom" {
		t.Errorf("Country = %q, want United Kingdom", rec.Country)
	}
}

func TestClean_RejectsZeroQuantity(t *testing.T) {
	c := New(nil)
	_, reject := c.Clean(raw("536365", "85123A", "X", "0", "2010-12-01", "1.00", "1", "UK"))
	if reject == nil {
		t.Fatal("expected reject for zero quantity")
	}
}

func TestClean_RejectsMalformedDate(t *testing.T) {
	c := New(nil)
	_, reject := c.Clean(raw("536365", "85123A", "X", "1", "not-a-date", "1.00", "1", "UK"))
	if reject == nil {
		t.Fatal("expected reject for malformed date")
	}
}

func TestClean_RejectsDuplicateAcrossCalls(t *testing.T) {
	c := New(nil)
	r := raw("536365", "85123A", "X", "1", "2010-12-01", "1.00", "1", "UK")
	if _, reject := c.Clean(r); reject != nil {
		t.Fatalf("first occurrence unexpectedly rejected: %+v", reject)
	}
	if _, reject := c.Clean(r); reject == nil {
		t.Fatal("expected second occurrence to be rejected as duplicate")
	}
}

func TestClean_InvoiceFormatRejectsGarbage(t *testing.T) {
	c := New(nil)
	_, reject := c.Clean(raw("NOTANUMBER", "85123A", "X", "1", "2010-12-01", "1.00", "1", "UK"))
	if reject == nil {
		t.Fatal("expected reject for invalid invoice format")
	}
}
