package transformer

import (
	"testing"
	"time"

	"github.com/retaildw/platform/pkg/types"
)

func cleaned(invoiceNo, stockCode, desc string, qty int, priceCents int64) types.CleanedRecord {
	return types.CleanedRecord{
		InvoiceNo: invoiceNo, StockCode: stockCode, Description: desc,
		Quantity: qty, UnitPriceCents: priceCents,
		CustomerID: "1", Country: "United Kingdom",
		InvoiceDate: time.Date(2010, 12, 1, 8, 26, 0, 0, time.UTC),
	}
}

func TestTransform_SimpleSale(t *testing.T) {
	got := Transform(cleaned("536365", "85123A", "WHITE HANGING HEART T-LIGHT HOLDER", 2, 350))
	if got.IsCreditInvoice {
		t.Error("expected non-credit invoice")
	}
	if got.InvoiceNumber != 536365 {
		t.Errorf("InvoiceNumber = %d, want 536365", got.InvoiceNumber)
	}
	if got.LineTotalCents != 700 {
		t.Errorf("LineTotalCents = %d, want 700", got.LineTotalCents)
	}
	if got.TransactionType != types.TxnSale {
		t.Errorf("TransactionType = %q, want SALE", got.TransactionType)
	}
}

func TestTransform_CreditInvoiceStripsCPrefix(t *testing.T) {
	got := Transform(cleaned("C536379", "22629", "SPACEBOY LUNCH BOX", -1, 195))
	if !got.IsCreditInvoice {
		t.Error("expected credit invoice")
	}
	if got.InvoiceNumber != 536379 {
		t.Errorf("InvoiceNumber = %d, want 536379", got.InvoiceNumber)
	}
	if got.Quantity != 1 {
		t.Errorf("Quantity = %d, want 1 (absolute)", got.Quantity)
	}
	if got.LineTotalCents != 195 {
		t.Errorf("LineTotalCents = %d, want 195", got.LineTotalCents)
	}
	if got.TransactionType != types.TxnReturn {
		t.Errorf("TransactionType = %q, want RETURN", got.TransactionType)
	}
}

func TestTransform_IsPure(t *testing.T) {
	in := cleaned("536365", "85123A", "X", 2, 350)
	a := Transform(in)
	b := Transform(in)
	if a != b {
		t.Errorf("Transform is not pure: %+v != %+v", a, b)
	}
}
