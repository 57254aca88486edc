package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.csv")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestCSVExtractor_ReadsAllRows(t *testing.T) {
	path := writeCSV(t, "InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country\n"+
		"536365,85123A,WHITE HANGING HEART T-LIGHT HOLDER,2,2010-12-01 08:26:00,3.50,17850,United Kingdom\n"+
		"C536379,22629,SPACEBOY LUNCH BOX,-1,2010-12-01 09:41:00,1.95,14527,United Kingdom\n")

	e := New(path, WithChunkSize(1))
	ctx := context.Background()
	if err := e.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	var rows int
	for {
		rec, ok, err := e.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		rows++
		if rec.InvoiceNo == "" {
			t.Errorf("row %d: empty InvoiceNo", rows)
		}
	}
	if rows != 2 {
		t.Fatalf("rows = %d, want 2", rows)
	}
}

func TestCSVExtractor_MissingColumnFails(t *testing.T) {
	path := writeCSV(t, "InvoiceNo,StockCode\n536365,85123A\n")
	e := New(path)
	if err := e.Open(context.Background()); err == nil {
		t.Fatal("expected error for missing required columns")
	}
}

func TestFileHash_Is16HexChars(t *testing.T) {
	path := writeCSV(t, "a,b\n1,2\n")
	hash, err := FileHash(path)
	if err != nil {
		t.Fatalf("FileHash: %v", err)
	}
	if len(hash) != 16 {
		t.Fatalf("len(hash) = %d, want 16", len(hash))
	}
}
