// Package transformer derives invoice number, credit-invoice flag, line
// total, and transaction date from a cleaned record. It performs no I/O and
// calls the classifier to fill in category/subcategory/transaction type.
package transformer

import (
	"strconv"
	"strings"

	"github.com/retaildw/platform/internal/classifier"
	"github.com/retaildw/platform/pkg/types"
)

// Transform converts a cleaned record into a transformed record, computing
// derived fields and delegating categorization to the classifier.
func Transform(rec types.CleanedRecord) types.TransformedRecord {
	isCredit := strings.HasPrefix(rec.InvoiceNo, "C")
	numericPart := strings.TrimPrefix(rec.InvoiceNo, "C")
	invoiceNumber, _ := strconv.Atoi(numericPart)

	lineTotalSigned := int64(rec.Quantity) * rec.UnitPriceCents
	lineTotal := lineTotalSigned
	if lineTotal < 0 {
		lineTotal = -lineTotal
	}

	t := types.TransformedRecord{
		CleanedRecord:   rec,
		InvoiceNumber:   invoiceNumber,
		IsCreditInvoice: isCredit,
		LineTotalCents:  lineTotal,
		TransactionDate: rec.InvoiceDate,
	}

	absQty := rec.Quantity
	if absQty < 0 {
		absQty = -absQty
	}
	t.Quantity = absQty

	class := classifier.Classify(rec.StockCode, rec.Description, rec.Quantity, isCredit, lineTotalSigned)
	t.Category = class.Category
	t.Subcategory = class.Subcategory
	t.IsGift = class.IsGift
	t.TransactionType = class.TransactionType

	return t
}
