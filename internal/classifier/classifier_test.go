package classifier

import (
	"testing"

	"github.com/retaildw/platform/pkg/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name            string
		stockCode       string
		description     string
		quantity        int
		isCreditInvoice bool
		lineTotalSigned int64
		wantCategory    string
		wantSubcategory string
		wantGift        bool
		wantType        string
	}{
		{
			name: "simple sale", stockCode: "85123A", description: "WHITE HANGING HEART T-LIGHT HOLDER",
			quantity: 2, isCreditInvoice: false, lineTotalSigned: 700,
			wantCategory: "Merchandise", wantSubcategory: "General", wantType: types.TxnSale,
		},
		{
			name: "return credit invoice", stockCode: "22629", description: "SPACEBOY LUNCH BOX",
			quantity: -1, isCreditInvoice: true, lineTotalSigned: -195,
			wantCategory: "Merchandise", wantSubcategory: "General", wantType: types.TxnReturn,
		},
		{
			name: "fee", stockCode: "AMAZONFEE", description: "AMAZON FEE",
			quantity: 1, isCreditInvoice: false, lineTotalSigned: 1162,
			wantCategory: "Fees", wantSubcategory: "Marketplace Fee", wantType: types.TxnFee,
		},
		{
			name: "discount reversal", stockCode: "D", description: "Discount",
			quantity: -1, isCreditInvoice: true, lineTotalSigned: -2750,
			wantCategory: "Discount", wantSubcategory: "Manual Discount", wantType: types.TxnDiscountReversal,
		},
		{
			name: "voucher redemption", stockCode: "GIFT_0001_20", description: "Gift Voucher £20",
			quantity: -1, isCreditInvoice: false, lineTotalSigned: -2000,
			wantCategory: "Gift Voucher", wantSubcategory: "Voucher £20", wantGift: true, wantType: types.TxnVoucherRedemption,
		},
		{
			name: "voucher sale", stockCode: "GIFT_0001_20", description: "Gift Voucher £20",
			quantity: 1, isCreditInvoice: false, lineTotalSigned: 2000,
			wantCategory: "Gift Voucher", wantSubcategory: "Voucher £20", wantGift: true, wantType: types.TxnVoucherSale,
		},
		{
			name: "dcgs prefix gift set", stockCode: "DCGSABC", description: "SOMETHING",
			quantity: 1, isCreditInvoice: false, lineTotalSigned: 100,
			wantCategory: "Gift Sets", wantSubcategory: "DCGS", wantGift: true, wantType: types.TxnSale,
		},
		{
			name: "shipping by description fallback", stockCode: "XYZ123", description: "SHIPPING COST",
			quantity: 1, isCreditInvoice: false, lineTotalSigned: 500,
			wantCategory: "Shipping", wantSubcategory: "Postage", wantType: types.TxnShippingCharge,
		},
		{
			name: "adjustment out negative qty", stockCode: "M", description: "Manual",
			quantity: -3, isCreditInvoice: false, lineTotalSigned: -300,
			wantCategory: "Adjustment", wantSubcategory: "Manual", wantType: types.TxnAdjustmentOut,
		},
		{
			name: "charity donation", stockCode: "CRUK", description: "CRUK Donation",
			quantity: 1, isCreditInvoice: false, lineTotalSigned: 100,
			wantCategory: "Charity", wantSubcategory: "Donation", wantType: types.TxnDonation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.stockCode, tt.description, tt.quantity, tt.isCreditInvoice, tt.lineTotalSigned)
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCategory)
			}
			if got.Subcategory != tt.wantSubcategory {
				t.Errorf("Subcategory = %q, want %q", got.Subcategory, tt.wantSubcategory)
			}
			if got.IsGift != tt.wantGift {
				t.Errorf("IsGift = %v, want %v", got.IsGift, tt.wantGift)
			}
			if got.TransactionType != tt.wantType {
				t.Errorf("TransactionType = %q, want %q", got.TransactionType, tt.wantType)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	a := Classify("85123A", "WHITE HANGING HEART T-LIGHT HOLDER", 2, false, 700)
	b := Classify("85123A", "WHITE HANGING HEART T-LIGHT HOLDER", 2, false, 700)
	if a != b {
		t.Errorf("Classify is not pure: %+v != %+v", a, b)
	}
}
