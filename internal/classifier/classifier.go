// Package classifier maps a transformed record's stock code, description,
// and sign information to a category, subcategory, gift flag, and
// transaction type. It is a pure function package: no I/O, no shared state.
package classifier

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/retaildw/platform/pkg/types"
)

// Classification is the result of categorizing one record.
type Classification struct {
	Category        string
	Subcategory     string
	IsGift          bool
	TransactionType string
}

// stockRule is one row of the first-match-wins categorization table.
type stockRule struct {
	codes       map[string]bool
	prefix      string
	category    string
	subcategory func(description string) string
	isGift      bool
}

func constSub(s string) func(string) string {
	return func(string) string { return s }
}

var rules = []stockRule{
	{codes: set("AMAZONFEE"), category: "Fees", subcategory: constSub("Marketplace Fee")},
	{codes: set("BANKCHARGES"), category: "Fees", subcategory: constSub("Bank Charge")},
	{codes: set("POST"), category: "Shipping", subcategory: constSub("Postage")},
	{codes: set("C2"), category: "Shipping", subcategory: constSub("Carrier Surcharge")},
	{codes: set("DOT"), category: "Adjustment", subcategory: constSub("Rounding")},
	{codes: set("M"), category: "Adjustment", subcategory: constSub("Manual")},
	{codes: set("D"), category: "Discount", subcategory: constSub("Manual Discount")},
	{codes: set("S"), category: "Services", subcategory: constSub("Service Charge")},
	{codes: set("CRUK"), category: "Charity", subcategory: constSub("Donation")},
	{codes: set("PADS"), category: "Stationery", subcategory: constSub("Pads")},
	{codes: set("DCGSSBOY"), category: "Gift Sets", subcategory: constSub("Boy"), isGift: true},
	{codes: set("DCGSSGIRL"), category: "Gift Sets", subcategory: constSub("Girl"), isGift: true},
}

func set(codes ...string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

// Classify determines category, subcategory, gift flag, and transaction
// type from a transformed record's stock code, description, and signs.
// stockCode is matched uppercased; description is matched case-insensitively.
func Classify(stockCode, description string, quantity int, isCreditInvoice bool, lineTotalSigned int64) Classification {
	code := strings.ToUpper(strings.TrimSpace(stockCode))
	descUpper := strings.ToUpper(description)

	var category, subcategory string
	var isGift bool

	switch {
	case matchesRule(code):
		r := ruleFor(code)
		category, subcategory, isGift = r.category, r.subcategory(description), r.isGift
	case strings.HasPrefix(code, "DCGS"):
		category, subcategory, isGift = "Gift Sets", "DCGS", true
	case strings.HasPrefix(code, "GIFT_"):
		category, subcategory, isGift = "Gift Voucher", giftVoucherSubcategory(description), true
	case strings.Contains(descUpper, "POSTAGE"), strings.Contains(descUpper, "SHIPPING"):
		category, subcategory = "Shipping", "Postage"
	case strings.Contains(descUpper, "DISCOUNT"):
		category, subcategory = "Discount", "Promotion"
	default:
		category, subcategory = "Merchandise", "General"
	}

	txnType := classifyTransactionType(category, isCreditInvoice, quantity, lineTotalSigned)

	return Classification{
		Category:        category,
		Subcategory:     subcategory,
		IsGift:          isGift,
		TransactionType: txnType,
	}
}

func matchesRule(code string) bool {
	return ruleFor(code) != nil
}

func ruleFor(code string) *stockRule {
	for i := range rules {
		if rules[i].codes[code] {
			return &rules[i]
		}
	}
	return nil
}

// giftVoucherSubcategory extracts the monetary amount from a description
// like "Gift Voucher £20" into "Voucher £20"; falls back to "Voucher" when
// no amount is present.
func giftVoucherSubcategory(description string) string {
	idx := strings.IndexAny(description, "£$€")
	if idx == -1 {
		return "Voucher"
	}
	_, symLen := utf8.DecodeRuneInString(description[idx:])
	end := idx + symLen
	for end < len(description) && (isDigit(description[end]) || description[end] == '.') {
		end++
	}
	amount := description[idx:end]
	if _, err := strconv.ParseFloat(strings.TrimLeft(amount, "£$€"), 64); err != nil {
		return "Voucher"
	}
	return "Voucher " + amount
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func classifyTransactionType(category string, isCreditInvoice bool, quantity int, lineTotalSigned int64) string {
	switch category {
	case "Fees":
		if isCreditInvoice {
			return types.TxnFeeReversal
		}
		return types.TxnFee
	case "Shipping":
		if isCreditInvoice {
			return types.TxnShippingRefund
		}
		return types.TxnShippingCharge
	case "Discount":
		if isCreditInvoice {
			return types.TxnDiscountReversal
		}
		return types.TxnDiscount
	case "Charity":
		return types.TxnDonation
	case "Adjustment":
		switch {
		case quantity < 0:
			return types.TxnAdjustmentOut
		case quantity > 0:
			return types.TxnAdjustmentIn
		default:
			return types.TxnAdjustment
		}
	case "Gift Voucher":
		if isCreditInvoice || quantity < 0 || lineTotalSigned < 0 {
			return types.TxnVoucherRedemption
		}
		return types.TxnVoucherSale
	case "Services":
		return types.TxnService
	default: // Merchandise / General and any unmatched category
		switch {
		case isCreditInvoice && quantity <= 0:
			return types.TxnReturn
		case !isCreditInvoice && quantity < 0:
			return types.TxnAdjustmentOut
		default:
			if isCreditInvoice {
				return types.TxnReturn
			}
			return types.TxnSale
		}
	}
}
