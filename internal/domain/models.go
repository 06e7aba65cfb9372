package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type ProductInput struct {
	Name  string          `json:"name" validate:"notblank,max=120"`
	Price decimal.Decimal `json:"price" validate:"gte=0,lte=9999999999.99"`
	Stock int             `json:"stock" validate:"gte=0"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta" validate:"ne=0"`
}

// ProductFilter narrows a catalog listing. Query matches a case-insensitive
// substring of the name.
type ProductFilter struct {
	Query       string
	InStockOnly bool
}

// StockPolicy decides what checkout does when a line asks for more than is
// on hand.
type StockPolicy struct {
	AllowOversell bool
}

type SaleLine struct {
	ProductID   *int64          `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l SaleLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Sale struct {
	ID            int64           `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	Detail        string          `json:"detail"`
	Customer      string          `json:"customer,omitempty"`
	ArchiveID     *int64          `json:"archive_id,omitempty"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
	Lines         []SaleLine      `json:"lines,omitempty"`
}

func (s Sale) Open() bool {
	return s.ArchiveID == nil
}

type SaleScope string

const (
	SaleScopeOpen    SaleScope = "open"
	SaleScopeArchive SaleScope = "archive"
	SaleScopeAll     SaleScope = "all"
)

type SaleFilter struct {
	Scope         SaleScope
	ArchiveID     int64
	PaymentMethod string
	Customer      string
}

type Archive struct {
	ID          int64           `json:"id"`
	ClosedAt    time.Time       `json:"closed_at"`
	CashTotal   decimal.Decimal `json:"cash_total"`
	CreditTotal decimal.Decimal `json:"credit_total"`
	SaleCount   int             `json:"sale_count"`
}

type ArchiveDetail struct {
	Archive Archive `json:"archive"`
	Sales   []Sale  `json:"sales"`
}

// CustomerCredit lists the credit sales a customer still owes.
type CustomerCredit struct {
	Customer string          `json:"customer"`
	Total    decimal.Decimal `json:"total"`
	Sales    []Sale          `json:"sales"`
}

type CustomerBalance struct {
	Customer string          `json:"customer"`
	Total    decimal.Decimal `json:"total"`
	Sales    int             `json:"sales"`
}

type SettleRequest struct {
	Customer      string `json:"customer" validate:"notblank"`
	PaymentMethod string `json:"payment_method" validate:"required"`
}

type SettlementResult struct {
	Customer      string          `json:"customer"`
	PaymentMethod string          `json:"payment_method"`
	Sales         int             `json:"sales"`
	Total         decimal.Decimal `json:"total"`
	SettledAt     time.Time       `json:"settled_at"`
}

type PaymentTotal struct {
	PaymentMethod string          `json:"payment_method"`
	Sales         int             `json:"sales"`
	Total         decimal.Decimal `json:"total"`
}

type PeriodSummary struct {
	Sales       int             `json:"sales"`
	GrossTotal  decimal.Decimal `json:"gross_total"`
	CashTotal   decimal.Decimal `json:"cash_total"`
	CreditTotal decimal.Decimal `json:"credit_total"`
	ByPayment   []PaymentTotal  `json:"by_payment"`
}

type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
	Customer      string `json:"customer"`
}

type AddCartItemRequest struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
}

type CartLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type CartView struct {
	SessionID string          `json:"session_id"`
	Lines     []CartLine      `json:"lines"`
	Total     decimal.Decimal `json:"total"`
}

// VoidResult reports what a sale deletion put back on the shelf.
type VoidResult struct {
	Sale     Sale       `json:"sale"`
	Restored []SaleLine `json:"restored"`
	Skipped  []string   `json:"skipped,omitempty"`
}

const (
	PaymentCash            = "cash"
	PaymentTransfer        = "transfer"
	PaymentCredit          = "credit"
	PaymentSettledCash     = "settled-cash"
	PaymentSettledTransfer = "settled-transfer"
)

// NormalizePaymentMethod maps the accepted spellings of an immediate payment
// method onto its canonical value. Settled methods are never accepted as
// input; they only result from settlement.
func NormalizePaymentMethod(method string) (string, bool) {
	switch method {
	case "cash", "efectivo":
		return PaymentCash, true
	case "transfer", "mobile-transfer", "transferencia":
		return PaymentTransfer, true
	case "credit", "fiado":
		return PaymentCredit, true
	default:
		return "", false
	}
}

// SettledMethod returns the payment method a credit sale carries after it is
// paid off with method.
func SettledMethod(method string) (string, bool) {
	switch method {
	case PaymentCash:
		return PaymentSettledCash, true
	case PaymentTransfer:
		return PaymentSettledTransfer, true
	default:
		return "", false
	}
}
