package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cafepos/internal/domain"
)

// Money columns are NUMERIC(12,2) for prices and NUMERIC(14,2) for totals.
var (
	MaxPrice     = decimal.RequireFromString("9999999999.99")
	MaxSaleTotal = decimal.RequireFromString("999999999999.99")
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid input")
	ErrConflict          = errors.New("state conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNothingToSell     = errors.New("nothing to sell")
)

// StorageError wraps a failure of the backing store. The operation that was
// running is kept so the boundary can log it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap turns a backend error into a *StorageError unless it already carries
// one of the package sentinels.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrNotFound, ErrValidation, ErrConflict, ErrInsufficientStock, ErrNothingToSell} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// CheckProduct holds every backend to the same product rules, so a price is
// never stored with more precision than the relational schema keeps.
func CheckProduct(product domain.Product) error {
	if strings.TrimSpace(product.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := CheckPrice(product.Price); err != nil {
		return err
	}
	if product.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrValidation)
	}
	return nil
}

func CheckPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	if !price.Equal(price.Round(2)) {
		return fmt.Errorf("%w: price %s has more than 2 decimal places", ErrValidation, price)
	}
	if price.GreaterThan(MaxPrice) {
		return fmt.Errorf("%w: price %s exceeds %s", ErrValidation, price, MaxPrice.StringFixed(2))
	}
	return nil
}

func CheckSaleTotal(total decimal.Decimal) error {
	if total.GreaterThan(MaxSaleTotal) {
		return fmt.Errorf("%w: sale total %s exceeds %s", ErrValidation, total, MaxSaleTotal.StringFixed(2))
	}
	return nil
}

type Repository interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	AdjustStock(ctx context.Context, id int64, delta int) (*domain.Product, error)

	// CreateSale inserts the sale with its lines and decrements stock for
	// every line that references a product, all or nothing.
	CreateSale(ctx context.Context, sale domain.Sale, policy domain.StockPolicy) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	// DeleteSale returns each item's stock to the product with the same name
	// and removes the sale, all or nothing. Items whose name does not resolve
	// are reported in VoidResult.Skipped.
	DeleteSale(ctx context.Context, id int64) (*domain.VoidResult, error)
	SettleCredit(ctx context.Context, customer string, settledMethod string, at time.Time) ([]domain.Sale, error)

	CloseShift(ctx context.Context, at time.Time) (*domain.Archive, error)
	ListArchives(ctx context.Context) ([]domain.Archive, error)
	GetArchive(ctx context.Context, id int64) (*domain.Archive, error)
}
