package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/domain"
	"cafepos/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CAFEPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CAFEPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err, "new store")
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx), "migrate")
	return s
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s %d", prefix, time.Now().UnixNano())
}

func createTestProduct(t *testing.T, s *Store, name string, price string, stock int) domain.Product {
	t.Helper()
	ctx := context.Background()
	product, err := s.CreateProduct(ctx, domain.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock})
	require.NoError(t, err, "create product %s", name)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})
	return *product
}

func createTestSale(t *testing.T, s *Store, product domain.Product, qty int, method string, customer string) domain.Sale {
	t.Helper()
	ctx := context.Background()
	productID := product.ID
	sale, err := s.CreateSale(ctx, domain.Sale{
		Total:         product.Price.Mul(decimal.NewFromInt(int64(qty))),
		PaymentMethod: method,
		Customer:      customer,
		Detail:        fmt.Sprintf("%s(%d)", product.Name, qty),
		Lines: []domain.SaleLine{
			{ProductID: &productID, ProductName: product.Name, Quantity: qty, UnitPrice: product.Price},
		},
	}, domain.StockPolicy{})
	require.NoError(t, err, "create sale")
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, sale.ID)
	})
	return *sale
}

func TestTranslateMapsPgCodes(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"23514", store.ErrValidation},
		{"22003", store.ErrValidation},
		{"40001", store.ErrConflict},
		{"40P01", store.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := translate(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tt.code}))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	other := errors.New("connection reset")
	assert.Equal(t, other, translate(other))
}

func TestDeleteSaleRestocksProduct(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	product := createTestProduct(t, s, uniqueName("Void IT"), "1500.50", 10)
	sale := createTestSale(t, s, product, 2, domain.PaymentCash, "")

	got, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Stock)

	stored, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1)
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("3001")), "total %s", stored.Total)

	result, err := s.DeleteSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, result.Restored, 1)
	assert.Empty(t, result.Skipped)

	got, err = s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Stock, "void restocks the product")
	_, err = s.GetSale(ctx, sale.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSaleRejectsOversellWithoutWriting(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	name := uniqueName("Oversell IT")
	product := createTestProduct(t, s, name, "100", 1)

	productID := product.ID
	_, err := s.CreateSale(ctx, domain.Sale{
		Total:         decimal.NewFromInt(200),
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.SaleLine{{ProductID: &productID, ProductName: name, Quantity: 2, UnitPrice: product.Price}},
	}, domain.StockPolicy{})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT count(*) FROM sale_items WHERE product_id = $1`, product.ID).Scan(&count))
	assert.Zero(t, count, "no sale items written")
}

func TestProductPriceRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	product := createTestProduct(t, s, uniqueName("Price IT"), "2200.5", 1)
	assert.Equal(t, "2200.50", product.Price.StringFixed(2))

	product.Price = decimal.RequireFromString("9999999999.99")
	updated, err := s.UpdateProduct(ctx, product)
	require.NoError(t, err)
	got, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(updated.Price), "stored %s, returned %s", got.Price, updated.Price)

	product.Price = decimal.RequireFromString("0.125")
	_, err = s.UpdateProduct(ctx, product)
	require.ErrorIs(t, err, store.ErrValidation)
	got, err = s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(updated.Price), "rejected update left %s", got.Price)
}

func TestListProductsFilterAndOrder(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	tag := uniqueName("Listing")
	lower := createTestProduct(t, s, "x "+tag+" agua", "500", 3)
	upper := createTestProduct(t, s, "X "+tag+" Agua", "500", 3)
	empty := createTestProduct(t, s, "X "+tag+" Tea", "800", 0)

	all, err := s.ListProducts(ctx, domain.ProductFilter{Query: tag})
	require.NoError(t, err)
	ids := make([]int64, 0, len(all))
	for _, p := range all {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{upper.ID, empty.ID, lower.ID}, ids, "names sort by byte order")

	inStock, err := s.ListProducts(ctx, domain.ProductFilter{Query: tag + " AGUA", InStockOnly: true})
	require.NoError(t, err)
	assert.Len(t, inStock, 2, "query is case-insensitive")

	inStock, err = s.ListProducts(ctx, domain.ProductFilter{Query: tag, InStockOnly: true})
	require.NoError(t, err)
	for _, p := range inStock {
		assert.NotEqual(t, empty.ID, p.ID, "zero-stock product is hidden")
	}
}

func TestSettleCreditRewritesOnlyThatCustomer(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	product := createTestProduct(t, s, uniqueName("Settle IT"), "2500", 10)
	ana := uniqueName("Ana")
	luis := uniqueName("Luis")
	createTestSale(t, s, product, 1, domain.PaymentCredit, ana)
	createTestSale(t, s, product, 2, domain.PaymentCredit, ana)
	luisSale := createTestSale(t, s, product, 1, domain.PaymentCredit, luis)

	owed, err := s.ListSales(ctx, domain.SaleFilter{Scope: domain.SaleScopeAll, PaymentMethod: domain.PaymentCredit, Customer: ana})
	require.NoError(t, err)
	assert.Len(t, owed, 2)

	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	settled, err := s.SettleCredit(ctx, ana, domain.PaymentSettledTransfer, at)
	require.NoError(t, err)
	require.Len(t, settled, 2)
	for _, sale := range settled {
		assert.Equal(t, domain.PaymentSettledTransfer, sale.PaymentMethod)
		require.NotNil(t, sale.SettledAt)
		assert.True(t, sale.SettledAt.Equal(at))
		assert.Len(t, sale.Lines, 1)
	}

	_, err = s.SettleCredit(ctx, ana, domain.PaymentSettledTransfer, at)
	require.ErrorIs(t, err, store.ErrNotFound)

	untouched, err := s.GetSale(ctx, luisSale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCredit, untouched.PaymentMethod)
	assert.Nil(t, untouched.SettledAt)
}

// CloseShift archives every open sale in the database, so this test expects
// a database dedicated to tests.
func TestCloseShiftArchivesOpenSales(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	product := createTestProduct(t, s, uniqueName("Shift IT"), "100", 20)
	cash := createTestSale(t, s, product, 2, domain.PaymentCash, "")
	createTestSale(t, s, product, 1, domain.PaymentTransfer, "")
	createTestSale(t, s, product, 3, domain.PaymentCredit, uniqueName("Ana"))

	before, err := s.ListSales(ctx, domain.SaleFilter{Scope: domain.SaleScopeOpen})
	require.NoError(t, err)

	archive, err := s.CloseShift(ctx, time.Now().UTC())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE archive_id = $1`, archive.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM archives WHERE id = $1`, archive.ID)
	})
	assert.Equal(t, len(before), archive.SaleCount)
	assert.True(t, archive.CreditTotal.GreaterThanOrEqual(decimal.NewFromInt(300)), "credit %s", archive.CreditTotal)

	open, err := s.ListSales(ctx, domain.SaleFilter{Scope: domain.SaleScopeOpen})
	require.NoError(t, err)
	assert.Empty(t, open)

	archived, err := s.ListSales(ctx, domain.SaleFilter{Scope: domain.SaleScopeArchive, ArchiveID: archive.ID})
	require.NoError(t, err)
	assert.Len(t, archived, archive.SaleCount)

	stored, err := s.GetArchive(ctx, archive.ID)
	require.NoError(t, err)
	assert.True(t, stored.CashTotal.Equal(archive.CashTotal), "stored %s, returned %s", stored.CashTotal, archive.CashTotal)

	_, err = s.DeleteSale(ctx, cash.ID)
	require.ErrorIs(t, err, store.ErrConflict, "archived sales are frozen")
	_, err = s.CloseShift(ctx, time.Now().UTC())
	require.ErrorIs(t, err, store.ErrConflict)
}
