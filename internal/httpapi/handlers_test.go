package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/cache"
	"cafepos/internal/domain"
	"cafepos/internal/service"
	"cafepos/internal/store"
	"cafepos/internal/store/memory"
)

// newTestAPI builds a full API over an in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NewMemoryCartStore(), service.Options{HideOutOfStock: true})
	return New(svc, "*")
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body := bytes.NewReader(nil)
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err, "marshal")
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "decode body: %s", rec.Body.String())
	return out
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int, step string) {
	t.Helper()
	require.Equal(t, want, rec.Code, "%s (body: %s)", step, rec.Body.String())
}

func openCart(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/carts", nil)
	requireStatus(t, rec, http.StatusCreated, "open cart")
	body := decodeBody[struct {
		Cart domain.CartView `json:"cart"`
	}](t, rec)
	require.NotEmpty(t, body.Cart.SessionID)
	return body.Cart.SessionID
}

func sellCoffee(t *testing.T, handler http.Handler, method string, customer string) {
	t.Helper()
	session := openCart(t, handler)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/items", map[string]any{"product_id": 1})
	requireStatus(t, rec, http.StatusOK, "add coffee")
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/checkout", map[string]any{"payment_method": method, "customer": customer})
	requireStatus(t, rec, http.StatusCreated, "checkout")
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	requireStatus(t, rec, http.StatusOK, "health")
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestProductLifecycle(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", map[string]any{"name": "Tostado", "price": "1750.50", "stock": 4})
	requireStatus(t, rec, http.StatusCreated, "create")
	created := decodeBody[struct {
		Product domain.Product `json:"product"`
	}](t, rec).Product

	path := "/api/v1/products/" + itoa(created.ID)
	rec = doJSON(t, handler, http.MethodPut, path, map[string]any{"name": "Tostado mixto", "price": 1900, "stock": 4})
	requireStatus(t, rec, http.StatusOK, "update")

	rec = doJSON(t, handler, http.MethodPost, path+"/stock", map[string]any{"delta": -5})
	requireStatus(t, rec, http.StatusConflict, "adjust below zero")

	rec = doJSON(t, handler, http.MethodDelete, path, nil)
	requireStatus(t, rec, http.StatusNoContent, "delete")
	rec = doJSON(t, handler, http.MethodGet, path, nil)
	requireStatus(t, rec, http.StatusNotFound, "get deleted")
}

func TestCreateProductValidationReportsFields(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", map[string]any{"name": " ", "price": -1, "stock": 0})
	requireStatus(t, rec, http.StatusBadRequest, "invalid product")
	body := decodeBody[struct {
		Error  string `json:"error"`
		Fields []struct {
			FailedField string `json:"failed_field"`
		} `json:"fields"`
	}](t, rec)
	assert.Len(t, body.Fields, 2, "name and price failures")
}

func TestCreateProductRejectsPricesTheLedgerCannotStore(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for _, price := range []string{"0.125", "10000000000"} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", map[string]any{"name": "Alfajor", "price": price, "stock": 1})
		requireStatus(t, rec, http.StatusBadRequest, "price "+price)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products?all=true&q=alfajor", nil)
	requireStatus(t, rec, http.StatusOK, "list")
	products := decodeBody[struct {
		Products []domain.Product `json:"products"`
	}](t, rec).Products
	assert.Empty(t, products)
}

func TestCartCheckoutFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	session := openCart(t, handler)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/items", map[string]any{"product_id": 1})
		requireStatus(t, rec, http.StatusOK, "add item")
	}
	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/carts/"+session+"/items/1", nil)
	requireStatus(t, rec, http.StatusOK, "remove item")

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/checkout", map[string]any{"payment_method": "cash"})
	requireStatus(t, rec, http.StatusCreated, "checkout")
	sale := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec).Sale
	assert.Equal(t, "3000", sale.Total.StringFixed(0))
	assert.Equal(t, "Coffee(2)", sale.Detail)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales", nil)
	sales := decodeBody[struct {
		Sales []domain.Sale `json:"sales"`
	}](t, rec).Sales
	assert.Len(t, sales, 1)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/checkout", map[string]any{"payment_method": "cash"})
	requireStatus(t, rec, http.StatusUnprocessableEntity, "second checkout of the same cart")

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/sales/"+itoa(sale.ID), nil)
	requireStatus(t, rec, http.StatusOK, "delete sale")
}

func TestCartErrors(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/carts/unknown-session", nil)
	requireStatus(t, rec, http.StatusNotFound, "unknown cart")

	session := openCart(t, handler)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/items", map[string]any{"product_id": 999})
	requireStatus(t, rec, http.StatusNotFound, "unknown product")

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/items", map[string]any{"product_id": 1})
	requireStatus(t, rec, http.StatusOK, "add")
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/checkout", map[string]any{"payment_method": "credit"})
	requireStatus(t, rec, http.StatusBadRequest, "credit without customer")

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/clear", nil)
	requireStatus(t, rec, http.StatusOK, "clear")
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/carts/"+session+"/checkout", map[string]any{"payment_method": "cash"})
	requireStatus(t, rec, http.StatusUnprocessableEntity, "checkout after clear")

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/carts/"+session, nil)
	requireStatus(t, rec, http.StatusNoContent, "discard")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/carts/"+session, nil)
	requireStatus(t, rec, http.StatusNotFound, "discarded cart")
}

func TestShiftAndReceivables(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/close", nil)
	requireStatus(t, rec, http.StatusConflict, "close empty shift")

	sellCoffee(t, handler, "fiado", "Ana")

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/receivables", nil)
	balances := decodeBody[struct {
		Receivables []domain.CustomerBalance `json:"receivables"`
	}](t, rec).Receivables
	require.Len(t, balances, 1)
	assert.Equal(t, "Ana", balances[0].Customer)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/shifts/summary", nil)
	requireStatus(t, rec, http.StatusOK, "summary")

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/shifts/close", nil)
	requireStatus(t, rec, http.StatusCreated, "close shift")
	archive := decodeBody[struct {
		Archive domain.Archive `json:"archive"`
	}](t, rec).Archive
	assert.True(t, archive.CashTotal.IsZero())
	assert.Equal(t, 1, archive.SaleCount)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/shifts/archives/"+itoa(archive.ID), nil)
	requireStatus(t, rec, http.StatusOK, "archive detail")

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/receivables/settle", map[string]any{"customer": "Ana", "payment_method": "credit"})
	requireStatus(t, rec, http.StatusBadRequest, "settle with credit")
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/receivables/settle", map[string]any{"customer": "Ana", "payment_method": "transferencia"})
	requireStatus(t, rec, http.StatusOK, "settle")
}

func TestCustomerCreditLookup(t *testing.T) {
	handler := newTestAPI(t).Handler()
	sellCoffee(t, handler, "credit", "Ana María")
	sellCoffee(t, handler, "credit", "Ana María")
	sellCoffee(t, handler, "credit", "Luis")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/receivables?customer="+url.QueryEscape("Ana María"), nil)
	requireStatus(t, rec, http.StatusOK, "customer credit")
	credit := decodeBody[struct {
		Credit domain.CustomerCredit `json:"credit"`
	}](t, rec).Credit
	assert.Equal(t, "Ana María", credit.Customer)
	assert.Len(t, credit.Sales, 2)
	assert.Equal(t, "3000.00", credit.Total.StringFixed(2))

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/receivables?customer=Nadie", nil)
	requireStatus(t, rec, http.StatusNotFound, "customer without credit")
}

func TestExportSalesCSV(t *testing.T) {
	handler := newTestAPI(t).Handler()
	sellCoffee(t, handler, "cash", "")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/exports/sales?scope=open&itemized=true", nil)
	requireStatus(t, rec, http.StatusOK, "export")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Coffee", rows[1][2])

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/exports/sales?scope=weekly", nil)
	requireStatus(t, rec, http.StatusBadRequest, "bad scope")
}

type failingRepo struct {
	store.Repository
}

func (failingRepo) ListProducts(context.Context, domain.ProductFilter) ([]domain.Product, error) {
	return nil, store.Wrap("list products", errors.New("connection refused"))
}

func TestStorageErrorReturns503WithGenericMessage(t *testing.T) {
	svc := service.New(failingRepo{}, cache.NewMemoryCartStore(), service.Options{})
	handler := New(svc, "*").Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", nil)
	requireStatus(t, rec, http.StatusServiceUnavailable, "storage failure")
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "internal server error", body["error"])
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
