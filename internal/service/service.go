package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cafepos/internal/cache"
	"cafepos/internal/cart"
	"cafepos/internal/detail"
	"cafepos/internal/domain"
	"cafepos/internal/ledger"
	"cafepos/internal/store"
	"cafepos/internal/validate"
)

const defaultCartTTL = 12 * time.Hour

type Options struct {
	// AllowOversell lets checkout sell more than is on hand; stock is then
	// clamped at zero instead of rejecting the sale.
	AllowOversell bool
	// HideOutOfStock drops zero-stock products from the counter listing.
	HideOutOfStock bool
	CartTTL        time.Duration
	Now            func() time.Time
}

type Service struct {
	repo  store.Repository
	carts cache.CartStore
	opts  Options

	// writeMu serializes the operations that move stock or rewrite the
	// ledger.
	writeMu sync.Mutex
}

func New(repo store.Repository, carts cache.CartStore, opts Options) *Service {
	if carts == nil {
		carts = cache.NewMemoryCartStore()
	}
	if opts.CartTTL <= 0 {
		opts.CartTTL = defaultCartTTL
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:  repo,
		carts: carts,
		opts:  opts,
	}
}

func (s *Service) ListAvailable(ctx context.Context, query string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, domain.ProductFilter{
		Query:       strings.TrimSpace(query),
		InStockOnly: s.opts.HideOutOfStock,
	})
}

// ListCatalog lists every product, including those out of stock.
func (s *Service) ListCatalog(ctx context.Context, query string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, domain.ProductFilter{Query: strings.TrimSpace(query)})
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) AddProduct(ctx context.Context, req domain.ProductInput) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return domain.Product{}, err
	}
	warnUnsafeName(req.Name)

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductInput) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return domain.Product{}, err
	}
	warnUnsafeName(req.Name)

	saved, err := s.repo.UpdateProduct(ctx, domain.Product{
		ID:    id,
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	return s.repo.DeleteProduct(ctx, id)
}

func (s *Service) AdjustStock(ctx context.Context, id int64, req domain.StockAdjustRequest) (domain.Product, error) {
	if err := validate.Struct(req); err != nil {
		return domain.Product{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	product, err := s.repo.AdjustStock(ctx, id, req.Delta)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) OpenCart(ctx context.Context) (domain.CartView, error) {
	sessionID := uuid.NewString()
	c := cart.New()
	if err := s.carts.Set(ctx, sessionID, c, s.opts.CartTTL); err != nil {
		return domain.CartView{}, store.Wrap("open cart", err)
	}
	return cartView(sessionID, c), nil
}

func (s *Service) GetCart(ctx context.Context, sessionID string) (domain.CartView, error) {
	c, err := s.loadCart(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	return cartView(sessionID, c), nil
}

func (s *Service) AddToCart(ctx context.Context, sessionID string, req domain.AddCartItemRequest) (domain.CartView, error) {
	if err := validate.Struct(req); err != nil {
		return domain.CartView{}, err
	}
	c, err := s.loadCart(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.CartView{}, err
	}

	if err := c.Add(*product, s.opts.AllowOversell); err != nil {
		if errors.Is(err, cart.ErrOutOfStock) {
			return domain.CartView{}, fmt.Errorf("%w: %s has %d in stock", store.ErrInsufficientStock, product.Name, product.Stock)
		}
		return domain.CartView{}, err
	}
	if err := s.carts.Set(ctx, sessionID, c, s.opts.CartTTL); err != nil {
		return domain.CartView{}, store.Wrap("save cart", err)
	}
	return cartView(sessionID, c), nil
}

func (s *Service) RemoveFromCart(ctx context.Context, sessionID string, productID int64) (domain.CartView, error) {
	c, err := s.loadCart(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	if err := c.Remove(productID); err != nil {
		if errors.Is(err, cart.ErrNotInCart) {
			return domain.CartView{}, fmt.Errorf("%w: product %d is not in the cart", store.ErrNotFound, productID)
		}
		return domain.CartView{}, err
	}
	if err := s.carts.Set(ctx, sessionID, c, s.opts.CartTTL); err != nil {
		return domain.CartView{}, store.Wrap("save cart", err)
	}
	return cartView(sessionID, c), nil
}

func (s *Service) ClearCart(ctx context.Context, sessionID string) (domain.CartView, error) {
	c, err := s.loadCart(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	c.Clear()
	if err := s.carts.Set(ctx, sessionID, c, s.opts.CartTTL); err != nil {
		return domain.CartView{}, store.Wrap("save cart", err)
	}
	return cartView(sessionID, c), nil
}

// DiscardCart drops a cart session. Nothing is sold.
func (s *Service) DiscardCart(ctx context.Context, sessionID string) error {
	if _, err := s.loadCart(ctx, sessionID); err != nil {
		return err
	}
	if err := s.carts.Delete(ctx, sessionID); err != nil {
		return store.Wrap("discard cart", err)
	}
	return nil
}

// Checkout sells the contents of a cart session. The session is emptied
// before the sale is recorded and refilled if recording fails, so one cart is
// never sold twice.
func (s *Service) Checkout(ctx context.Context, sessionID string, req domain.CheckoutRequest) (domain.Sale, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	c, err := s.loadCart(ctx, sessionID)
	if err != nil {
		return domain.Sale{}, err
	}
	if c.Empty() {
		return domain.Sale{}, store.ErrNothingToSell
	}
	method, customer, err := checkoutTerms(req)
	if err != nil {
		return domain.Sale{}, err
	}

	if err := s.carts.Set(ctx, sessionID, cart.New(), s.opts.CartTTL); err != nil {
		return domain.Sale{}, store.Wrap("clear cart", err)
	}
	sale, err := s.recordSale(ctx, c, method, customer)
	if err != nil {
		if restoreErr := s.carts.Set(ctx, sessionID, c, s.opts.CartTTL); restoreErr != nil {
			log.Printf("[service] WARN: checkout of cart %s failed and the cart could not be restored: %v", sessionID, restoreErr)
		}
		return domain.Sale{}, err
	}
	return sale, nil
}

// CheckoutCart sells a cart that is not kept in a session.
func (s *Service) CheckoutCart(ctx context.Context, c *cart.Cart, req domain.CheckoutRequest) (domain.Sale, error) {
	if c == nil || c.Empty() {
		return domain.Sale{}, store.ErrNothingToSell
	}
	method, customer, err := checkoutTerms(req)
	if err != nil {
		return domain.Sale{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.recordSale(ctx, c, method, customer)
}

// recordSale expects writeMu to be held.
func (s *Service) recordSale(ctx context.Context, c *cart.Cart, method string, customer string) (domain.Sale, error) {
	created, err := s.repo.CreateSale(ctx, domain.Sale{
		CreatedAt:     s.opts.Now(),
		Total:         c.Total(),
		PaymentMethod: method,
		Detail:        c.Detail(),
		Customer:      customer,
		Lines:         c.SaleLines(),
	}, domain.StockPolicy{AllowOversell: s.opts.AllowOversell})
	if err != nil {
		return domain.Sale{}, err
	}
	return *created, nil
}

func checkoutTerms(req domain.CheckoutRequest) (string, string, error) {
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if err := validate.Struct(req); err != nil {
		return "", "", err
	}
	method, ok := domain.NormalizePaymentMethod(req.PaymentMethod)
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod)
	}

	customer := strings.TrimSpace(req.Customer)
	if method != domain.PaymentCredit {
		return method, "", nil
	}
	if customer == "" {
		return "", "", fmt.Errorf("%w: credit sales need a customer name", store.ErrValidation)
	}
	return method, customer, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) OutstandingByCustomer(ctx context.Context) ([]domain.CustomerBalance, error) {
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{
		Scope:         domain.SaleScopeAll,
		PaymentMethod: domain.PaymentCredit,
	})
	if err != nil {
		return nil, err
	}
	return ledger.OutstandingByCustomer(sales), nil
}

// CustomerCredit returns the unpaid credit sales of one customer, newest
// first.
func (s *Service) CustomerCredit(ctx context.Context, customer string) (domain.CustomerCredit, error) {
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return domain.CustomerCredit{}, fmt.Errorf("%w: customer is required", store.ErrValidation)
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{
		Scope:         domain.SaleScopeAll,
		PaymentMethod: domain.PaymentCredit,
		Customer:      customer,
	})
	if err != nil {
		return domain.CustomerCredit{}, err
	}
	if len(sales) == 0 {
		return domain.CustomerCredit{}, fmt.Errorf("%w: no outstanding credit for %q", store.ErrNotFound, customer)
	}
	return domain.CustomerCredit{
		Customer: customer,
		Total:    ledger.CreditTotal(sales),
		Sales:    sales,
	}, nil
}

// Settle marks every credit sale of a customer as paid with the given method.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.SettlementResult, error) {
	req.Customer = strings.TrimSpace(req.Customer)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if err := validate.Struct(req); err != nil {
		return domain.SettlementResult{}, err
	}
	method, ok := domain.NormalizePaymentMethod(req.PaymentMethod)
	if !ok {
		return domain.SettlementResult{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	settledMethod, ok := domain.SettledMethod(method)
	if !ok {
		return domain.SettlementResult{}, fmt.Errorf("%w: credit must be settled with cash or transfer", store.ErrValidation)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	at := s.opts.Now()
	settled, err := s.repo.SettleCredit(ctx, req.Customer, settledMethod, at)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	total := decimal.Zero
	for _, sale := range settled {
		total = total.Add(sale.Total)
	}
	return domain.SettlementResult{
		Customer:      req.Customer,
		PaymentMethod: settledMethod,
		Sales:         len(settled),
		Total:         total,
		SettledAt:     at,
	}, nil
}

// OpenSales returns the sales not yet closed into an archive, newest first.
func (s *Service) OpenSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, domain.SaleFilter{Scope: domain.SaleScopeOpen})
}

func (s *Service) OpenSummary(ctx context.Context) (domain.PeriodSummary, error) {
	sales, err := s.OpenSales(ctx)
	if err != nil {
		return domain.PeriodSummary{}, err
	}
	return ledger.Summarize(sales), nil
}

func (s *Service) CloseShift(ctx context.Context) (domain.Archive, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	archive, err := s.repo.CloseShift(ctx, s.opts.Now())
	if err != nil {
		return domain.Archive{}, err
	}
	log.Printf("[service] shift closed archive=%d sales=%d cash_total=%s credit_total=%s",
		archive.ID, archive.SaleCount, archive.CashTotal.StringFixed(2), archive.CreditTotal.StringFixed(2))
	return *archive, nil
}

func (s *Service) History(ctx context.Context) ([]domain.Archive, error) {
	return s.repo.ListArchives(ctx)
}

func (s *Service) DetailFor(ctx context.Context, archiveID int64) (domain.ArchiveDetail, error) {
	archive, err := s.repo.GetArchive(ctx, archiveID)
	if err != nil {
		return domain.ArchiveDetail{}, err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{
		Scope:     domain.SaleScopeArchive,
		ArchiveID: archiveID,
	})
	if err != nil {
		return domain.ArchiveDetail{}, err
	}
	return domain.ArchiveDetail{Archive: *archive, Sales: sales}, nil
}

// DeleteSale removes an open sale and puts its items back on the shelf.
func (s *Service) DeleteSale(ctx context.Context, id int64) (domain.VoidResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.repo.DeleteSale(ctx, id)
	if err != nil {
		return domain.VoidResult{}, err
	}
	for _, name := range result.Skipped {
		log.Printf("[service] WARN: sale %d deleted but %q no longer matches a product; stock not restored", id, name)
	}
	return *result, nil
}

func (s *Service) loadCart(ctx context.Context, sessionID string) (*cart.Cart, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: cart session id is required", store.ErrValidation)
	}
	c, found, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, store.Wrap("load cart", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: cart session %s", store.ErrNotFound, sessionID)
	}
	return c, nil
}

func cartView(sessionID string, c *cart.Cart) domain.CartView {
	lines := make([]domain.CartLine, 0, len(c.Items))
	for _, line := range c.Lines() {
		lines = append(lines, domain.CartLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     line.Price,
			Quantity:  line.Quantity,
		})
	}
	return domain.CartView{SessionID: sessionID, Lines: lines, Total: c.Total()}
}

func warnUnsafeName(name string) {
	if !detail.Safe(name) {
		log.Printf("[service] WARN: product name %q contains detail separators; legacy stock restore may not match it", name)
	}
}
