package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cafepos/internal/domain"
	"cafepos/internal/ledger"
	"cafepos/internal/store"
)

type Store struct {
	mu            sync.RWMutex
	products      map[int64]domain.Product
	salesByID     map[int64]*domain.Sale
	archivesByID  map[int64]domain.Archive
	nextProductID int64
	nextSaleID    int64
	nextArchiveID int64
	now           func() time.Time
}

func New() *Store {
	return &Store{
		products:      make(map[int64]domain.Product),
		salesByID:     make(map[int64]*domain.Sale),
		archivesByID:  make(map[int64]domain.Archive),
		nextProductID: 1,
		nextSaleID:    1,
		nextArchiveID: 1,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store holding a small café menu for demo mode.
func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{Name: "Coffee", Price: decimal.NewFromInt(1500), Stock: 40},
		{Name: "Cafe con leche", Price: decimal.NewFromInt(1800), Stock: 40},
		{Name: "Tea", Price: decimal.NewFromInt(1200), Stock: 30},
		{Name: "Medialuna", Price: decimal.NewFromInt(700), Stock: 48},
		{Name: "Croissant", Price: decimal.RequireFromString("2200.50"), Stock: 12},
		{Name: "Empanada de pollo", Price: decimal.NewFromInt(2500), Stock: 24},
		{Name: "Jugo de naranja", Price: decimal.NewFromInt(2000), Stock: 15},
		{Name: "Agua 500ml", Price: decimal.NewFromInt(900), Stock: 60},
	} {
		p.ID = s.nextProductID
		s.nextProductID++
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.InStockOnly && p.Stock <= 0 {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return cmpInt64(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.CheckProduct(product); err != nil {
		return nil, err
	}
	product.ID = s.nextProductID
	s.nextProductID++
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.CheckProduct(product); err != nil {
		return nil, err
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, id int64, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Stock+delta < 0 {
		return nil, fmt.Errorf("%w: %s has %d, adjustment %d", store.ErrInsufficientStock, product.Name, product.Stock, delta)
	}
	product.Stock += delta
	s.products[id] = product
	return &product, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, policy domain.StockPolicy) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Lines) == 0 {
		return nil, store.ErrNothingToSell
	}
	if err := store.CheckSaleTotal(sale.Total); err != nil {
		return nil, err
	}

	demand := make(map[int64]int, len(sale.Lines))
	lines := make([]domain.SaleLine, len(sale.Lines))
	for i, line := range sale.Lines {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be at least 1", store.ErrValidation, line.ProductName)
		}
		lines[i] = line
		if line.ProductID == nil {
			continue
		}
		if _, exists := s.products[*line.ProductID]; !exists {
			lines[i].ProductID = nil
			continue
		}
		demand[*line.ProductID] += line.Quantity
	}

	if !policy.AllowOversell {
		for id, qty := range demand {
			product := s.products[id]
			if product.Stock < qty {
				return nil, fmt.Errorf("%w: %s has %d, need %d", store.ErrInsufficientStock, product.Name, product.Stock, qty)
			}
		}
	}

	for id, qty := range demand {
		product := s.products[id]
		product.Stock = max(product.Stock-qty, 0)
		s.products[id] = product
	}

	sale.ID = s.nextSaleID
	s.nextSaleID++
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = s.now()
	}
	sale.ArchiveID = nil
	sale.SettledAt = nil
	sale.Lines = lines

	s.salesByID[sale.ID] = cloneSale(&sale)
	return cloneSale(&sale), nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listSalesLocked(filter), nil
}

func (s *Store) listSalesLocked(filter domain.SaleFilter) []domain.Sale {
	out := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		switch filter.Scope {
		case domain.SaleScopeOpen:
			if !sale.Open() {
				continue
			}
		case domain.SaleScopeArchive:
			if sale.ArchiveID == nil || *sale.ArchiveID != filter.ArchiveID {
				continue
			}
		}
		if filter.PaymentMethod != "" && sale.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if filter.Customer != "" && sale.Customer != filter.Customer {
			continue
		}
		out = append(out, *cloneSale(sale))
	}

	slices.SortFunc(out, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpInt64(b.ID, a.ID)
	})
	return out
}

func (s *Store) DeleteSale(_ context.Context, id int64) (*domain.VoidResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !sale.Open() {
		return nil, fmt.Errorf("%w: sale %d belongs to archive %d", store.ErrConflict, id, *sale.ArchiveID)
	}

	result := &domain.VoidResult{Sale: *cloneSale(sale), Restored: []domain.SaleLine{}}
	for _, item := range ledger.VoidItems(*sale) {
		productID, found := s.productIDByNameLocked(item.Name)
		if !found {
			result.Skipped = append(result.Skipped, item.Name)
			continue
		}
		product := s.products[productID]
		product.Stock += item.Quantity
		s.products[productID] = product
		result.Restored = append(result.Restored, domain.SaleLine{
			ProductID:   &productID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		})
	}

	delete(s.salesByID, id)
	return result, nil
}

func (s *Store) SettleCredit(_ context.Context, customer string, settledMethod string, at time.Time) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settled := make([]domain.Sale, 0)
	for _, sale := range s.salesByID {
		if sale.PaymentMethod != domain.PaymentCredit || sale.Customer != customer {
			continue
		}
		sale.PaymentMethod = settledMethod
		settledAt := at
		sale.SettledAt = &settledAt
		settled = append(settled, *cloneSale(sale))
	}
	if len(settled) == 0 {
		return nil, fmt.Errorf("%w: no outstanding credit for %q", store.ErrNotFound, customer)
	}

	slices.SortFunc(settled, func(a, b domain.Sale) int { return cmpInt64(a.ID, b.ID) })
	return settled, nil
}

func (s *Store) CloseShift(_ context.Context, at time.Time) (*domain.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := s.listSalesLocked(domain.SaleFilter{Scope: domain.SaleScopeOpen})
	if len(open) == 0 {
		return nil, fmt.Errorf("%w: nothing to close", store.ErrConflict)
	}

	archive := domain.Archive{
		ID:          s.nextArchiveID,
		ClosedAt:    at,
		CashTotal:   ledger.CashTotal(open),
		CreditTotal: ledger.CreditTotal(open),
		SaleCount:   len(open),
	}
	s.nextArchiveID++
	s.archivesByID[archive.ID] = archive

	for _, sale := range open {
		archiveID := archive.ID
		s.salesByID[sale.ID].ArchiveID = &archiveID
	}
	return &archive, nil
}

func (s *Store) ListArchives(_ context.Context) ([]domain.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	archives := make([]domain.Archive, 0, len(s.archivesByID))
	for _, archive := range s.archivesByID {
		archives = append(archives, archive)
	}
	slices.SortFunc(archives, func(a, b domain.Archive) int { return cmpInt64(b.ID, a.ID) })
	return archives, nil
}

func (s *Store) GetArchive(_ context.Context, id int64) (*domain.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	archive, ok := s.archivesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &archive, nil
}

// productIDByNameLocked resolves an exact product name, lowest id first.
func (s *Store) productIDByNameLocked(name string) (int64, bool) {
	var (
		best  int64
		found bool
	)
	for id, p := range s.products {
		if p.Name != name {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found
}

func cmpInt64(a int64, b int64) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dupLines := make([]domain.SaleLine, len(src.Lines))
	for i, line := range src.Lines {
		dupLines[i] = line
		if line.ProductID != nil {
			id := *line.ProductID
			dupLines[i].ProductID = &id
		}
	}
	dup.Lines = dupLines
	if src.ArchiveID != nil {
		id := *src.ArchiveID
		dup.ArchiveID = &id
	}
	if src.SettledAt != nil {
		at := *src.SettledAt
		dup.SettledAt = &at
	}
	return &dup
}
