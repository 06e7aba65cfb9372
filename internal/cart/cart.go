// Package cart holds the lines of one checkout session. Names and prices are
// captured when a product is first added and are not refreshed from the
// catalog afterwards.
package cart

import (
	"errors"

	"github.com/shopspring/decimal"

	"cafepos/internal/detail"
	"cafepos/internal/domain"
)

var (
	ErrOutOfStock = errors.New("product out of stock")
	ErrNotInCart  = errors.New("product not in cart")
)

type Line struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Cart is not safe for concurrent use; a session owns it exclusively.
type Cart struct {
	Items []Line `json:"items"`
}

func New() *Cart {
	return &Cart{Items: make([]Line, 0, 4)}
}

// Add puts one unit of product in the cart. Unless oversell is allowed, it is
// refused when the cart already holds as many units as stock has.
func (c *Cart) Add(product domain.Product, allowOversell bool) error {
	idx := c.index(product.ID)
	inCart := 0
	if idx >= 0 {
		inCart = c.Items[idx].Quantity
	}
	if !allowOversell && product.Stock <= inCart {
		return ErrOutOfStock
	}

	if idx >= 0 {
		c.Items[idx].Quantity++
		return nil
	}
	c.Items = append(c.Items, Line{
		ProductID: product.ID,
		Name:      product.Name,
		Price:     product.Price,
		Quantity:  1,
	})
	return nil
}

func (c *Cart) Remove(productID int64) error {
	idx := c.index(productID)
	if idx < 0 {
		return ErrNotInCart
	}
	c.Items[idx].Quantity--
	if c.Items[idx].Quantity <= 0 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	}
	return nil
}

func (c *Cart) Clear() {
	c.Items = c.Items[:0]
}

func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

func (c *Cart) Quantity(productID int64) int {
	if idx := c.index(productID); idx >= 0 {
		return c.Items[idx].Quantity
	}
	return 0
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Items {
		total = total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// Lines returns a copy of the cart lines in the order they were first added.
func (c *Cart) Lines() []Line {
	lines := make([]Line, len(c.Items))
	copy(lines, c.Items)
	return lines
}

// SaleLines converts the cart into ledger lines.
func (c *Cart) SaleLines() []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(c.Items))
	for _, item := range c.Items {
		productID := item.ProductID
		lines = append(lines, domain.SaleLine{
			ProductID:   &productID,
			ProductName: item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.Price,
		})
	}
	return lines
}

// Detail renders the cart in the ledger's flattened detail form.
func (c *Cart) Detail() string {
	items := make([]detail.Item, 0, len(c.Items))
	for _, line := range c.Items {
		items = append(items, detail.Item{Name: line.Name, Quantity: line.Quantity})
	}
	return detail.Encode(items)
}

func (c *Cart) index(productID int64) int {
	for i, line := range c.Items {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}
