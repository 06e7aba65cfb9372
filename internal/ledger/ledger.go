// Package ledger computes the figures the counter reports on: till cash,
// receivables per customer and period summaries. All functions are pure and
// take sales already loaded by a store.
package ledger

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"cafepos/internal/detail"
	"cafepos/internal/domain"
)

// CashTotal sums every sale that brought money into the till, which is every
// method except unpaid credit.
func CashTotal(sales []domain.Sale) decimal.Decimal {
	total := decimal.Zero
	for _, sale := range sales {
		if sale.PaymentMethod == domain.PaymentCredit {
			continue
		}
		total = total.Add(sale.Total)
	}
	return total
}

func CreditTotal(sales []domain.Sale) decimal.Decimal {
	total := decimal.Zero
	for _, sale := range sales {
		if sale.PaymentMethod == domain.PaymentCredit {
			total = total.Add(sale.Total)
		}
	}
	return total
}

// OutstandingByCustomer groups unpaid credit sales by customer, ordered by
// name ignoring case.
func OutstandingByCustomer(sales []domain.Sale) []domain.CustomerBalance {
	byCustomer := make(map[string]*domain.CustomerBalance)
	for _, sale := range sales {
		if sale.PaymentMethod != domain.PaymentCredit {
			continue
		}
		balance, ok := byCustomer[sale.Customer]
		if !ok {
			balance = &domain.CustomerBalance{Customer: sale.Customer, Total: decimal.Zero}
			byCustomer[sale.Customer] = balance
		}
		balance.Total = balance.Total.Add(sale.Total)
		balance.Sales++
	}

	balances := make([]domain.CustomerBalance, 0, len(byCustomer))
	for _, balance := range byCustomer {
		balances = append(balances, *balance)
	}
	sort.Slice(balances, func(i, j int) bool {
		a, b := strings.ToLower(balances[i].Customer), strings.ToLower(balances[j].Customer)
		if a != b {
			return a < b
		}
		return balances[i].Customer < balances[j].Customer
	})
	return balances
}

func Summarize(sales []domain.Sale) domain.PeriodSummary {
	summary := domain.PeriodSummary{
		Sales:       len(sales),
		GrossTotal:  decimal.Zero,
		CashTotal:   CashTotal(sales),
		CreditTotal: CreditTotal(sales),
		ByPayment:   []domain.PaymentTotal{},
	}

	byMethod := make(map[string]int)
	for _, sale := range sales {
		summary.GrossTotal = summary.GrossTotal.Add(sale.Total)
		idx, ok := byMethod[sale.PaymentMethod]
		if !ok {
			idx = len(summary.ByPayment)
			byMethod[sale.PaymentMethod] = idx
			summary.ByPayment = append(summary.ByPayment, domain.PaymentTotal{
				PaymentMethod: sale.PaymentMethod,
				Total:         decimal.Zero,
			})
		}
		summary.ByPayment[idx].Sales++
		summary.ByPayment[idx].Total = summary.ByPayment[idx].Total.Add(sale.Total)
	}
	sort.Slice(summary.ByPayment, func(i, j int) bool {
		return summary.ByPayment[i].PaymentMethod < summary.ByPayment[j].PaymentMethod
	})
	return summary
}

// VoidItems lists what a deleted sale hands back to stock. Sales recorded
// before line items existed fall back to their detail string.
func VoidItems(sale domain.Sale) []detail.Item {
	if len(sale.Lines) == 0 {
		return detail.Parse(sale.Detail)
	}
	items := make([]detail.Item, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Quantity < 1 {
			continue
		}
		items = append(items, detail.Item{Name: line.ProductName, Quantity: line.Quantity})
	}
	return items
}
