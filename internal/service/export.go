package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"cafepos/internal/detail"
	"cafepos/internal/domain"
	"cafepos/internal/store"
)

var (
	plainExportHeader    = []string{"id", "timestamp", "total", "payment_method", "detail", "customer"}
	itemizedExportHeader = []string{"id", "timestamp", "product", "quantity", "unit_price", "subtotal", "payment_method", "customer"}
)

type ExportOptions struct {
	Scope     domain.SaleScope
	ArchiveID int64
	// Itemized writes one row per sold line instead of one row per sale.
	Itemized bool
}

func ParseScope(raw string) (domain.SaleScope, error) {
	switch domain.SaleScope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", domain.SaleScopeOpen:
		return domain.SaleScopeOpen, nil
	case domain.SaleScopeArchive:
		return domain.SaleScopeArchive, nil
	case domain.SaleScopeAll:
		return domain.SaleScopeAll, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", store.ErrValidation, raw)
	}
}

// ExportSales writes the selected sales as CSV, oldest first.
func (s *Service) ExportSales(ctx context.Context, w io.Writer, opts ExportOptions) error {
	filter := domain.SaleFilter{Scope: opts.Scope}
	switch opts.Scope {
	case domain.SaleScopeOpen, domain.SaleScopeAll:
	case domain.SaleScopeArchive:
		if opts.ArchiveID < 1 {
			return fmt.Errorf("%w: archive scope needs an archive id", store.ErrValidation)
		}
		if _, err := s.repo.GetArchive(ctx, opts.ArchiveID); err != nil {
			return err
		}
		filter.ArchiveID = opts.ArchiveID
	default:
		return fmt.Errorf("%w: unknown scope %q", store.ErrValidation, opts.Scope)
	}

	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return err
	}
	slices.Reverse(sales)

	cw := csv.NewWriter(w)
	if opts.Itemized {
		err = writeItemized(cw, sales)
	} else {
		err = writePlain(cw, sales)
	}
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func writePlain(cw *csv.Writer, sales []domain.Sale) error {
	if err := cw.Write(plainExportHeader); err != nil {
		return err
	}
	for _, sale := range sales {
		if err := cw.Write([]string{
			strconv.FormatInt(sale.ID, 10),
			sale.CreatedAt.UTC().Format(time.RFC3339),
			sale.Total.StringFixed(2),
			sale.PaymentMethod,
			sale.Detail,
			sale.Customer,
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeItemized(cw *csv.Writer, sales []domain.Sale) error {
	if err := cw.Write(itemizedExportHeader); err != nil {
		return err
	}
	for _, sale := range sales {
		id := strconv.FormatInt(sale.ID, 10)
		ts := sale.CreatedAt.UTC().Format(time.RFC3339)

		if len(sale.Lines) == 0 {
			// Rows recorded before line items carry no prices.
			for _, item := range detail.Parse(sale.Detail) {
				if err := cw.Write([]string{id, ts, item.Name, strconv.Itoa(item.Quantity), "", "", sale.PaymentMethod, sale.Customer}); err != nil {
					return err
				}
			}
			continue
		}
		for _, line := range sale.Lines {
			if err := cw.Write([]string{
				id,
				ts,
				line.ProductName,
				strconv.Itoa(line.Quantity),
				line.UnitPrice.StringFixed(2),
				line.Subtotal().StringFixed(2),
				sale.PaymentMethod,
				sale.Customer,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
