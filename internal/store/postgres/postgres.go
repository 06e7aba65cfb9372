package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cafepos/internal/domain"
	"cafepos/internal/ledger"
	"cafepos/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist yet. It is safe to run on
// every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return store.Wrap("migrate", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := strings.TrimSpace(filter.Query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, stock
		FROM products
		WHERE ($1 = '' OR strpos(lower(name), lower($1)) > 0)
		  AND (NOT $2 OR stock > 0)
		ORDER BY name COLLATE "C", id
	`, query, filter.InStockOnly)
	if err != nil {
		return nil, store.Wrap("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, store.Wrap("list products", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := getProduct(ctx, s.db, id, false)
	if err != nil {
		return nil, store.Wrap("get product", err)
	}
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.CheckProduct(product); err != nil {
		return nil, err
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, price, stock, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, price
	`, product.Name, product.Price, product.Stock).Scan(&product.ID, &product.Price)
	if err != nil {
		return nil, store.Wrap("create product", translate(err))
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.CheckProduct(product); err != nil {
		return nil, err
	}

	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, stock = $4, updated_at = now()
		WHERE id = $1
		RETURNING price
	`, product.ID, product.Name, product.Price, product.Stock).Scan(&product.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap("update product", translate(err))
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return store.Wrap("delete product", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("delete product", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, id int64, delta int) (*domain.Product, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, store.Wrap("adjust stock", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	product, err := getProduct(ctx, pgTx, id, true)
	if err != nil {
		return nil, store.Wrap("adjust stock", err)
	}
	if product.Stock+delta < 0 {
		return nil, fmt.Errorf("%w: %s has %d, adjustment %d", store.ErrInsufficientStock, product.Name, product.Stock, delta)
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1
	`, id, delta); err != nil {
		return nil, store.Wrap("adjust stock", translate(err))
	}
	if err := pgTx.Commit(); err != nil {
		return nil, store.Wrap("adjust stock", translate(err))
	}

	product.Stock += delta
	return product, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, policy domain.StockPolicy) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrNothingToSell
	}
	if err := store.CheckSaleTotal(sale.Total); err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, store.Wrap("create sale", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := make([]int64, 0, len(sale.Lines))
	demand := make(map[int64]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be at least 1", store.ErrValidation, line.ProductName)
		}
		if line.ProductID == nil {
			continue
		}
		if _, seen := demand[*line.ProductID]; !seen {
			ids = append(ids, *line.ProductID)
		}
		demand[*line.ProductID] += line.Quantity
	}

	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, stock
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, store.Wrap("create sale", err)
	}
	type stockState struct {
		name  string
		stock int
	}
	stockMap := make(map[int64]stockState, len(ids))
	for stockRows.Next() {
		var id int64
		var st stockState
		if err := stockRows.Scan(&id, &st.name, &st.stock); err != nil {
			_ = stockRows.Close()
			return nil, store.Wrap("create sale", err)
		}
		stockMap[id] = st
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, store.Wrap("create sale", err)
	}
	_ = stockRows.Close()

	if !policy.AllowOversell {
		for _, id := range ids {
			st, exists := stockMap[id]
			if exists && st.stock < demand[id] {
				return nil, fmt.Errorf("%w: %s has %d, need %d", store.ErrInsufficientStock, st.name, st.stock, demand[id])
			}
		}
	}

	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.ArchiveID = nil
	sale.SettledAt = nil

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO sales (created_at, total, payment_method, detail, customer)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, sale.CreatedAt, sale.Total, sale.PaymentMethod, sale.Detail, nullIfEmpty(sale.Customer)).Scan(&sale.ID)
	if err != nil {
		return nil, store.Wrap("create sale", translate(err))
	}

	lines := make([]domain.SaleLine, len(sale.Lines))
	for i, line := range sale.Lines {
		lines[i] = line
		if line.ProductID != nil {
			if _, exists := stockMap[*line.ProductID]; !exists {
				lines[i].ProductID = nil
			}
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, sale.ID, nullID(lines[i].ProductID), line.ProductName, line.Quantity, line.UnitPrice); err != nil {
			return nil, store.Wrap("create sale", translate(err))
		}
	}

	for _, id := range ids {
		if _, exists := stockMap[id]; !exists {
			continue
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = GREATEST(stock - $2, 0), updated_at = now()
			WHERE id = $1
		`, id, demand[id]); err != nil {
			return nil, store.Wrap("create sale", translate(err))
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, store.Wrap("create sale", translate(err))
	}

	sale.Lines = lines
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	sale, err := getSale(ctx, s.db, id, false)
	if err != nil {
		return nil, store.Wrap("get sale", err)
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	sales, err := listSales(ctx, s.db, filter, false)
	if err != nil {
		return nil, store.Wrap("list sales", err)
	}
	return sales, nil
}

func (s *Store) DeleteSale(ctx context.Context, id int64) (*domain.VoidResult, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, store.Wrap("delete sale", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	sale, err := getSale(ctx, pgTx, id, true)
	if err != nil {
		return nil, store.Wrap("delete sale", err)
	}
	if !sale.Open() {
		return nil, fmt.Errorf("%w: sale %d belongs to archive %d", store.ErrConflict, id, *sale.ArchiveID)
	}

	result := &domain.VoidResult{Sale: *sale, Restored: []domain.SaleLine{}}
	for _, item := range ledger.VoidItems(*sale) {
		var product domain.Product
		err := pgTx.QueryRowContext(ctx, `
			UPDATE products
			SET stock = stock + $2, updated_at = now()
			WHERE id = (SELECT id FROM products WHERE name = $1 ORDER BY id LIMIT 1)
			RETURNING id, name, price
		`, item.Name, item.Quantity).Scan(&product.ID, &product.Name, &product.Price)
		if errors.Is(err, sql.ErrNoRows) {
			result.Skipped = append(result.Skipped, item.Name)
			continue
		}
		if err != nil {
			return nil, store.Wrap("delete sale", translate(err))
		}
		productID := product.ID
		result.Restored = append(result.Restored, domain.SaleLine{
			ProductID:   &productID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		})
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
		return nil, store.Wrap("delete sale", err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, store.Wrap("delete sale", translate(err))
	}
	return result, nil
}

func (s *Store) SettleCredit(ctx context.Context, customer string, settledMethod string, at time.Time) ([]domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, store.Wrap("settle credit", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	rows, err := pgTx.QueryContext(ctx, `
		UPDATE sales
		SET payment_method = $3, settled_at = $4
		WHERE payment_method = $1 AND customer = $2
		RETURNING id
	`, domain.PaymentCredit, customer, settledMethod, at)
	if err != nil {
		return nil, store.Wrap("settle credit", translate(err))
	}
	ids := make([]int64, 0, 8)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, store.Wrap("settle credit", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, store.Wrap("settle credit", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no outstanding credit for %q", store.ErrNotFound, customer)
	}

	settled, err := salesByIDs(ctx, pgTx, ids)
	if err != nil {
		return nil, store.Wrap("settle credit", err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, store.Wrap("settle credit", translate(err))
	}
	return settled, nil
}

func (s *Store) CloseShift(ctx context.Context, at time.Time) (*domain.Archive, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, store.Wrap("close shift", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	open, err := listSales(ctx, pgTx, domain.SaleFilter{Scope: domain.SaleScopeOpen}, true)
	if err != nil {
		return nil, store.Wrap("close shift", err)
	}
	if len(open) == 0 {
		return nil, fmt.Errorf("%w: nothing to close", store.ErrConflict)
	}

	archive := domain.Archive{
		ClosedAt:    at,
		CashTotal:   ledger.CashTotal(open),
		CreditTotal: ledger.CreditTotal(open),
		SaleCount:   len(open),
	}
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO archives (closed_at, cash_total, credit_total, sale_count)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, archive.ClosedAt, archive.CashTotal, archive.CreditTotal, archive.SaleCount).Scan(&archive.ID)
	if err != nil {
		return nil, store.Wrap("close shift", translate(err))
	}

	ids := make([]int64, 0, len(open))
	for _, sale := range open {
		ids = append(ids, sale.ID)
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE sales SET archive_id = $1 WHERE id = ANY($2)
	`, archive.ID, ids); err != nil {
		return nil, store.Wrap("close shift", translate(err))
	}

	if err := pgTx.Commit(); err != nil {
		return nil, store.Wrap("close shift", translate(err))
	}
	return &archive, nil
}

func (s *Store) ListArchives(ctx context.Context) ([]domain.Archive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, closed_at, cash_total, credit_total, sale_count
		FROM archives
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, store.Wrap("list archives", err)
	}
	defer rows.Close()

	archives := make([]domain.Archive, 0, 32)
	for rows.Next() {
		var a domain.Archive
		if err := rows.Scan(&a.ID, &a.ClosedAt, &a.CashTotal, &a.CreditTotal, &a.SaleCount); err != nil {
			return nil, store.Wrap("list archives", err)
		}
		archives = append(archives, a)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list archives", err)
	}
	return archives, nil
}

func (s *Store) GetArchive(ctx context.Context, id int64) (*domain.Archive, error) {
	var a domain.Archive
	err := s.db.QueryRowContext(ctx, `
		SELECT id, closed_at, cash_total, credit_total, sale_count
		FROM archives
		WHERE id = $1
	`, id).Scan(&a.ID, &a.ClosedAt, &a.CashTotal, &a.CreditTotal, &a.SaleCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get archive", err)
	}
	return &a, nil
}

func getProduct(ctx context.Context, q queryer, id int64, forUpdate bool) (*domain.Product, error) {
	query := `SELECT id, name, price, stock FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var p domain.Product
	if err := q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

const saleColumns = `id, created_at, total, payment_method, detail, customer, archive_id, settled_at`

func scanSale(rows interface{ Scan(dest ...any) error }) (domain.Sale, error) {
	var (
		sale      domain.Sale
		customer  sql.NullString
		archiveID sql.NullInt64
		settledAt sql.NullTime
	)
	if err := rows.Scan(&sale.ID, &sale.CreatedAt, &sale.Total, &sale.PaymentMethod, &sale.Detail, &customer, &archiveID, &settledAt); err != nil {
		return domain.Sale{}, err
	}
	sale.Customer = customer.String
	if archiveID.Valid {
		id := archiveID.Int64
		sale.ArchiveID = &id
	}
	if settledAt.Valid {
		at := settledAt.Time
		sale.SettledAt = &at
	}
	return sale, nil
}

func getSale(ctx context.Context, q queryer, id int64, forUpdate bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sales := []domain.Sale{sale}
	if err := attachLines(ctx, q, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func listSales(ctx context.Context, q queryer, filter domain.SaleFilter, forUpdate bool) ([]domain.Sale, error) {
	var (
		where []string
		args  []any
	)
	switch filter.Scope {
	case domain.SaleScopeOpen:
		where = append(where, "archive_id IS NULL")
	case domain.SaleScopeArchive:
		args = append(args, filter.ArchiveID)
		where = append(where, fmt.Sprintf("archive_id = $%d", len(args)))
	}
	if filter.PaymentMethod != "" {
		args = append(args, filter.PaymentMethod)
		where = append(where, fmt.Sprintf("payment_method = $%d", len(args)))
	}
	if filter.Customer != "" {
		args = append(args, filter.Customer)
		where = append(where, fmt.Sprintf("customer = $%d", len(args)))
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := attachLines(ctx, q, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func salesByIDs(ctx context.Context, q queryer, ids []int64) ([]domain.Sale, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(ids))
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := attachLines(ctx, q, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func attachLines(ctx context.Context, q queryer, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	index := make(map[int64]int, len(sales))
	ids := make([]int64, 0, len(sales))
	for i, sale := range sales {
		index[sale.ID] = i
		ids = append(ids, sale.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, product_id, product_name, quantity, unit_price
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			saleID    int64
			productID sql.NullInt64
			line      domain.SaleLine
		)
		if err := rows.Scan(&saleID, &productID, &line.ProductName, &line.Quantity, &line.UnitPrice); err != nil {
			return err
		}
		if productID.Valid {
			id := productID.Int64
			line.ProductID = &id
		}
		i := index[saleID]
		sales[i].Lines = append(sales[i].Lines, line)
	}
	return rows.Err()
}

// translate maps the Postgres errors callers can act on onto store sentinels.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23514":
		return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.ConstraintName)
	case "22003":
		return fmt.Errorf("%w: numeric value out of range", store.ErrValidation)
	case "40001", "40P01":
		return fmt.Errorf("%w: concurrent update, retry", store.ErrConflict)
	default:
		return err
	}
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullID(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

