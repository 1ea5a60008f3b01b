package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var _ Store = (*Repository)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRepository(cred *Credentials, logger *zap.Logger) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	logger.Info("connected to postgres", zap.String("host", cred.Host), zap.String("db", cred.DBName))
	return &Repository{db: db, logger: logger}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "storefront_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// InTx runs fn inside a database transaction and rolls back on any error.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx CheckoutTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockListings(ctx context.Context, ids []int64) (map[int64]domain.Listing, error) {
	// ascending id keeps the lock order stable across concurrent checkouts
	query := `SELECT id, product_id, seller_id, unit_price, stock_quantity
	          FROM listings WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	return queryListings(ctx, t.tx, query, pq.Array(ids))
}

func (t *pgTx) ActivePolicies(ctx context.Context, now time.Time) ([]domain.DiscountPolicy, error) {
	return activePolicies(ctx, t.tx, now)
}

func (t *pgTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	return insertOrder(ctx, t.tx, order)
}

func (t *pgTx) DecrementStock(ctx context.Context, listingID int64, qty int) error {
	return decrementStock(ctx, t.tx, listingID, qty)
}

func (t *pgTx) AddOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	return insertOutboxEvent(ctx, t.tx, event)
}

// Listings

func (r *Repository) GetListing(ctx context.Context, id int64) (domain.Listing, error) {
	query := `SELECT id, product_id, seller_id, unit_price, stock_quantity FROM listings WHERE id = $1`

	l, err := scanListing(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, ErrListingNotFound
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("query listing by id: %w", err)
	}
	return l, nil
}

func (r *Repository) GetListings(ctx context.Context, ids []int64) (map[int64]domain.Listing, error) {
	query := `SELECT id, product_id, seller_id, unit_price, stock_quantity
	          FROM listings WHERE id = ANY($1) ORDER BY id`
	return queryListings(ctx, r.db, query, pq.Array(ids))
}

func (r *Repository) GetStock(ctx context.Context, id int64) (int, error) {
	var stock int
	err := r.db.QueryRowContext(ctx, `SELECT stock_quantity FROM listings WHERE id = $1`, id).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrListingNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return stock, nil
}

func (r *Repository) DecrementStock(ctx context.Context, id int64, qty int) error {
	return decrementStock(ctx, r.db, id, qty)
}

func (r *Repository) SaveListing(ctx context.Context, listing *domain.Listing) error {
	if listing.ID == 0 {
		query := `INSERT INTO listings (product_id, seller_id, unit_price, stock_quantity)
		          VALUES ($1, $2, $3, $4) RETURNING id`
		err := r.db.QueryRowContext(ctx, query,
			listing.ProductID, listing.SellerID, listing.UnitPrice, listing.StockQuantity,
		).Scan(&listing.ID)
		if err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
		return nil
	}

	query := `INSERT INTO listings (id, product_id, seller_id, unit_price, stock_quantity)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (id) DO UPDATE SET product_id = EXCLUDED.product_id, seller_id = EXCLUDED.seller_id,
	              unit_price = EXCLUDED.unit_price, stock_quantity = EXCLUDED.stock_quantity`
	_, err := r.db.ExecContext(ctx, query,
		listing.ID, listing.ProductID, listing.SellerID, listing.UnitPrice, listing.StockQuantity)
	if err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

func decrementStock(ctx context.Context, q queryer, id int64, qty int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE listings SET stock_quantity = stock_quantity - $2 WHERE id = $1 AND stock_quantity >= $2`,
		id, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock rows affected: %w", err)
	}
	if n == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func queryListings(ctx context.Context, q queryer, query string, args ...any) (map[int64]domain.Listing, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	listings := make(map[int64]domain.Listing)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		listings[l.ID] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return listings, nil
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(&l.ID, &l.ProductID, &l.SellerID, &l.UnitPrice, &l.StockQuantity)
	return l, err
}

// Policies

const policyColumns = `id, kind, title, active, priority, value, product_ids, category_ids,
	required_line_count, required_subtotal, valid_from, valid_to`

func (r *Repository) EnabledPolicies(ctx context.Context) ([]domain.DiscountPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM discount_policies WHERE active ORDER BY id`
	return queryPolicies(ctx, r.db, query)
}

func (r *Repository) ActivePolicies(ctx context.Context, now time.Time) ([]domain.DiscountPolicy, error) {
	return activePolicies(ctx, r.db, now)
}

// SavePolicy inserts a policy, or upserts it when the id is already set.
func (r *Repository) SavePolicy(ctx context.Context, p *domain.DiscountPolicy) error {
	args := []any{
		p.Kind,
		p.Title,
		p.Active,
		p.Priority,
		p.Value,
		pq.Array(nonNil(p.Scope.ProductIDs)),
		pq.Array(nonNil(p.Scope.CategoryIDs)),
		p.RequiredLineCount,
		p.RequiredSubtotal,
		p.ValidFrom,
		p.ValidTo,
	}

	if p.ID == 0 {
		query := `INSERT INTO discount_policies (kind, title, active, priority, value, product_ids, category_ids,
		              required_line_count, required_subtotal, valid_from, valid_to)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`
		if err := r.db.QueryRowContext(ctx, query, args...).Scan(&p.ID); err != nil {
			return fmt.Errorf("insert discount policy: %w", err)
		}
		return nil
	}

	query := `INSERT INTO discount_policies (kind, title, active, priority, value, product_ids, category_ids,
	              required_line_count, required_subtotal, valid_from, valid_to, id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, title = EXCLUDED.title,
	              active = EXCLUDED.active, priority = EXCLUDED.priority, value = EXCLUDED.value,
	              product_ids = EXCLUDED.product_ids, category_ids = EXCLUDED.category_ids,
	              required_line_count = EXCLUDED.required_line_count,
	              required_subtotal = EXCLUDED.required_subtotal,
	              valid_from = EXCLUDED.valid_from, valid_to = EXCLUDED.valid_to`
	if _, err := r.db.ExecContext(ctx, query, append(args, p.ID)...); err != nil {
		return fmt.Errorf("upsert discount policy %d: %w", p.ID, err)
	}
	return nil
}

func activePolicies(ctx context.Context, q queryer, now time.Time) ([]domain.DiscountPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM discount_policies
	          WHERE active
	            AND (valid_from IS NULL OR valid_from <= $1)
	            AND (valid_to IS NULL OR valid_to >= $1)
	          ORDER BY id`
	return queryPolicies(ctx, q, query, now)
}

func queryPolicies(ctx context.Context, q queryer, query string, args ...any) ([]domain.DiscountPolicy, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query discount policies: %w", err)
	}
	defer rows.Close()

	var policies []domain.DiscountPolicy
	for rows.Next() {
		var p domain.DiscountPolicy
		var validFrom, validTo sql.NullTime
		if err := rows.Scan(
			&p.ID,
			&p.Kind,
			&p.Title,
			&p.Active,
			&p.Priority,
			&p.Value,
			pq.Array(&p.Scope.ProductIDs),
			pq.Array(&p.Scope.CategoryIDs),
			&p.RequiredLineCount,
			&p.RequiredSubtotal,
			&validFrom,
			&validTo,
		); err != nil {
			return nil, fmt.Errorf("scan discount policy row: %w", err)
		}
		if validFrom.Valid {
			p.ValidFrom = &validFrom.Time
		}
		if validTo.Valid {
			p.ValidTo = &validTo.Time
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return policies, nil
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// Orders

const orderColumns = `id, idempotency_key, email, full_name, phone, address, delivery, payment,
	lines, total_payment, status, status_reason, created_at, updated_at`

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (r *Repository) OrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by idempotency key: %w", err)
	}
	return order, nil
}

func (r *Repository) ListOrdersByEmail(ctx context.Context, email string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE email = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("query orders by email: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $3, status_reason = $4, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to, reason)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStatusConflict
	}

	event, err := statusChangeEvent(id, from, to, reason)
	if err != nil {
		return fmt.Errorf("marshal status change: %w", err)
	}
	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertOrder(ctx context.Context, q queryer, order *domain.Order) error {
	linesJSON, err := json.Marshal(order.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal order lines: %w", err)
	}

	var key sql.NullString
	if order.IdempotencyKey != "" {
		key = sql.NullString{String: order.IdempotencyKey, Valid: true}
	}

	query := `INSERT INTO orders (id, idempotency_key, email, full_name, phone, address, delivery, payment,
	              lines, total_payment, status, status_reason, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	_, insertErr := q.ExecContext(ctx, query,
		order.ID,
		key,
		order.Email,
		order.FullName,
		order.Phone,
		order.Address,
		order.Delivery,
		order.Payment,
		linesJSON,
		order.TotalPayment,
		order.Status,
		order.StatusReason,
		order.CreatedAt,
	)
	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateCheckout
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}
	return nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var key sql.NullString
	var linesJSON []byte
	err := row.Scan(
		&order.ID,
		&key,
		&order.Email,
		&order.FullName,
		&order.Phone,
		&order.Address,
		&order.Delivery,
		&order.Payment,
		&linesJSON,
		&order.TotalPayment,
		&order.Status,
		&order.StatusReason,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.IdempotencyKey = key.String

	if err := json.Unmarshal(linesJSON, &order.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal order lines: %w", err)
	}
	return &order, nil
}

// Outbox

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event row: %w", err)
		}
		e.Payload = payload
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, q queryer, event *OutboxEvent) error {
	query := `INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3) RETURNING id, created_at`
	err := q.QueryRowContext(ctx, query, event.AggregateID, event.EventType, []byte(event.Payload)).
		Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
