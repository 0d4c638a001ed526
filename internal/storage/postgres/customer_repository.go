package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) Create(customer domain.Customer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if customer.Rank == "" {
		customer.Rank = domain.RankFor(customer.RankingPoints)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO customers (
			id, first_name, last_name, email, phone,
			exchangeable_points, ranking_points, rank, order_id,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		customer.ID, customer.FirstName, customer.LastName, customer.Email, customer.Phone,
		customer.ExchangeablePoints, customer.RankingPoints, string(customer.Rank),
		customer.OrderID, customer.Version, customer.CreatedAt, customer.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert customer: %w", err)
	}

	if err = replaceOrderHistoryTx(ctx, tx, customer.ID, customer.OrderHistory); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create customer: %w", err)
	}

	return nil
}

func (r *customerRepository) Get(id string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var customer domain.Customer
	var rank string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, phone,
		       exchangeable_points, ranking_points, rank, order_id,
		       version, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(
		&customer.ID, &customer.FirstName, &customer.LastName, &customer.Email, &customer.Phone,
		&customer.ExchangeablePoints, &customer.RankingPoints, &rank, &customer.OrderID,
		&customer.Version, &customer.CreatedAt, &customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	customer.Rank = domain.Rank(rank)

	history, err := loadStringList(ctx, r.db, `
		SELECT order_id FROM customer_order_history WHERE customer_id = $1 ORDER BY position ASC
	`, id)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("load customer order history: %w", err)
	}
	customer.OrderHistory = history

	return customer, nil
}

func (r *customerRepository) Save(customer domain.Customer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET first_name = $1,
		    last_name = $2,
		    email = $3,
		    phone = $4,
		    exchangeable_points = $5,
		    ranking_points = $6,
		    rank = $7,
		    order_id = $8,
		    version = version + 1,
		    updated_at = $9
		WHERE id = $10
		  AND version = $11
	`,
		customer.FirstName, customer.LastName, customer.Email, customer.Phone,
		customer.ExchangeablePoints, customer.RankingPoints, string(customer.Rank),
		customer.OrderID, customer.UpdatedAt, customer.ID, customer.Version,
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		scanErr := tx.QueryRowContext(ctx, `SELECT id FROM customers WHERE id = $1`, customer.ID).Scan(&id)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return domain.ErrCustomerNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("check customer exists: %w", scanErr)
		}
		return domain.ErrVersionConflict
	}

	if err = replaceOrderHistoryTx(ctx, tx, customer.ID, customer.OrderHistory); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save customer: %w", err)
	}

	return nil
}

func replaceOrderHistoryTx(ctx context.Context, tx *sql.Tx, customerID string, history []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM customer_order_history WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("clear customer order history: %w", err)
	}
	for i, orderID := range history {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO customer_order_history (customer_id, order_id, position)
			VALUES ($1,$2,$3)
		`, customerID, orderID, i); err != nil {
			return fmt.Errorf("insert customer order history: %w", err)
		}
	}
	return nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
