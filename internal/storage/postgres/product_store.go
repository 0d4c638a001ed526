package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

// productStore — PostgreSQL-реализация ProductStock для одного типа товара.
// Все типы делят таблицу products; тип входит в первичный ключ.
type productStore struct {
	db          *sql.DB
	productType domain.ProductType
}

// NewProductStore создаёт хранилище остатков для заданного типа товара.
func NewProductStore(store *Store, productType domain.ProductType) *productStore {
	return &productStore{db: store.DB(), productType: productType}
}

// Create добавляет товар. Используется при начальном наполнении каталога.
func (s *productStore) Create(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = now
	}
	if product.Type == "" {
		product.Type = s.productType
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			product_type, id, name, price, stock, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		string(product.Type), product.ID, product.Name, product.Price,
		product.Stock, product.Version, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert product: %w", err)
	}

	return nil
}

func (s *productStore) FindByID(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var product domain.Product
	var productType string

	err := s.db.QueryRowContext(ctx, `
		SELECT product_type, id, name, price, stock, version, created_at, updated_at
		FROM products
		WHERE product_type = $1 AND id = $2
	`, string(s.productType), id).Scan(
		&productType, &product.ID, &product.Name, &product.Price,
		&product.Stock, &product.Version, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	product.Type = domain.ProductType(productType)

	return product, nil
}

func (s *productStore) Save(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $1,
		    price = $2,
		    stock = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE product_type = $5
		  AND id = $6
		  AND version = $7
	`,
		product.Name, product.Price, product.Stock, time.Now().UTC(),
		string(s.productType), product.ID, product.Version,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := s.productExists(ctx, product.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrProductNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (s *productStore) productExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM products WHERE product_type = $1 AND id = $2
	`, string(s.productType), id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check product exists: %w", err)
}

var _ domain.ProductStock = (*productStore)(nil)
