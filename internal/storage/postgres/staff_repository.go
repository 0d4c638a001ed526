package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

type staffRepository struct {
	db *sql.DB
}

// NewStaffRepository создаёт PostgreSQL-реализацию StaffRepository.
func NewStaffRepository(store *Store) domain.StaffRepository {
	return &staffRepository{db: store.DB()}
}

func (r *staffRepository) Create(staff domain.Staff) error {
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO staff (id, name, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`,
		staff.ID, staff.Name, staff.Version, staff.CreatedAt, staff.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert staff: %w", err)
	}

	if err = replaceHandledOrdersTx(ctx, tx, staff.ID, staff.HandledOrders); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create staff: %w", err)
	}

	return nil
}

func (r *staffRepository) Get(id string) (domain.Staff, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var staff domain.Staff

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, version, created_at, updated_at
		FROM staff
		WHERE id = $1
	`, id).Scan(&staff.ID, &staff.Name, &staff.Version, &staff.CreatedAt, &staff.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Staff{}, domain.ErrStaffNotFound
		}
		return domain.Staff{}, fmt.Errorf("select staff: %w", err)
	}

	handled, err := loadStringList(ctx, r.db, `
		SELECT order_id FROM staff_handled_orders WHERE staff_id = $1 ORDER BY position ASC
	`, id)
	if err != nil {
		return domain.Staff{}, fmt.Errorf("load staff handled orders: %w", err)
	}
	staff.HandledOrders = handled

	return staff, nil
}

func (r *staffRepository) Save(staff domain.Staff) error {
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
		UPDATE staff
		SET name = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
		  AND version = $4
	`,
		staff.Name, staff.UpdatedAt, staff.ID, staff.Version,
	)
	if err != nil {
		return fmt.Errorf("update staff: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		scanErr := tx.QueryRowContext(ctx, `SELECT id FROM staff WHERE id = $1`, staff.ID).Scan(&id)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return domain.ErrStaffNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("check staff exists: %w", scanErr)
		}
		return domain.ErrVersionConflict
	}

	if err = replaceHandledOrdersTx(ctx, tx, staff.ID, staff.HandledOrders); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save staff: %w", err)
	}

	return nil
}

func replaceHandledOrdersTx(ctx context.Context, tx *sql.Tx, staffID string, handled []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM staff_handled_orders WHERE staff_id = $1`, staffID); err != nil {
		return fmt.Errorf("clear staff handled orders: %w", err)
	}
	for i, orderID := range handled {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO staff_handled_orders (staff_id, order_id, position)
			VALUES ($1,$2,$3)
		`, staffID, orderID, i); err != nil {
			return fmt.Errorf("insert staff handled order: %w", err)
		}
	}
	return nil
}

var _ domain.StaffRepository = (*staffRepository)(nil)
