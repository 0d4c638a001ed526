package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

type areaRepository struct {
	db *sql.DB
}

// NewAreaRepository создаёт PostgreSQL-реализацию AreaRepository.
func NewAreaRepository(store *Store) domain.AreaRepository {
	return &areaRepository{db: store.DB()}
}

func (r *areaRepository) Create(area domain.Area) error {
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
		INSERT INTO areas (
			id, name, x, y, width, height, background_image,
			cost_per_hour, capacity, status, available, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		area.ID, area.Name, area.X, area.Y, area.Width, area.Height,
		area.BackgroundImage, area.CostPerHour, area.Capacity,
		string(area.Status), area.Available, area.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert area: %w", err)
	}

	if err = replaceAreaReservationsTx(ctx, tx, area.ID, area.ReservationIDs); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create area: %w", err)
	}

	return nil
}

func (r *areaRepository) Get(id string) (domain.Area, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var area domain.Area
	var status string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, x, y, width, height, background_image,
		       cost_per_hour, capacity, status, available, version
		FROM areas
		WHERE id = $1
	`, id).Scan(
		&area.ID, &area.Name, &area.X, &area.Y, &area.Width, &area.Height,
		&area.BackgroundImage, &area.CostPerHour, &area.Capacity,
		&status, &area.Available, &area.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Area{}, domain.ErrAreaNotFound
		}
		return domain.Area{}, fmt.Errorf("select area: %w", err)
	}
	area.Status = domain.AreaStatus(status)

	reservationIDs, err := loadStringList(ctx, r.db, `
		SELECT reservation_id FROM area_reservations WHERE area_id = $1 ORDER BY position ASC
	`, id)
	if err != nil {
		return domain.Area{}, fmt.Errorf("load area reservations: %w", err)
	}
	area.ReservationIDs = reservationIDs

	return area, nil
}

func (r *areaRepository) Save(area domain.Area) error {
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
		UPDATE areas
		SET name = $1,
		    x = $2,
		    y = $3,
		    width = $4,
		    height = $5,
		    background_image = $6,
		    cost_per_hour = $7,
		    capacity = $8,
		    status = $9,
		    available = $10,
		    version = version + 1
		WHERE id = $11
		  AND version = $12
	`,
		area.Name, area.X, area.Y, area.Width, area.Height,
		area.BackgroundImage, area.CostPerHour, area.Capacity,
		string(area.Status), area.Available, area.ID, area.Version,
	)
	if err != nil {
		return fmt.Errorf("update area: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		scanErr := tx.QueryRowContext(ctx, `SELECT id FROM areas WHERE id = $1`, area.ID).Scan(&id)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return domain.ErrAreaNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("check area exists: %w", scanErr)
		}
		return domain.ErrVersionConflict
	}

	if err = replaceAreaReservationsTx(ctx, tx, area.ID, area.ReservationIDs); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save area: %w", err)
	}

	return nil
}

func replaceAreaReservationsTx(ctx context.Context, tx *sql.Tx, areaID string, reservationIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM area_reservations WHERE area_id = $1`, areaID); err != nil {
		return fmt.Errorf("clear area reservations: %w", err)
	}
	for i, reservationID := range reservationIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO area_reservations (area_id, reservation_id, position)
			VALUES ($1,$2,$3)
		`, areaID, reservationID, i); err != nil {
			return fmt.Errorf("insert area reservation: %w", err)
		}
	}
	return nil
}

func loadStringList(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

var _ domain.AreaRepository = (*areaRepository)(nil)
