package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

type reservationRepository struct {
	db *sql.DB
}

// NewReservationRepository создаёт PostgreSQL-реализацию ReservationRepository.
func NewReservationRepository(store *Store) domain.ReservationRepository {
	return &reservationRepository{db: store.DB()}
}

func (r *reservationRepository) Create(reservation domain.Reservation) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reservations (
			id, area_id, order_id, start_time, duration_hours, party_size,
			status, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		reservation.ID, reservation.AreaID, reservation.OrderID,
		reservation.StartTime, reservation.DurationHours, reservation.PartySize,
		string(reservation.Status), reservation.Version,
		reservation.CreatedAt, reservation.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert reservation: %w", err)
	}

	return nil
}

func (r *reservationRepository) Get(id string) (domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var reservation domain.Reservation
	var status string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, area_id, order_id, start_time, duration_hours, party_size,
		       status, version, created_at, updated_at
		FROM reservations
		WHERE id = $1
	`, id).Scan(
		&reservation.ID, &reservation.AreaID, &reservation.OrderID,
		&reservation.StartTime, &reservation.DurationHours, &reservation.PartySize,
		&status, &reservation.Version, &reservation.CreatedAt, &reservation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("select reservation: %w", err)
	}
	reservation.Status = domain.ReservationStatus(status)

	return reservation, nil
}

func (r *reservationRepository) Save(reservation domain.Reservation) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE reservations
		SET area_id = $1,
		    order_id = $2,
		    start_time = $3,
		    duration_hours = $4,
		    party_size = $5,
		    status = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE id = $8
		  AND version = $9
	`,
		reservation.AreaID, reservation.OrderID, reservation.StartTime,
		reservation.DurationHours, reservation.PartySize, string(reservation.Status),
		reservation.UpdatedAt, reservation.ID, reservation.Version,
	)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		err := r.db.QueryRowContext(ctx, `SELECT id FROM reservations WHERE id = $1`, reservation.ID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("check reservation exists: %w", err)
		}
		return domain.ErrVersionConflict
	}

	return nil
}

var _ domain.ReservationRepository = (*reservationRepository)(nil)
