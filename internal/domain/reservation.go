package domain

import "time"

// ReservationStatus отражает статус брони на зону.
type ReservationStatus string

const (
	// ReservationStatusPending — бронь создана вместе с заказом и ожидает подтверждения.
	ReservationStatusPending ReservationStatus = "pending"
	// ReservationStatusConfirmed — бронь подтверждена завершением заказа.
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	// ReservationStatusSeated — гости заняли зону.
	ReservationStatusSeated ReservationStatus = "seated"
	// ReservationStatusCompleted — визит состоялся.
	ReservationStatusCompleted ReservationStatus = "completed"
	// ReservationStatusCancelled — бронь отменена вместе с заказом.
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// Reservation описывает бронь зоны на интервал времени для компании гостей.
// Бронь и заказ держат взаимные ссылки-идентификаторы, но не владеют друг
// другом; бронь никогда не удаляется, только меняет статус.
type Reservation struct {
	ID        string
	AreaID    string
	OrderID   string
	StartTime time.Time
	// DurationHours — длительность брони в часах.
	DurationHours float64
	PartySize     int
	Status        ReservationStatus
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля брони.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.AreaID == "" {
		errs = append(errs, ErrAreaIDRequired)
	}
	if r.StartTime.IsZero() {
		errs = append(errs, ErrStartTimeRequired)
	}
	if r.DurationHours <= 0 {
		errs = append(errs, ErrDurationInvalid)
	}
	if r.PartySize <= 0 {
		errs = append(errs, ErrPartySizeInvalid)
	}

	return errs
}

// EndTime возвращает правую границу интервала брони (не включается).
func (r *Reservation) EndTime() time.Time {
	return r.StartTime.Add(hoursToDuration(r.DurationHours))
}

// Active сообщает, участвует ли бронь в проверке конфликтов времени.
func (r *Reservation) Active() bool {
	return r.Status != ReservationStatusCancelled
}

// ConflictsWith проверяет пересечение интервалов двух броней.
func (r *Reservation) ConflictsWith(other *Reservation) bool {
	return Overlaps(r.StartTime, r.DurationHours, other.StartTime, other.DurationHours)
}

// Overlaps — чистый предикат пересечения двух полуоткрытых интервалов
// [start, start+duration). Касание границ конфликтом не считается.
func Overlaps(startA time.Time, durationHoursA float64, startB time.Time, durationHoursB float64) bool {
	endA := startA.Add(hoursToDuration(durationHoursA))
	endB := startB.Add(hoursToDuration(durationHoursB))
	return startA.Before(endB) && startB.Before(endA)
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
