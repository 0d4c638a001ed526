package domain

// AreaStatus отражает занятость зоны.
type AreaStatus string

const (
	AreaStatusFree     AreaStatus = "free"
	AreaStatusOccupied AreaStatus = "occupied"
)

// Area — бронируемая зона с фиксированной вместимостью.
// Геометрия нужна только фронтенду для отрисовки плана зала.
// ReservationIDs содержит лишь брони, участвующие в проверке конфликтов:
// отменённые вычищаются при отмене заказа.
type Area struct {
	ID              string
	Name            string
	X               float64
	Y               float64
	Width           float64
	Height          float64
	BackgroundImage string
	CostPerHour     float64
	Capacity        int
	Status          AreaStatus
	Available       bool
	ReservationIDs  []string
	Version         int64
}

// AddReservation добавляет ссылку на бронь, избегая дублей.
func (a *Area) AddReservation(reservationID string) {
	for _, id := range a.ReservationIDs {
		if id == reservationID {
			return
		}
	}
	a.ReservationIDs = append(a.ReservationIDs, reservationID)
}

// RemoveReservation убирает ссылку на бронь из коллекции зоны.
// Возвращает false, если ссылки не было.
func (a *Area) RemoveReservation(reservationID string) bool {
	for i, id := range a.ReservationIDs {
		if id == reservationID {
			a.ReservationIDs = append(a.ReservationIDs[:i], a.ReservationIDs[i+1:]...)
			return true
		}
	}
	return false
}
