package domain

import "time"

// Staff — сотрудник, обрабатывающий заказы.
// HandledOrders — append-only история заказов, доведённых сотрудником
// до терминального статуса.
type Staff struct {
	ID            string
	Name          string
	HandledOrders []string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
