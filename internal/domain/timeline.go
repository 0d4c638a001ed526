package domain

import "time"

// TimelineEvent — один переход в жизненном цикле заказа.
// Reason берётся из пояснения в запросе правки или отмены; если клиент
// его не передал, поле пустое.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
