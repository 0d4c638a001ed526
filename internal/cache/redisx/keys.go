package redisx

import "time"

const (
	// Кэш статуса заказа: order_status:{order_id} -> {"status":"...","updated_at":"..."}
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
)
