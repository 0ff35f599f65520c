package redisx

import "fmt"

const (
	// Dedup of consumed events: dedup:{group}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Stripe webhook events already applied: webhook:stripe:{event_id}
	KeyWebhook = "webhook:stripe:%s"

	// Cached order view: order_status:{order_id}
	KeyOrderStatus = "order_status:%s"

	// Saga state per order: hash saga:{order_id}
	KeySaga = "saga:%s"

	// Exclusive run of a periodic job: lock:job:{name}
	KeyJobLock = "lock:job:%s"
)

func DedupKey(group, eventID string) string { return fmt.Sprintf(KeyDedup, group, eventID) }
func WebhookKey(eventID string) string      { return fmt.Sprintf(KeyWebhook, eventID) }
func OrderStatusKey(orderID string) string  { return fmt.Sprintf(KeyOrderStatus, orderID) }
func SagaKey(orderID string) string         { return fmt.Sprintf(KeySaga, orderID) }
func JobLockKey(name string) string         { return fmt.Sprintf(KeyJobLock, name) }
