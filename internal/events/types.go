package events

// Event type names carried in Envelope.EventType and the x-event-type header.
const (
	TypeOrderCreated   = "OrderCreated"
	TypeOrderConfirmed = "OrderConfirmed"
	TypeOrderUpdated   = "OrderUpdated"
	TypeOrderCancelled = "OrderCancelled"

	TypeInventoryReservationRequested = "InventoryReservationRequested"
	TypeInventoryReserved             = "InventoryReserved"
	TypeInventoryInsufficient         = "InventoryInsufficient"
	TypeInventoryReservationRelease   = "InventoryReservationRelease"
	TypeInventoryReservationConfirm   = "InventoryReservationConfirm"
	TypeInventoryReleased             = "InventoryReleased"
	TypeInventoryConfirmed            = "InventoryConfirmed"
	TypeLowStockAlert                 = "LowStockAlert"

	TypePaymentProcessingRequested = "PaymentProcessingRequested"
	TypePaymentRefundRequested     = "PaymentRefundRequested"
	TypePaymentIntentCreated       = "PaymentIntentCreated"
	TypePaymentSucceeded           = "PaymentSucceeded"
	TypePaymentFailed              = "PaymentFailed"
	TypePaymentRefunded            = "PaymentRefunded"
)

// Topics, one per event type.
const (
	TopicOrderCreated   = "order.created"
	TopicOrderConfirmed = "order.confirmed"
	TopicOrderUpdated   = "order.updated"
	TopicOrderCancelled = "order.cancelled"

	TopicInventoryReservationRequested = "inventory.reservation.requested"
	TopicInventoryReserved             = "inventory.reserved"
	TopicInventoryInsufficient         = "inventory.insufficient"
	TopicInventoryReservationRelease   = "inventory.reservation.release"
	TopicInventoryReservationConfirm   = "inventory.reservation.confirm"
	TopicInventoryReleased             = "inventory.released"
	TopicInventoryConfirmed            = "inventory.confirmed"
	TopicLowStockAlert                 = "inventory.low_stock_alert"

	TopicPaymentProcessingRequested = "payment.processing.requested"
	TopicPaymentRefundRequested     = "payment.refund.requested"
	TopicPaymentIntentCreated       = "payment.intent.created"
	TopicPaymentSucceeded           = "payment.succeeded"
	TopicPaymentFailed              = "payment.failed"
	TopicPaymentRefunded            = "payment.refunded"
)

var topicByType = map[string]string{
	TypeOrderCreated:                  TopicOrderCreated,
	TypeOrderConfirmed:                TopicOrderConfirmed,
	TypeOrderUpdated:                  TopicOrderUpdated,
	TypeOrderCancelled:                TopicOrderCancelled,
	TypeInventoryReservationRequested: TopicInventoryReservationRequested,
	TypeInventoryReserved:             TopicInventoryReserved,
	TypeInventoryInsufficient:         TopicInventoryInsufficient,
	TypeInventoryReservationRelease:   TopicInventoryReservationRelease,
	TypeInventoryReservationConfirm:   TopicInventoryReservationConfirm,
	TypeInventoryReleased:             TopicInventoryReleased,
	TypeInventoryConfirmed:            TopicInventoryConfirmed,
	TypeLowStockAlert:                 TopicLowStockAlert,
	TypePaymentProcessingRequested:    TopicPaymentProcessingRequested,
	TypePaymentRefundRequested:        TopicPaymentRefundRequested,
	TypePaymentIntentCreated:          TopicPaymentIntentCreated,
	TypePaymentSucceeded:              TopicPaymentSucceeded,
	TypePaymentFailed:                 TopicPaymentFailed,
	TypePaymentRefunded:               TopicPaymentRefunded,
}

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType string) (string, bool) {
	t, ok := topicByType[eventType]
	return t, ok
}

// DeadLetterTopic names the parking topic for messages that cannot be processed.
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}

// PartitionKey keeps every event of one order on the same partition.
func PartitionKey(id string) []byte { return []byte(id) }
