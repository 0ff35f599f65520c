package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripKeepsPayload(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	env, err := New(TypeInventoryReserved, "inventory", "o-1", at, InventoryReserved{
		OrderID:       "o-1",
		ReservationID: "res_o-1",
		Items:         []Item{{ProductID: "p1", Quantity: 2}},
		ExpiresAt:     at.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	require.NotEmpty(t, env.EventID)

	raw, err := env.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"eventType":"InventoryReserved"`)
	assert.Contains(t, string(raw), `"reservationId":"res_o-1"`)

	back, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, back.EventID)
	assert.Equal(t, "o-1", back.CorrelationID)

	p, err := Decode[InventoryReserved](back)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Items[0].Quantity)
	assert.True(t, p.ExpiresAt.Equal(at.Add(30*time.Minute)))
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	require.Error(t, err)

	_, err = Unmarshal([]byte(`{"eventType":"OrderCreated"}`))
	require.Error(t, err)
}

func TestEveryTypeHasATopic(t *testing.T) {
	for typ, topic := range topicByType {
		got, ok := TopicFor(typ)
		require.True(t, ok, typ)
		assert.Equal(t, topic, got)
	}
	_, ok := TopicFor("Nope")
	assert.False(t, ok)
	assert.Equal(t, "payment.failed.dlq", DeadLetterTopic(TopicPaymentFailed))
}

func TestHeadersCarryTypeAndID(t *testing.T) {
	env, err := New(TypeOrderCreated, "orders", "o-2", time.Now(), OrderCreated{OrderID: "o-2"})
	require.NoError(t, err)

	h := env.Headers()
	assert.Equal(t, TypeOrderCreated, h[HeaderEventType])
	assert.Equal(t, "1", h[HeaderEventVersion])
	assert.Equal(t, env.EventID, h[HeaderEventID])
}
