package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderConversion(t *testing.T) {
	in := map[string]string{"x-event-type": "OrderCreated", "traceparent": "00-abc"}
	back := HeadersToMap(MapToHeaders(in))
	assert.Equal(t, in, back)
	assert.Empty(t, HeadersToMap(nil))
}
