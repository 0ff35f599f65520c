package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
)

type line struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

type command struct {
	Email string `json:"email" validate:"required,email"`
	Lines []line `json:"items" validate:"required,min=1,dive"`
}

func TestStructReportsFieldsByJSONName(t *testing.T) {
	err := Struct(command{Email: "nope", Lines: []line{{ProductID: "", Quantity: 0}}})
	require.Error(t, err)

	coded := pkgerrors.As(err)
	require.NotNil(t, coded)
	assert.Equal(t, pkgerrors.CodeValidation, coded.Code())
	details, ok := coded.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a valid email", details["email"])
	assert.Equal(t, "is required", details["items[0].productId"])
	assert.Equal(t, "must be greater than 0", details["items[0].quantity"])
}

func TestStructAcceptsValidInput(t *testing.T) {
	assert.NoError(t, Struct(command{Email: "a@b.co", Lines: []line{{ProductID: "p1", Quantity: 1}}}))
}
