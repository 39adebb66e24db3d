package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePayloadSize(t *testing.T) {
	assert.ErrorIs(t, ValidatePayloadSize(nil, 10), ErrPayloadEmpty)
	assert.ErrorIs(t, ValidatePayloadSize([]byte{}, 10), ErrPayloadEmpty)
	assert.NoError(t, ValidatePayloadSize([]byte("abc"), 3))
	assert.ErrorIs(t, ValidatePayloadSize([]byte("abcd"), 3), ErrPayloadTooLarge)
}

func TestValidatePacketPayload(t *testing.T) {
	small := make([]byte, 1024)
	assert.NoError(t, ValidatePacketPayload(small))

	exact := make([]byte, MaxPayload)
	assert.NoError(t, ValidatePacketPayload(exact))

	over := make([]byte, MaxPayload+1)
	assert.ErrorIs(t, ValidatePacketPayload(over), ErrPayloadTooLarge)
}
