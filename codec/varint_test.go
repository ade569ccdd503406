package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeVarIntLiterals(t *testing.T) {
	tests := []struct {
		name     string
		input    uint32
		expected []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"single_byte", 126, []byte{0x7E}},
		{"two_byte", 146, []byte{0x92, 0x01}},
		{"three_byte", 16385, []byte{0x81, 0x80, 0x01}},
		{"four_byte", 2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{"max_value", 268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeVarInt(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)

			decoded, err := decodeVarInt(bytes.NewReader(tt.expected))
			require.NoError(t, err)
			assert.Equal(t, tt.input, decoded)
		})
	}
}

func TestEncodeVarIntTooLarge(t *testing.T) {
	_, err := encodeVarInt(MaxVariableByteInteger + 1)
	assert.ErrorIs(t, err, ErrVariableByteIntegerTooLarge)
}

func TestDecodeVarIntMalformed(t *testing.T) {
	// Four bytes, all with the continuation bit set: never terminates.
	_, err := decodeVarInt(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	assert.ErrorIs(t, err, ErrMalformedVariableByteInteger)
}

func TestDecodeVarIntTruncated(t *testing.T) {
	_, err := decodeVarInt(bytes.NewReader([]byte{0x80}))
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}
