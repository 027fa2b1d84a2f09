package urlcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain", "hello"},
		{"spaces", "hello world"},
		{"unicode", "unicode ☺"},
		{"leading dot", ".hidden"},
		{"only dot", "."},
		{"empty", ""},
		{"already percent-like", "100%done"},
		{"mixed safe chars", "a-b_c.d~e"},
		{"slashes and colons", "a/b:c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.input)
			decoded, ok := Decode(encoded)
			require.True(t, ok, "decode of %q should succeed", encoded)
			assert.Equal(t, tt.input, decoded)
		})
	}
}

func TestEncodeLeadingDotEscaped(t *testing.T) {
	assert.Equal(t, "%2Efoo", Encode(".foo"))
	assert.Equal(t, "%2E", Encode("."))
}

func TestEncodeUsesUppercaseHex(t *testing.T) {
	encoded := Encode("\xab\xcd")
	assert.Equal(t, "%AB%CD", encoded)
}

func TestDecodeRejectsLeadingDot(t *testing.T) {
	_, ok := Decode(".hidden")
	assert.False(t, ok)
}

func TestDecodeRejectsLowercaseHex(t *testing.T) {
	_, ok := Decode("%ab")
	assert.False(t, ok)
}

func TestDecodeRejectsUnsafeCharacter(t *testing.T) {
	_, ok := Decode("a/b")
	assert.False(t, ok)
}

func TestDecodeRejectsTruncatedEscape(t *testing.T) {
	_, ok := Decode("%A")
	assert.False(t, ok)
}
