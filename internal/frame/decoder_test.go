package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		prefix string
		body   string
		kind   Kind
	}{
		{
			name:   "prefixed json",
			input:  `001640619651{"type":"chat"}`,
			prefix: "001640619651",
			body:   `{"type":"chat"}`,
			kind:   KindPrefixedJSON,
		},
		{
			name:   "prefixed multiline json",
			input:  "42{\n\"a\": 1\n}",
			prefix: "42",
			body:   "{\n\"a\": 1\n}",
			kind:   KindPrefixedJSON,
		},
		{
			name:  "plain json",
			input: `{"extras":{}}`,
			body:  `{"extras":{}}`,
			kind:  KindJSON,
		},
		{
			name:  "plain text",
			input: "ping",
			kind:  KindOpaque,
		},
		{
			name:  "trailing garbage after object",
			input: `12{"a":1}tail`,
			kind:  KindOpaque,
		},
		{
			name:  "prefix with broken json",
			input: `12{"a":`,
			kind:  KindOpaque,
		},
		{
			name:   "prefix with unterminated object",
			input:  `12{"a":}`,
			prefix: "12",
			kind:   KindOpaque,
		},
		{
			name:  "invalid utf8",
			input: "\xff\xfe{",
			kind:  KindOpaque,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Decode([]byte(tt.input))

			assert.Equal(t, tt.prefix, p.PrefixID)
			assert.Equal(t, tt.kind, p.Kind())
			assert.Equal(t, tt.input, p.Text)
			if tt.body == "" {
				assert.Nil(t, p.Body)
			} else {
				assert.JSONEq(t, tt.body, string(p.Body))
			}
		})
	}
}

func TestDecode_DoesNotAliasInput(t *testing.T) {
	raw := []byte(`{"a":1}`)
	p := Decode(raw)
	raw[2] = 'b'
	assert.JSONEq(t, `{"a":1}`, string(p.Body))
}
