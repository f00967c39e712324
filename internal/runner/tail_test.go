package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTailBuffer(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		writes    []string
		want      string
		truncated bool
	}{
		{name: "under limit", limit: 10, writes: []string{"abc", "def"}, want: "abcdef"},
		{name: "exact limit", limit: 6, writes: []string{"abc", "def"}, want: "abcdef"},
		{name: "overflow keeps tail", limit: 4, writes: []string{"abc", "def"}, want: "cdef", truncated: true},
		{name: "single large write", limit: 3, writes: []string{"abcdefgh"}, want: "fgh", truncated: true},
		{name: "empty", limit: 3, writes: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTailBuffer(tt.limit)
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, b.String())
			assert.Equal(t, tt.truncated, b.Truncated())
		})
	}
}
