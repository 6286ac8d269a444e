package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		prefix  string
		wantLen int
	}{
		{
			name:    "valid",
			prefix:  "st",
			wantLen: DefaultLen + len("st_"),
		},
		{
			name:    "no-prefix",
			prefix:  "",
			wantLen: DefaultLen,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.prefix)
			require.NoError(err)
			if tt.prefix != "" {
				assert.Truef(strings.HasPrefix(got, tt.prefix+"_"), "%s should start with %s_", got, tt.prefix)
			}
			assert.Len(got, tt.wantLen)
			for _, c := range strings.TrimPrefix(got, tt.prefix+"_") {
				assert.Containsf(base62, string(c), "unexpected character %q", c)
			}
		})
	}
	t.Run("unique", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			got, err := New("")
			require.NoError(err)
			assert.False(seen[got])
			seen[got] = true
		}
	})
}
