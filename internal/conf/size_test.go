package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"1024", 1024},
		{"1k", 1 << 10},
		{"1K", 1 << 10},
		{"2m", 2 << 20},
		{"3G", 3 << 30},
		{"0", 0},
	}

	for _, c := range cases {
		got, err := ParseSize(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "ParseSize(%q)", c.in)
	}
}

func TestParseSize_Invalid(t *testing.T) {
	_, err := ParseSize("")
	assert.Error(t, err)

	_, err = ParseSize("abc")
	assert.Error(t, err)
}
