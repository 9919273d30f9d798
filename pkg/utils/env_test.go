package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PERP_TEST_STR", "value")
	t.Setenv("PERP_TEST_INT", "42")
	t.Setenv("PERP_TEST_INT_BAD", "-3")
	t.Setenv("PERP_TEST_INT64_ZERO", "0")
	t.Setenv("PERP_TEST_BOOL", "true")
	t.Setenv("PERP_TEST_DURATION", "90s")

	assert.Equal(t, "value", Env("PERP_TEST_STR", "def"))
	assert.Equal(t, "def", Env("PERP_TEST_MISSING", "def"))
	assert.Equal(t, 42, EnvInt("PERP_TEST_INT", 1))
	assert.Equal(t, 1, EnvInt("PERP_TEST_INT_BAD", 1))
	assert.Equal(t, int64(0), EnvInt64("PERP_TEST_INT64_ZERO", 10))
	assert.True(t, EnvBool("PERP_TEST_BOOL", false))
	assert.False(t, EnvBool("PERP_TEST_MISSING", false))
	assert.Equal(t, 90*time.Second, EnvDuration("PERP_TEST_DURATION", time.Second))
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: []string{}},
		{name: "whitespace", in: "   ", want: []string{}},
		{name: "single", in: "a", want: []string{"a"}},
		{name: "trims elements", in: " a , b,c ", want: []string{"a", "b", "c"}},
		{name: "keeps empty elements", in: "a,,b", want: []string{"a", "", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.in))
		})
	}
}
