package errdefs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "plain", err: errors.New("boom"), want: KindUnknown},
		{name: "corruption", err: Corruption("level %s is negative", "x"), want: KindDataCorruption},
		{name: "configuration", err: Configuration("market %s missing", "7"), want: KindConfiguration},
		{name: "not found", err: fmt.Errorf("block: %w", ErrNotFound), want: KindNotFound},
		{name: "unavailable", err: Unavailable("redis get", context.DeadlineExceeded), want: KindUpstreamUnavailable},
		{name: "corruption inside unavailable", err: Unavailable("apply", Corruption("bad")), want: KindDataCorruption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	err := Unavailable("find markets", context.Canceled)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "find markets")
	assert.Nil(t, Unavailable("noop", nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "data_corruption", KindDataCorruption.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
