package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := Routing("router.evaluate", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindRouting, kind)

	_, ok = KindOf(base)
	assert.False(t, ok)
}

func TestErrorUnwrap(t *testing.T) {
	base := ErrTagRevisited
	wrapped := Routing("router.evaluate", base)

	assert.True(t, errors.Is(wrapped, ErrTagRevisited))
	assert.Contains(t, wrapped.Error(), "router.evaluate")
	assert.Contains(t, wrapped.Error(), base.Error())
}

func TestConstructorsSetKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"config", Config("op", fmt.Errorf("x")), KindConfig},
		{"routing", Routing("op", fmt.Errorf("x")), KindRouting},
		{"upstream", Upstream("op", fmt.Errorf("x")), KindUpstream},
		{"protocol", Protocol("op", fmt.Errorf("x")), KindProtocol},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, ok := KindOf(tc.err)
			require.True(t, ok)
			assert.Equal(t, tc.want, kind)
		})
	}
}
