package inject

import (
	"context"
	"testing"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface {
	Greet() string
}

type english struct{ name string }

func (e *english) Greet() string { return "hello " + e.name }

func TestNewContainer(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	first, err := NewContainer(logger)
	require.NoError(t, err)
	second, err := NewContainer(logger)
	require.NoError(t, err)
	require.NotEqual(t, first.GetContainerID(), second.GetContainerID())

	require.NoError(t, ectoinject.RegisterInstance[greeter](first, &english{name: "first"}))
	require.NoError(t, ectoinject.RegisterInstance[greeter](second, &english{name: "second"}))

	t.Run("should resolve from the active container", func(t *testing.T) {
		ctx, err := ectoinject.SetActiveContainer(context.Background(), second.GetContainerID())
		require.NoError(t, err)

		_, g, err := ectoinject.GetContext[greeter](ctx)
		require.NoError(t, err)
		assert.Equal(t, "hello second", g.Greet())
	})

	t.Run("should fail for unregistered services", func(t *testing.T) {
		ctx, err := ectoinject.SetActiveContainer(context.Background(), first.GetContainerID())
		require.NoError(t, err)

		_, _, err = ectoinject.GetContext[*english](ctx)
		assert.Error(t, err)
	})
}
