package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/config"
)

func TestNew(t *testing.T) {
	t.Run("should build a logger for a valid level", func(t *testing.T) {
		logger, err := New(&config.Config{LogLevel: "debug", PrettyLogs: true, AppName: "sage"})
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("should reject an unknown level", func(t *testing.T) {
		_, err := New(&config.Config{LogLevel: "loud"})
		assert.Error(t, err)
	})
}
