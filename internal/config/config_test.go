package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestFromEnv(t *testing.T) {
	setEnv(t, "HA_URL", "http://ha.local:8123")
	setEnv(t, "HA_TOKEN", "secret")
	setEnv(t, "POLL_INTERVAL", "")
	setEnv(t, "HTTP_PORT", "")
	setEnv(t, "BINDINGS_FILE", "")
	setEnv(t, "PUSH_DISABLED", "")

	t.Run("defaults", func(t *testing.T) {
		s, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, s.PollInterval)
		assert.Equal(t, 8000, s.HTTPPort)
		assert.Equal(t, "config/devices.yaml", s.BindingsFile)
		assert.False(t, s.PushDisabled)
	})

	t.Run("overrides", func(t *testing.T) {
		setEnv(t, "POLL_INTERVAL", "5")
		setEnv(t, "HTTP_PORT", "9000")
		setEnv(t, "PUSH_DISABLED", "true")

		s, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, s.PollInterval)
		assert.Equal(t, 9000, s.HTTPPort)
		assert.True(t, s.PushDisabled)
	})

	t.Run("missing credentials", func(t *testing.T) {
		setEnv(t, "HA_TOKEN", "")
		_, err := FromEnv()
		assert.Error(t, err)
	})

	t.Run("bad poll interval", func(t *testing.T) {
		setEnv(t, "HA_TOKEN", "secret")
		setEnv(t, "POLL_INTERVAL", "soon")
		_, err := FromEnv()
		assert.Error(t, err)
	})
}

func writeBindings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBindings(t *testing.T) {
	t.Run("valid file with defaults", func(t *testing.T) {
		path := writeBindings(t, `
devices:
  - id: office.brightness
    entity_id: number.office_brightness
    node: /dev/i2c-4
    feature: brightness
  - id: office.input
    entity_id: number.office_input
    node: /dev/i2c-4
    feature: input_source
`)
		bindings, err := LoadBindings(path)
		require.NoError(t, err)
		require.Len(t, bindings, 2)

		assert.Equal(t, 0, bindings[0].Min)
		assert.Equal(t, 100, bindings[0].Max)
		assert.Equal(t, 255, bindings[1].Max)
	})

	t.Run("explicit range kept", func(t *testing.T) {
		path := writeBindings(t, `
devices:
  - id: office.brightness
    entity_id: number.office_brightness
    node: /dev/i2c-4
    feature: brightness
    min: 10
    max: 90
`)
		bindings, err := LoadBindings(path)
		require.NoError(t, err)
		assert.Equal(t, 10, bindings[0].Min)
		assert.Equal(t, 90, bindings[0].Max)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		path := writeBindings(t, `
devices:
  - {id: a, entity_id: number.a, node: /dev/i2c-4, feature: brightness}
  - {id: a, entity_id: number.b, node: /dev/i2c-5, feature: brightness}
`)
		_, err := LoadBindings(path)
		assert.ErrorContains(t, err, "duplicate device id")
	})

	t.Run("duplicate node feature rejected", func(t *testing.T) {
		path := writeBindings(t, `
devices:
  - {id: a, entity_id: number.a, node: /dev/i2c-4, feature: brightness}
  - {id: b, entity_id: number.b, node: /dev/i2c-4, feature: brightness}
`)
		_, err := LoadBindings(path)
		assert.ErrorContains(t, err, "already bound")
	})

	t.Run("unknown feature rejected", func(t *testing.T) {
		path := writeBindings(t, `
devices:
  - {id: a, entity_id: number.a, node: /dev/i2c-4, feature: sharpness}
`)
		_, err := LoadBindings(path)
		assert.ErrorContains(t, err, "unknown feature")
	})

	t.Run("empty file rejected", func(t *testing.T) {
		path := writeBindings(t, "devices: []\n")
		_, err := LoadBindings(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadBindings(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
