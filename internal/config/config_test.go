package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigCreatesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	_, err := ReadConfigFrom(path)
	require.ErrorIs(t, err, ErrConfigCreated)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	cfg, err := ReadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Room.CursorTTL.Std())
	assert.Equal(t, DriverMemory, cfg.Persistence.Driver)
}

func TestReadConfigOverridesAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"server": {"port": 9000},
		"room": {"cursor_ttl": "1500ms", "idle_ttl": "0", "clear_roles": ["owner"]},
		"persistence": {"driver": "redis", "redis": {"addr": "cache:6379"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	t.Setenv("WHITEBOARD_REDIS_ADDR", "redis.internal:6380")

	cfg, err := ReadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 1500*time.Millisecond, cfg.Room.CursorTTL.Std())
	assert.Equal(t, time.Duration(0), cfg.Room.IdleTTL.Std())
	assert.Equal(t, []string{"owner"}, cfg.Room.ClearRoles)
	assert.Equal(t, "redis.internal:6380", cfg.Persistence.Redis.Addr)
	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 256, cfg.Server.OutboundQueue)
}

func TestReadConfigInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err := ReadConfigFrom(bad)
	assert.ErrorIs(t, err, ErrInvalidJSON)

	badDuration := filepath.Join(dir, "duration.json")
	require.NoError(t, os.WriteFile(badDuration, []byte(`{"room":{"cursor_ttl":"soon"}}`), 0644))
	_, err = ReadConfigFrom(badDuration)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, false},
		{"unknown store", func(c *Config) { c.Persistence.Driver = "cassandra" }, false},
		{"postgres without dsn", func(c *Config) { c.Persistence.Driver = DriverPostgres }, false},
		{"sql membership", func(c *Config) {
			c.Membership.Driver = DriverSQL
			c.Membership.SQL = SQLConfig{Driver: "sqlite", DSN: "file:teams.db"}
		}, true},
		{"sql membership bad driver", func(c *Config) {
			c.Membership.Driver = DriverSQL
			c.Membership.SQL = SQLConfig{Driver: "oracle", DSN: "x"}
		}, false},
		{"zero cursor ttl", func(c *Config) { c.Room.CursorTTL = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDurationString(t *testing.T) {
	assert.Equal(t, "2s", Duration(2*time.Second).String())
	assert.Equal(t, "1500ms", Duration(1500*time.Millisecond).String())
	assert.Equal(t, "7d", Duration(7*24*time.Hour).String())
	assert.Equal(t, "0", Duration(0).String())
}
