package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fogwatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, 4, cfg.Server.Quorum)
	assert.Equal(t, 10*time.Second, cfg.Server.PollTimeout)
	assert.Equal(t, types.DefaultCatalog(), cfg.Catalog())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
[server]
quorum = 3
poll_timeout = "2s"
rounds = "prompt"

[worker]
availability = "load"

[[classes]]
id = 0
name = "Person"
color = "#ff0000"

[[classes]]
id = 7
name = "Truck"
color = "#00aa55"
`)
	t.Setenv("FOGWATCH_SERVER_QUORUM", "2")
	t.Setenv("FOGWATCH_LOG_LEVEL", "debug")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Server.Quorum, "env wins over file")
	assert.Equal(t, 2*time.Second, cfg.Server.PollTimeout)
	assert.Equal(t, "prompt", cfg.Server.Rounds)
	assert.Equal(t, "load", cfg.Worker.Availability)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 60*time.Second, cfg.Server.SessionTimeout, "untouched keys keep defaults")

	catalog := cfg.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, []types.ClassID{0, 7}, catalog.IDs())
	assert.Equal(t, "Truck", catalog.Name(7))
	assert.Equal(t, [3]uint8{0x00, 0xaa, 0x55}, catalog[1].Color)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero quorum", func(c *Config) { c.Server.Quorum = 0 }, "server.quorum"},
		{"negative timeout", func(c *Config) { c.Server.PollTimeout = -time.Second }, "timeouts"},
		{"no worker connections", func(c *Config) { c.Worker.Count = 0 }, "worker.count"},
		{"confidence out of range", func(c *Config) { c.Worker.MinConfidence = 1.5 }, "min_confidence"},
		{"duplicate class", func(c *Config) { c.Classes = append(c.Classes, c.Classes[0]) }, "defined twice"},
		{"negative class", func(c *Config) { c.Classes[0].ID = -1 }, "negative"},
		{"bad color", func(c *Config) { c.Classes[1].Color = "teal" }, "#rrggbb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestSampleRoundTrips(t *testing.T) {
	data, err := Sample()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, toml.Unmarshal(data, &doc))
	server := doc["server"].(map[string]interface{})
	assert.Equal(t, "10s", server["poll_timeout"])

	path := filepath.Join(t.TempDir(), "fogwatch.toml")
	require.NoError(t, WriteSample(path))
	assert.Error(t, WriteSample(path), "existing files are not overwritten")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}
