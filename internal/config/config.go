// Package config loads fogwatch settings from defaults, an optional TOML file,
// FOGWATCH_* environment variables and command-line flags (highest wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// DefaultPath is read when no --config flag is given; it may be absent.
const DefaultPath = "fogwatch.toml"

// EnvPrefix prefixes environment overrides, e.g. FOGWATCH_SERVER_QUORUM.
const EnvPrefix = "FOGWATCH"

// Server contains coordinator settings.
type Server struct {
	Addr           string        `mapstructure:"addr" toml:"addr"`
	Quorum         int           `mapstructure:"quorum" toml:"quorum"`
	AcceptTimeout  time.Duration `mapstructure:"accept_timeout" toml:"accept_timeout"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout" toml:"poll_timeout"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" toml:"session_timeout"`
	MaxFrameBytes  uint64        `mapstructure:"max_frame_bytes" toml:"max_frame_bytes"`
	Output         string        `mapstructure:"output" toml:"output"`
	Rounds         string        `mapstructure:"rounds" toml:"rounds"`
	Seed           uint64        `mapstructure:"seed" toml:"seed"`
}

// Worker contains fog node settings.
type Worker struct {
	Addr          string        `mapstructure:"addr" toml:"addr"`
	Count         int           `mapstructure:"count" toml:"count"`
	Availability  string        `mapstructure:"availability" toml:"availability"`
	MaxLoad       float64       `mapstructure:"max_load" toml:"max_load"`
	Detector      string        `mapstructure:"detector" toml:"detector"`
	MinConfidence float64       `mapstructure:"min_confidence" toml:"min_confidence"`
	Threshold     float64       `mapstructure:"threshold" toml:"threshold"`
	SimpleClass   int           `mapstructure:"simple_class" toml:"simple_class"`
	Python        string        `mapstructure:"python" toml:"python"`
	Script        string        `mapstructure:"script" toml:"script"`
	Model         string        `mapstructure:"model" toml:"model"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" toml:"read_timeout"`
	MaxFrameBytes uint64        `mapstructure:"max_frame_bytes" toml:"max_frame_bytes"`
}

// Log contains logging settings.
type Log struct {
	Level     string `mapstructure:"level" toml:"level"`
	Format    string `mapstructure:"format" toml:"format"`
	File      string `mapstructure:"file" toml:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
}

// Class is one catalog entry; Color is "#rrggbb".
type Class struct {
	ID    int    `mapstructure:"id" toml:"id"`
	Name  string `mapstructure:"name" toml:"name"`
	Color string `mapstructure:"color" toml:"color"`
}

// Config is the full fogwatch configuration.
type Config struct {
	Server  Server  `mapstructure:"server" toml:"server"`
	Worker  Worker  `mapstructure:"worker" toml:"worker"`
	Log     Log     `mapstructure:"log" toml:"log"`
	Classes []Class `mapstructure:"classes" toml:"classes"`
}

// Default returns the built-in configuration.
func Default() Config {
	catalog := types.DefaultCatalog()
	classes := make([]Class, 0, len(catalog))
	for _, c := range catalog {
		classes = append(classes, Class{ID: int(c.ID), Name: c.Name, Color: formatColor(c.Color)})
	}
	return Config{
		Server: Server{
			Addr:           "127.0.0.1:8095",
			Quorum:         4,
			PollTimeout:    10 * time.Second,
			SessionTimeout: 60 * time.Second,
			MaxFrameBytes:  64 << 20,
			Output:         "detected_objects_image.jpg",
			Rounds:         "once",
		},
		Worker: Worker{
			Addr:          "127.0.0.1:8095",
			Count:         1,
			Availability:  "always",
			MaxLoad:       4,
			Detector:      "simple",
			MinConfidence: 0.25,
			Threshold:     60,
			Python:        "python3",
			Script:        "python/detector.py",
			Model:         "yolov8n.pt",
			ReadTimeout:   30 * time.Second,
			MaxFrameBytes: 64 << 20,
		},
		Log: Log{
			Level:     "info",
			Format:    "auto",
			MaxSizeMB: 50,
		},
		Classes: classes,
	}
}

// SetDefaults registers every default with v so env overrides resolve.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.quorum", d.Server.Quorum)
	v.SetDefault("server.accept_timeout", d.Server.AcceptTimeout)
	v.SetDefault("server.poll_timeout", d.Server.PollTimeout)
	v.SetDefault("server.session_timeout", d.Server.SessionTimeout)
	v.SetDefault("server.max_frame_bytes", d.Server.MaxFrameBytes)
	v.SetDefault("server.output", d.Server.Output)
	v.SetDefault("server.rounds", d.Server.Rounds)
	v.SetDefault("server.seed", d.Server.Seed)

	v.SetDefault("worker.addr", d.Worker.Addr)
	v.SetDefault("worker.count", d.Worker.Count)
	v.SetDefault("worker.availability", d.Worker.Availability)
	v.SetDefault("worker.max_load", d.Worker.MaxLoad)
	v.SetDefault("worker.detector", d.Worker.Detector)
	v.SetDefault("worker.min_confidence", d.Worker.MinConfidence)
	v.SetDefault("worker.threshold", d.Worker.Threshold)
	v.SetDefault("worker.simple_class", d.Worker.SimpleClass)
	v.SetDefault("worker.python", d.Worker.Python)
	v.SetDefault("worker.script", d.Worker.Script)
	v.SetDefault("worker.model", d.Worker.Model)
	v.SetDefault("worker.read_timeout", d.Worker.ReadTimeout)
	v.SetDefault("worker.max_frame_bytes", d.Worker.MaxFrameBytes)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
}

// Load resolves the configuration held by v. path is the config file; when it
// is empty DefaultPath is tried and silently skipped if missing.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = Default().Classes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sample renders the default configuration as TOML. Durations are written as
// strings ("10s") rather than nanosecond integers.
func Sample() ([]byte, error) {
	cfg := Default()
	raw, err := toml.Marshal(&cfg)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	durations := map[string]map[string]time.Duration{
		"server": {
			"accept_timeout":  cfg.Server.AcceptTimeout,
			"poll_timeout":    cfg.Server.PollTimeout,
			"session_timeout": cfg.Server.SessionTimeout,
		},
		"worker": {
			"read_timeout": cfg.Worker.ReadTimeout,
		},
	}
	for section, keys := range durations {
		table, ok := doc[section].(map[string]interface{})
		if !ok {
			continue
		}
		for key, d := range keys {
			table[key] = d.String()
		}
	}
	return toml.Marshal(doc)
}

// WriteSample writes the default configuration to path, refusing to overwrite.
func WriteSample(path string) error {
	data, err := Sample()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
