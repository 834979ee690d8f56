// Package config loads controller configuration from a YAML file,
// overlaying values onto working defaults so a missing or partial file
// is never fatal.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Engine   EngineConfig   `yaml:"engine"`
	Toolpath ToolpathConfig `yaml:"toolpath"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

type SerialConfig struct {
	// Port may be a device path or a ws:// bridge URL.
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	// BridgePortName names the remote port when Port is a ws:// URL.
	BridgePortName string `yaml:"bridge_port_name"`
}

type EngineConfig struct {
	BufferSize     int      `yaml:"buffer_size"`
	PollInterval   Duration `yaml:"poll_interval"`
	CommandTimeout Duration `yaml:"command_timeout"`
	HomingTimeout  Duration `yaml:"homing_timeout"`
	DetectGrace    Duration `yaml:"detect_grace"`
}

type ToolpathConfig struct {
	ResolutionPxPerMM int     `yaml:"resolution_px_per_mm"`
	Threshold         int     `yaml:"threshold"`
	FeedRate          float64 `yaml:"feed_rate"`
	LaserPowerMax     int     `yaml:"laser_power_max"`
	ZigZag            bool    `yaml:"zig_zag"`
	ReturnHome        bool    `yaml:"return_home"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration parses YAML scalars like "200ms" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults mirror the original controller's product choices: GRBL
// standard baud, 200ms poll, the classic 128-byte receive buffer.
func Defaults() Config {
	return Config{
		Serial: SerialConfig{
			Baud: 115200,
		},
		Engine: EngineConfig{
			BufferSize:     128,
			PollInterval:   Duration(200 * time.Millisecond),
			CommandTimeout: Duration(10 * time.Second),
			HomingTimeout:  Duration(2 * time.Minute),
			DetectGrace:    Duration(2 * time.Second),
		},
		Toolpath: ToolpathConfig{
			ResolutionPxPerMM: 5,
			Threshold:         200,
			FeedRate:          1000,
			LaserPowerMax:     1000,
			ZigZag:            true,
			ReturnHome:        true,
		},
		HTTP: HTTPConfig{
			Addr: ":9091",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
