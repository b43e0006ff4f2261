// Package config loads and holds the automacro configuration.
//
// Loading order: built-in defaults, then the YAML file (a missing file keeps the
// defaults), then AUTOMACRO_* environment overrides, then Validate. Keys the
// structs do not name are ignored.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"automacro/internal/hal"
)

const AppName = "automacro"

type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	Logging     LoggingConfig     `yaml:"logging"`
	Capture     CaptureConfig     `yaml:"capture"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Storage     StorageConfig     `yaml:"storage"`
	Hotkeys     HotkeyConfig      `yaml:"hotkeys"`
	API         APIConfig         `yaml:"api"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	General     GeneralConfig     `yaml:"general"`
}

// EngineConfig is what the HAL receives at Initialize.
type EngineConfig struct {
	DefaultDelayMS       int    `yaml:"default_delay_ms"`
	MonitoringIntervalMS int    `yaml:"monitoring_interval_ms"`
	LogLevel             string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout or stderr
}

type CaptureConfig struct {
	Keyboard bool `yaml:"keyboard"`
	Mouse    bool `yaml:"mouse"`
	// QueueSize bounds the buffer between the OS callback and the recorder.
	QueueSize              int  `yaml:"queue_size"`
	MouseMoveMinIntervalMS int  `yaml:"mouse_move_min_interval_ms"`
	IgnoreHotkeys          bool `yaml:"ignore_hotkeys"`
}

type PlaybackConfig struct {
	AbortOnError bool    `yaml:"abort_on_error"`
	DefaultSpeed float64 `yaml:"default_speed"`
	WakeDisplay  bool    `yaml:"wake_display"`
}

type RecognitionConfig struct {
	DefaultThreshold float64 `yaml:"default_threshold"`
	PollIntervalMS   int     `yaml:"poll_interval_ms"`
	TimeoutMS        int     `yaml:"timeout_ms"`
	Workers          int     `yaml:"workers"`
}

type StorageConfig struct {
	Driver       string `yaml:"driver"` // sqlite or file
	Path         string `yaml:"path"`
	TemplatesDir string `yaml:"templates_dir"`
	BusyTimeout  int    `yaml:"busy_timeout"`
}

type HotkeyConfig struct {
	Record string `yaml:"record"`
	Play   string `yaml:"play"`
	Pause  string `yaml:"pause"`
	Stop   string `yaml:"stop"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Token   string `yaml:"token"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

type GeneralConfig struct {
	Headless     bool `yaml:"headless"`
	StartOnLogin bool `yaml:"start_on_login"`
	Tray         bool `yaml:"tray"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dir := dataDir()
	return &Config{
		Engine: EngineConfig{
			DefaultDelayMS:       int(hal.DefaultDelay / time.Millisecond),
			MonitoringIntervalMS: int(hal.DefaultMonitoringInterval / time.Millisecond),
			LogLevel:             "info",
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Capture: CaptureConfig{
			Keyboard:               true,
			Mouse:                  true,
			QueueSize:              1000,
			MouseMoveMinIntervalMS: 10,
			IgnoreHotkeys:          true,
		},
		Playback: PlaybackConfig{DefaultSpeed: 1.0},
		Recognition: RecognitionConfig{
			DefaultThreshold: 0.8,
			PollIntervalMS:   100,
			TimeoutMS:        2000,
			Workers:          runtime.GOMAXPROCS(0),
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(dir, "scripts.db"),
			TemplatesDir: filepath.Join(dir, "templates"),
			BusyTimeout:  5,
		},
		Hotkeys: HotkeyConfig{
			Record: "Ctrl+Alt+F9",
			Play:   "Ctrl+Alt+F10",
			Pause:  "Ctrl+Alt+F11",
			Stop:   "Ctrl+Alt+F12",
		},
		API: APIConfig{Host: "127.0.0.1", Port: 18090},
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    AppName,
			TopicPrefix: AppName,
			QoS:         1,
		},
		InfluxDB: InfluxDBConfig{URL: "http://127.0.0.1:8086", Org: AppName, Bucket: AppName, FlushInterval: 10},
		General:  GeneralConfig{Tray: true},
	}
}

// Load reads path on top of the defaults. An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTOMACRO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
		cfg.Engine.LogLevel = v
	}
	if v := os.Getenv("AUTOMACRO_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("AUTOMACRO_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("AUTOMACRO_TEMPLATES_DIR"); v != "" {
		cfg.Storage.TemplatesDir = v
	}
	if v := os.Getenv("AUTOMACRO_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("AUTOMACRO_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}
	if v := os.Getenv("AUTOMACRO_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("AUTOMACRO_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("AUTOMACRO_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("AUTOMACRO_HEADLESS"); v != "" {
		cfg.General.Headless, _ = strconv.ParseBool(v)
	}
}

func (c *Config) Validate() error {
	var problems []string
	if c.Engine.DefaultDelayMS < 0 {
		problems = append(problems, "engine.default_delay_ms must be >= 0")
	}
	if c.Engine.MonitoringIntervalMS < 0 {
		problems = append(problems, "engine.monitoring_interval_ms must be >= 0")
	}
	if c.Capture.QueueSize <= 0 {
		problems = append(problems, "capture.queue_size must be > 0")
	}
	if c.Playback.DefaultSpeed <= 0 {
		problems = append(problems, "playback.default_speed must be > 0")
	}
	if t := c.Recognition.DefaultThreshold; t < 0 || t > 1 {
		problems = append(problems, "recognition.default_threshold must be within [0,1]")
	}
	if c.Recognition.PollIntervalMS <= 0 {
		problems = append(problems, "recognition.poll_interval_ms must be > 0")
	}
	switch c.Storage.Driver {
	case "sqlite", "file":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q must be sqlite or file", c.Storage.Driver))
	}
	if c.Storage.Path == "" {
		problems = append(problems, "storage.path is required")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		problems = append(problems, fmt.Sprintf("api.port %d out of range", c.API.Port))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS > 2 {
		problems = append(problems, "mqtt.qos must be 0, 1 or 2")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		problems = append(problems, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// HALOptions converts the engine section into what hal.Initialize takes.
func (c *Config) HALOptions() hal.Options {
	level := c.Engine.LogLevel
	if level == "" {
		level = c.Logging.Level
	}
	return hal.Options{
		DefaultDelay:       time.Duration(c.Engine.DefaultDelayMS) * time.Millisecond,
		MonitoringInterval: time.Duration(c.Engine.MonitoringIntervalMS) * time.Millisecond,
		LogLevel:           level,
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Recognition.PollIntervalMS) * time.Millisecond
}

func (c *Config) RecognitionTimeout() time.Duration {
	return time.Duration(c.Recognition.TimeoutMS) * time.Millisecond
}

// DefaultPath is config.yaml inside the per-user application directory.
func DefaultPath() (string, error) {
	dir, err := appDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func appDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", AppName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, AppName), nil
	default:
		if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
			return filepath.Join(x, AppName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", AppName), nil
	}
}

func dataDir() string {
	dir, err := appDir()
	if err != nil {
		return "."
	}
	return dir
}
