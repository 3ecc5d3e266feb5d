package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SerialConfig selects the serial device the gimbal is attached to.
type SerialConfig struct {
	Device      string        `mapstructure:"device"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// LinkConfig tunes the command dispatcher.
type LinkConfig struct {
	Settle          time.Duration `mapstructure:"settle"`
	QueryReplyLen   int           `mapstructure:"queryReplyLen"`
	ControlReplyLen int           `mapstructure:"controlReplyLen"`
}

// ControlConfig tunes the joystick controller.
type ControlConfig struct {
	MinInterval time.Duration `mapstructure:"minInterval"`
	MaxSpeed    int           `mapstructure:"maxSpeed"`
	Deadzone    float64       `mapstructure:"deadzone"`
}

// HTTPConfig for the remote control server
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// VideoConfig enables the RTSP to WebRTC preview.
type VideoConfig struct {
	RTSPURL    string   `mapstructure:"rtspURL"`
	ICEServers []string `mapstructure:"iceServers"`
	ICEIPs     []string `mapstructure:"iceIPs"` // non-empty enables ICE-lite
}

// LumberjackConfig rolling log file settings
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig log level and outputs
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus exposition
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Link    LinkConfig    `mapstructure:"link"`
	Control ControlConfig `mapstructure:"control"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Video   VideoConfig   `mapstructure:"video"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"serial":    "serial.device",
	"baud":      "serial.baud",
	"listen":    "http.addr",
	"rtsp":      "video.rtspURL",
	"ice-ips":   "video.iceIPs",
	"log-level": "logging.level",
	"settle":    "link.settle",
}

// Load reads configuration from a YAML/TOML/JSON file, GIMBAL_* environment
// variables and the given flags, in increasing priority. With an empty path
// GIMBAL_CONFIG is consulted, then ./gimbal.yaml and ./configs/gimbal.yaml;
// a missing default file is not an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("GIMBAL_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("gimbal")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("GIMBAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Serial.Baud < 0:
		return fmt.Errorf("serial.baud %d is negative", c.Serial.Baud)
	case c.Serial.ReadTimeout < 0:
		return fmt.Errorf("serial.readTimeout %s is negative", c.Serial.ReadTimeout)
	case c.Link.Settle < 0:
		return fmt.Errorf("link.settle %s is negative", c.Link.Settle)
	case c.Link.QueryReplyLen < 0:
		return fmt.Errorf("link.queryReplyLen %d is negative", c.Link.QueryReplyLen)
	case c.Link.ControlReplyLen < 0:
		return fmt.Errorf("link.controlReplyLen %d is negative", c.Link.ControlReplyLen)
	case c.Control.MinInterval < 0:
		return fmt.Errorf("control.minInterval %s is negative", c.Control.MinInterval)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", "")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.readTimeout", "2s")

	v.SetDefault("link.settle", "50ms")
	v.SetDefault("link.queryReplyLen", 4)
	v.SetDefault("link.controlReplyLen", 32)

	v.SetDefault("control.minInterval", "50ms")
	v.SetDefault("control.maxSpeed", 100)
	v.SetDefault("control.deadzone", 0.05)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("video.rtspURL", "")
	v.SetDefault("video.iceServers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("video.iceIPs", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
