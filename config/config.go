// Package config loads daemon settings from defaults, an optional YAML file
// and MESHLINK_* environment variables, in increasing precedence.
//
// Keys are dotted paths such as radio.address; the matching environment
// variable replaces dots with underscores: MESHLINK_RADIO_ADDRESS.
// Durations accept Go syntax ("5s", "2m").
//
// Values outside their documented bounds are logged and replaced by the
// default rather than failing the load.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/opd-ai/meshlink/packet"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/service"
	"github.com/opd-ai/meshlink/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MESHLINK"

// Bounds for validated settings.
const (
	MinReconnectInterval = time.Second
	MaxReconnectInterval = 5 * time.Minute
	MinResponseTimeout   = time.Second
	MaxResponseTimeout   = 10 * time.Minute
	MinEarlyBufferSize   = 1
	MaxEarlyBufferSize   = 4096
	MinMeshLogSize       = 1
	MaxMeshLogSize       = 100000
	MinSleepGrace        = time.Second
	MaxSleepGrace        = 10 * time.Minute
	MaxRetryDelay        = time.Minute
)

// ErrInvalidLogFormat is returned for a log format other than text or json.
var ErrInvalidLogFormat = errors.New("log format must be text or json")

// Config is the complete daemon configuration.
type Config struct {
	Radio   Radio   `mapstructure:"radio" yaml:"radio"`
	Service Service `mapstructure:"service" yaml:"service"`
	HTTP    HTTP    `mapstructure:"http" yaml:"http"`
	Log     Log     `mapstructure:"log" yaml:"log"`
	Systemd Systemd `mapstructure:"systemd" yaml:"systemd"`
}

// Radio selects the radio link. Address is host or host:port of a
// network-attached radio. Device names a character device or pipe speaking
// the framed stream protocol and takes precedence over Address when set.
type Radio struct {
	Address           string        `mapstructure:"address" yaml:"address"`
	Device            string        `mapstructure:"device" yaml:"device"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" yaml:"reconnect_interval"`
}

// Service tunes the protocol runtime.
type Service struct {
	ResponseTimeout time.Duration `mapstructure:"response_timeout" yaml:"response_timeout"`
	EarlyBufferSize int           `mapstructure:"early_buffer_size" yaml:"early_buffer_size"`
	MeshLogSize     int           `mapstructure:"mesh_log_size" yaml:"mesh_log_size"`
	SleepGrace      time.Duration `mapstructure:"sleep_grace" yaml:"sleep_grace"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// HTTP configures the control API. An empty Listen disables it.
type HTTP struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Log configures logrus.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Systemd controls sd_notify readiness reporting.
type Systemd struct {
	Notify bool `mapstructure:"notify" yaml:"notify"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Radio: Radio{
			Address:           "localhost",
			ReconnectInterval: transport.DefaultReconnectInterval,
		},
		Service: Service{
			ResponseTimeout: packet.DefaultResponseTimeout,
			EarlyBufferSize: service.DefaultEarlyBufferSize,
			MeshLogSize:     repository.DefaultMeshLogCapacity,
			SleepGrace:      service.DefaultSleepGrace,
			RetryDelay:      service.DefaultRetryDelay,
		},
		HTTP:    HTTP{Listen: "127.0.0.1:4480"},
		Log:     Log{Level: "info", Format: "text"},
		Systemd: Systemd{Notify: true},
	}
}

// SetDefaults registers every default with v so environment variables
// can override keys that no file sets.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("radio.address", d.Radio.Address)
	v.SetDefault("radio.device", d.Radio.Device)
	v.SetDefault("radio.reconnect_interval", d.Radio.ReconnectInterval)
	v.SetDefault("service.response_timeout", d.Service.ResponseTimeout)
	v.SetDefault("service.early_buffer_size", d.Service.EarlyBufferSize)
	v.SetDefault("service.mesh_log_size", d.Service.MeshLogSize)
	v.SetDefault("service.sleep_grace", d.Service.SleepGrace)
	v.SetDefault("service.retry_delay", d.Service.RetryDelay)
	v.SetDefault("http.listen", d.HTTP.Listen)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("systemd.notify", d.Systemd.Notify)
}

// NewViper returns a viper instance with defaults and environment
// overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, when given, into v and decodes the result. A missing
// path is an error; an empty path uses defaults and the environment only.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"file":     v.ConfigFileUsed(),
		}).Info("Using config file")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.clamp()
	if err := c.Log.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// clamp replaces out-of-range values with their defaults.
func (c *Config) clamp() {
	d := Default()
	if strings.TrimSpace(c.Radio.Address) == "" {
		warnDefault("radio.address", c.Radio.Address, d.Radio.Address)
		c.Radio.Address = d.Radio.Address
	}
	c.Radio.ReconnectInterval = clampDuration("radio.reconnect_interval", c.Radio.ReconnectInterval,
		MinReconnectInterval, MaxReconnectInterval, d.Radio.ReconnectInterval)
	c.Service.ResponseTimeout = clampDuration("service.response_timeout", c.Service.ResponseTimeout,
		MinResponseTimeout, MaxResponseTimeout, d.Service.ResponseTimeout)
	c.Service.SleepGrace = clampDuration("service.sleep_grace", c.Service.SleepGrace,
		MinSleepGrace, MaxSleepGrace, d.Service.SleepGrace)
	c.Service.RetryDelay = clampDuration("service.retry_delay", c.Service.RetryDelay,
		0, MaxRetryDelay, d.Service.RetryDelay)
	c.Service.EarlyBufferSize = clampInt("service.early_buffer_size", c.Service.EarlyBufferSize,
		MinEarlyBufferSize, MaxEarlyBufferSize, d.Service.EarlyBufferSize)
	c.Service.MeshLogSize = clampInt("service.mesh_log_size", c.Service.MeshLogSize,
		MinMeshLogSize, MaxMeshLogSize, d.Service.MeshLogSize)
}

func clampDuration(key string, v, lo, hi, def time.Duration) time.Duration {
	if v < lo || v > hi {
		logrus.WithFields(logrus.Fields{
			"function":    "clamp",
			"key":         key,
			"value":       v.String(),
			"min":         lo.String(),
			"max":         hi.String(),
			"using_value": def.String(),
		}).Warn("Config value out of bounds, using default")
		return def
	}
	return v
}

func clampInt(key string, v, lo, hi, def int) int {
	if v < lo || v > hi {
		logrus.WithFields(logrus.Fields{
			"function":    "clamp",
			"key":         key,
			"value":       v,
			"min":         lo,
			"max":         hi,
			"using_value": def,
		}).Warn("Config value out of bounds, using default")
		return def
	}
	return v
}

func warnDefault(key string, v, def any) {
	logrus.WithFields(logrus.Fields{
		"function":    "clamp",
		"key":         key,
		"value":       v,
		"using_value": def,
	}).Warn("Invalid config value, using default")
}

func (l Log) validate() error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, l.Format)
	}
}

// Apply configures the standard logrus logger.
func (l Log) Apply() error {
	if err := l.validate(); err != nil {
		return err
	}
	level, _ := logrus.ParseLevel(l.Level)
	logrus.SetLevel(level)
	if strings.EqualFold(l.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
