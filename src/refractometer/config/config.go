// Package config loads the driver configuration from defaults, an optional
// YAML file and REFRACTOMETER_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dividat/refractometer/src/refractometer/acquisition"
	"github.com/dividat/refractometer/src/refractometer/decoder"
	"github.com/dividat/refractometer/src/refractometer/device"
	"github.com/dividat/refractometer/src/refractometer/workpoint"
)

const EnvPrefix = "REFRACTOMETER"

type Config struct {
	Serial     SerialConfig  `mapstructure:"serial"`
	Decoder    DecoderConfig `mapstructure:"decoder"`
	WorkPoints []string      `mapstructure:"work_points"`
	UI         UIConfig      `mapstructure:"ui"`
	Server     ServerConfig  `mapstructure:"server"`
	Log        LogConfig     `mapstructure:"log"`
}

type SerialConfig struct {
	BaudRate int `mapstructure:"baud_rate"`
	// bound on a single read, also how quickly a stop request is noticed
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	FrameSize   int           `mapstructure:"frame_size"`
	// extra open attempts while the port is busy
	OpenRetries       uint64        `mapstructure:"open_retries"`
	OpenRetryInterval time.Duration `mapstructure:"open_retry_interval"`
}

type DecoderConfig struct {
	Name string `mapstructure:"name"`
	// value reported by the constant decoder
	Constant float64 `mapstructure:"constant"`
}

type UIConfig struct {
	Tick      time.Duration `mapstructure:"tick"`
	PlotWidth int           `mapstructure:"plot_width"`
}

type ServerConfig struct {
	Address  string `mapstructure:"address"`
	Zeroconf bool   `mapstructure:"zeroconf"`
	// browser origins besides localhost that may open the remote view
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// empty logs to stderr, the terminal UI always needs a file
	File string `mapstructure:"file"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:          9600,
			ReadTimeout:       10 * time.Millisecond,
			FrameSize:         32,
			OpenRetries:       2,
			OpenRetryInterval: 100 * time.Millisecond,
		},
		Decoder: DecoderConfig{
			Name:     decoder.NameConstant,
			Constant: 11.4,
		},
		WorkPoints: append([]string(nil), workpoint.Defaults...),
		UI: UIConfig{
			Tick:      100 * time.Millisecond,
			PlotWidth: 60,
		},
		Server: ServerConfig{
			Address:  "127.0.0.1:8385",
			Zeroconf: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers the defaults with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("serial.baud_rate", defaults.Serial.BaudRate)
	viper.SetDefault("serial.read_timeout", defaults.Serial.ReadTimeout)
	viper.SetDefault("serial.frame_size", defaults.Serial.FrameSize)
	viper.SetDefault("serial.open_retries", defaults.Serial.OpenRetries)
	viper.SetDefault("serial.open_retry_interval", defaults.Serial.OpenRetryInterval)

	viper.SetDefault("decoder.name", defaults.Decoder.Name)
	viper.SetDefault("decoder.constant", defaults.Decoder.Constant)

	viper.SetDefault("work_points", defaults.WorkPoints)

	viper.SetDefault("ui.tick", defaults.UI.Tick)
	viper.SetDefault("ui.plot_width", defaults.UI.PlotWidth)

	viper.SetDefault("server.address", defaults.Server.Address)
	viper.SetDefault("server.zeroconf", defaults.Server.Zeroconf)
	viper.SetDefault("server.allowed_origins", []string{})

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.format", defaults.Log.Format)
	viper.SetDefault("log.file", defaults.Log.File)
}

// Init points viper at the config file and the environment. An explicit
// file must exist, the default location is optional.
func Init(configFile string) error {
	SetDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(EnvPrefix)
	// REFRACTOMETER_SERIAL_BAUD_RATE for serial.baud_rate
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound && configFile == "" {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load unmarshals and validates the current viper configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "refractometer")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".refractometer"
	}
	return filepath.Join(home, ".config", "refractometer")
}

// Device returns the settings the serial ports are opened with.
func (c *Config) Device() device.Config {
	return device.Config{
		BaudRate:      c.Serial.BaudRate,
		ReadTimeout:   c.Serial.ReadTimeout,
		OpenRetries:   c.Serial.OpenRetries,
		RetryInterval: c.Serial.OpenRetryInterval,
	}
}

// FrameDecoder returns the configured decoder.
func (c *Config) FrameDecoder() (acquisition.Decoder, error) {
	return decoder.ByName(c.Decoder.Name, c.Decoder.Constant)
}

// ValidLogLevels returns the log levels accepted in log.level
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// ValidationError is a single invalid setting
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	invalid := func(field string, value any, message string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: message})
	}

	if c.Serial.BaudRate <= 0 {
		invalid("serial.baud_rate", c.Serial.BaudRate, "must be positive")
	}
	if c.Serial.ReadTimeout <= 0 {
		invalid("serial.read_timeout", c.Serial.ReadTimeout, "must be positive")
	}
	if c.Serial.FrameSize <= 0 {
		invalid("serial.frame_size", c.Serial.FrameSize, "must be positive")
	}
	if c.Serial.OpenRetryInterval < 0 {
		invalid("serial.open_retry_interval", c.Serial.OpenRetryInterval, "must not be negative")
	}

	if !slices.Contains(decoder.Names(), strings.ToLower(c.Decoder.Name)) {
		invalid("decoder.name", c.Decoder.Name, fmt.Sprintf("must be one of %v", decoder.Names()))
	}

	if len(c.WorkPoints) == 0 {
		invalid("work_points", c.WorkPoints, "at least one work point is required")
	}

	if c.UI.Tick <= 0 {
		invalid("ui.tick", c.UI.Tick, "must be positive")
	}
	if c.UI.PlotWidth < 10 {
		invalid("ui.plot_width", c.UI.PlotWidth, "must be at least 10")
	}

	if c.Server.Address == "" {
		invalid("server.address", c.Server.Address, "must not be empty")
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		invalid("log.level", c.Log.Level, fmt.Sprintf("must be one of %v", ValidLogLevels()))
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Log.Format)) {
		invalid("log.format", c.Log.Format, fmt.Sprintf("must be one of %v", ValidLogFormats()))
	}

	return errs
}
