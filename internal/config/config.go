package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	// AdminToken guards the room administration routes; empty disables them.
	AdminToken string `mapstructure:"admin_token"`
	LogLevel   string `mapstructure:"log_level"`

	Signal  SignalConfig  `mapstructure:"signal"`
	WebRTC  WebRTCConfig  `mapstructure:"webrtc"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type SignalConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	Dialect      string        `mapstructure:"dialect"`
	Backpressure string        `mapstructure:"backpressure"`
	ChatLimit    int           `mapstructure:"chat_limit"`
	ChatInterval time.Duration `mapstructure:"chat_interval"`
}

type WebRTCConfig struct {
	ICEServers     []string      `mapstructure:"ice_servers"`
	ProduceTimeout time.Duration `mapstructure:"produce_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

const envPrefix = "SPACE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("admin_token", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.dialect", "default")
	v.SetDefault("signal.backpressure", "kick")
	v.SetDefault("signal.chat_limit", 5)
	v.SetDefault("signal.chat_interval", "5s")

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.produce_timeout", "10s")
	v.SetDefault("webrtc.log_level", "warn")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("space", pflag.ContinueOnError)
	fs.String("config", "", "Path to the YAML config file (default config/config.<CONFIG_ENV>.yaml)")
	fs.Int("port", 8080, "HTTP server port")
	fs.String("mode", "release", "Gin mode: [debug, release, test]")
	fs.String("log_level", "info", "Log level")
	return fs
}

// Load reads config/config.<CONFIG_ENV>.yaml, then SPACE_* environment
// variables, then command line flags, each overriding the previous.
func Load(args []string) (*Config, error) {
	fs := flagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"port", "mode", "log_level"} {
		if f := fs.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(name, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	fileName, _ := fs.GetString("config")
	explicit := fileName != ""
	if !explicit {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		if explicit {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("dialect", cfg.Signal.Dialect).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Signal.Backpressure {
	case "kick", "drop":
	default:
		return fmt.Errorf("invalid signal.backpressure %q", c.Signal.Backpressure)
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("invalid signal.send_buffer %d", c.Signal.SendBuffer)
	}
	return nil
}
