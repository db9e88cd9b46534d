package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"redlight/internal/domain"
)

// EnvPrefix is prepended to every environment variable, e.g. REDLIGHT_PORT
const EnvPrefix = "REDLIGHT"

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	HTTP    HTTPConfig
	Game    GameConfig
	Logging LoggingConfig
}

// ServerConfig holds the TCP game host configuration
type ServerConfig struct {
	Host         string
	Port         int
	Env          string // "development" or "production"
	WriteTimeout time.Duration
}

// HTTPConfig holds the observer API configuration
type HTTPConfig struct {
	Enabled bool
	Addr    string
}

// GameConfig holds the rules of a round
type GameConfig struct {
	Players            int
	MaxClients         int
	Steps              int
	NameLimit          int
	StepIncrement      float64
	ComputerMultiplier float64
	GreenMin           time.Duration
	GreenMax           time.Duration
	SettleDelay        time.Duration
	TurnWarning        time.Duration
	ResumeDelay        time.Duration
	Tick               time.Duration
	Heartbeat          time.Duration
	ComputerDecision   time.Duration
	ComputerSafeRatio  float64
	ShutdownGrace      time.Duration
	AutoRestart        time.Duration // 0 disables
	LogFile            string
	Avatars            []string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// DefaultAvatars is the avatar catalogue shipped with the game
var DefaultAvatars = []string{
	"avatars/avatar_67.png",
	"avatars/avatar_master.png",
	"avatars/avatar_square.png",
	"avatars/avatar_001_ver_2.png",
	"avatars/avatar_rectangle.png",
	"avatars/avatar_67_ver_2.png",
	"avatars/avatar_199.png",
	"avatars/avatar_001.png",
	"avatars/avatar_218.png",
	"avatars/avatar_218.png",
	"avatars/avatar_456.png",
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5050,
			Env:          "development",
			WriteTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Game: GameConfig{
			Players:            2,
			MaxClients:         5,
			Steps:              100,
			NameLimit:          20,
			StepIncrement:      1,
			ComputerMultiplier: 2.5,
			GreenMin:           3 * time.Second,
			GreenMax:           7 * time.Second,
			SettleDelay:        3 * time.Second,
			TurnWarning:        500 * time.Millisecond,
			ResumeDelay:        time.Second,
			Tick:               100 * time.Millisecond,
			Heartbeat:          300 * time.Millisecond,
			ComputerDecision:   time.Second,
			ComputerSafeRatio:  0.8,
			ShutdownGrace:      2300 * time.Millisecond,
			LogFile:            "games.log",
			Avatars:            append([]string(nil), DefaultAvatars...),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// RegisterFlags adds every setting to fs, using the defaults as flag defaults
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.String("host", d.Server.Host, "game host address (env: REDLIGHT_HOST)")
	fs.IntP("port", "p", d.Server.Port, "game host TCP port (env: REDLIGHT_PORT)")
	fs.String("env", d.Server.Env, "development or production (env: REDLIGHT_ENV)")
	fs.Duration("write-timeout", d.Server.WriteTimeout, "deadline for a single frame write (env: REDLIGHT_WRITE_TIMEOUT)")

	fs.Bool("http-enabled", d.HTTP.Enabled, "serve the observer API (env: REDLIGHT_HTTP_ENABLED)")
	fs.String("http-addr", d.HTTP.Addr, "observer API address (env: REDLIGHT_HTTP_ADDR)")

	fs.IntP("players", "n", d.Game.Players, "number of players in a round (env: REDLIGHT_PLAYERS)")
	fs.Int("max-clients", d.Game.MaxClients, "hard cap on connected peers (env: REDLIGHT_MAX_CLIENTS)")
	fs.Int("steps", d.Game.Steps, "length of the track (env: REDLIGHT_STEPS)")
	fs.Int("name-limit", d.Game.NameLimit, "maximum player name length (env: REDLIGHT_NAME_LIMIT)")
	fs.Float64("step-increment", d.Game.StepIncrement, "track advance per movement tick (env: REDLIGHT_STEP_INCREMENT)")
	fs.Float64("computer-multiplier", d.Game.ComputerMultiplier, "movement multiplier for computer players (env: REDLIGHT_COMPUTER_MULTIPLIER)")
	fs.Duration("green-min", d.Game.GreenMin, "shortest green light (env: REDLIGHT_GREEN_MIN)")
	fs.Duration("green-max", d.Game.GreenMax, "longest green light (env: REDLIGHT_GREEN_MAX)")
	fs.Duration("settle-delay", d.Game.SettleDelay, "pause between start and first green light (env: REDLIGHT_SETTLE_DELAY)")
	fs.Duration("turn-warning", d.Game.TurnWarning, "pause between the warning and the doll facing players (env: REDLIGHT_TURN_WARNING)")
	fs.Duration("resume-delay", d.Game.ResumeDelay, "pause before the doll turns back (env: REDLIGHT_RESUME_DELAY)")
	fs.Duration("tick", d.Game.Tick, "phase timer poll interval (env: REDLIGHT_TICK)")
	fs.Duration("heartbeat", d.Game.Heartbeat, "movement heartbeat interval (env: REDLIGHT_HEARTBEAT)")
	fs.Duration("computer-decision", d.Game.ComputerDecision, "how often a computer player reconsiders moving (env: REDLIGHT_COMPUTER_DECISION)")
	fs.Float64("computer-safe-ratio", d.Game.ComputerSafeRatio, "track share below which computer players are never caught (env: REDLIGHT_COMPUTER_SAFE_RATIO)")
	fs.Duration("shutdown-grace", d.Game.ShutdownGrace, "wait after KillAll before closing (env: REDLIGHT_SHUTDOWN_GRACE)")
	fs.Duration("auto-restart", d.Game.AutoRestart, "start a new round this long after one finishes, 0 to disable (env: REDLIGHT_AUTO_RESTART)")
	fs.String("log-file", d.Game.LogFile, "round results log (env: REDLIGHT_LOG_FILE)")
	fs.StringSlice("avatars", d.Game.Avatars, "avatar catalogue (env: REDLIGHT_AVATARS)")

	fs.String("log-level", d.Logging.Level, "debug, info, warn or error (env: REDLIGHT_LOG_LEVEL)")
	fs.String("log-format", d.Logging.Format, "text or json (env: REDLIGHT_LOG_FORMAT)")
}

// clientFlags are the settings that only shape a player's own behaviour
var clientFlags = []string{
	"env",
	"write-timeout",
	"heartbeat",
	"computer-decision",
	"computer-safe-ratio",
	"log-level",
	"log-format",
}

// RegisterClientFlags adds the settings a player may choose for itself.
// Track rules are left to the defaults and the REDLIGHT_* environment the
// host reads too, so a player cannot race on a different track by flag.
func RegisterClientFlags(fs *pflag.FlagSet) {
	all := pflag.NewFlagSet("all", pflag.ContinueOnError)
	RegisterFlags(all)

	fs.SetNormalizeFunc(all.GetNormalizeFunc())
	for _, name := range clientFlags {
		fs.AddFlag(all.Lookup(name))
	}
}

// Load builds the configuration from defaults, an optional .env file,
// REDLIGHT_* environment variables and the flags in fs, in increasing
// precedence. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	// a missing .env is not an error
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("host"),
			Port:         v.GetInt("port"),
			Env:          v.GetString("env"),
			WriteTimeout: v.GetDuration("write-timeout"),
		},
		HTTP: HTTPConfig{
			Enabled: v.GetBool("http-enabled"),
			Addr:    v.GetString("http-addr"),
		},
		Game: GameConfig{
			Players:            v.GetInt("players"),
			MaxClients:         v.GetInt("max-clients"),
			Steps:              v.GetInt("steps"),
			NameLimit:          v.GetInt("name-limit"),
			StepIncrement:      v.GetFloat64("step-increment"),
			ComputerMultiplier: v.GetFloat64("computer-multiplier"),
			GreenMin:           v.GetDuration("green-min"),
			GreenMax:           v.GetDuration("green-max"),
			SettleDelay:        v.GetDuration("settle-delay"),
			TurnWarning:        v.GetDuration("turn-warning"),
			ResumeDelay:        v.GetDuration("resume-delay"),
			Tick:               v.GetDuration("tick"),
			Heartbeat:          v.GetDuration("heartbeat"),
			ComputerDecision:   v.GetDuration("computer-decision"),
			ComputerSafeRatio:  v.GetFloat64("computer-safe-ratio"),
			ShutdownGrace:      v.GetDuration("shutdown-grace"),
			AutoRestart:        v.GetDuration("auto-restart"),
			LogFile:            v.GetString("log-file"),
			Avatars:            v.GetStringSlice("avatars"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("log-level"),
			Format: v.GetString("log-format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("host", d.Server.Host)
	v.SetDefault("port", d.Server.Port)
	v.SetDefault("env", d.Server.Env)
	v.SetDefault("write-timeout", d.Server.WriteTimeout)
	v.SetDefault("http-enabled", d.HTTP.Enabled)
	v.SetDefault("http-addr", d.HTTP.Addr)
	v.SetDefault("players", d.Game.Players)
	v.SetDefault("max-clients", d.Game.MaxClients)
	v.SetDefault("steps", d.Game.Steps)
	v.SetDefault("name-limit", d.Game.NameLimit)
	v.SetDefault("step-increment", d.Game.StepIncrement)
	v.SetDefault("computer-multiplier", d.Game.ComputerMultiplier)
	v.SetDefault("green-min", d.Game.GreenMin)
	v.SetDefault("green-max", d.Game.GreenMax)
	v.SetDefault("settle-delay", d.Game.SettleDelay)
	v.SetDefault("turn-warning", d.Game.TurnWarning)
	v.SetDefault("resume-delay", d.Game.ResumeDelay)
	v.SetDefault("tick", d.Game.Tick)
	v.SetDefault("heartbeat", d.Game.Heartbeat)
	v.SetDefault("computer-decision", d.Game.ComputerDecision)
	v.SetDefault("computer-safe-ratio", d.Game.ComputerSafeRatio)
	v.SetDefault("shutdown-grace", d.Game.ShutdownGrace)
	v.SetDefault("auto-restart", d.Game.AutoRestart)
	v.SetDefault("log-file", d.Game.LogFile)
	v.SetDefault("avatars", d.Game.Avatars)
	v.SetDefault("log-level", d.Logging.Level)
	v.SetDefault("log-format", d.Logging.Format)
}

// Validate rejects settings the game cannot run with
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Server.Port)
	}
	if c.Game.MaxClients < 1 {
		return fmt.Errorf("max-clients must be positive: %d", c.Game.MaxClients)
	}
	if c.Game.Players < 1 || c.Game.Players > c.Game.MaxClients {
		return fmt.Errorf("players must be between 1 and %d: %d", c.Game.MaxClients, c.Game.Players)
	}
	if c.Game.Steps < 1 {
		return fmt.Errorf("steps must be positive: %d", c.Game.Steps)
	}
	if c.Game.NameLimit < 1 {
		return fmt.Errorf("name-limit must be positive: %d", c.Game.NameLimit)
	}
	if c.Game.StepIncrement <= 0 || c.Game.ComputerMultiplier <= 0 {
		return errors.New("step-increment and computer-multiplier must be positive")
	}
	if c.Game.GreenMin <= 0 || c.Game.GreenMax < c.Game.GreenMin {
		return fmt.Errorf("invalid green light range: %s..%s", c.Game.GreenMin, c.Game.GreenMax)
	}
	if c.Game.Tick <= 0 || c.Game.Heartbeat <= 0 || c.Game.ComputerDecision <= 0 {
		return errors.New("tick, heartbeat and computer-decision must be positive")
	}
	if c.Game.ComputerSafeRatio < 0 || c.Game.ComputerSafeRatio > 1 {
		return fmt.Errorf("computer-safe-ratio must be within [0,1]: %v", c.Game.ComputerSafeRatio)
	}
	if c.Game.AutoRestart < 0 {
		return fmt.Errorf("auto-restart cannot be negative: %s", c.Game.AutoRestart)
	}
	if len(c.Game.Avatars) == 0 {
		return errors.New("avatar catalogue is empty")
	}
	if c.Game.LogFile == "" {
		return errors.New("log-file is required")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// Rules derives the round rules from the game settings
func (g GameConfig) Rules() domain.Rules {
	return domain.Rules{
		Steps:              g.Steps,
		NameLimit:          g.NameLimit,
		Avatars:            len(g.Avatars),
		MaxPlayers:         g.MaxClients,
		StepIncrement:      g.StepIncrement,
		ComputerMultiplier: g.ComputerMultiplier,
		GreenMin:           g.GreenMin,
		GreenMax:           g.GreenMax,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// GetAddr returns the game host address in host:port format
func (c *Config) GetAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
