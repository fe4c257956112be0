// Package config loads server settings from flags, COLLAB_* environment
// variables and an optional config file.
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

const (
	envPrefix  = "COLLAB"
	configName = "collabd"
)

const (
	KeyAddr                  = "addr"
	KeyConfigFile            = "config"
	KeyMongoURI              = "mongo_uri"
	KeyMongoDatabase         = "mongo_database"
	KeyRedisURL              = "redis_url"
	KeyRoomWaitTimeout       = "room_wait_timeout"
	KeyTerminalShell         = "terminal_shell"
	KeyTerminalArgs          = "terminal_args"
	KeyTerminalWorkDir       = "terminal_workdir"
	KeyPresenceSweepInterval = "presence_sweep_interval"
	KeyPresenceIdleAfter     = "presence_idle_after"
	KeyEnforceEditPermission = "enforce_edit_permission"
	KeyEventsPerSecond       = "events_per_second"
	KeyEventBurst            = "event_burst"
	KeySendBuffer            = "send_buffer"
)

type Config struct {
	Addr string
	// MongoURI empty means projects live in memory for the process lifetime.
	MongoURI      string
	MongoDatabase string
	// RedisURL empty means every user may join every room as an editor.
	RedisURL        string
	RoomWaitTimeout time.Duration

	TerminalShell   string
	TerminalArgs    []string
	TerminalWorkDir string

	// PresenceSweepInterval zero disables the idle sweep.
	PresenceSweepInterval time.Duration
	PresenceIdleAfter     time.Duration

	EnforceEditPermission bool
	EventsPerSecond       float64
	EventBurst            int
	SendBuffer            int
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAddr, ":8080")
	v.SetDefault(KeyMongoURI, "")
	v.SetDefault(KeyMongoDatabase, "collab")
	v.SetDefault(KeyRedisURL, "")
	v.SetDefault(KeyRoomWaitTimeout, 2*time.Second)
	v.SetDefault(KeyTerminalShell, defaultShell())
	v.SetDefault(KeyTerminalArgs, []string{})
	v.SetDefault(KeyTerminalWorkDir, "")
	v.SetDefault(KeyPresenceSweepInterval, time.Duration(0))
	v.SetDefault(KeyPresenceIdleAfter, 90*time.Second)
	v.SetDefault(KeyEnforceEditPermission, false)
	v.SetDefault(KeyEventsPerSecond, 50.0)
	v.SetDefault(KeyEventBurst, 100)
	v.SetDefault(KeySendBuffer, 256)
}

// BindFlags declares the server flags on fs and binds them into v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String(flagName(KeyConfigFile), "", "path to a config file (yaml, toml or json)")
	fs.String(flagName(KeyAddr), ":8080", "listen address")
	fs.String(flagName(KeyMongoURI), "", "MongoDB URI for project storage (empty keeps projects in memory)")
	fs.String(flagName(KeyMongoDatabase), "collab", "MongoDB database name")
	fs.String(flagName(KeyRedisURL), "", "Redis URL for room access lists (empty allows everyone)")
	fs.Duration(flagName(KeyRoomWaitTimeout), 2*time.Second, "how long file events wait for a room that is being created")
	fs.String(flagName(KeyTerminalShell), defaultShell(), "shell started for terminal sessions")
	fs.StringSlice(flagName(KeyTerminalArgs), nil, "arguments passed to the terminal shell")
	fs.String(flagName(KeyTerminalWorkDir), "", "working directory for terminals of rooms without a project (default: cwd)")
	fs.Duration(flagName(KeyPresenceSweepInterval), 0, "how often idle users are marked away (0 disables)")
	fs.Duration(flagName(KeyPresenceIdleAfter), 90*time.Second, "inactivity after which the sweep marks a user away")
	fs.Bool(flagName(KeyEnforceEditPermission), false, "reject content events from users without edit permission")
	fs.Float64(flagName(KeyEventsPerSecond), 50, "inbound events per second allowed per connection (0 disables)")
	fs.Int(flagName(KeyEventBurst), 100, "inbound event burst allowed per connection")
	fs.Int(flagName(KeySendBuffer), 256, "outbound queue length per connection")

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// Load reads the config file, if any, and decodes v into a Config.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/collab")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Addr:                  v.GetString(KeyAddr),
		MongoURI:              v.GetString(KeyMongoURI),
		MongoDatabase:         v.GetString(KeyMongoDatabase),
		RedisURL:              v.GetString(KeyRedisURL),
		RoomWaitTimeout:       v.GetDuration(KeyRoomWaitTimeout),
		TerminalShell:         v.GetString(KeyTerminalShell),
		TerminalArgs:          v.GetStringSlice(KeyTerminalArgs),
		TerminalWorkDir:       v.GetString(KeyTerminalWorkDir),
		PresenceSweepInterval: v.GetDuration(KeyPresenceSweepInterval),
		PresenceIdleAfter:     v.GetDuration(KeyPresenceIdleAfter),
		EnforceEditPermission: v.GetBool(KeyEnforceEditPermission),
		EventsPerSecond:       v.GetFloat64(KeyEventsPerSecond),
		EventBurst:            v.GetInt(KeyEventBurst),
		SendBuffer:            v.GetInt(KeySendBuffer),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr is empty")
	case c.MongoURI != "" && c.MongoDatabase == "":
		return errors.New("mongo_database is required with mongo_uri")
	case c.RoomWaitTimeout <= 0:
		return fmt.Errorf("room_wait_timeout must be positive, got %s", c.RoomWaitTimeout)
	case c.TerminalShell == "":
		return errors.New("terminal_shell is empty")
	case c.PresenceSweepInterval < 0:
		return fmt.Errorf("presence_sweep_interval must not be negative, got %s", c.PresenceSweepInterval)
	case c.PresenceSweepInterval > 0 && c.PresenceIdleAfter <= 0:
		return errors.New("presence_idle_after must be positive when the sweep is enabled")
	case c.EventsPerSecond < 0:
		return fmt.Errorf("events_per_second must not be negative, got %v", c.EventsPerSecond)
	case c.SendBuffer <= 0:
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	return nil
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
