package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/mcdev12/deduction/go/internal/config"
	"github.com/mcdev12/deduction/go/internal/session/gateway"
	"github.com/mcdev12/deduction/go/internal/session/mirror"
)

// loadConfig layers defaults, the YAML file, DEDUCTION_* variables and
// finally command-line flags
func loadConfig(args []string) (config.Config, error) {
	// First pass only looks for --config
	pre := pflag.NewFlagSet("deduction", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	path := pre.StringP("config", "c", os.Getenv("DEDUCTION_CONFIG"), "")
	if err := pre.Parse(args); err != nil && err != pflag.ErrHelp {
		return config.Config{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return cfg, err
	}

	fs := pflag.NewFlagSet("deduction", pflag.ContinueOnError)
	fs.StringP("config", "c", *path, "path to YAML config file")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("failed to parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Log.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func connectionConfig(cfg config.Config) (gateway.ConnectionConfig, error) {
	base, err := cfg.WebSocketBase()
	if err != nil {
		return gateway.ConnectionConfig{}, err
	}
	cc := gateway.DefaultConnectionConfig()
	cc.BaseURL = base
	cc.ReconnectDelay = cfg.Connection.ReconnectDelay
	cc.MaxReconnects = cfg.Connection.MaxReconnects
	return cc, nil
}

func mirrorConfig(cfg config.Config) mirror.JetStreamConfig {
	mc := mirror.DefaultJetStreamConfig()
	mc.URL = cfg.Mirror.URL
	mc.StreamName = cfg.Mirror.StreamName
	mc.SubjectPrefix = cfg.Mirror.SubjectPrefix
	if cfg.Mirror.QueueSize > 0 {
		mc.QueueSize = cfg.Mirror.QueueSize
	}
	return mc
}
