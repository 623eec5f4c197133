package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/db"
	"github.com/debemdeboas/the-calendar/internal/export"
	"github.com/debemdeboas/the-calendar/internal/logger"
	"github.com/debemdeboas/the-calendar/internal/render"
	"github.com/debemdeboas/the-calendar/internal/repository"
	"github.com/debemdeboas/the-calendar/internal/server"
	"github.com/debemdeboas/the-calendar/internal/session"
)

const defaultConfigPath = "config.yaml"

func setLoggers(l zerolog.Logger) {
	component := func(name string) zerolog.Logger {
		return l.With().Str("component", name).Logger()
	}
	config.SetLogger(component("config"))
	db.SetLogger(component("db"))
	repository.SetLogger(component("repository"))
	session.SetLogger(component("session"))
	export.SetLogger(component("export"))
	render.SetLogger(component("render"))
	server.SetLogger(component("server"))
}

func main() {
	envErr := godotenv.Load()

	configPath := os.Getenv("TEXTS_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Bootstrap logger for config loading; replaced once the level is known.
	setLoggers(logger.New(os.Getenv("TEXTS_LOG_LEVEL")))

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLog := logger.New("")
		bootLog.Fatal().Err(err).Str("path", configPath).Msg("Error loading configuration")
	}

	log := logger.New(cfg.Logging.Level)
	setLoggers(log)

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("Error loading .env file")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	repo, closeRepo, err := repository.New(cfg.Backend)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend.Type).Msg("Error initializing repository")
	}
	defer closeRepo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := export.NewSink(ctx, cfg.Export)
	if err != nil {
		log.Fatal().Err(err).Str("sink", cfg.Export.Sink).Msg("Error initializing export sink")
	}

	srv, err := server.New(cfg, repo, sink)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing server")
	}

	log.Info().
		Str("backend", cfg.Backend.Type).
		Str("save_strategy", cfg.Editor.SaveStrategy).
		Str("export_sink", cfg.Export.Sink).
		Msg("Starting")

	if err := srv.Run(ctx, net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
}
