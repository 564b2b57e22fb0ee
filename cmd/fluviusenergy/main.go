package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/fluviusenergy/fluviusenergy/pkg/auth"
	"github.com/fluviusenergy/fluviusenergy/pkg/common"
	"github.com/fluviusenergy/fluviusenergy/pkg/config"
	"github.com/fluviusenergy/fluviusenergy/pkg/fluvius"
	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/server"
	"github.com/fluviusenergy/fluviusenergy/pkg/storage"
)

func main() {
	// init packages
	a := auth.Configured()
	c := fluvius.Configured(a)
	l := config.Configured()
	s := storage.Configured()

	// init server
	srv := server.Configured(l, c, s)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()), slog.String("version", common.Version()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for name, v := range map[string]interface{ Validate() error }{
		"auth":     a,
		"fluvius":  c,
		"accounts": l,
	} {
		if err := v.Validate(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid configuration", slog.String("component", name), slog.Any("error", err))
			os.Exit(1)
		}
	}

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		cancel()
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
