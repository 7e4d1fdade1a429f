// Package main serves the webmail pages from a Lambda function URL.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"

	"github.com/jarrod-lowe/jmap-service-webmail/internal/app"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		logging.New().Error("FATAL: Failed to load configuration", slog.String("error", err.Error()))
		panic(err)
	}
	logger := logging.New(logging.WithLevel(cfg.LogLevel))

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("webmail"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	a, err := app.New(result.Ctx, result.Config, cfg, logger)
	result.Cleanup()
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	h := newAdapter(a.Server.Handler())
	result.Start(h.handle)
}
