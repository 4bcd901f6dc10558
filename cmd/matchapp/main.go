package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/GoArmGo/MatchApp/internal/di"
)

func main() {

	mode := flag.String("mode", "server", "Режим запуска приложения: server, worker или seed")
	flag.Parse()

	// bootstrap-логгер (используется только на этапе инициализации, пока нет основного)
	bootstrapLogger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)
	bootstrapLogger.Info("starting application", "mode", *mode)

	ctx := context.Background()

	app, err := di.BuildApp(ctx)
	if err != nil {
		bootstrapLogger.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	bootstrapLogger.Info("application initialized successfully")

	logger := app.LoggerIns()
	if logger == nil {
		bootstrapLogger.Error("main logger is nil")
		os.Exit(1)
	}

	if err := app.Run(ctx, mode); err != nil {
		logger.Error("application run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}
