package cmd

import (
	"log/slog"
	"os"

	"github.com/marketchat/marketchat-go/marketchat"
)

func cliLogger() marketchat.Logger {
	return marketchat.SlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))
}
