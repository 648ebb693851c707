package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/devloop/internal/config"
	"git.home.luguber.info/inful/devloop/internal/session"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"devloop.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Workers int `short:"w" help:"Query worker pool size" default:"4"`
	} `cmd:"" help:"Run the development build loop"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	switch ctx.Command() {
	case "run":
		if err := runLoop(); err != nil {
			slog.Error("Build loop failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := config.WriteStarter(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Failed to write configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Created configuration file: %s\n", CLI.Config)
	default:
		slog.Error("Unknown command", "command", ctx.Command())
		os.Exit(1)
	}
}

func runLoop() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	sess, err := session.New(*cfg, session.ReferenceServices(CLI.Run.Workers))
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting devloop",
		"config", CLI.Config,
		"webhook_addr", cfg.Webhook.Addr,
		"watch_roots", cfg.Listeners.Watch.Roots)

	return sess.Run(runCtx)
}
