package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nhle/club-activator/internal/app"
	"github.com/nhle/club-activator/internal/credential"
	"github.com/nhle/club-activator/internal/logging"
	"github.com/nhle/club-activator/internal/mailbox"
	"github.com/nhle/club-activator/internal/model"
	"github.com/nhle/club-activator/internal/ui/setup"
)

const reportLimit = 20

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("activator", pflag.ContinueOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "path to the YAML configuration file")
	fs.Uint32("start", 1, "first UID of the scan")
	fs.Uint32("batch", 100, "width of one UID window")
	fs.String("mode", model.TransportHTTP, "page transport: http or browser")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.Bool("dry-run", false, "extract and log links without visiting them")
	report := fs.Bool("report", false, "print stored accounts and recent events, then exit")
	interactive := fs.Bool("setup", false, "store the IMAP and default account passwords in the keyring")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := model.LoadConfig(*configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *interactive {
		return runSetup(cfg, logger)
	}

	a, err := app.Open(cfg, logger)
	if err != nil {
		logger.Error("failed to open app", zap.Error(err))
		return 1
	}
	defer a.Close()

	if *report {
		if err := a.WriteReport(ctx, os.Stdout, reportLimit); err != nil {
			logger.Error("failed to write report", zap.Error(err))
			return 1
		}
		return 0
	}

	if _, err := a.Run(ctx, credential.Config{}); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted")
			return 0
		}
		logger.Error("run failed", zap.Error(err))
		return 1
	}
	return 0
}

func runSetup(cfg *model.AppConfig, logger *zap.Logger) int {
	validate := func(ctx context.Context, password string) error {
		imapCfg := cfg.IMAP
		imapCfg.Password = password

		mb, err := mailbox.NewIMAPClient(imapCfg, logger).Open(ctx)
		if err != nil {
			return err
		}
		return mb.Close()
	}

	err := setup.Run(credential.Config{}, cfg.IMAP.Username, validate)
	switch {
	case errors.Is(err, setup.ErrAborted):
		logger.Warn("setup aborted, nothing saved")
		return 0
	case err != nil:
		logger.Error("setup failed", zap.Error(err))
		return 1
	}

	logger.Info("credentials saved", zap.String("username", cfg.IMAP.Username))
	return 0
}
