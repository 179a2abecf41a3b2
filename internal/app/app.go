// Package app wires configuration, storage, the mailbox, the transport
// and the verification workflow into one process run.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/club-activator/internal/credential"
	"github.com/nhle/club-activator/internal/extract"
	"github.com/nhle/club-activator/internal/mailbox"
	"github.com/nhle/club-activator/internal/model"
	"github.com/nhle/club-activator/internal/store"
	appsync "github.com/nhle/club-activator/internal/sync"
	"github.com/nhle/club-activator/internal/transport"
	"github.com/nhle/club-activator/internal/transport/browser"
	"github.com/nhle/club-activator/internal/transport/httpform"
	"github.com/nhle/club-activator/internal/verify"
)

// App owns the account store for the lifetime of the process.
type App struct {
	cfg    *model.AppConfig
	store  store.Store
	logger *zap.Logger
}

// Open opens the configured account store.
func Open(cfg *model.AppConfig, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}

	return &App{cfg: cfg, store: s, logger: logger}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

// Run scans the mailbox once, from the configured start UID until the
// first empty window. Secrets missing from the configuration are read
// from the keyring described by creds.
func (a *App) Run(ctx context.Context, creds credential.Config) (appsync.Report, error) {
	cfg := a.cfg

	imapPassword, err := credential.Resolve(creds, cfg.IMAP.Password, credential.IMAPKey(cfg.IMAP.Username))
	if err != nil {
		return appsync.Report{}, fmt.Errorf("resolving IMAP password: %w", err)
	}
	defaultPassword, err := credential.Resolve(creds, cfg.Accounts.DefaultPassword, credential.DefaultPasswordKey)
	if errors.Is(err, credential.ErrNotFound) {
		a.logger.Warn("no default account password configured; new accounts get an empty password")
	} else if err != nil {
		return appsync.Report{}, fmt.Errorf("resolving default password: %w", err)
	}

	extractor, err := extract.New(cfg.Extract.LinkPattern)
	if err != nil {
		return appsync.Report{}, err
	}

	workflow := verify.New(
		newTransport(cfg.Transport, a.logger),
		verify.Markers{
			Activated:        cfg.Verify.Markers.Activated,
			AlreadyActivated: cfg.Verify.Markers.AlreadyActivated,
			TokenExpired:     cfg.Verify.Markers.TokenExpired,
			EmailResent:      cfg.Verify.Markers.EmailResent,
		},
		verify.Policy{
			RateLimitBackoff:    cfg.Verify.RateLimitBackoff,
			ResendBackoff:       cfg.Verify.ResendBackoff,
			MaxRateLimitRetries: cfg.Verify.MaxRateLimitRetries,
			MaxResendAttempts:   cfg.Verify.MaxResendAttempts,
		},
		a.logger.Named("verify"),
	)

	imapCfg := cfg.IMAP
	imapCfg.Password = imapPassword
	mb, err := mailbox.NewIMAPClient(imapCfg, a.logger.Named("mailbox")).Open(ctx)
	if err != nil {
		return appsync.Report{}, fmt.Errorf("opening mailbox: %w", err)
	}
	defer func() {
		if err := mb.Close(); err != nil {
			a.logger.Warn("closing mailbox", zap.Error(err))
		}
	}()

	poller := appsync.New(a.store, mb, extractor, workflow, appsync.Config{
		Subject:         cfg.IMAP.Subject,
		Batch:           cfg.IMAP.Batch,
		DefaultPassword: defaultPassword,
		Concurrency:     cfg.Sync.Concurrency,
		DryRun:          cfg.Sync.DryRun,
		HaltOnFatal:     cfg.Verify.HaltOnFatal,
	}, a.logger.Named("sync"))

	a.logger.Info("starting run",
		zap.Uint32("start", cfg.IMAP.Start),
		zap.Uint32("batch", cfg.IMAP.Batch),
		zap.String("mode", cfg.Transport.Mode),
		zap.Bool("dry_run", cfg.Sync.DryRun),
	)
	return poller.Run(ctx, cfg.IMAP.Start)
}

func newTransport(cfg model.TransportConfig, logger *zap.Logger) transport.Transport {
	form := transport.FormConfig{
		ReadyElementID: cfg.ReadyElementID,
		IdentityField:  cfg.IdentityField,
		SecretField:    cfg.SecretField,
		ElementTimeout: cfg.ElementTimeout,
	}

	if cfg.Mode == model.TransportBrowser {
		return browser.New(browser.Config{
			Form:              form,
			NavigationTimeout: cfg.Timeout,
			Headless:          cfg.Headless,
			UserAgent:         cfg.UserAgent,
			ExecPath:          cfg.ChromePath,
			RateLimitTitle:    cfg.RateLimitTitle,
		}, logger.Named("browser"))
	}
	return httpform.New(form, cfg.Timeout, cfg.UserAgent, logger.Named("http"))
}
