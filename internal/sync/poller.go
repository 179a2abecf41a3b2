// Package sync walks the activation mailbox window by window and runs
// every unseen activation email through extraction, account upsert,
// verification, persistence and flagging.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/club-activator/internal/extract"
	"github.com/nhle/club-activator/internal/mailbox"
	"github.com/nhle/club-activator/internal/model"
	"github.com/nhle/club-activator/internal/store"
	"github.com/nhle/club-activator/internal/verify"
)

// Event outcomes recorded for messages that produced no verification outcome.
const (
	EventSkipped = "skipped"
	EventFailed  = "failed"
)

// Scanner is the mailbox capability the poller needs.
type Scanner interface {
	Search(ctx context.Context, c mailbox.Criteria) ([]mailbox.Message, error)
	FlagSeen(ctx context.Context, uid uint32) error
}

// Verifier runs one verification task to a terminal outcome.
type Verifier interface {
	Verify(ctx context.Context, task verify.Task) (verify.Result, error)
}

// Config controls a run.
type Config struct {
	// Subject filters the mailbox search.
	Subject string

	// Batch is the UID window width.
	Batch uint32

	// DefaultPassword is stored on accounts seen for the first time.
	DefaultPassword string

	// Concurrency caps in-flight messages per batch; zero means no cap.
	Concurrency int

	// DryRun stops after extraction.
	DryRun bool

	// HaltOnFatal stops the run on the first fatal verification failure
	// instead of skipping the message.
	HaltOnFatal bool
}

// Report summarises a run.
type Report struct {
	RunID    string
	Windows  int
	Messages int
	Outcomes map[verify.Outcome]int
	Skipped  int
	Failed   int
	Planned  int
}

// Poller orchestrates one pass over the mailbox.
type Poller struct {
	store     store.Store
	scanner   Scanner
	extractor *extract.Extractor
	verifier  Verifier
	cfg       Config
	logger    *zap.Logger
	runID     string

	mu     gosync.Mutex
	report Report
}

// New creates a new Poller. Each Poller carries its own run id.
func New(
	s store.Store,
	scanner Scanner,
	extractor *extract.Extractor,
	verifier Verifier,
	cfg Config,
	logger *zap.Logger,
) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.New().String()
	return &Poller{
		store:     s,
		scanner:   scanner,
		extractor: extractor,
		verifier:  verifier,
		cfg:       cfg,
		logger:    logger.With(zap.String("run_id", runID)),
		runID:     runID,
		report: Report{
			RunID:    runID,
			Outcomes: make(map[verify.Outcome]int),
		},
	}
}

// Run processes windows starting at start until one comes back empty.
// A returned error is connection level: the mailbox or the store failed,
// or ctx was cancelled.
func (p *Poller) Run(ctx context.Context, start uint32) (Report, error) {
	window := mailbox.NewWindow(start, p.cfg.Batch)

	for {
		n, err := p.ProcessBatch(ctx, window)
		if err != nil {
			return p.Report(), err
		}
		if n == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return p.Report(), err
		}
		window = window.Next()
	}

	r := p.Report()
	p.logger.Info("run finished",
		zap.Int("windows", r.Windows),
		zap.Int("messages", r.Messages),
		zap.Int("activated", r.Outcomes[verify.Activated]),
		zap.Int("already_activated", r.Outcomes[verify.AlreadyActivated]),
		zap.Int("email_resent", r.Outcomes[verify.TokenExpiredEmailResent]),
		zap.Int("aborted", r.Outcomes[verify.Aborted]),
		zap.Int("skipped", r.Skipped),
		zap.Int("failed", r.Failed),
		zap.Int("planned", r.Planned),
	)
	return r, nil
}

// ProcessBatch handles every unseen message in window concurrently and
// waits for all of them. It returns the number of messages found.
func (p *Poller) ProcessBatch(ctx context.Context, window mailbox.Window) (int, error) {
	msgs, err := p.scanner.Search(ctx, mailbox.Criteria{Subject: p.cfg.Subject, Window: window})
	if err != nil {
		return 0, fmt.Errorf("searching window %s: %w", window, err)
	}

	p.mu.Lock()
	p.report.Windows++
	p.report.Messages += len(msgs)
	p.mu.Unlock()

	p.logger.Info("processing batch",
		zap.Stringer("window", window),
		zap.Int("messages", len(msgs)),
	)
	if len(msgs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.Concurrency > 0 {
		g.SetLimit(p.cfg.Concurrency)
	}
	for _, msg := range msgs {
		g.Go(func() error {
			return p.processMessage(gctx, msg)
		})
	}

	if err := g.Wait(); err != nil {
		return len(msgs), err
	}
	return len(msgs), nil
}

// Report returns a snapshot of the counters so far.
func (p *Poller) Report() Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.report
	r.Outcomes = make(map[verify.Outcome]int, len(p.report.Outcomes))
	for k, v := range p.report.Outcomes {
		r.Outcomes[k] = v
	}
	return r
}

// processMessage runs the per-message steps in order. Only store and
// mailbox failures are returned; everything else is logged and counted.
func (p *Poller) processMessage(ctx context.Context, msg mailbox.Message) error {
	log := p.logger.With(zap.Uint32("uid", msg.UID))

	act, err := p.extractor.Extract(msg.To, msg.Text)
	if err != nil {
		log.Error("skipping message", zap.Error(err))
		p.count(func(r *Report) { r.Skipped++ })
		if p.cfg.DryRun {
			return nil
		}
		return p.recordEvent(ctx, model.ActivationEvent{
			MessageUID: msg.UID,
			Outcome:    EventSkipped,
			Detail:     err.Error(),
		})
	}
	log = log.With(zap.String("login", act.Login))

	if p.cfg.DryRun {
		log.Info("dry run, would verify", zap.String("email", act.Address), zap.String("link", act.Link))
		p.count(func(r *Report) { r.Planned++ })
		return nil
	}

	acct, err := p.ensureAccount(ctx, act, log)
	if err != nil {
		return err
	}
	log = log.With(zap.String("account_id", acct.ID))

	res, err := p.verifier.Verify(ctx, verify.Task{
		Link:      act.Link,
		AccountID: acct.ID,
		Login:     acct.Login,
		Password:  acct.Password,
	})
	if err != nil {
		log.Error("verification failed", zap.String("link", act.Link), zap.Error(err))
		p.count(func(r *Report) { r.Failed++ })
		if recErr := p.recordEvent(ctx, model.ActivationEvent{
			MessageUID: msg.UID,
			Login:      acct.Login,
			AccountID:  acct.ID,
			Outcome:    EventFailed,
			Detail:     err.Error(),
		}); recErr != nil {
			return recErr
		}
		if p.cfg.HaltOnFatal && verify.IsFatal(err) {
			return fmt.Errorf("uid %d: %w", msg.UID, err)
		}
		return nil
	}

	status, ok := res.Outcome.Status()
	if !ok {
		log.Info("task aborted, message left unseen")
		p.count(func(r *Report) { r.Outcomes[res.Outcome]++ })
		return nil
	}

	// A verdict has been reached; finish persisting it even if a shutdown
	// started meanwhile.
	persistCtx := context.WithoutCancel(ctx)

	if err := p.store.UpdateActivation(persistCtx, acct.ID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("updating account %s: %w", acct.ID, err)
	}
	if err := p.scanner.FlagSeen(persistCtx, msg.UID); err != nil {
		return fmt.Errorf("flagging uid %d: %w", msg.UID, err)
	}

	p.count(func(r *Report) { r.Outcomes[res.Outcome]++ })
	log.Info("message processed",
		zap.String("outcome", string(res.Outcome)),
		zap.String("activated", string(status)),
	)

	return p.recordEvent(persistCtx, model.ActivationEvent{
		MessageUID: msg.UID,
		Login:      acct.Login,
		AccountID:  acct.ID,
		Outcome:    string(res.Outcome),
	})
}

// ensureAccount returns the account for the extracted login, inserting
// it with the default password when it is new. Losing an insert race to
// a concurrent message for the same login re-reads the winning row.
func (p *Poller) ensureAccount(ctx context.Context, act extract.Activation, log *zap.Logger) (*model.Account, error) {
	acct, err := p.store.FindByLogin(ctx, act.Login)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up account %s: %w", act.Login, err)
	}

	acct, err = p.store.Insert(ctx, act.Login, p.cfg.DefaultPassword, act.Address)
	if errors.Is(err, store.ErrDuplicateLogin) {
		acct, err = p.store.FindByLogin(ctx, act.Login)
	} else if err == nil {
		log.Info("account created", zap.String("account_id", acct.ID), zap.String("email", act.Address))
	}
	if err != nil {
		return nil, fmt.Errorf("inserting account %s: %w", act.Login, err)
	}
	return acct, nil
}

func (p *Poller) recordEvent(ctx context.Context, ev model.ActivationEvent) error {
	ev.RunID = p.runID
	if err := p.store.RecordEvent(context.WithoutCancel(ctx), ev); err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

func (p *Poller) count(fn func(r *Report)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.report)
}
