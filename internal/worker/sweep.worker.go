// internal/worker/sweep.worker.go
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Webhooks get lost. A payment can be approved at the gateway while our row
// still says pending, or a credit can fail after the row was written. The
// sweep finds rows left with credited=false and finishes them.

// Ledger is the slice of payment.Reconciler the sweep drives.
type Ledger interface {
	Reconcile(ctx context.Context, ev payment.VerifiedEvent) (payment.Result, error)
	RetryCredit(ctx context.Context, ledgerID string) (payment.Result, error)
}

// UncreditedLister is the slice of payment.PaymentStore the sweep reads.
type UncreditedLister interface {
	ListUncredited(ctx context.Context, limit int, olderThan time.Duration) ([]*payment.PaymentRecord, error)
	MarkSwept(ctx context.Context, paymentID string, at time.Time) error
}

type Config struct {
	Schedule    string        // cron spec, e.g. "@every 5m"
	MinAge      time.Duration // rows younger than this are left to their webhook
	BatchSize   int
	WorkerCount int
}

// Stats summarizes one sweep cycle.
type Stats struct {
	Scanned  int
	Credited int
	Skipped  int
	Failed   int
}

type Sweeper struct {
	store    UncreditedLister
	ledger   Ledger
	fetchers map[payment.Kind]payment.StatusFetcher
	cfg      Config
	logger   *zap.Logger
	running  atomic.Bool
}

func NewSweeper(store UncreditedLister, ledger Ledger, cfg Config, logger *zap.Logger, fetchers ...payment.StatusFetcher) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 5
	}
	byKind := make(map[payment.Kind]payment.StatusFetcher, len(fetchers))
	for _, f := range fetchers {
		byKind[f.Kind()] = f
	}
	return &Sweeper{
		store:    store,
		ledger:   ledger,
		fetchers: byKind,
		cfg:      cfg,
		logger:   logger.Named("sweep"),
	}
}

// Run schedules the sweep and blocks until ctx is cancelled, then waits for
// an in-flight cycle to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.logger.Info("sweep started", zap.String("schedule", s.cfg.Schedule), zap.Duration("min_age", s.cfg.MinAge))

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("sweep stopped")
	return nil
}

// RunOnce executes one cycle. A cycle started while another is running
// returns immediately with empty stats.
func (s *Sweeper) RunOnce(ctx context.Context) Stats {
	var stats Stats
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("previous cycle still running, skipping")
		return stats
	}
	defer s.running.Store(false)

	rows, err := s.store.ListUncredited(ctx, s.cfg.BatchSize, s.cfg.MinAge)
	if err != nil {
		s.logger.Error("list uncredited payments failed", zap.Error(err))
		return stats
	}
	stats.Scanned = len(rows)
	if len(rows) == 0 {
		return stats
	}
	s.logger.Info("sweeping uncredited payments", zap.Int("count", len(rows)))

	queue := make(chan *payment.PaymentRecord, len(rows))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for w := 0; w < s.cfg.WorkerCount; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for rec := range queue {
				credited, err := s.sync(ctx, rec)
				if !credited {
					s.markSwept(ctx, rec.PaymentID)
				}
				mu.Lock()
				switch {
				case err != nil:
					stats.Failed++
					s.logger.Warn("sweep item failed", zap.Int("worker", id), zap.String("payment_id", rec.PaymentID), zap.Error(err))
				case credited:
					stats.Credited++
				default:
					stats.Skipped++
				}
				mu.Unlock()
			}
		}(w)
	}
	for _, rec := range rows {
		queue <- rec
	}
	close(queue)
	wg.Wait()

	s.logger.Info("sweep cycle completed",
		zap.Int("credited", stats.Credited), zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))
	return stats
}

// markSwept sends a row to the back of the next listing.
func (s *Sweeper) markSwept(ctx context.Context, paymentID string) {
	if err := s.store.MarkSwept(ctx, paymentID, time.Now().UTC()); err != nil {
		s.logger.Warn("mark swept failed", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

// sync brings one row up to date. It reports whether credits moved.
func (s *Sweeper) sync(ctx context.Context, rec *payment.PaymentRecord) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Approved but never credited: the credit step failed earlier.
	if rec.Status == payment.StatusApproved {
		res, err := s.ledger.RetryCredit(ctx, rec.PaymentID)
		if err != nil {
			return false, err
		}
		return res.Outcome == payment.OutcomeCredited, nil
	}

	// Not approved locally: ask the gateway what really happened.
	fetcher, ok := s.fetchers[rec.Gateway]
	if !ok || rec.ExternalID == "" {
		return false, nil
	}
	ev, err := fetcher.FetchPayment(ctx, rec.ExternalID)
	if err != nil {
		return false, fmt.Errorf("fetch %s payment %s: %w", rec.Gateway, rec.ExternalID, err)
	}
	if ev == nil || ev.Status != payment.StatusApproved {
		return false, nil
	}
	s.logger.Info("gateway reports approval missed by webhook", zap.String("payment_id", rec.PaymentID))
	res, err := s.ledger.Reconcile(ctx, *ev)
	if err != nil {
		return false, err
	}
	return res.Outcome == payment.OutcomeCredited, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().With(zap.Error(err)).Errorw(msg, keysAndValues...)
}
