package checkout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/escrowflow/internal/domain"
)

type SweepReport struct {
	Released int `json:"released"`
	Settled  int `json:"settled"`
	Failed   int `json:"failed"`
}

// SweepExpiredHolds releases undisputed holds whose protection window has
// passed and completes orders whose holds are all terminal. Orders are
// processed concurrently, each in its own transaction; a failing order does
// not stop the others.
func (c *Coordinator) SweepExpiredHolds(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "escrow.sweep")
	defer span.End()

	var report SweepReport
	now := c.clock.Now()

	expired, err := c.store.ExpiredHolds(ctx, now, c.sweepBatch)
	if err != nil {
		recordError(span, err)
		return report, err
	}

	byOrder := make(map[string][]string)
	var orderIDs []string
	for _, h := range expired {
		if _, ok := byOrder[h.OrderID]; !ok {
			orderIDs = append(orderIDs, h.OrderID)
		}
		byOrder[h.OrderID] = append(byOrder[h.OrderID], h.ID)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.sweepConcurrency)

	for _, orderID := range orderIDs {
		holdIDs := byOrder[orderID]
		g.Go(func() error {
			released, settled, err := c.releaseExpired(ctx, orderID, holdIDs, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				c.logger.Error("failed to release expired holds", "order_id", orderID, "error", err)
				return nil
			}
			report.Released += released
			if settled {
				report.Settled++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("sweep.released", report.Released),
		attribute.Int("sweep.settled", report.Settled),
		attribute.Int("sweep.failed", report.Failed),
	)
	return report, nil
}

func (c *Coordinator) releaseExpired(ctx context.Context, orderID string, holdIDs []string, now time.Time) (released int, settled bool, err error) {
	var notes []domain.Notification
	err = c.inTx(ctx, "sweep", func(ctx context.Context) error {
		released, settled, notes = 0, false, nil

		order, err := c.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, id := range holdIDs {
			hold, err := c.store.GetHold(ctx, id)
			if err != nil {
				return err
			}
			// A dispute or a buyer confirmation may have landed since the scan.
			if !hold.Releasable(now) {
				continue
			}
			resolved, err := c.allocator.Resolve(ctx, id, domain.HoldStatusReleased)
			if err != nil {
				return err
			}
			released++
			notes = append(notes, domain.HoldNotification(c.newID(), resolved, c.clock.Now()))
		}

		before := order.Status
		res, err := c.settle(ctx, order, &notes)
		if err != nil {
			return err
		}
		settled = res.Order.Status != before
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	c.countResolved(ctx, notes, "protection_window_elapsed")
	c.logger.Info("expired holds released", "order_id", orderID, "released", released, "settled", settled)
	c.publish(ctx, notes)
	return released, settled, nil
}

// Locker grants the sweep to a single process across replicas.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

const sweepLockName = "lock:escrow-sweep"

// Sweeper runs recovery and the expired-hold sweep on a fixed interval.
type Sweeper struct {
	coord    *Coordinator
	locker   Locker
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(coord *Coordinator, locker Locker, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{coord: coord, locker: locker, interval: interval, logger: logger}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one recovery pass and one sweep if this process holds
// the sweep lock. It is a no-op when another replica holds it.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		unlock, acquired, err := s.locker.TryLock(ctx, sweepLockName, s.interval)
		if err != nil {
			return err
		}
		if !acquired {
			s.logger.Debug("sweep lock held by another process")
			return nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release sweep lock", "error", err)
			}
		}()
	}

	recovered, err := s.coord.RecoverUnallocated(ctx)
	if err != nil {
		return err
	}
	report, err := s.coord.SweepExpiredHolds(ctx)
	if err != nil {
		return err
	}

	if recovered > 0 || report.Released > 0 || report.Failed > 0 {
		s.logger.Info("sweep complete", "recovered", recovered, "released", report.Released, "settled", report.Settled, "failed", report.Failed)
	}
	return nil
}
