package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/roamly/roamly/libs/db"
	"github.com/roamly/roamly/services/payment-service/internal/payments"
	"github.com/roamly/roamly/services/payment-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
)

// StripeReconciler resolves payment orders stuck in checkout_created when a
// webhook delivery was missed, by asking Stripe what happened to the session.
type StripeReconciler struct {
	pool        *db.Pool
	repo        *storage.Repository
	svc         *payments.Service
	logger      *slog.Logger
	stripeKey   string
	staleAfter  time.Duration
	batchSize   int
	advisoryKey int64
}

type StripeReconcilerConfig struct {
	StripeSecretKey string
	StaleAfter      time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

func NewStripeReconciler(pool *db.Pool, repo *storage.Repository, svc *payments.Service, logger *slog.Logger, cfg StripeReconcilerConfig) *StripeReconciler {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	stale := cfg.StaleAfter
	if stale <= 0 {
		stale = 30 * time.Minute
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		// Stable-ish default; override via env if you run multiple payment instances.
		lockKey = 8484001
	}
	return &StripeReconciler{
		pool:        pool,
		repo:        repo,
		svc:         svc,
		logger:      logger,
		stripeKey:   strings.TrimSpace(cfg.StripeSecretKey),
		staleAfter:  stale,
		batchSize:   bs,
		advisoryKey: lockKey,
	}
}

func (r *StripeReconciler) Run(ctx context.Context, interval time.Duration) {
	if r.stripeKey == "" {
		r.logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing")
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Best-effort leader election for multi-instance deployments.
	// Only the instance holding the advisory lock will reconcile.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("stripe reconcile: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("stripe reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	stripe.Key = r.stripeKey
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.reconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *StripeReconciler) reconcileOnce(ctx context.Context) {
	orders, err := r.repo.ListCheckoutOrdersForReconcile(ctx, r.staleAfter, r.batchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list orders", "err", err)
		return
	}
	if len(orders) == 0 {
		return
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		if o.StripeSessionID == "" {
			continue
		}

		sess, err := checkoutsession.Get(o.StripeSessionID, nil)
		if err != nil {
			r.logger.Warn("stripe reconcile: failed to fetch session", "err", err, "session_id", o.StripeSessionID, "booking_id", o.BookingID)
			continue
		}

		tx, err := r.repo.Begin(ctx)
		if err != nil {
			r.logger.Error("stripe reconcile: db begin failed", "err", err)
			return
		}

		applyErr := func() error {
			// Stripe is the source of truth for the session outcome.
			if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
				paymentIntentID := ""
				if sess.PaymentIntent != nil {
					paymentIntentID = sess.PaymentIntent.ID
				}
				if err := r.repo.MarkCheckoutSessionStatus(ctx, tx, sess.ID, "completed"); err != nil {
					return err
				}
				return r.svc.ApplyCaptured(ctx, tx, o.BookingID, paymentIntentID, time.Now())
			}
			if sess.Status == stripe.CheckoutSessionStatusExpired {
				if err := r.repo.MarkCheckoutSessionStatus(ctx, tx, sess.ID, "expired"); err != nil {
					return err
				}
				return r.svc.ApplyFailed(ctx, tx, o.BookingID, "checkout_expired", time.Now())
			}
			// Session still open; leave the order alone.
			return nil
		}()

		if applyErr != nil {
			_ = tx.Rollback(ctx)
			r.logger.Warn("stripe reconcile: apply failed", "err", applyErr, "booking_id", o.BookingID, "session_id", sess.ID)
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			r.logger.Warn("stripe reconcile: commit failed", "err", err, "booking_id", o.BookingID, "session_id", sess.ID)
			continue
		}
	}
}
