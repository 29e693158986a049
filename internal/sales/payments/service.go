package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrderBalance(ctx context.Context, orderID int64) (OrderBalance, error)
	GetPaymentByRef(ctx context.Context, ref string) (Payment, error)
	// ListByOrder returns every payment of the order, deleted ones included.
	ListByOrder(ctx context.Context, orderID int64) ([]Payment, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Payment, error)
}

const lockRetryInterval = 100 * time.Millisecond

// Observer receives verification outcomes.
type Observer interface {
	PaymentVerified(status string)
}

// Config groups service settings.
type Config struct {
	Environment string
	LockTTL     time.Duration
	// LockWait bounds how long Verify waits for another holder of the reference lock.
	LockWait time.Duration
}

// Dependencies groups the collaborators of Service. Locker, Audit and Observer are optional.
type Dependencies struct {
	Repo     RepositoryPort
	Gateway  Gateway
	Locker   *redislock.Client
	Audit    shared.AuditRecorder
	Logger   *slog.Logger
	Observer Observer
}

// Service coordinates payment reconciliation.
type Service struct {
	repo     RepositoryPort
	gateway  Gateway
	locker   *redislock.Client
	audit    shared.AuditRecorder
	logger   *slog.Logger
	observer Observer
	cfg      Config
	verifies singleflight.Group
	now      func() time.Time
}

// NewService builds Service.
func NewService(deps Dependencies, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 3 * time.Second
	}
	return &Service{
		repo:     deps.Repo,
		gateway:  deps.Gateway,
		locker:   deps.Locker,
		audit:    deps.Audit,
		logger:   deps.Logger,
		observer: deps.Observer,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create records a completed payment and reconciles the order.
func (s *Service) Create(ctx context.Context, in CreateInput) (View, error) {
	if err := in.Actor.Validate(); err != nil {
		return View{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return View{}, err
	}
	method, err := ParseMethod(string(in.Method))
	if err != nil {
		return View{}, err
	}
	if !in.Amount.IsPositive() {
		return View{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	paidAt := s.now()
	if in.PaidAt != nil {
		paidAt = in.PaidAt.UTC()
	}

	var view View
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, settlement, err := Record(ctx, tx, Payment{
			OrderID:   in.OrderID,
			Amount:    in.Amount,
			Method:    method,
			Status:    StatusCompleted,
			PaidAt:    &paidAt,
			Note:      strings.TrimSpace(in.Note),
			CreatedBy: in.Actor.ID,
		})
		view = viewOf(p, settlement)
		return err
	})
	if err != nil {
		return View{}, err
	}
	s.record(ctx, "payment.create", in.Actor, nil, view,
		fmt.Sprintf("recorded %s payment of %s", method, shared.FormatAmount(in.Amount)))
	return view, nil
}

// OpenCheckout asks the gateway for a checkout under a fresh transaction reference.
func (s *Service) OpenCheckout(ctx context.Context, orderCode string, amount decimal.Decimal, method Method) (Checkout, error) {
	if s.gateway == nil {
		return Checkout{}, fmt.Errorf("%w: no gateway configured", ErrGatewayUnavailable)
	}
	checkout, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		Reference: uuid.NewString(),
		OrderCode: orderCode,
		Amount:    amount,
		Method:    method,
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("payments: open checkout: %w", err)
	}
	return checkout, nil
}

// PendingPayment builds the pending payment that tracks an open checkout.
func PendingPayment(orderID int64, amount decimal.Decimal, method Method, checkout Checkout, actorID string) Payment {
	expires := checkout.ExpiresAt.UTC()
	return Payment{
		OrderID:        orderID,
		Amount:         amount,
		Method:         method,
		Status:         StatusPending,
		TransactionRef: checkout.Reference,
		RedirectURL:    checkout.RedirectURL,
		ExpiresAt:      &expires,
		CreatedBy:      actorID,
	}
}

// CreateQR opens a gateway checkout and records it as a pending payment.
func (s *Service) CreateQR(ctx context.Context, in CreateQRInput) (View, error) {
	if err := in.Actor.Validate(); err != nil {
		return View{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return View{}, err
	}
	if in.Amount.IsNegative() {
		return View{}, fmt.Errorf("%w: amount must not be negative", shared.ErrValidation)
	}
	balance, err := s.repo.GetOrderBalance(ctx, in.OrderID)
	if err != nil {
		return View{}, err
	}
	if balance.IsDeleted {
		return View{}, fmt.Errorf("%w: %d", ErrOrderNotFound, in.OrderID)
	}
	if balance.Status == sales.OrderStatusCancelled {
		return View{}, ErrOrderCancelled
	}
	all, err := s.repo.ListByOrder(ctx, in.OrderID)
	if err != nil {
		return View{}, err
	}
	current := Summarize(balance, activeOnly(all))
	amount := in.Amount
	if amount.IsZero() {
		amount = sales.Remaining(current.Net, current.Committed)
	}
	if !amount.IsPositive() {
		return View{}, fmt.Errorf("%w: nothing left to pay", ErrExceedsBalance)
	}
	if current.Committed.Add(amount).GreaterThan(current.Net) {
		return View{}, fmt.Errorf("%w: requested %s", ErrExceedsBalance, amount.StringFixed(2))
	}

	checkout, err := s.OpenCheckout(ctx, balance.Code, amount, MethodQR)
	if err != nil {
		return View{}, err
	}
	var view View
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, settlement, err := Record(ctx, tx, PendingPayment(in.OrderID, amount, MethodQR, checkout, in.Actor.ID))
		view = viewOf(p, settlement)
		return err
	})
	if err != nil {
		return View{}, err
	}
	s.record(ctx, "payment.qr.create", in.Actor, nil, view,
		fmt.Sprintf("opened QR checkout %s for %s", checkout.Reference, shared.FormatAmount(amount)))
	return view, nil
}

// Update edits a completed payment and reconciles the order.
func (s *Service) Update(ctx context.Context, in UpdateInput) (View, error) {
	if err := in.Actor.Validate(); err != nil {
		return View{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return View{}, err
	}
	if in.Amount != nil && !in.Amount.IsPositive() {
		return View{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	var method Method
	if in.Method != nil {
		m, err := ParseMethod(string(*in.Method))
		if err != nil {
			return View{}, err
		}
		method = m
	}

	var before, after View
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, in.ID)
		if err != nil {
			return err
		}
		if p.IsDeleted || p.Status != StatusCompleted {
			return fmt.Errorf("%w: only active completed payments can be edited", ErrPaymentState)
		}
		if err := requireOpenOrder(ctx, tx, p.OrderID); err != nil {
			return err
		}
		before = View{Payment: p}
		if in.Amount != nil {
			p.Amount = *in.Amount
		}
		if in.Method != nil {
			p.Method = method
		}
		if in.PaidAt != nil {
			paidAt := in.PaidAt.UTC()
			p.PaidAt = &paidAt
		}
		if in.Note != nil {
			p.Note = strings.TrimSpace(*in.Note)
		}
		p.UpdatedAt = s.now()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		settlement, err := Settle(ctx, tx, p.OrderID)
		after = viewOf(p, settlement)
		return err
	})
	if err != nil {
		return View{}, err
	}
	s.record(ctx, "payment.update", in.Actor, &before, after, "updated payment")
	return after, nil
}

// Deactivate tombstones a payment and reconciles the order without it.
func (s *Service) Deactivate(ctx context.Context, id int64, actor shared.Actor) (View, error) {
	return s.toggle(ctx, id, actor, true)
}

// Activate revives a tombstoned payment, subject to the balance cap.
func (s *Service) Activate(ctx context.Context, id int64, actor shared.Actor) (View, error) {
	return s.toggle(ctx, id, actor, false)
}

func (s *Service) toggle(ctx context.Context, id int64, actor shared.Actor, deleted bool) (View, error) {
	if err := actor.Validate(); err != nil {
		return View{}, err
	}
	var before, after View
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.IsDeleted == deleted {
			if deleted {
				return fmt.Errorf("%w: payment is already inactive", ErrPaymentState)
			}
			return fmt.Errorf("%w: payment is already active", ErrPaymentState)
		}
		if !deleted {
			if err := requireOpenOrder(ctx, tx, p.OrderID); err != nil {
				return err
			}
		}
		before = View{Payment: p}
		p.IsDeleted = deleted
		p.UpdatedAt = s.now()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		settlement, err := Settle(ctx, tx, p.OrderID)
		after = viewOf(p, settlement)
		return err
	})
	if err != nil {
		return View{}, err
	}
	action := "payment.activate"
	if deleted {
		action = "payment.deactivate"
	}
	s.record(ctx, action, actor, &before, after, action)
	return after, nil
}

// Verify asks the gateway whether a pending payment settled and reconciles the
// order. Verifying a payment that is no longer pending changes nothing.
// Concurrent calls by the same actor for the same reference share one gateway
// round trip. The shared run is detached from any single caller's cancellation.
func (s *Service) Verify(ctx context.Context, ref string, actor shared.Actor) (View, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return View{}, fmt.Errorf("%w: transaction reference required", shared.ErrValidation)
	}
	if err := actor.Validate(); err != nil {
		return View{}, err
	}
	detached := context.WithoutCancel(ctx)
	ch := s.verifies.DoChan(ref+"\x00"+actor.ID, func() (any, error) {
		return s.verifyLocked(detached, ref, actor)
	})
	select {
	case <-ctx.Done():
		return View{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return View{}, res.Err
		}
		return res.Val.(View), nil
	}
}

func (s *Service) verifyLocked(ctx context.Context, ref string, actor shared.Actor) (View, error) {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, shared.PaymentVerifyLockKey(ref), s.cfg.LockTTL, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(lockRetryInterval), int(s.cfg.LockWait/lockRetryInterval)),
		})
		if errors.Is(err, redislock.ErrNotObtained) {
			return View{}, ErrVerificationBusy
		}
		if err != nil {
			return View{}, fmt.Errorf("payments: obtain verify lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				s.logger.Warn("release verify lock failed", slog.String("ref", ref), slog.Any("error", err))
			}
		}()
	}
	return s.verify(ctx, ref, actor)
}

func (s *Service) verify(ctx context.Context, ref string, actor shared.Actor) (View, error) {
	p, err := s.repo.GetPaymentByRef(ctx, ref)
	if err != nil {
		return View{}, err
	}
	if p.IsDeleted || p.Status != StatusPending {
		return s.currentView(ctx, p)
	}

	now := s.now()
	outcome := GatewayExpired
	if !p.Expired(now) {
		if s.gateway == nil {
			return View{}, fmt.Errorf("%w: no gateway configured", ErrGatewayUnavailable)
		}
		outcome, err = s.gateway.Verify(ctx, ref)
		if err != nil {
			return View{}, fmt.Errorf("payments: verify %s: %w", ref, err)
		}
	}
	if outcome == GatewayPending {
		return s.currentView(ctx, p)
	}

	var before, after View
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetPaymentByRefForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if cur.IsDeleted || cur.Status != StatusPending {
			settlement, err := Settle(ctx, tx, cur.OrderID)
			after = viewOf(cur, settlement)
			return err
		}
		before = View{Payment: cur}
		switch outcome {
		case GatewayPaid:
			cur.Status = StatusCompleted
			cur.PaidAt = &now
		case GatewayFailed:
			cur.Status = StatusFailed
		default:
			cur.Status = StatusCancelled
		}
		cur.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, cur); err != nil {
			return err
		}
		settlement, err := Settle(ctx, tx, cur.OrderID)
		after = viewOf(cur, settlement)
		changed = true
		return err
	})
	if err != nil {
		return View{}, err
	}
	if changed {
		if s.observer != nil {
			s.observer.PaymentVerified(string(after.Status))
		}
		s.record(ctx, "payment.verify", actor, &before, after,
			fmt.Sprintf("gateway reported %s for %s", outcome, ref))
	}
	return after, nil
}

// SimulateSuccess forces a pending payment to completed. Disabled in production.
func (s *Service) SimulateSuccess(ctx context.Context, id int64, actor shared.Actor) (View, error) {
	if s.cfg.Environment == "production" {
		return View{}, fmt.Errorf("%w: payment simulation is disabled in production", shared.ErrConflict)
	}
	if err := actor.Validate(); err != nil {
		return View{}, err
	}
	var before, after View
	changed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !p.IsDeleted && p.Status == StatusCompleted {
			settlement, err := Settle(ctx, tx, p.OrderID)
			after = viewOf(p, settlement)
			return err
		}
		if p.IsDeleted || p.Status != StatusPending {
			return fmt.Errorf("%w: only pending payments can be completed", ErrPaymentState)
		}
		before = View{Payment: p}
		now := s.now()
		p.Status = StatusCompleted
		p.PaidAt = &now
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		settlement, err := Settle(ctx, tx, p.OrderID)
		after = viewOf(p, settlement)
		changed = true
		return err
	})
	if err != nil {
		return View{}, err
	}
	if changed {
		s.record(ctx, "payment.simulate_success", actor, &before, after, "simulated gateway success")
	}
	return after, nil
}

// ExpireStale cancels pending gateway payments whose checkout expired before now.
// It returns how many payments were cancelled.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, now, 200)
	if err != nil {
		return 0, err
	}
	expired := 0
	var errs []error
	for _, candidate := range stale {
		var before, after View
		changed := false
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.GetPaymentForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if p.IsDeleted || !p.Expired(now) {
				return nil
			}
			before = View{Payment: p}
			p.Status = StatusCancelled
			p.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			settlement, err := Settle(ctx, tx, p.OrderID)
			after = viewOf(p, settlement)
			changed = true
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("payment %d: %w", candidate.ID, err))
			continue
		}
		if changed {
			expired++
			s.record(ctx, "payment.expire", shared.SystemActor, &before, after, "checkout expired")
		}
	}
	return expired, errors.Join(errs...)
}

// Reconcile re-derives an order's paid amount and status from its payments.
func (s *Service) Reconcile(ctx context.Context, orderID int64) (Settlement, error) {
	var settlement Settlement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		settlement, err = Settle(ctx, tx, orderID)
		return err
	})
	return settlement, err
}

// ListByOrder returns every payment of the order.
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]Payment, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("%w: order id required", shared.ErrValidation)
	}
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *Service) currentView(ctx context.Context, p Payment) (View, error) {
	balance, err := s.repo.GetOrderBalance(ctx, p.OrderID)
	if err != nil {
		return View{}, err
	}
	all, err := s.repo.ListByOrder(ctx, p.OrderID)
	if err != nil {
		return View{}, err
	}
	return viewOf(p, Summarize(balance, activeOnly(all))), nil
}

func activeOnly(all []Payment) []Payment {
	active := make([]Payment, 0, len(all))
	for _, p := range all {
		if !p.IsDeleted {
			active = append(active, p)
		}
	}
	return active
}

func requireOpenOrder(ctx context.Context, tx TxRepository, orderID int64) error {
	balance, err := tx.GetOrderBalanceForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if balance.Status == sales.OrderStatusCancelled {
		return ErrOrderCancelled
	}
	return nil
}

func (s *Service) record(ctx context.Context, action string, actor shared.Actor, before *View, after View, description string) {
	entry := shared.AuditEntry{
		Code:        after.TransactionRef,
		Action:      action,
		EntityType:  "payment",
		EntityID:    strconv.FormatInt(after.ID, 10),
		Description: description,
		After:       snapshotOf(after.Payment, after.Order),
		Actor:       actor,
		At:          s.now(),
	}
	if before != nil {
		entry.Before = snapshotOf(before.Payment, before.Order)
	}
	shared.RecordAudit(ctx, s.audit, s.logger, entry)
}
