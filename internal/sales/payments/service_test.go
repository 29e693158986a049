package payments_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/testing/memstore"
)

var clerk = shared.Actor{ID: "clerk-7"}

type fixture struct {
	store    *memstore.Store
	gateway  *memstore.Gateway
	payments *payments.Service
	orders   *orders.Service
}

type verifyCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *verifyCounter) PaymentVerified(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[status]++
}

func newFixture(t *testing.T, locker *redislock.Client, cfg payments.Config, observer payments.Observer) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	gw := memstore.NewGateway()
	pays := payments.NewService(payments.Dependencies{
		Repo:     store.Payments(),
		Gateway:  gw,
		Locker:   locker,
		Audit:    store.Audit(),
		Logger:   logger,
		Observer: observer,
	}, cfg)
	ords := orders.NewService(store.Orders(), inventory.NewLedger(nil), pays, store.Audit(), logger)
	return &fixture{store: store, gateway: gw, payments: pays, orders: ords}
}

func (f *fixture) order(t *testing.T, net int64) orders.View {
	t.Helper()
	p := f.store.AddProduct(inventory.Product{Name: "item", Price: decimal.NewFromInt(net), Unit: "pcs", OnHand: 100})
	v, err := f.orders.Create(context.Background(), orders.CreateInput{
		Items: []orders.ItemInput{{ProductID: p, Quantity: 1}},
		Actor: clerk,
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) countAudit(action string) int {
	n := 0
	for _, e := range f.store.AuditEntries() {
		if e.Action == action {
			n++
		}
	}
	return n
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreateRejectsOverpaymentWithoutPersisting(t *testing.T) {
	f := newFixture(t, nil, payments.Config{}, nil)
	ctx := context.Background()
	o := f.order(t, 10000)

	first, err := f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(6000), Method: payments.MethodCash, Actor: clerk})
	require.NoError(t, err)
	require.Equal(t, sales.OrderStatusPartiallyPaid, first.Order.Status)
	require.True(t, first.Order.Remaining.Equal(dec(4000)))
	require.True(t, first.Actions.CanUpdate)

	_, err = f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(5000), Method: payments.MethodCash, Actor: clerk})
	require.ErrorIs(t, err, payments.ErrExceedsBalance)
	require.ErrorIs(t, err, shared.ErrConflict)

	list, err := f.payments.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	stored := f.store.Order(o.ID)
	require.Equal(t, sales.OrderStatusPartiallyPaid, stored.Status)
	require.True(t, stored.PaidAmount.Equal(dec(6000)))

	second, err := f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(4000), Method: payments.MethodCard, Actor: clerk})
	require.NoError(t, err)
	require.Equal(t, sales.OrderStatusPaid, second.Order.Status)
	require.True(t, second.Order.FullyPaid)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil, payments.Config{}, nil)
	ctx := context.Background()
	o := f.order(t, 1000)

	_, err := f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(10), Method: payments.MethodCash})
	require.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(0), Method: payments.MethodCash, Actor: clerk})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(10), Method: "CHEQUE", Actor: clerk})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.payments.Create(ctx, payments.CreateInput{OrderID: 9999, Amount: dec(10), Method: payments.MethodCash, Actor: clerk})
	require.ErrorIs(t, err, payments.ErrOrderNotFound)

	_, err = f.orders.Cancel(ctx, o.ID, clerk)
	require.NoError(t, err)
	_, err = f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(10), Method: payments.MethodCash, Actor: clerk})
	require.ErrorIs(t, err, payments.ErrOrderCancelled)
}

func TestUpdateAndToggleReconcile(t *testing.T) {
	f := newFixture(t, nil, payments.Config{}, nil)
	ctx := context.Background()
	o := f.order(t, 10000)

	full, err := f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(10000), Method: payments.MethodCash, Actor: clerk})
	require.NoError(t, err)
	require.Equal(t, sales.OrderStatusPaid, full.Order.Status)

	lower := dec(2500)
	updated, err := f.payments.Update(ctx, payments.UpdateInput{ID: full.ID, Amount: &lower, Actor: clerk})
	require.NoError(t, err)
	require.Equal(t, sales.OrderStatusPartiallyPaid, updated.Order.Status)
	require.True(t, updated.Order.Paid.Equal(dec(2500)))

	higher := dec(10001)
	_, err = f.payments.Update(ctx, payments.UpdateInput{ID: full.ID, Amount: &higher, Actor: clerk})
	require.ErrorIs(t, err, payments.ErrExceedsBalance)
	require.True(t, f.store.Payment(full.ID).Amount.Equal(dec(2500)))

	off, err := f.payments.Deactivate(ctx, full.ID, clerk)
	require.NoError(t, err)
	require.True(t, off.IsDeleted)
	require.Equal(t, sales.OrderStatusPending, off.Order.Status)
	require.True(t, off.Order.Paid.IsZero())

	_, err = f.payments.Deactivate(ctx, full.ID, clerk)
	require.ErrorIs(t, err, payments.ErrPaymentState)

	other, err := f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(9000), Method: payments.MethodCash, Actor: clerk})
	require.NoError(t, err)

	_, err = f.payments.Activate(ctx, full.ID, clerk)
	require.ErrorIs(t, err, payments.ErrExceedsBalance)
	require.True(t, f.store.Payment(full.ID).IsDeleted)

	_, err = f.payments.Deactivate(ctx, other.ID, clerk)
	require.NoError(t, err)
	on, err := f.payments.Activate(ctx, full.ID, clerk)
	require.NoError(t, err)
	require.False(t, on.IsDeleted)
	require.Equal(t, sales.OrderStatusPartiallyPaid, on.Order.Status)
}

func TestQRPaymentHoldsBalanceUntilVerified(t *testing.T) {
	obs := &verifyCounter{counts: map[string]int{}}
	f := newFixture(t, nil, payments.Config{}, obs)
	ctx := context.Background()
	o := f.order(t, 8000)

	qr, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o.ID, Actor: clerk})
	require.NoError(t, err)
	require.Equal(t, payments.StatusPending, qr.Status)
	require.True(t, qr.Amount.Equal(dec(8000)))
	require.True(t, qr.Actions.CanVerify)
	require.Equal(t, sales.OrderStatusPending, qr.Order.Status)

	_, err = f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(1), Method: payments.MethodCash, Actor: clerk})
	require.ErrorIs(t, err, payments.ErrExceedsBalance)
	_, err = f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o.ID, Actor: clerk})
	require.ErrorIs(t, err, payments.ErrExceedsBalance)

	still, err := f.payments.Verify(ctx, qr.TransactionRef, clerk)
	require.NoError(t, err)
	require.Equal(t, payments.StatusPending, still.Status)

	f.gateway.Settle(qr.TransactionRef, payments.GatewayPaid)
	done, err := f.payments.Verify(ctx, qr.TransactionRef, clerk)
	require.NoError(t, err)
	require.Equal(t, payments.StatusCompleted, done.Status)
	require.NotNil(t, done.PaidAt)
	require.Equal(t, sales.OrderStatusPaid, done.Order.Status)
	require.Equal(t, 1, obs.counts["COMPLETED"])
}

func TestVerifyIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, payments.Config{}, nil)
	ctx := context.Background()
	o := f.order(t, 5000)

	qr, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o.ID, Amount: dec(5000), Actor: clerk})
	require.NoError(t, err)
	f.gateway.Settle(qr.TransactionRef, payments.GatewayPaid)

	first, err := f.payments.Verify(ctx, qr.TransactionRef, clerk)
	require.NoError(t, err)
	calls := f.gateway.Verifications()
	audits := len(f.store.AuditEntries())

	second, err := f.payments.Verify(ctx, qr.TransactionRef, clerk)
	require.NoError(t, err)
	require.Equal(t, first.Status, second.Status)
	require.True(t, first.Order.Paid.Equal(second.Order.Paid))
	require.Equal(t, calls, f.gateway.Verifications())
	require.Len(t, f.store.AuditEntries(), audits)
	require.True(t, f.store.Order(o.ID).PaidAmount.Equal(dec(5000)))
}

func TestVerifyFailedAndExpired(t *testing.T) {
	f := newFixture(t, nil, payments.Config{}, nil)
	ctx := context.Background()
	o := f.order(t, 5000)

	qr, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o.ID, Amount: dec(2000), Actor: clerk})
	require.NoError(t, err)
	f.gateway.Settle(qr.TransactionRef, payments.GatewayFailed)
	failed, err := f.payments.Verify(ctx, qr.TransactionRef, clerk)
	require.NoError(t, err)
	require.Equal(t, payments.StatusFailed, failed.Status)
	require.Equal(t, sales.OrderStatusPending, failed.Order.Status)
	require.True(t, failed.Order.Committed.IsZero())

	f.gateway.TTL = -time.Minute
	stale, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o.ID, Actor: clerk})
	require.NoError(t, err)
	require.True(t, stale.Amount.Equal(dec(5000)))

	before := f.gateway.Verifications()
	expired, err := f.payments.Verify(ctx, stale.TransactionRef, clerk)
	require.NoError(t, err)
	require.Equal(t, payments.StatusCancelled, expired.Status)
	require.Equal(t, before, f.gateway.Verifications())

	_, err = f.payments.Verify(ctx, "no-such-ref", clerk)
	require.ErrorIs(t, err, payments.ErrPaymentNotFound)
	_, err = f.payments.Verify(ctx, "  ", clerk)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestExpireStaleCancelsOnlyExpiredCheckouts(t *testing.T) {
	f := newFixture(t, nil, payments.Config{}, nil)
	ctx := context.Background()
	o1 := f.order(t, 1000)
	o2 := f.order(t, 1000)

	fresh, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o1.ID, Actor: clerk})
	require.NoError(t, err)
	f.gateway.TTL = -time.Second
	old, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o2.ID, Actor: clerk})
	require.NoError(t, err)

	n, err := f.payments.ExpireStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, payments.StatusCancelled, f.store.Payment(old.ID).Status)
	require.Equal(t, payments.StatusPending, f.store.Payment(fresh.ID).Status)
	require.Equal(t, 1, f.countAudit("payment.expire"))

	n, err = f.payments.ExpireStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConcurrentVerifySettlesOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, redislock.New(client), payments.Config{LockTTL: 5 * time.Second}, nil)
	ctx := context.Background()
	o := f.order(t, 3000)

	qr, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o.ID, Actor: clerk})
	require.NoError(t, err)
	f.gateway.Settle(qr.TransactionRef, payments.GatewayPaid)
	f.gateway.Delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]payments.View, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.payments.Verify(ctx, qr.TransactionRef, shared.SystemActor)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, payments.StatusCompleted, results[i].Status)
	}
	require.Equal(t, 1, f.gateway.Verifications())
	require.Equal(t, 1, f.countAudit("payment.verify"))
	require.True(t, f.store.Order(o.ID).PaidAmount.Equal(dec(3000)))
	require.False(t, mr.Exists(shared.PaymentVerifyLockKey(qr.TransactionRef)))
}

func TestVerifySurvivesCancelledFirstCaller(t *testing.T) {
	f := newFixture(t, nil, payments.Config{}, nil)
	o := f.order(t, 3000)
	qr, err := f.payments.CreateQR(context.Background(), payments.CreateQRInput{OrderID: o.ID, Actor: clerk})
	require.NoError(t, err)
	f.gateway.Settle(qr.TransactionRef, payments.GatewayPaid)
	f.gateway.Delay = 200 * time.Millisecond

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.payments.Verify(firstCtx, qr.TransactionRef, clerk)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	second := make(chan payments.View, 1)
	secondErr := make(chan error, 1)
	go func() {
		v, err := f.payments.Verify(context.Background(), qr.TransactionRef, clerk)
		second <- v
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-firstErr, context.Canceled)
	require.NoError(t, <-secondErr)
	require.Equal(t, payments.StatusCompleted, (<-second).Status)
	require.Equal(t, 1, f.gateway.Verifications())
	require.True(t, f.store.Order(o.ID).PaidAmount.Equal(dec(3000)))
}

func TestVerifyAuditsTheActingCaller(t *testing.T) {
	f := newFixture(t, nil, payments.Config{}, nil)
	ctx := context.Background()
	o := f.order(t, 3000)
	qr, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o.ID, Actor: clerk})
	require.NoError(t, err)
	f.gateway.Settle(qr.TransactionRef, payments.GatewayPaid)
	f.gateway.Delay = 50 * time.Millisecond

	supervisor := shared.Actor{ID: "supervisor-2"}
	var wg sync.WaitGroup
	results := make([]payments.View, 2)
	errs := make([]error, 2)
	for i, actor := range []shared.Actor{clerk, supervisor} {
		wg.Add(1)
		go func(i int, actor shared.Actor) {
			defer wg.Done()
			results[i], errs[i] = f.payments.Verify(ctx, qr.TransactionRef, actor)
		}(i, actor)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, payments.StatusCompleted, results[i].Status)
	}

	var verified []shared.AuditEntry
	for _, e := range f.store.AuditEntries() {
		if e.Action == "payment.verify" {
			verified = append(verified, e)
		}
	}
	require.Len(t, verified, 1)
	require.Contains(t, []string{clerk.ID, supervisor.ID}, verified[0].Actor.ID)
	require.True(t, f.store.Order(o.ID).PaidAmount.Equal(dec(3000)))
}

func TestVerifyBusyWhenLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := redislock.New(client)

	f := newFixture(t, locker, payments.Config{LockWait: 200 * time.Millisecond}, nil)
	ctx := context.Background()
	o := f.order(t, 3000)
	qr, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o.ID, Actor: clerk})
	require.NoError(t, err)

	held, err := locker.Obtain(ctx, shared.PaymentVerifyLockKey(qr.TransactionRef), time.Minute, nil)
	require.NoError(t, err)

	_, err = f.payments.Verify(ctx, qr.TransactionRef, clerk)
	require.ErrorIs(t, err, payments.ErrVerificationBusy)
	require.Zero(t, f.gateway.Verifications())

	require.NoError(t, held.Release(ctx))
	f.gateway.Settle(qr.TransactionRef, payments.GatewayPaid)
	v, err := f.payments.Verify(ctx, qr.TransactionRef, clerk)
	require.NoError(t, err)
	require.Equal(t, payments.StatusCompleted, v.Status)
}

func TestSimulateSuccess(t *testing.T) {
	f := newFixture(t, nil, payments.Config{Environment: "development"}, nil)
	ctx := context.Background()
	o := f.order(t, 700)
	qr, err := f.payments.CreateQR(ctx, payments.CreateQRInput{OrderID: o.ID, Actor: clerk})
	require.NoError(t, err)

	v, err := f.payments.SimulateSuccess(ctx, qr.ID, clerk)
	require.NoError(t, err)
	require.Equal(t, payments.StatusCompleted, v.Status)
	require.Equal(t, sales.OrderStatusPaid, v.Order.Status)

	again, err := f.payments.SimulateSuccess(ctx, qr.ID, clerk)
	require.NoError(t, err)
	require.Equal(t, payments.StatusCompleted, again.Status)
	require.Equal(t, 1, f.countAudit("payment.simulate_success"))

	prod := newFixture(t, nil, payments.Config{Environment: "production"}, nil)
	_, err = prod.payments.SimulateSuccess(ctx, qr.ID, clerk)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestReconcileRepairsCachedPaidAmount(t *testing.T) {
	f := newFixture(t, nil, payments.Config{}, nil)
	ctx := context.Background()
	o := f.order(t, 1000)
	_, err := f.payments.Create(ctx, payments.CreateInput{OrderID: o.ID, Amount: dec(400), Method: payments.MethodCash, Actor: clerk})
	require.NoError(t, err)

	settlement, err := f.payments.Reconcile(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, settlement.Paid.Equal(dec(400)))
	require.True(t, settlement.Remaining.Equal(dec(600)))
	require.Equal(t, sales.OrderStatusPartiallyPaid, settlement.Status)
}
