package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// TxRepository exposes payments and the order balance inside a transaction.
type TxRepository interface {
	GetOrderBalanceForUpdate(ctx context.Context, orderID int64) (OrderBalance, error)
	SaveOrderSettlement(ctx context.Context, orderID int64, paid decimal.Decimal, status sales.OrderStatus) error
	// ListOrderPayments returns the order's payments that are not deleted.
	ListOrderPayments(ctx context.Context, orderID int64) ([]Payment, error)
	GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error)
	GetPaymentByRefForUpdate(ctx context.Context, ref string) (Payment, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
}

// Summarize computes an order's settlement from its active payments.
func Summarize(balance OrderBalance, active []Payment) Settlement {
	committed, paid := decimal.Zero, decimal.Zero
	for _, p := range active {
		if p.HoldsBalance() {
			committed = committed.Add(p.Amount)
		}
		if p.Settled() {
			paid = paid.Add(p.Amount)
		}
	}
	net := balance.Net()
	return Settlement{
		OrderID:   balance.OrderID,
		Status:    sales.DeriveStatus(balance.Status, paid, net),
		Net:       net,
		Paid:      paid,
		Committed: committed,
		Remaining: sales.Remaining(net, paid),
		FullyPaid: sales.FullyPaid(net, paid),
	}
}

// Settle recomputes the order's paid amount and status from its active payments
// and writes them back. It fails with ErrExceedsBalance when the balance-holding
// payments exceed the order's net amount.
func Settle(ctx context.Context, tx TxRepository, orderID int64) (Settlement, error) {
	balance, err := tx.GetOrderBalanceForUpdate(ctx, orderID)
	if err != nil {
		return Settlement{}, err
	}
	active, err := tx.ListOrderPayments(ctx, orderID)
	if err != nil {
		return Settlement{}, err
	}
	settlement := Summarize(balance, active)
	if settlement.Committed.GreaterThan(settlement.Net) {
		return Settlement{}, fmt.Errorf("%w: payments total %s, order net %s",
			ErrExceedsBalance, settlement.Committed.StringFixed(2), settlement.Net.StringFixed(2))
	}
	if settlement.Status != balance.Status || !settlement.Paid.Equal(balance.Paid) {
		if err := tx.SaveOrderSettlement(ctx, orderID, settlement.Paid, settlement.Status); err != nil {
			return Settlement{}, err
		}
	}
	return settlement, nil
}

// Record inserts a payment for a payable order and reconciles it.
func Record(ctx context.Context, tx TxRepository, p Payment) (Payment, Settlement, error) {
	if !p.Amount.IsPositive() {
		return Payment{}, Settlement{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	balance, err := tx.GetOrderBalanceForUpdate(ctx, p.OrderID)
	if err != nil {
		return Payment{}, Settlement{}, err
	}
	if balance.IsDeleted {
		return Payment{}, Settlement{}, fmt.Errorf("%w: %d", ErrOrderNotFound, p.OrderID)
	}
	if balance.Status == sales.OrderStatusCancelled {
		return Payment{}, Settlement{}, ErrOrderCancelled
	}
	active, err := tx.ListOrderPayments(ctx, p.OrderID)
	if err != nil {
		return Payment{}, Settlement{}, err
	}
	current := Summarize(balance, active)
	if current.Committed.Add(p.Amount).GreaterThan(current.Net) {
		return Payment{}, Settlement{}, fmt.Errorf("%w: requested %s, remaining %s",
			ErrExceedsBalance, p.Amount.StringFixed(2), sales.Remaining(current.Net, current.Committed).StringFixed(2))
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	inserted, err := tx.InsertPayment(ctx, p)
	if err != nil {
		return Payment{}, Settlement{}, err
	}
	settlement, err := Settle(ctx, tx, p.OrderID)
	if err != nil {
		return Payment{}, Settlement{}, err
	}
	return inserted, settlement, nil
}

// CancelPending cancels every pending gateway payment of the order and returns them.
func CancelPending(ctx context.Context, tx TxRepository, orderID int64) ([]Payment, error) {
	active, err := tx.ListOrderPayments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var cancelled []Payment
	for _, p := range active {
		if p.Status != StatusPending {
			continue
		}
		p.Status = StatusCancelled
		p.UpdatedAt = time.Now().UTC()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return nil, err
		}
		cancelled = append(cancelled, p)
	}
	return cancelled, nil
}

func actionsFor(p Payment, orderStatus sales.OrderStatus) Actions {
	open := orderStatus != sales.OrderStatusCancelled
	return Actions{
		CanUpdate:     open && !p.IsDeleted && p.Status == StatusCompleted,
		CanDeactivate: !p.IsDeleted,
		CanActivate:   open && p.IsDeleted,
		CanVerify:     !p.IsDeleted && p.Status == StatusPending && p.TransactionRef != "",
	}
}

func viewOf(p Payment, s Settlement) View {
	return View{Payment: p, Order: s, Actions: actionsFor(p, s.Status)}
}

func snapshotOf(p Payment, s Settlement) PaymentSnapshot {
	return PaymentSnapshot{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Amount:         p.Amount,
		Method:         p.Method,
		Status:         p.Status,
		TransactionRef: p.TransactionRef,
		IsDeleted:      p.IsDeleted,
		OrderStatus:    s.Status,
		OrderPaid:      s.Paid,
	}
}
