package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (inventory.Product, error)
	// GetOrder returns the order with its active items.
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error)
}

// TxRepository is everything an order operation touches in one transaction:
// orders, product stock with its ledger, and payments.
type TxRepository interface {
	inventory.TxRepository
	payments.TxRepository
	CustomerExists(ctx context.Context, id int64) (bool, error)
	InsertOrder(ctx context.Context, o Order) (Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateOrder(ctx context.Context, o Order) error
	ListOrderItems(ctx context.Context, orderID int64) ([]Item, error)
	InsertOrderItems(ctx context.Context, orderID int64, items []Item) ([]Item, error)
	SoftDeleteOrderItems(ctx context.Context, orderID int64) error
}

// PaymentPort is the part of the payment service orders depend on.
type PaymentPort interface {
	OpenCheckout(ctx context.Context, orderCode string, amount decimal.Decimal, method payments.Method) (payments.Checkout, error)
	ListByOrder(ctx context.Context, orderID int64) ([]payments.Payment, error)
}

// Service coordinates the order lifecycle.
type Service struct {
	repo     RepositoryPort
	ledger   *inventory.Ledger
	payments PaymentPort
	audit    shared.AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, pays PaymentPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = inventory.NewLedger(nil)
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		payments: pays,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and persists an order, reserves its stock and optionally
// records its payment, all in one transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (View, error) {
	if err := in.Actor.Validate(); err != nil {
		return View{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return View{}, err
	}
	if in.Discount.IsNegative() {
		return View{}, fmt.Errorf("%w: discount must not be negative", shared.ErrValidation)
	}
	method := payments.MethodCash
	if in.PaymentMethod != "" {
		m, err := payments.ParseMethod(string(in.PaymentMethod))
		if err != nil {
			return View{}, err
		}
		method = m
	}
	items, err := resolveItems(ctx, s.activeProduct, in.Items)
	if err != nil {
		return View{}, err
	}

	now := s.now()
	total := totalOf(items)
	if in.Discount.GreaterThan(total) {
		return View{}, fmt.Errorf("%w: discount exceeds order total", shared.ErrValidation)
	}
	net := sales.NetAmount(total, in.Discount)
	code := newOrderCode(now)
	payNow := in.CreatePayment && net.IsPositive()

	var checkout *payments.Checkout
	if payNow && method.ViaGateway() {
		if s.payments == nil {
			return View{}, fmt.Errorf("%w: gateway payments are not available", shared.ErrConflict)
		}
		c, err := s.payments.OpenCheckout(ctx, code, net, method)
		if err != nil {
			return View{}, err
		}
		checkout = &c
	}

	status := sales.OrderStatusPending
	if !net.IsPositive() {
		status = sales.OrderStatusPaid
	}
	orderDate := now
	if in.OrderDate != nil {
		orderDate = in.OrderDate.UTC()
	}

	var order Order
	var pays []payments.Payment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := requireCustomer(ctx, tx, in.CustomerID); err != nil {
			return err
		}
		for _, it := range items {
			product, err := inventory.RequireProduct(ctx, tx, it.ProductID)
			if err != nil {
				return err
			}
			if product.OnHand < it.Quantity {
				return fmt.Errorf("%w for product %d (requested %d, available %d)",
					inventory.ErrInsufficientStock, it.ProductID, it.Quantity, product.OnHand)
			}
		}
		created, err := tx.InsertOrder(ctx, Order{
			Code:           code,
			CustomerID:     in.CustomerID,
			PromotionID:    in.PromotionID,
			Status:         status,
			TotalAmount:    total,
			DiscountAmount: in.Discount,
			PaidAmount:     decimal.Zero,
			OrderDate:      orderDate,
			CreatedBy:      in.Actor.ID,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return err
		}
		created.Items, err = tx.InsertOrderItems(ctx, created.ID, items)
		if err != nil {
			return err
		}
		reserve := inventory.Negate(inventory.Diff(nil, linesOf(items)))
		if err := s.ledger.Apply(ctx, tx, s.posting(inventory.ReasonSale, created.ID, in.Actor), reserve); err != nil {
			return err
		}
		if payNow {
			p := payments.Payment{
				OrderID:   created.ID,
				Amount:    net,
				Method:    method,
				Status:    payments.StatusCompleted,
				PaidAt:    &now,
				CreatedBy: in.Actor.ID,
			}
			if checkout != nil {
				p = payments.PendingPayment(created.ID, net, method, *checkout, in.Actor.ID)
			}
			recorded, settlement, err := payments.Record(ctx, tx, p)
			if err != nil {
				return err
			}
			created.Status = settlement.Status
			created.PaidAmount = settlement.Paid
			pays = append(pays, recorded)
		}
		order = created
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.record(ctx, "order.create", in.Actor, nil, &order,
		fmt.Sprintf("created order %s, net %s", order.Code, shared.FormatAmount(net)))
	return NewView(order, pays), nil
}

// Update dispatches a patch to UpdateStatus or UpdateContent.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (View, error) {
	switch {
	case patch.Status != nil && patch.hasContent():
		return View{}, fmt.Errorf("%w: status and content cannot change in one request", shared.ErrValidation)
	case patch.Status != nil:
		return s.UpdateStatus(ctx, id, StatusInput{Status: *patch.Status, Actor: patch.Actor})
	case patch.hasContent():
		return s.UpdateContent(ctx, id, ContentInput{
			Items:       patch.Items,
			Discount:    patch.Discount,
			CustomerID:  patch.CustomerID,
			PromotionID: patch.PromotionID,
			Actor:       patch.Actor,
		})
	default:
		return View{}, fmt.Errorf("%w: empty patch", shared.ErrValidation)
	}
}

// UpdateStatus applies a transition from the status table. Cancelling restores
// the reserved stock and cancels pending gateway payments.
func (s *Service) UpdateStatus(ctx context.Context, id int64, in StatusInput) (View, error) {
	if err := in.Actor.Validate(); err != nil {
		return View{}, err
	}
	next, err := sales.ParseOrderStatus(in.Status)
	if err != nil {
		return View{}, err
	}

	var before, after Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		before = o
		if !o.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, o.Status, next)
		}
		if next == sales.OrderStatusPaid {
			if err := requireFullyPaid(ctx, tx, o.ID); err != nil {
				return err
			}
		}
		if next == sales.OrderStatusCancelled {
			restore := inventory.Diff(nil, linesOf(o.Items))
			if err := s.ledger.Apply(ctx, tx, s.posting(inventory.ReasonSaleCancel, o.ID, in.Actor), restore); err != nil {
				return err
			}
			if _, err := payments.CancelPending(ctx, tx, o.ID); err != nil {
				return err
			}
		}
		o.Status = next
		o.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if next == sales.OrderStatusCancelled {
			settlement, err := payments.Settle(ctx, tx, o.ID)
			if err != nil {
				return err
			}
			o.PaidAmount = settlement.Paid
		}
		after = o
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.record(ctx, "order.status", in.Actor, &before, &after,
		fmt.Sprintf("order %s %s -> %s", after.Code, before.Status, after.Status))
	return s.view(ctx, after)
}

// Cancel is UpdateStatus to CANCELLED.
func (s *Service) Cancel(ctx context.Context, id int64, actor shared.Actor) (View, error) {
	return s.UpdateStatus(ctx, id, StatusInput{Status: string(sales.OrderStatusCancelled), Actor: actor})
}

// UpdateContent edits the lines, discount, customer or promotion of a pending
// order. Stock moves by the per-product difference between old and new lines.
func (s *Service) UpdateContent(ctx context.Context, id int64, in ContentInput) (View, error) {
	if err := in.Actor.Validate(); err != nil {
		return View{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return View{}, err
	}
	if in.Discount != nil && in.Discount.IsNegative() {
		return View{}, fmt.Errorf("%w: discount must not be negative", shared.ErrValidation)
	}

	var before, after Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		before = o
		before.Items = append([]Item(nil), o.Items...)
		if o.Status != sales.OrderStatusPending {
			return fmt.Errorf("%w (order is %s)", ErrNotEditable, o.Status)
		}
		if err := requireCustomer(ctx, tx, in.CustomerID); err != nil {
			return err
		}
		if len(in.Items) > 0 {
			lookup := func(ctx context.Context, productID int64) (inventory.Product, error) {
				return inventory.RequireProduct(ctx, tx, productID)
			}
			items, err := resolveItems(ctx, lookup, in.Items)
			if err != nil {
				return err
			}
			changes := inventory.Diff(linesOf(o.Items), linesOf(items))
			if err := s.ledger.Apply(ctx, tx, s.posting(inventory.ReasonSaleEdit, o.ID, in.Actor), inventory.Negate(changes)); err != nil {
				return err
			}
			if err := tx.SoftDeleteOrderItems(ctx, o.ID); err != nil {
				return err
			}
			o.Items, err = tx.InsertOrderItems(ctx, o.ID, items)
			if err != nil {
				return err
			}
			o.TotalAmount = totalOf(o.Items)
		}
		if in.Discount != nil {
			o.DiscountAmount = *in.Discount
		}
		if in.CustomerID != nil {
			o.CustomerID = in.CustomerID
		}
		if in.PromotionID != nil {
			o.PromotionID = in.PromotionID
		}
		if o.DiscountAmount.GreaterThan(o.TotalAmount) {
			return fmt.Errorf("%w: discount exceeds order total", shared.ErrValidation)
		}
		o.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		settlement, err := payments.Settle(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		o.Status = settlement.Status
		o.PaidAmount = settlement.Paid
		after = o
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.record(ctx, "order.update", in.Actor, &before, &after,
		fmt.Sprintf("edited order %s, net %s", after.Code, shared.FormatAmount(after.Net())))
	return s.view(ctx, after)
}

// Deactivate tombstones an order. Stock and payments are untouched.
func (s *Service) Deactivate(ctx context.Context, id int64, actor shared.Actor) (View, error) {
	return s.toggle(ctx, id, actor, true)
}

// Activate revives a tombstoned order.
func (s *Service) Activate(ctx context.Context, id int64, actor shared.Actor) (View, error) {
	return s.toggle(ctx, id, actor, false)
}

func (s *Service) toggle(ctx context.Context, id int64, actor shared.Actor, deleted bool) (View, error) {
	if err := actor.Validate(); err != nil {
		return View{}, err
	}
	var before, after Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.IsDeleted == deleted {
			if deleted {
				return fmt.Errorf("%w: order is already inactive", shared.ErrConflict)
			}
			return fmt.Errorf("%w: order is already active", shared.ErrConflict)
		}
		before = o
		o.IsDeleted = deleted
		o.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		after = o
		return nil
	})
	if err != nil {
		return View{}, err
	}
	action := "order.activate"
	if deleted {
		action = "order.deactivate"
	}
	s.record(ctx, action, actor, &before, &after, action+" "+after.Code)
	return s.view(ctx, after)
}

// Get returns an order with its active items and payments.
func (s *Service) Get(ctx context.Context, id int64) (View, error) {
	if id <= 0 {
		return View{}, fmt.Errorf("%w: order id required", shared.ErrValidation)
	}
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, o)
}

// List returns orders matching the filter and the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]View, int, error) {
	filter.Limit, filter.Offset = shared.NormalizePage(filter.Limit, filter.Offset)
	list, total, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	views := make([]View, 0, len(list))
	for _, o := range list {
		views = append(views, NewView(o, nil))
	}
	return views, total, nil
}

func (s *Service) view(ctx context.Context, o Order) (View, error) {
	if s.payments == nil {
		return NewView(o, nil), nil
	}
	pays, err := s.payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return View{}, err
	}
	return NewView(o, pays), nil
}

func (s *Service) activeProduct(ctx context.Context, id int64) (inventory.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return inventory.Product{}, err
	}
	if p.IsDeleted {
		return inventory.Product{}, fmt.Errorf("%w: %d", inventory.ErrProductNotFound, id)
	}
	return p, nil
}

func (s *Service) posting(reason inventory.Reason, orderID int64, actor shared.Actor) inventory.Posting {
	return inventory.Posting{Reason: reason, RefModule: "orders", RefID: orderID, ActorID: actor.ID, At: s.now()}
}

func (s *Service) record(ctx context.Context, action string, actor shared.Actor, before, after *Order, description string) {
	entry := shared.AuditEntry{
		Code:        after.Code,
		Action:      action,
		EntityType:  "order",
		EntityID:    strconv.FormatInt(after.ID, 10),
		Description: description,
		After:       snapshotOf(*after),
		Actor:       actor,
		At:          s.now(),
	}
	if before != nil {
		entry.Before = snapshotOf(*before)
	}
	shared.RecordAudit(ctx, s.audit, s.logger, entry)
}

type productLookup func(ctx context.Context, id int64) (inventory.Product, error)

func resolveItems(ctx context.Context, lookup productLookup, inputs []ItemInput) ([]Item, error) {
	items := make([]Item, 0, len(inputs))
	for i, in := range inputs {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive", shared.ErrValidation, i)
		}
		product, err := lookup(ctx, in.ProductID)
		if err != nil {
			return nil, err
		}
		price := product.Price
		if in.UnitPrice != nil {
			price = *in.UnitPrice
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("%w: item %d unit price must not be negative", shared.ErrValidation, i)
		}
		items = append(items, Item{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: price,
			Subtotal:  sales.LineSubtotal(in.Quantity, price),
		})
	}
	return items, nil
}

func totalOf(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	return total
}

// requireFullyPaid rejects a manual PAID unless settled payments cover the net.
func requireFullyPaid(ctx context.Context, tx TxRepository, orderID int64) error {
	balance, err := tx.GetOrderBalanceForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	active, err := tx.ListOrderPayments(ctx, orderID)
	if err != nil {
		return err
	}
	settlement := payments.Summarize(balance, active)
	if !settlement.FullyPaid {
		return fmt.Errorf("%w: paid %s of %s", ErrNotFullyPaid, settlement.Paid.StringFixed(2), settlement.Net.StringFixed(2))
	}
	return nil
}

func loadForUpdate(ctx context.Context, tx TxRepository, id int64) (Order, error) {
	o, err := tx.GetOrderForUpdate(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.IsDeleted {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	o.Items, err = tx.ListOrderItems(ctx, id)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func requireCustomer(ctx context.Context, tx TxRepository, id *int64) error {
	if id == nil {
		return nil
	}
	ok, err := tx.CustomerExists(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrCustomerNotFound, *id)
	}
	return nil
}

func newOrderCode(now time.Time) string {
	return fmt.Sprintf("SO-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
