package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-retail/internal/procurement"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Services holds the domain services shared by the server, worker and CLI.
type Services struct {
	Inventory   *inventory.Service
	Areas       *areas.Service
	Orders      *orders.Service
	Payments    *payments.Service
	Procurement *procurement.Service
}

// ServicesParams groups what NewServices needs. Redis and Metrics are optional.
type ServicesParams struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

// NewServices wires repositories, the audit logger, the payment gateway and the
// stock ledger into services.
func NewServices(p ServicesParams) *Services {
	audit := shared.NewAuditLogger(p.Pool)
	ledger := inventory.NewLedger(observerOrNil(p.Metrics))

	var gateway payments.Gateway
	if p.Config.PaymentGatewayURL != "" {
		gateway = payments.NewHTTPGateway(payments.HTTPGatewayConfig{
			BaseURL:   p.Config.PaymentGatewayURL,
			APIKey:    p.Config.PaymentGatewayKey,
			Secret:    p.Config.PaymentGatewaySecret,
			ReturnURL: p.Config.PaymentReturnURL,
			TTL:       p.Config.PaymentQRTTL,
		})
	} else {
		p.Logger.Warn("PAYMENT_GATEWAY_URL not set, gateway payments are disabled")
	}

	deps := payments.Dependencies{
		Repo:    payments.NewRepository(p.Pool),
		Gateway: gateway,
		Locker:  cache.NewLocker(p.Redis),
		Audit:   audit,
		Logger:  p.Logger,
	}
	if p.Metrics != nil {
		deps.Observer = p.Metrics
	}
	paySvc := payments.NewService(deps, payments.Config{
		Environment: p.Config.AppEnv,
		LockTTL:     p.Config.PaymentVerifyLockTTL,
	})

	return &Services{
		Inventory:   inventory.NewService(inventory.NewRepository(p.Pool)),
		Areas:       areas.NewService(areas.NewRepository(p.Pool), audit, p.Logger),
		Orders:      orders.NewService(orders.NewRepository(p.Pool), ledger, paySvc, audit, p.Logger),
		Payments:    paySvc,
		Procurement: procurement.NewService(procurement.NewRepository(p.Pool), ledger, audit, p.Logger),
	}
}

// observerOrNil avoids storing a typed nil *Metrics in the interface.
func observerOrNil(m *observability.Metrics) inventory.Observer {
	if m == nil {
		return nil
	}
	return m
}
