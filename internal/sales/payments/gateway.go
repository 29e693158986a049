package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GatewayStatus is the settlement state reported by the payment gateway.
type GatewayStatus string

const (
	GatewayPaid    GatewayStatus = "PAID"
	GatewayPending GatewayStatus = "PENDING"
	GatewayFailed  GatewayStatus = "FAILED"
	GatewayExpired GatewayStatus = "EXPIRED"
)

// CheckoutRequest asks the gateway to open a checkout for a transaction reference.
type CheckoutRequest struct {
	Reference string
	OrderCode string
	Amount    decimal.Decimal
	Method    Method
}

// Checkout is the gateway's answer to a checkout request.
type Checkout struct {
	Reference   string
	RedirectURL string
	ExpiresAt   time.Time
}

// Gateway opens checkouts and reports their settlement state.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	Verify(ctx context.Context, reference string) (GatewayStatus, error)
}

// ErrGatewayUnavailable wraps transport and unexpected-response failures.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// HTTPGatewayConfig configures HTTPGateway.
type HTTPGatewayConfig struct {
	BaseURL   string
	APIKey    string
	Secret    string
	ReturnURL string
	TTL       time.Duration
	Timeout   time.Duration
}

// HTTPGateway talks to a checkout provider over signed JSON requests.
type HTTPGateway struct {
	cfg    HTTPGatewayConfig
	client *http.Client
}

// NewHTTPGateway builds the HTTP adapter.
func NewHTTPGateway(cfg HTTPGatewayConfig) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPGateway{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type checkoutPayload struct {
	Reference string `json:"reference"`
	OrderCode string `json:"order_code"`
	Amount    string `json:"amount"`
	Method    string `json:"method"`
	ReturnURL string `json:"return_url,omitempty"`
	ExpiresIn int64  `json:"expires_in"`
}

type checkoutResponse struct {
	RedirectURL string    `json:"redirect_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// CreateCheckout implements Gateway.
func (g *HTTPGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	body, err := json.Marshal(checkoutPayload{
		Reference: req.Reference,
		OrderCode: req.OrderCode,
		Amount:    req.Amount.StringFixed(2),
		Method:    string(req.Method),
		ReturnURL: g.cfg.ReturnURL,
		ExpiresIn: int64(g.cfg.TTL.Seconds()),
	})
	if err != nil {
		return Checkout{}, err
	}
	var resp checkoutResponse
	if err := g.do(ctx, http.MethodPost, "/checkouts", body, &resp); err != nil {
		return Checkout{}, err
	}
	if resp.RedirectURL == "" {
		return Checkout{}, fmt.Errorf("%w: checkout response without redirect url", ErrGatewayUnavailable)
	}
	expires := resp.ExpiresAt
	if expires.IsZero() {
		expires = time.Now().UTC().Add(g.cfg.TTL)
	}
	return Checkout{Reference: req.Reference, RedirectURL: resp.RedirectURL, ExpiresAt: expires}, nil
}

// Verify implements Gateway.
func (g *HTTPGateway) Verify(ctx context.Context, reference string) (GatewayStatus, error) {
	var resp statusResponse
	if err := g.do(ctx, http.MethodGet, "/checkouts/"+url.PathEscape(reference), nil, &resp); err != nil {
		return "", err
	}
	switch status := GatewayStatus(strings.ToUpper(resp.Status)); status {
	case GatewayPaid, GatewayPending, GatewayFailed, GatewayExpired:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrGatewayUnavailable, resp.Status)
	}
}

// Sign returns the hex HMAC-SHA256 of body under the shared secret.
func (g *HTTPGateway) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", g.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature", g.Sign(body))
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrGatewayUnavailable, method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	return nil
}
