// Package kalshi adapts the Kalshi trade API to the normalized venue
// interface. It owns RSA-PSS request signing, cent-to-probability unit
// conversion, and rate-limit shaping.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

const apiPrefix = "/trade-api/v2"

// Adapter implements domain.VenueAdapter for Kalshi.
type Adapter struct {
	cfg        config.KalshiConfig
	httpClient *http.Client
	signingKey *rsa.PrivateKey
	readLimit  *rate.Limiter
	writeLimit *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// New builds an Adapter. The RSA signing key is optional; without it only
// public market-data endpoints work.
func New(cfg config.KalshiConfig, logger *slog.Logger) (*Adapter, error) {
	var key *rsa.PrivateKey
	if cfg.RsaPrivateKeyPath != "" {
		var err error
		key, err = loadRSAKey(cfg.RsaPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("kalshi: %w", err)
		}
	}

	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signingKey: key,
		readLimit:  rate.NewLimiter(rate.Limit(cfg.ReadRatePerSec), cfg.ReadRatePerSec),
		writeLimit: rate.NewLimiter(rate.Limit(cfg.WriteRatePerSec), cfg.WriteRatePerSec),
		logger:     logger.With(slog.String("component", "kalshi")),
		now:        time.Now,
	}, nil
}

// loadRSAKey reads a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func loadRSAKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rsa key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("rsa key file contains no PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing rsa key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("key file does not contain an RSA key")
	}
	return key, nil
}

// Venue implements domain.VenueAdapter.
func (a *Adapter) Venue() domain.Venue { return domain.VenueKalshi }

// GetOrderBook implements domain.VenueAdapter.
func (a *Adapter) GetOrderBook(ctx context.Context, contract string) (domain.OrderBook, error) {
	if err := a.readLimit.Wait(ctx); err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: rate limiter: %w", err)
	}

	path := apiPrefix + "/markets/" + contract + "/orderbook"
	body, err := a.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: get book %s: %w", contract, err)
	}

	var resp struct {
		Orderbook apiOrderbook `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: decode book: %w", err)
	}
	return resp.Orderbook.toDomain(contract, a.now()), nil
}

// PlaceFOK implements domain.VenueAdapter. Orders are expressed on the YES
// side: a buy takes YES at the ask, a sell hits the YES bid.
func (a *Adapter) PlaceFOK(ctx context.Context, req domain.OrderRequest) (domain.FillResult, error) {
	if a.signingKey == nil {
		return domain.FillResult{}, fmt.Errorf("kalshi: %w: no signing key configured", domain.ErrUnauthorized)
	}
	if err := a.writeLimit.Wait(ctx); err != nil {
		return domain.FillResult{}, fmt.Errorf("kalshi: rate limiter: %w", err)
	}

	cents := int64(math.Round(req.Price * 100))
	if cents < 1 || cents > 99 {
		return domain.FillResult{}, fmt.Errorf("kalshi: price %.4f outside 1..99 cents", req.Price)
	}
	count := int64(req.Quantity)
	if count < 1 {
		return domain.FillResult{}, fmt.Errorf("kalshi: quantity %.4f below one contract", req.Quantity)
	}

	payload := map[string]any{
		"ticker":          req.Contract,
		"client_order_id": uuid.NewString(),
		"side":            "yes",
		"action":          string(req.Side),
		"type":            "limit",
		"yes_price":       cents,
		"count":           count,
		"time_in_force":   "fill_or_kill",
	}

	body, err := a.doRequest(ctx, http.MethodPost, apiPrefix+"/portfolio/orders", payload)
	if err != nil {
		// Client-side rejections never reached the book.
		if errors.Is(err, domain.ErrVenueFatal) || errors.Is(err, domain.ErrUnauthorized) {
			return domain.FillResult{Outcome: domain.OutcomeRejected, Reason: err.Error(), At: a.now()}, nil
		}
		return domain.FillResult{}, fmt.Errorf("kalshi: post order: %w", err)
	}

	var resp struct {
		Order apiOrder `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.FillResult{}, fmt.Errorf("kalshi: decode order result: %w", err)
	}
	return a.classifyOrder(req, resp.Order), nil
}

// classifyOrder maps the exchange order status onto a fill outcome. A
// fill-or-kill order is either executed in full or canceled.
func (a *Adapter) classifyOrder(req domain.OrderRequest, order apiOrder) domain.FillResult {
	now := a.now()
	switch order.Status {
	case "executed":
		price := req.Price
		if order.YesPrice > 0 {
			price = float64(order.YesPrice) / 100
		}
		qty := req.Quantity
		if order.Count > 0 {
			qty = float64(order.Count)
		}
		return domain.FillResult{
			Outcome:   domain.OutcomeFilled,
			OrderID:   order.OrderID,
			FillPrice: price,
			FillQty:   qty,
			FeesUSD:   float64(order.TakerFees) / 100,
			At:        now,
		}
	case "canceled":
		return domain.FillResult{
			Outcome: domain.OutcomeRejected,
			OrderID: order.OrderID,
			Reason:  "fill-or-kill canceled",
			At:      now,
		}
	default:
		// A resting or unknown status should not happen for FOK; treat it as
		// unknown so the caller reconciles.
		return domain.FillResult{
			Outcome: domain.OutcomeTransport,
			OrderID: order.OrderID,
			Reason:  fmt.Sprintf("unexpected order status %q", order.Status),
			At:      now,
		}
	}
}

// CancelOrder implements domain.VenueAdapter.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.writeLimit.Wait(ctx); err != nil {
		return fmt.Errorf("kalshi: rate limiter: %w", err)
	}
	if _, err := a.doRequest(ctx, http.MethodDelete, apiPrefix+"/portfolio/orders/"+orderID, nil); err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetBalance implements domain.VenueAdapter. The exchange reports cents.
func (a *Adapter) GetBalance(ctx context.Context) (domain.Balance, error) {
	if err := a.readLimit.Wait(ctx); err != nil {
		return domain.Balance{}, fmt.Errorf("kalshi: rate limiter: %w", err)
	}

	body, err := a.doRequest(ctx, http.MethodGet, apiPrefix+"/portfolio/balance", nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("kalshi: get balance: %w", err)
	}

	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("kalshi: decode balance: %w", err)
	}
	usd := float64(resp.Balance) / 100
	return domain.Balance{Venue: domain.VenueKalshi, Available: usd, Total: usd}, nil
}

// GetPositions implements domain.VenueAdapter. The signed position count is
// split into YES (positive) and NO (negative) holdings.
func (a *Adapter) GetPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	if err := a.readLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("kalshi: rate limiter: %w", err)
	}

	body, err := a.doRequest(ctx, http.MethodGet, apiPrefix+"/portfolio/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get positions: %w", err)
	}

	var resp struct {
		MarketPositions []apiMarketPosition `json:"market_positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode positions: %w", err)
	}

	out := make([]domain.VenuePosition, 0, len(resp.MarketPositions))
	for _, mp := range resp.MarketPositions {
		if mp.Position == 0 {
			continue
		}
		side := domain.SideYes
		qty := float64(mp.Position)
		if mp.Position < 0 {
			side = domain.SideNo
			qty = -qty
		}
		avg := 0.0
		if mp.MarketExposure > 0 {
			avg = float64(mp.MarketExposure) / 100 / qty
		}
		out = append(out, domain.VenuePosition{
			Venue:    domain.VenueKalshi,
			Contract: mp.Ticker,
			Side:     side,
			Quantity: qty,
			AvgPrice: avg,
		})
	}
	return out, nil
}

// doRequest builds, signs, and sends one request, returning the raw body.
func (a *Adapter) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := a.signRequest(req, method, path); err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransient, err)
	}
	if err := mapStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds the access headers: the millisecond timestamp, the API key
// id, and an RSA-PSS signature over timestamp+method+path.
func (a *Adapter) signRequest(req *http.Request, method, path string) error {
	if a.signingKey == nil {
		return nil
	}

	ts := strconv.FormatInt(a.now().UnixMilli(), 10)
	digest := sha256.Sum256([]byte(ts + method + path))

	sig, err := rsa.SignPSS(rand.Reader, a.signingKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("kalshi: sign request: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", a.cfg.ApiKey)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(sig))
	return nil
}

// mapStatus maps non-2xx status codes onto the shared error sentinels.
func mapStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, status, body)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrVenueFatal, status, body)
	}
}
