// Package polymarket adapts the Polymarket CLOB to the normalized venue
// interface. It owns EIP-712 order signing, HMAC request auth, unit
// conversion between share/USDC amounts and probability prices, and
// rate-limit shaping.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/crypto"
	"github.com/crossclob/arbot/internal/domain"
)

// Adapter implements domain.VenueAdapter for the Polymarket CLOB.
type Adapter struct {
	cfg        config.PolymarketConfig
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	readLimit  *rate.Limiter
	writeLimit *rate.Limiter
	logger     *slog.Logger
}

// New builds an Adapter, resolving the wallet key per the configured source.
// API credentials are derived lazily via Authenticate; read-only endpoints
// work without them.
func New(cfg config.PolymarketConfig, logger *slog.Logger) (*Adapter, error) {
	var signer *crypto.Signer
	if cfg.PrivateKey != "" || cfg.EncryptedKeyPath != "" {
		keyHex, err := crypto.ResolveKey(crypto.KeySource{
			Raw:      cfg.PrivateKey,
			Path:     cfg.EncryptedKeyPath,
			Password: cfg.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("polymarket: resolve key: %w", err)
		}
		signer, err = crypto.NewSigner(keyHex, cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("polymarket: %w", err)
		}
	}

	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		readLimit:  rate.NewLimiter(rate.Limit(cfg.ReadRatePerSec), cfg.ReadRatePerSec),
		writeLimit: rate.NewLimiter(rate.Limit(cfg.WriteRatePerSec), cfg.WriteRatePerSec),
		logger:     logger.With(slog.String("component", "polymarket")),
	}, nil
}

// Venue implements domain.VenueAdapter.
func (a *Adapter) Venue() domain.Venue { return domain.VenuePolymarket }

// Authenticate runs the L1 auth flow to derive the HMAC API credentials used
// by every trading endpoint. Must be called once before PlaceFOK in live mode.
func (a *Adapter) Authenticate(ctx context.Context) error {
	if a.signer == nil {
		return fmt.Errorf("polymarket: %w: no wallet key configured", domain.ErrUnauthorized)
	}

	address := a.signer.Address().Hex()
	timestamp := time.Now().Unix()

	sig, err := a.signer.SignAuthMessage(address, timestamp, 0)
	if err != nil {
		return fmt.Errorf("polymarket: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.ClobHost+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", "0")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket: auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket: read auth response: %w", err)
	}
	if err := mapStatus(resp.StatusCode, body); err != nil {
		return fmt.Errorf("polymarket: derive api key: %w", err)
	}

	var creds struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(body, &creds); err != nil {
		return fmt.Errorf("polymarket: decode auth response: %w", err)
	}

	a.hmacAuth = &crypto.HMACAuth{
		Key:        creds.APIKey,
		Secret:     creds.Secret,
		Passphrase: creds.Passphrase,
	}
	a.logger.Info("api credentials derived", slog.String("address", address))
	return nil
}

// GetOrderBook implements domain.VenueAdapter.
func (a *Adapter) GetOrderBook(ctx context.Context, contract string) (domain.OrderBook, error) {
	if err := a.readLimit.Wait(ctx); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket: rate limiter: %w", err)
	}

	body, err := a.doRequest(ctx, http.MethodGet, "/book?token_id="+contract, nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket: get book %s: %w", contract, err)
	}

	var book apiBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket: decode book: %w", err)
	}
	out := book.toDomain()
	out.Contract = contract
	return out, nil
}

// CancelOrder implements domain.VenueAdapter.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.writeLimit.Wait(ctx); err != nil {
		return fmt.Errorf("polymarket: rate limiter: %w", err)
	}

	body, err := a.doRequest(ctx, http.MethodDelete, "/order", map[string]any{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("polymarket: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// GetBalance implements domain.VenueAdapter. The CLOB reports collateral in
// USDC micro-units.
func (a *Adapter) GetBalance(ctx context.Context) (domain.Balance, error) {
	if err := a.readLimit.Wait(ctx); err != nil {
		return domain.Balance{}, fmt.Errorf("polymarket: rate limiter: %w", err)
	}

	body, err := a.doRequest(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL", nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("polymarket: get balance: %w", err)
	}

	var resp struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("polymarket: decode balance: %w", err)
	}

	usd := microToFloat(resp.Balance)
	return domain.Balance{Venue: domain.VenuePolymarket, Available: usd, Total: usd}, nil
}

// GetPositions implements domain.VenueAdapter.
func (a *Adapter) GetPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	if err := a.readLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("polymarket: rate limiter: %w", err)
	}

	body, err := a.doRequest(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket: get positions: %w", err)
	}

	var rows []apiPosition
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket: decode positions: %w", err)
	}

	out := make([]domain.VenuePosition, 0, len(rows))
	for _, row := range rows {
		if row.Size <= 0 {
			continue
		}
		side := domain.SideYes
		if row.Outcome == "No" {
			side = domain.SideNo
		}
		out = append(out, domain.VenuePosition{
			Venue:    domain.VenuePolymarket,
			Contract: row.AssetID,
			Side:     side,
			Quantity: row.Size,
			AvgPrice: row.AvgPrice,
		})
	}
	return out, nil
}

// doRequest builds, signs, and sends one request against the CLOB API,
// returning the raw response body.
func (a *Adapter) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.ClobHost+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if a.hmacAuth != nil && a.signer != nil {
		for k, v := range a.hmacAuth.L2Headers(a.signer.Address().Hex(), method, path, bodyStr) {
			req.Header.Set(k, v)
		}
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

// mapStatus maps non-2xx status codes onto the shared error sentinels so
// callers can classify with errors.Is.
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
