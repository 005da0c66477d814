package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossclob/arbot/internal/crypto"
	"github.com/crossclob/arbot/internal/domain"
)

// usdcScale converts between USDC/share micro-units and floats. The CLOB
// carries both collateral and share amounts with 6 decimals.
var usdcScale = decimal.New(1, 6)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// PlaceFOK implements domain.VenueAdapter. A returned error means the
// placement outcome is unknown and must be reconciled; a Rejected result is a
// venue-confirmed no-fill.
func (a *Adapter) PlaceFOK(ctx context.Context, req domain.OrderRequest) (domain.FillResult, error) {
	if a.signer == nil || a.hmacAuth == nil {
		return domain.FillResult{}, fmt.Errorf("polymarket: %w: not authenticated", domain.ErrUnauthorized)
	}
	if err := a.writeLimit.Wait(ctx); err != nil {
		return domain.FillResult{}, fmt.Errorf("polymarket: rate limiter: %w", err)
	}

	payload, err := a.buildOrder(req)
	if err != nil {
		return domain.FillResult{}, err
	}
	sig, err := a.signer.SignOrder(payload)
	if err != nil {
		return domain.FillResult{}, fmt.Errorf("polymarket: sign order: %w", err)
	}

	wallet := a.signer.Address().Hex()
	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideLabel(req.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
			"maker":         wallet,
			"signer":        wallet,
			"taker":         zeroAddress,
		},
		"owner":     wallet,
		"orderType": "FOK",
	}

	respBody, err := a.doRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		// A client-side rejection (bad order) never reached the book.
		if errors.Is(err, domain.ErrVenueFatal) || errors.Is(err, domain.ErrUnauthorized) {
			return domain.FillResult{
				Outcome: domain.OutcomeRejected,
				Reason:  err.Error(),
				At:      time.Now(),
			}, nil
		}
		return domain.FillResult{}, fmt.Errorf("polymarket: post order: %w", err)
	}

	var result apiOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.FillResult{}, fmt.Errorf("polymarket: decode order result: %w", err)
	}
	return a.classifyResult(req, result), nil
}

// classifyResult maps the CLOB order response onto a fill outcome. FOK orders
// either match entirely or cancel, so "matched" is a full fill.
func (a *Adapter) classifyResult(req domain.OrderRequest, result apiOrderResult) domain.FillResult {
	now := time.Now()

	if !result.Success {
		return domain.FillResult{
			Outcome: domain.OutcomeRejected,
			OrderID: result.OrderID,
			Reason:  result.ErrorMsg,
			At:      now,
		}
	}

	if result.Status != "matched" {
		return domain.FillResult{
			Outcome: domain.OutcomeRejected,
			OrderID: result.OrderID,
			Reason:  fmt.Sprintf("fok not matched (status %q)", result.Status),
			At:      now,
		}
	}

	fillPrice, fillQty := fillFromAmounts(req, result)
	return domain.FillResult{
		Outcome:   domain.OutcomeFilled,
		OrderID:   result.OrderID,
		FillPrice: fillPrice,
		FillQty:   fillQty,
		At:        now,
	}
}

// fillFromAmounts derives the effective fill price and quantity from the
// matched maker/taker amounts, falling back to the request terms when the
// response omits them.
func fillFromAmounts(req domain.OrderRequest, result apiOrderResult) (price, qty float64) {
	making := microToFloat(result.MakingAmount)
	taking := microToFloat(result.TakingAmount)

	switch req.Side {
	case domain.OrderSideBuy:
		// Buyer spends collateral (making) for shares (taking).
		if taking > 0 {
			return making / taking, taking
		}
	case domain.OrderSideSell:
		// Seller gives shares (making) for collateral (taking).
		if making > 0 {
			return taking / making, making
		}
	}
	return req.Price, req.Quantity
}

// buildOrder converts the normalized request into a signed CLOB payload.
// Buy: maker amount is collateral, taker amount is shares. Sell: reversed.
func (a *Adapter) buildOrder(req domain.OrderRequest) (crypto.OrderPayload, error) {
	if req.Price <= 0 || req.Price >= 1 {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket: price %.4f out of (0,1)", req.Price)
	}
	if req.Quantity <= 0 {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket: quantity %.4f not positive", req.Quantity)
	}

	price := decimal.NewFromFloat(req.Price)
	qty := decimal.NewFromFloat(req.Quantity)

	shares := qty.Mul(usdcScale).Round(0)
	collateral := price.Mul(qty).Mul(usdcScale).Round(0)

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(rand.Int63(), 10),
		Maker:         a.signer.Address().Hex(),
		Signer:        a.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       req.Contract,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: 0,
	}

	switch req.Side {
	case domain.OrderSideBuy:
		payload.Side = 0
		payload.MakerAmount = collateral.String()
		payload.TakerAmount = shares.String()
	case domain.OrderSideSell:
		payload.Side = 1
		payload.MakerAmount = shares.String()
		payload.TakerAmount = collateral.String()
	default:
		return crypto.OrderPayload{}, fmt.Errorf("polymarket: unknown side %q", req.Side)
	}
	return payload, nil
}

func sideLabel(side domain.OrderSide) string {
	if side == domain.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

// microToFloat parses a 6-decimal micro-unit string to a float. Empty or
// malformed input yields zero.
func microToFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Div(usdcScale).Float64()
	return f
}
