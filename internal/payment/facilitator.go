// Package payment implements the x402 payment gate: per-tool price
// resolution, the HTTP 402 pre-flight, envelope routing to a payment rail,
// facilitator verification before execution, and settlement after success.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Verdicts returned by a facilitator's /verify endpoint.
const (
	VerdictVerified = "verified"
	VerdictRejected = "rejected"
)

// Results returned by a facilitator's /settle endpoint.
const (
	SettleSettled = "settled"
	SettleFailed  = "failed"
)

// Payment schemes selecting a rail in the X-PAYMENT envelope.
const (
	SchemeEVM    = "exact"
	SchemeCanton = "exact-canton"
)

// Verify timeout is short because it gates the client's visible response;
// settlement happens after the stream closed and gets a longer bound.
const (
	verifyTimeout = 5 * time.Second
	settleTimeout = 30 * time.Second
)

// VerifyResult is a facilitator's answer to a verification request.
type VerifyResult struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason,omitempty"`
}

// SettleResult is a facilitator's answer to a settlement request.
type SettleResult struct {
	Result  string `json:"result"`
	TxRef   string `json:"txRef,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Network string `json:"network,omitempty"`
}

// Requirement is one entry of a 402 response's accepts array.
type Requirement struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	PayTo             string `json:"payTo"`
	Description       string `json:"description"`
}

// Facilitator is one payment rail. Both rails share the verify/settle shape;
// adding a rail is a registration, not a new code path.
type Facilitator interface {
	// Scheme is the envelope scheme this rail serves.
	Scheme() string
	// Requirement builds the 402 accepts entry for a price.
	Requirement(toolName string, usd float64) Requirement
	// AmountForUSD converts a USD price to the rail's atomic amount string.
	AmountForUSD(usd float64) string
	// Currency is the symbol reported in telemetry.
	Currency() string
	// Verify checks a client payment envelope against the required amount.
	Verify(ctx context.Context, envelope string, amountAtomic string) (VerifyResult, error)
	// Settle captures a previously verified payment.
	Settle(ctx context.Context, envelope string) (SettleResult, error)
}

// httpFacilitator is the HTTP plumbing shared by both rails. The facilitator
// is the source of truth; ambiguous outcomes are never retried.
type httpFacilitator struct {
	baseURL string
	payTo   string
	client  *http.Client
}

type verifyRequest struct {
	Envelope string `json:"envelope"`
	Amount   string `json:"amount"`
	PayTo    string `json:"payTo"`
}

type settleRequest struct {
	Envelope string `json:"envelope"`
}

func (f *httpFacilitator) verify(ctx context.Context, envelope, amount string) (VerifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	var out VerifyResult
	if err := f.post(ctx, "/verify", verifyRequest{Envelope: envelope, Amount: amount, PayTo: f.payTo}, &out); err != nil {
		return VerifyResult{}, err
	}
	return out, nil
}

func (f *httpFacilitator) settle(ctx context.Context, envelope string) (SettleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	var out SettleResult
	if err := f.post(ctx, "/settle", settleRequest{Envelope: envelope}, &out); err != nil {
		return SettleResult{}, err
	}
	return out, nil
}

func (f *httpFacilitator) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal facilitator request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("facilitator %s: read response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator %s: status %d: %s", path, resp.StatusCode, truncate(string(raw), 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("facilitator %s: decode response: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
