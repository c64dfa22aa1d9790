package payment

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Headers used by the gate.
const (
	HeaderPayment         = "X-Payment"
	HeaderInternalKey     = "X-Internal-Api-Key"
	HeaderPaymentResponse = "X-Payment-Response"
)

// x402Version is the protocol version tag of 402 bodies.
const x402Version = 1

// RequiredBody is the HTTP 402 response body. Accepts lists one requirement
// per enabled rail, EVM first, Canton second.
type RequiredBody struct {
	X402Version int           `json:"x402Version"`
	Accepts     []Requirement `json:"accepts"`
	Error       string        `json:"error,omitempty"`
}

// RequiredError demands payment: HTTP 402 plus the accepts body. It is
// raised before any tool code runs and never travels inside an SSE stream.
type RequiredError struct {
	Body RequiredBody
}

func (e *RequiredError) Error() string {
	if e.Body.Error != "" {
		return e.Body.Error
	}
	return "payment required"
}

// EnvelopeError marks a malformed or unroutable X-PAYMENT header: HTTP 400.
type EnvelopeError struct {
	Reason string
}

func (e *EnvelopeError) Error() string { return e.Reason }

// Info is the verified payment attached to a request. Settlement may only be
// attempted when the verdict was verified and execution succeeded.
type Info struct {
	Rail         string
	RequiredUSD  float64
	RawEnvelope  string
	AmountAtomic string
	Currency     string
	Payer        string

	facilitator Facilitator
}

// envelope is the decoded shape of the X-PAYMENT header. Payload stays
// opaque apart from best-effort payer extraction.
type envelope struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// Gate enforces the x402 paywall for priced tools. Rails are registered in
// the deterministic advertisement order (EVM, Canton); either, neither, or
// both may be present.
type Gate struct {
	rails       []Facilitator
	internalKey string
	logger      *zap.Logger
}

// NewGate builds a gate over the enabled rails. internalKey, when non-empty,
// lets trusted internal callers bypass the gate entirely.
func NewGate(rails []Facilitator, internalKey string, logger *zap.Logger) *Gate {
	return &Gate{rails: rails, internalKey: internalKey, logger: logger}
}

// Enabled reports whether at least one rail is configured.
func (g *Gate) Enabled() bool { return len(g.rails) > 0 }

// Rails returns the enabled rails in advertisement order.
func (g *Gate) Rails() []Facilitator { return g.rails }

// Requirements builds the accepts array advertised for a priced tool.
func (g *Gate) Requirements(toolName string, usd float64) []Requirement {
	out := make([]Requirement, 0, len(g.rails))
	for _, rail := range g.rails {
		out = append(out, rail.Requirement(toolName, usd))
	}
	return out
}

// Check enforces the gate for one tools/call. It returns (nil, nil) when no
// payment is due (free tool, gate disabled, or internal bypass), a verified
// *Info when the facilitator accepted the envelope, a *RequiredError for
// missing or rejected payments, and an *EnvelopeError for malformed ones.
// No tool code runs and no telemetry is emitted on a non-nil error.
func (g *Gate) Check(ctx context.Context, toolName string, priceUSD float64, header http.Header) (*Info, error) {
	if !g.Enabled() || priceUSD <= 0 {
		return nil, nil
	}

	if g.bypassed(header) {
		g.logger.Debug("internal key verified, bypassing payment", zap.String("tool", toolName))
		return nil, nil
	}

	raw := header.Get(HeaderPayment)
	if raw == "" {
		g.logger.Info("payment required",
			zap.String("tool", toolName), zap.Float64("usd", priceUSD))
		return nil, &RequiredError{Body: RequiredBody{
			X402Version: x402Version,
			Accepts:     g.Requirements(toolName, priceUSD),
			Error:       "no X-PAYMENT header provided",
		}}
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, &EnvelopeError{Reason: fmt.Sprintf("invalid payment envelope: %v", err)}
	}

	rail := g.railFor(env.Scheme)
	if rail == nil {
		return nil, &EnvelopeError{Reason: fmt.Sprintf("unknown payment scheme %q", env.Scheme)}
	}

	amount := rail.AmountForUSD(priceUSD)
	verdict, err := rail.Verify(ctx, raw, amount)
	if err != nil {
		g.logger.Warn("facilitator verification failed",
			zap.String("tool", toolName), zap.String("rail", rail.Scheme()), zap.Error(err))
		return nil, &RequiredError{Body: RequiredBody{
			X402Version: x402Version,
			Accepts:     g.Requirements(toolName, priceUSD),
			Error:       "payment verification unavailable",
		}}
	}
	if verdict.Verdict != VerdictVerified {
		reason := verdict.Reason
		if reason == "" {
			reason = "payment rejected"
		}
		g.logger.Info("payment rejected",
			zap.String("tool", toolName), zap.String("reason", reason))
		return nil, &RequiredError{Body: RequiredBody{
			X402Version: x402Version,
			Accepts:     g.Requirements(toolName, priceUSD),
			Error:       reason,
		}}
	}

	info := &Info{
		Rail:         rail.Scheme(),
		RequiredUSD:  priceUSD,
		RawEnvelope:  raw,
		AmountAtomic: amount,
		Currency:     rail.Currency(),
		Payer:        extractPayer(env.Payload),
		facilitator:  rail,
	}
	g.logger.Info("payment verified",
		zap.String("tool", toolName),
		zap.String("rail", rail.Scheme()),
		zap.Float64("usd", priceUSD))
	return info, nil
}

// Settle captures a verified payment after successful execution. Called
// exactly once per verified call; failures are logged and reported through
// telemetry only, never to the client.
func (g *Gate) Settle(ctx context.Context, info *Info) (SettleResult, error) {
	res, err := info.facilitator.Settle(ctx, info.RawEnvelope)
	if err != nil {
		return SettleResult{Result: SettleFailed, Reason: err.Error()}, err
	}
	return res, nil
}

// ReceiptHeader encodes a settlement result as the base64 JSON value of the
// X-Payment-Response header.
func ReceiptHeader(res SettleResult) (string, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (g *Gate) bypassed(header http.Header) bool {
	presented := header.Get(HeaderInternalKey)
	if presented == "" || g.internalKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(g.internalKey)) == 1
}

func (g *Gate) railFor(scheme string) Facilitator {
	for _, rail := range g.rails {
		if rail.Scheme() == scheme {
			return rail
		}
	}
	return nil
}

func decodeEnvelope(raw string) (*envelope, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Some clients send unpadded base64.
		decoded, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("not base64: %w", err)
		}
	}
	var env envelope
	if err := json.Unmarshal(decoded, &env); err != nil {
		return nil, fmt.Errorf("not a JSON envelope: %w", err)
	}
	if env.Scheme == "" {
		return nil, fmt.Errorf("envelope missing scheme")
	}
	return &env, nil
}

// extractPayer pulls the paying address out of the envelope payload on a
// best-effort basis, checking payload.authorization first and then the
// payload itself. Used for telemetry only.
func extractPayer(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return ""
	}
	keys := []string{"from", "payer", "sender", "walletAddress", "address"}
	if auth, ok := obj["authorization"].(map[string]any); ok {
		for _, k := range keys {
			if s, ok := auth[k].(string); ok && s != "" {
				return s
			}
		}
	}
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
