package payment

import (
	"context"
	"net/http"
	"strconv"
)

// CantonConfig configures the Canton-ledger native rail.
type CantonConfig struct {
	FacilitatorURL string
	Network        string // e.g. "canton-testnet"
	PayeeParty     string // "Party::<hex>"
}

// CantonFacilitator is the Canton coin rail. Canton coin maps 1:1 to USD and
// amounts travel as decimal strings to preserve precision.
type CantonFacilitator struct {
	httpFacilitator
	network string
}

// NewCantonFacilitator builds the Canton rail client.
func NewCantonFacilitator(cfg CantonConfig) *CantonFacilitator {
	return &CantonFacilitator{
		httpFacilitator: httpFacilitator{
			baseURL: cfg.FacilitatorURL,
			payTo:   cfg.PayeeParty,
			client:  &http.Client{},
		},
		network: cfg.Network,
	}
}

func (f *CantonFacilitator) Scheme() string   { return SchemeCanton }
func (f *CantonFacilitator) Currency() string { return "CC" }

// AmountForUSD maps USD 1:1 onto Canton coin, emitted as a decimal string.
func (f *CantonFacilitator) AmountForUSD(usd float64) string {
	return strconv.FormatFloat(usd, 'f', -1, 64)
}

func (f *CantonFacilitator) Requirement(toolName string, usd float64) Requirement {
	return Requirement{
		Scheme:            SchemeCanton,
		Network:           f.network,
		Asset:             "CC",
		MaxAmountRequired: f.AmountForUSD(usd),
		PayTo:             f.payTo,
		Description:       "MCP Tool: " + toolName,
	}
}

func (f *CantonFacilitator) Verify(ctx context.Context, envelope, amountAtomic string) (VerifyResult, error) {
	return f.verify(ctx, envelope, amountAtomic)
}

func (f *CantonFacilitator) Settle(ctx context.Context, envelope string) (SettleResult, error) {
	res, err := f.settle(ctx, envelope)
	if err != nil {
		return res, err
	}
	if res.Network == "" {
		res.Network = f.network
	}
	return res, nil
}
