package payment

import (
	"context"
	"fmt"
	"math"
	"net/http"
)

// usdcDecimals is the atomic-unit exponent of USDC on EVM networks.
const usdcDecimals = 1_000_000

// EVMConfig configures the EVM stablecoin rail.
type EVMConfig struct {
	FacilitatorURL string
	Network        string // e.g. "base", "base-sepolia"
	Asset          string // USDC contract address
	WalletAddress  string // payee
}

// EVMFacilitator is the x402 EVM/USDC rail.
type EVMFacilitator struct {
	httpFacilitator
	network string
	asset   string
}

// NewEVMFacilitator builds the EVM rail client.
func NewEVMFacilitator(cfg EVMConfig) *EVMFacilitator {
	return &EVMFacilitator{
		httpFacilitator: httpFacilitator{
			baseURL: cfg.FacilitatorURL,
			payTo:   cfg.WalletAddress,
			client:  &http.Client{},
		},
		network: cfg.Network,
		asset:   cfg.Asset,
	}
}

func (f *EVMFacilitator) Scheme() string   { return SchemeEVM }
func (f *EVMFacilitator) Currency() string { return "USDC" }

// AmountForUSD converts USD to USDC atomic units: round(usd * 10^6).
func (f *EVMFacilitator) AmountForUSD(usd float64) string {
	return fmt.Sprintf("%d", int64(math.Round(usd*usdcDecimals)))
}

func (f *EVMFacilitator) Requirement(toolName string, usd float64) Requirement {
	return Requirement{
		Scheme:            SchemeEVM,
		Network:           f.network,
		Asset:             f.asset,
		MaxAmountRequired: f.AmountForUSD(usd),
		PayTo:             f.payTo,
		Description:       "MCP Tool: " + toolName,
	}
}

func (f *EVMFacilitator) Verify(ctx context.Context, envelope, amountAtomic string) (VerifyResult, error) {
	return f.verify(ctx, envelope, amountAtomic)
}

func (f *EVMFacilitator) Settle(ctx context.Context, envelope string) (SettleResult, error) {
	res, err := f.settle(ctx, envelope)
	if err != nil {
		return res, err
	}
	if res.Network == "" {
		res.Network = f.network
	}
	return res, nil
}
