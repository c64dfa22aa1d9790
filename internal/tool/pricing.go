package tool

import "fmt"

// PricingKind is the pricing model of a tool.
type PricingKind string

const (
	PricingFree    PricingKind = "free"
	PricingFixed   PricingKind = "fixed"
	PricingDynamic PricingKind = "dynamic"
)

// PriceFunc computes a dynamic price in USD from validated snake_case
// arguments. The result is clamped to the descriptor's [min, max] range.
type PriceFunc func(args map[string]any) float64

// Pricing is the three-variant pricing configuration of a tool.
type Pricing struct {
	Kind     PricingKind
	PriceUSD float64 // fixed
	MinUSD   float64 // dynamic lower bound
	MaxUSD   float64 // dynamic upper bound
	Compute  PriceFunc
}

// Free returns the no-payment pricing.
func Free() Pricing { return Pricing{Kind: PricingFree} }

// Fixed returns a constant USD price.
func Fixed(usd float64) Pricing { return Pricing{Kind: PricingFixed, PriceUSD: usd} }

// Dynamic returns a parameter-dependent price clamped to [min, max].
func Dynamic(min, max float64, fn PriceFunc) Pricing {
	return Pricing{Kind: PricingDynamic, MinUSD: min, MaxUSD: max, Compute: fn}
}

// Validate checks the pricing invariants at registration time.
func (p Pricing) Validate() error {
	switch p.Kind {
	case PricingFree:
		return nil
	case PricingFixed:
		if p.PriceUSD < 0 {
			return fmt.Errorf("fixed price must be >= 0, got %v", p.PriceUSD)
		}
		return nil
	case PricingDynamic:
		if p.MinUSD < 0 {
			return fmt.Errorf("dynamic min must be >= 0, got %v", p.MinUSD)
		}
		if p.MinUSD > p.MaxUSD {
			return fmt.Errorf("dynamic min %v exceeds max %v", p.MinUSD, p.MaxUSD)
		}
		if p.Compute == nil {
			return fmt.Errorf("dynamic pricing requires a compute function")
		}
		return nil
	default:
		return fmt.Errorf("unknown pricing kind %q", p.Kind)
	}
}

// Price returns the USD amount charged for a call with the given arguments.
func (p Pricing) Price(args map[string]any) float64 {
	switch p.Kind {
	case PricingFixed:
		return p.PriceUSD
	case PricingDynamic:
		usd := p.Compute(args)
		if usd < p.MinUSD {
			usd = p.MinUSD
		}
		if usd > p.MaxUSD {
			usd = p.MaxUSD
		}
		return usd
	default:
		return 0
	}
}

// Advert is the pricing advertisement embedded in tools/list entries and
// discovery records.
func (p Pricing) Advert() map[string]any {
	switch p.Kind {
	case PricingFixed:
		return map[string]any{"model": "fixed", "priceUsd": p.PriceUSD}
	case PricingDynamic:
		return map[string]any{"model": "dynamic", "minUsd": p.MinUSD, "maxUsd": p.MaxUSD}
	default:
		return map[string]any{"model": "free"}
	}
}
