package crm

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/memory"
	"github.com/estio/agentcore/internal/search"
	"github.com/estio/agentcore/internal/tools"
)

const comparablesLimit = 20

// Offer range multipliers applied to the comparable median
const (
	openingFactor = 0.92
	targetFactor  = 0.96
	ceilingFactor = 1.0
)

func (c *catalog) searchProperties(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "location_id"); err != nil {
		return nil, err
	}
	results, err := c.Search.Search(ctx, search.Params{
		LocationID:   str(args, "location_id"),
		District:     str(args, "district"),
		MinPrice:     num(args, "min_price"),
		MaxPrice:     num(args, "max_price"),
		Bedrooms:     integer(args, "bedrooms"),
		PropertyType: str(args, "property_type"),
		DealType:     str(args, "deal_type"),
		Query:        str(args, "query"),
		Limit:        integer(args, "limit"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(results), "properties": results}, nil
}

func (c *catalog) storeInsight(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "contact_id", "text"); err != nil {
		return nil, err
	}
	category, err := memory.ParseCategory(str(args, "category"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tools.ErrInvalidArguments, err)
	}
	in, err := c.Memory.StoreInsight(ctx, memory.InsightInput{
		ContactID:  str(args, "contact_id"),
		Text:       str(args, "text"),
		Category:   category,
		Importance: integer(args, "importance"),
	})
	if err != nil {
		return nil, err
	}
	if in == nil {
		return map[string]any{"stored": false}, nil
	}
	return map[string]any{"stored": true, "id": in.ID}, nil
}

// PriceStats summarises comparable listing prices
type PriceStats struct {
	Average float64 `json:"average"`
	Median  float64 `json:"median"`
	Count   int     `json:"count"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// ComparePrices computes stats over non-zero prices. The median is the upper
// middle element for an even count.
func ComparePrices(prices []float64) PriceStats {
	kept := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > 0 {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return PriceStats{}
	}
	sort.Float64s(kept)
	var sum float64
	for _, p := range kept {
		sum += p
	}
	return PriceStats{
		Average: math.Round(sum / float64(len(kept))),
		Median:  kept[len(kept)/2],
		Count:   len(kept),
		Min:     kept[0],
		Max:     kept[len(kept)-1],
	}
}

// OfferRange is a negotiation suggestion
type OfferRange struct {
	Opening float64 `json:"opening_offer"`
	Target  float64 `json:"target_price"`
	Ceiling float64 `json:"walk_away_price"`
	Basis   string  `json:"basis"`
}

// SuggestOfferRange anchors on the comparable median, or on the asking
// price when there are no comparables. No suggestion exceeds the asking price.
func SuggestOfferRange(asking float64, stats PriceStats) OfferRange {
	anchor, basis := stats.Median, "comparable_median"
	if stats.Count == 0 {
		anchor, basis = asking, "asking_price"
	}
	if anchor <= 0 {
		return OfferRange{Basis: "insufficient_data"}
	}
	capAt := func(v float64) float64 {
		v = math.Round(v)
		if asking > 0 && v > asking {
			return asking
		}
		return v
	}
	return OfferRange{
		Opening: capAt(anchor * openingFactor),
		Target:  capAt(anchor * targetFactor),
		Ceiling: capAt(anchor * ceilingFactor),
		Basis:   basis,
	}
}

func (c *catalog) calculateOfferRange(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "location_id", "district"); err != nil {
		return nil, err
	}
	results, err := c.Search.Search(ctx, search.Params{
		LocationID:   str(args, "location_id"),
		District:     str(args, "district"),
		Bedrooms:     integer(args, "bedrooms"),
		PropertyType: str(args, "property_type"),
		Limit:        comparablesLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("load comparables: %w", err)
	}
	prices := make([]float64, len(results))
	for i, r := range results {
		prices[i] = r.Property.Price
	}
	asking := num(args, "asking_price")
	stats := ComparePrices(prices)
	offer := SuggestOfferRange(asking, stats)
	c.Logger.Debug("Offer range calculated",
		zap.String("district", str(args, "district")),
		zap.Int("comparables", stats.Count),
		zap.String("basis", offer.Basis),
	)
	return map[string]any{
		"asking_price": asking,
		"comparables":  stats,
		"suggestion":   offer,
	}, nil
}

// Mortgage is an amortised loan estimate rounded to whole euros
type Mortgage struct {
	MonthlyPayment float64 `json:"monthly_payment"`
	TotalCost      float64 `json:"total_cost"`
	Principal      float64 `json:"principal"`
}

// CalculateMortgage uses the standard annuity formula; a zero rate spreads
// the principal evenly.
func CalculateMortgage(price, downPaymentPercent, annualRate float64, termYears int) (Mortgage, error) {
	if price <= 0 || termYears <= 0 {
		return Mortgage{}, fmt.Errorf("%w: price and term must be positive", tools.ErrInvalidArguments)
	}
	if downPaymentPercent < 0 || downPaymentPercent > 100 || annualRate < 0 {
		return Mortgage{}, fmt.Errorf("%w: deposit or rate out of range", tools.ErrInvalidArguments)
	}
	principal := price * (1 - downPaymentPercent/100)
	r := annualRate / 100 / 12
	n := float64(termYears * 12)
	var monthly float64
	if r == 0 {
		monthly = principal / n
	} else {
		f := math.Pow(1+r, n)
		monthly = principal * r * f / (f - 1)
	}
	return Mortgage{
		MonthlyPayment: math.Round(monthly),
		TotalCost:      math.Round(monthly * n),
		Principal:      math.Round(principal),
	}, nil
}

func (c *catalog) calculateMortgage(_ context.Context, args map[string]any) (any, error) {
	return CalculateMortgage(
		num(args, "property_price"),
		num(args, "down_payment_percent"),
		num(args, "interest_rate"),
		integer(args, "term_years"),
	)
}
