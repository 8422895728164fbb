// Package pricing computes purchase-offer recommendations and obtains
// market valuations. ComputeOffer is a pure function: identical inputs
// always produce identical output, so offers can be recomputed at will.
package pricing

import "math"

// Negotiation strategies reported alongside an offer.
const (
	StrategyInsufficientInfo   = "insufficient information"
	StrategyStronglyOverpriced = "strongly overpriced"
	StrategyOverpriced         = "overpriced"
	StrategyAtMarket           = "at market"
	StrategyUnderpriced        = "underpriced / good deal"
)

// MarketPosition describes how a listing price sits against the estimated
// market value.
type MarketPosition struct {
	PositionPct   float64 `json:"position_pct"`
	IsOverpriced  bool    `json:"is_overpriced"`
	IsUnderpriced bool    `json:"is_underpriced"`
}

// OfferResult is the outcome of ComputeOffer. All numeric fields are nil
// when the inputs were insufficient.
type OfferResult struct {
	SuggestedOffer     *float64        `json:"suggested_offer"`
	DiscountAmount     *float64        `json:"discount_amount"`
	DiscountPercentage *float64        `json:"discount_percentage"`
	MarketPosition     *MarketPosition `json:"market_position"`
	Strategy           string          `json:"strategy"`
}

// ComputeOffer derives a suggested purchase offer from the listing price
// and the estimated market value. The discount tier follows the market
// position; the result is floored at 90% of the estimated value. The floor
// is applied unconditionally, so on a strongly underpriced listing the
// suggested offer can end up above the asking price.
func ComputeOffer(listingPrice, estimatedValue, minDiscountPct, maxDiscountPct float64) OfferResult {
	if listingPrice <= 0 || estimatedValue <= 0 {
		return OfferResult{Strategy: StrategyInsufficientInfo}
	}

	positionPct := (listingPrice - estimatedValue) / estimatedValue * 100
	position := MarketPosition{
		PositionPct:   positionPct,
		IsOverpriced:  positionPct > 5,
		IsUnderpriced: positionPct < -5,
	}

	var strategy string
	var discountPct float64
	switch {
	case positionPct > 15:
		strategy = StrategyStronglyOverpriced
		discountPct = math.Min(25, maxDiscountPct)
	case positionPct > 5:
		strategy = StrategyOverpriced
		discountPct = math.Min(15, maxDiscountPct)
	case positionPct >= -5:
		strategy = StrategyAtMarket
		discountPct = minDiscountPct
	default:
		strategy = StrategyUnderpriced
		discountPct = math.Max(5, minDiscountPct/2)
	}

	discountAmount := math.Floor(listingPrice * discountPct / 100)
	suggestedOffer := listingPrice - discountAmount

	// Never offer less than 90% of what the car is worth; a lowball below
	// that is not taken seriously. The recomputed percentage can leave the
	// tier table, and even go negative.
	minAcceptable := math.Floor(estimatedValue * 0.9)
	if suggestedOffer < minAcceptable {
		suggestedOffer = minAcceptable
		discountAmount = listingPrice - suggestedOffer
		discountPct = discountAmount / listingPrice * 100
	}

	return OfferResult{
		SuggestedOffer:     &suggestedOffer,
		DiscountAmount:     &discountAmount,
		DiscountPercentage: &discountPct,
		MarketPosition:     &position,
		Strategy:           strategy,
	}
}
