package evaluation

import (
	"math"
	"time"
)

// PromotionResult is the terminal output of a successful evaluation.
// DiscountAmount and DiscountPercentage are independently optional; a zero
// value means the strategy did not produce one.
type PromotionResult struct {
	PromotionID        string                 `json:"promotionId,omitempty"`
	PromotionName      string                 `json:"promotionName"`
	PromotionType      string                 `json:"promotionType,omitempty"`
	DiscountAmount     float64                `json:"discountAmount,omitempty"`
	DiscountPercentage float64                `json:"discountPercentage,omitempty"`
	Description        string                 `json:"description,omitempty"`
	ValidUntil         time.Time              `json:"validUntil"`
	AdditionalDetails  map[string]interface{} `json:"additionalDetails,omitempty"`
	Eligible           bool                   `json:"eligible"`
}

// Map renders the promotion as a generic map.
func (p *PromotionResult) Map() map[string]interface{} {
	if p == nil {
		return nil
	}
	out := map[string]interface{}{
		"promotionId":        p.PromotionID,
		"promotionName":      p.PromotionName,
		"promotionType":      p.PromotionType,
		"discountAmount":     p.DiscountAmount,
		"discountPercentage": p.DiscountPercentage,
		"description":        p.Description,
		"validUntil":         p.ValidUntil,
		"eligible":           p.Eligible,
	}
	if len(p.AdditionalDetails) > 0 {
		out["additionalDetails"] = p.AdditionalDetails
	}
	return out
}

// DiscountPercentage derives amount / balance * 100, rounded to 4 fractional
// digits. It is zero when the balance is unknown or not positive.
func DiscountPercentage(amount float64, balance float64, hasBalance bool) float64 {
	if !hasBalance || balance <= 0 {
		return 0
	}
	return RoundTo(amount/balance*100, 4)
}

// RoundTo rounds v half away from zero to the given number of fractional digits.
func RoundTo(v float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}

// ValidUntil returns the validity deadline days after from.
func ValidUntil(from time.Time, days int) time.Time {
	return from.AddDate(0, 0, days)
}
