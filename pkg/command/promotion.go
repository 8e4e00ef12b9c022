package command

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/transform"
)

// DefaultValidityDays is how long a produced promotion stays valid.
const DefaultValidityDays = 30

// promotionFields are the keys buildPromotion reads; anything else in the
// source map lands in AdditionalDetails.
var promotionFields = map[string]bool{
	"promotionId":        true,
	"promotionName":      true,
	"promotionType":      true,
	"discountAmount":     true,
	"discountPercentage": true,
	"description":        true,
	"eligible":           true,
	"additionalDetails":  true,
	"validUntil":         true,
}

type promotionDefaults struct {
	Name         string
	Type         string
	Description  string
	ValidityDays int
}

// buildPromotion assembles a PromotionResult from a loosely typed field map.
// The percentage is taken from the map when present, otherwise derived from
// the customer's account balance.
func buildPromotion(fields map[string]interface{}, ec *evaluation.ExecutionContext, defaults promotionDefaults) (*evaluation.PromotionResult, error) {
	amount := 0.0
	if v, ok := fields["discountAmount"]; ok && v != nil {
		f, err := transform.ToFloat(v)
		if err != nil {
			return nil, fmt.Errorf("discountAmount: %w", err)
		}
		amount = f
	}

	eligible := true
	if v, ok := fields["eligible"]; ok && v != nil {
		b, err := transform.ToBool(v)
		if err != nil {
			return nil, fmt.Errorf("eligible: %w", err)
		}
		eligible = b
	}

	balance, hasBalance := ec.AccountBalance()
	percentage := evaluation.DiscountPercentage(amount, balance, hasBalance)
	if v, ok := fields["discountPercentage"]; ok && v != nil {
		f, err := transform.ToFloat(v)
		if err != nil {
			return nil, fmt.Errorf("discountPercentage: %w", err)
		}
		percentage = evaluation.RoundTo(f, 4)
	}

	details := make(map[string]interface{})
	if v, ok := fields["additionalDetails"]; ok && v != nil {
		m, err := transform.ToMap(v)
		if err != nil {
			return nil, fmt.Errorf("additionalDetails: %w", err)
		}
		for k, item := range m {
			details[k] = item
		}
	}
	for k, v := range fields {
		if !promotionFields[k] {
			details[k] = v
		}
	}
	if len(details) == 0 {
		details = nil
	}

	days := defaults.ValidityDays
	if days <= 0 {
		days = DefaultValidityDays
	}

	return &evaluation.PromotionResult{
		PromotionID:        stringField(fields, "promotionId", uuid.NewString()),
		PromotionName:      stringField(fields, "promotionName", defaults.Name),
		PromotionType:      stringField(fields, "promotionType", defaults.Type),
		DiscountAmount:     amount,
		DiscountPercentage: percentage,
		Description:        stringField(fields, "description", defaults.Description),
		ValidUntil:         evaluation.ValidUntil(ec.StartedAt(), days),
		AdditionalDetails:  details,
		Eligible:           eligible,
	}, nil
}

func stringField(fields map[string]interface{}, key, def string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return def
	}
	s, err := transform.ToString(v)
	if err != nil || strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// floatParam reads a numeric parameter that may be configured as a string.
func floatParam(cfg evaluation.NodeConfig, key string, def float64) (float64, error) {
	v, ok := cfg.Param(key)
	if !ok || v == nil {
		return def, nil
	}
	f, err := transform.ToFloat(v)
	if err != nil {
		return def, fmt.Errorf("parameter %s: %w", key, err)
	}
	return f, nil
}
