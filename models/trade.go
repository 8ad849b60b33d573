package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatingCategory buckets a reference entity by credit quality.
type RatingCategory string

const (
	RatingHighYield       RatingCategory = "HIGH_YIELD"
	RatingInvestmentGrade RatingCategory = "INVESTMENT_GRADE"
	RatingUnknown         RatingCategory = "UNKNOWN"
)

// Trade is the canonical credit-default-swap trade persisted by the service.
// One row exists per unique DedupKey; rows are written once and never mutated.
type Trade struct {
	DedupKey        string           `json:"dedup_key"`
	TradeTime       string           `json:"trade_time"` // HH:MM:SS wall time of execution
	TradeDate       time.Time        `json:"trade_date"`
	MaturityDate    time.Time        `json:"maturity_date"`
	Instrument      string           `json:"instrument"`
	Price           decimal.Decimal  `json:"price"`
	NotionalFull    int64            `json:"notional_full"`
	NotionalDisplay string           `json:"notional_display"`
	Code            string           `json:"code"`
	Tenor           int              `json:"tenor"` // years to maturity, floored at 1
	Currency        string           `json:"currency"`
	PlatformID      string           `json:"platform_id"`
	OtherPayment    *decimal.Decimal `json:"other_payment,omitempty"`
	RatingCategory  RatingCategory   `json:"rating_category"`
	// IsHY and IsIG carry the API mode's independent rating-class flags.
	// They are derived by substring match and may legitimately both be false;
	// RatingCategory is UNKNOWN unless exactly one of them is set.
	IsHY       bool   `json:"is_hy"`
	IsIG       bool   `json:"is_ig"`
	EntityName string `json:"entity_name"`
	Sector     string `json:"sector,omitempty"`
}
