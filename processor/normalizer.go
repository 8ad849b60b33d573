package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cdsflow/config"
	"cdsflow/logger"
	"cdsflow/models"
)

// Field names used by the JSON API records.
const (
	apiFieldExecutionTS = "executionTimestamp"
	apiFieldReference   = "referenceEntity"
	apiFieldIssuerName  = "issuerName"
	apiFieldPrice       = "price"
	apiFieldNotional    = "notionalAmount"
	apiFieldTradeType   = "tradeType"
	apiFieldMaturity    = "maturityDate"
	apiFieldCurrency    = "currency"
	apiFieldVenue       = "executionVenue"
	apiFieldUpfront     = "upfrontPayment"
	apiFieldRatingClass = "ratingClass"
)

// apiKeyFields are probed in order for the report identifier of an API record.
var apiKeyFields = []string{"disseminationIdentifier", "disseminationId", "tradeId", "id"}

// timestampLayouts and dateLayouts are the fixed ordered format lists tried
// when parsing upstream time values; the first successful match wins.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	time.RFC3339,
}

const tickerTruncateLen = 6

// Normalizer maps one in-scope RawRecord into the canonical trade schema.
// The field names and derivation rules differ per mode; both converge on
// models.Trade.
type Normalizer struct {
	universe config.UniverseConfig
	log      *logger.Log

	// Now supplies the wall clock used for tenor math and timestamp
	// fallbacks. Overridable in tests.
	Now func() time.Time
}

func NewNormalizer(universe config.UniverseConfig) *Normalizer {
	return &Normalizer{
		universe: universe,
		log:      logger.GetLogger(),
		Now:      time.Now,
	}
}

// Normalize converts a raw record for the given mode. An error means this
// single record is dropped; siblings in the same batch are unaffected.
func (n *Normalizer) Normalize(mode models.Mode, rec models.RawRecord) (models.Trade, error) {
	switch mode {
	case models.ModeSlice:
		return n.normalizeSlice(rec)
	case models.ModeAPI:
		return n.normalizeAPI(rec)
	default:
		return models.Trade{}, fmt.Errorf("unknown mode %q", mode)
	}
}

func (n *Normalizer) normalizeSlice(rec models.RawRecord) (models.Trade, error) {
	key := rec.String(fieldDisseminationID)
	if key == "" {
		return models.Trade{}, fmt.Errorf("record missing dissemination identifier")
	}

	entity := rec.String(fieldUnderlyingAsset)
	ticker := n.lookupTicker(entity)

	now := n.Now()

	// The execution timestamp falls back to the wall clock; the maturity
	// date cannot, since tenor and the instrument label derive from it.
	executed, ok := parseTimestamp(rec.String(fieldExecutionTS))
	if !ok {
		executed = now
	}
	maturity, ok := parseDate(rec.String(fieldExpirationDate))
	if !ok {
		return models.Trade{}, fmt.Errorf("record %s: unparsable expiration date %q", key, rec.String(fieldExpirationDate))
	}

	notional := rec.Float(fieldNotionalAmount)
	if notional < 0 {
		notional = 0
	}

	tenor := yearsToMaturity(maturity, now)
	currency := n.universe.Currency

	rating := models.RatingInvestmentGrade
	if ticker == n.universe.HighYieldTicker {
		rating = models.RatingHighYield
	}

	trade := models.Trade{
		DedupKey:        key,
		TradeTime:       executed.Format("15:04:05"),
		TradeDate:       dateOnly(executed),
		MaturityDate:    maturity,
		Instrument:      instrumentLabel(ticker, currency, tenor),
		Price:           decimal.NewFromFloat(rec.Float(fieldPrice)).Round(2),
		NotionalFull:    int64(notional),
		NotionalDisplay: FormatNotional(notional),
		Code:            "TR",
		Tenor:           tenor,
		Currency:        currency,
		PlatformID:      truncate(rec.String(fieldPlatformID), 4),
		RatingCategory:  rating,
		IsHY:            rating == models.RatingHighYield,
		IsIG:            rating == models.RatingInvestmentGrade,
		EntityName:      entity,
		Sector:          "",
	}
	if rec.Has(fieldOtherPayment) {
		other := decimal.NewFromFloat(rec.Float(fieldOtherPayment))
		trade.OtherPayment = &other
	}
	return trade, nil
}

func (n *Normalizer) normalizeAPI(rec models.RawRecord) (models.Trade, error) {
	now := n.Now()

	executed, ok := parseTimestamp(rec.String(apiFieldExecutionTS))
	if !ok {
		executed = now
	}
	// API maturity dates fall back to the wall clock like the timestamps;
	// this surface is tolerant where the slice files are strict.
	maturity, ok := parseDate(rec.String(apiFieldMaturity))
	if !ok {
		maturity = dateOnly(now)
	}

	ticker := rec.String(apiFieldReference)
	if ticker == "" {
		ticker = "UNKNOWN"
	}
	entity := rec.String(apiFieldIssuerName)
	if t, found := n.universe.Entities[entity]; found {
		ticker = t
	}

	currency := rec.String(apiFieldCurrency)
	if currency == "" {
		currency = n.universe.Currency
	}

	notional := rec.Float(apiFieldNotional)
	if notional < 0 {
		notional = 0
	}

	tenor := yearsToMaturity(maturity, now)

	// The rating class is matched for both tags independently; nothing
	// upstream guarantees they are mutually exclusive. The category is only
	// assigned when exactly one tag is present.
	ratingClass := strings.ToUpper(rec.String(apiFieldRatingClass))
	isHY := strings.Contains(ratingClass, "HY")
	isIG := strings.Contains(ratingClass, "IG")
	rating := models.RatingUnknown
	switch {
	case isHY && !isIG:
		rating = models.RatingHighYield
	case isIG && !isHY:
		rating = models.RatingInvestmentGrade
	}

	trade := models.Trade{
		DedupKey:        apiDedupKey(rec),
		TradeTime:       executed.Format("15:04:05"),
		TradeDate:       dateOnly(executed),
		MaturityDate:    maturity,
		Instrument:      instrumentLabel(ticker, currency, tenor),
		Price:           decimal.NewFromFloat(rec.Float(apiFieldPrice)).Round(2),
		NotionalFull:    int64(notional),
		NotionalDisplay: FormatNotional(notional),
		Code:            rec.String(apiFieldTradeType),
		Tenor:           tenor,
		Currency:        currency,
		PlatformID:      truncate(rec.String(apiFieldVenue), 4),
		RatingCategory:  rating,
		IsHY:            isHY,
		IsIG:            isIG,
		EntityName:      entity,
		Sector:          "",
	}
	if rec.Has(apiFieldUpfront) {
		other := decimal.NewFromFloat(rec.Float(apiFieldUpfront))
		trade.OtherPayment = &other
	}
	return trade, nil
}

func (n *Normalizer) lookupTicker(entity string) string {
	if ticker, ok := n.universe.Entities[entity]; ok {
		return ticker
	}
	return truncate(entity, tickerTruncateLen)
}

// apiDedupKey prefers the source's own report identifier; when the response
// carries none, a stable content hash keeps deduplication meaningful.
func apiDedupKey(rec models.RawRecord) string {
	for _, field := range apiKeyFields {
		if v := rec.String(field); v != "" {
			return v
		}
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		rec.String(apiFieldExecutionTS),
		rec.String(apiFieldReference),
		rec.String(apiFieldNotional),
		rec.String(apiFieldPrice),
		rec.String(apiFieldMaturity),
	}, "|")))
	return hex.EncodeToString(sum[:8])
}

// yearsToMaturity computes the whole years between now and the maturity
// date, floored at 1. Near-dated and already-past maturities still label as
// one year; the floor is deliberate.
func yearsToMaturity(maturity, now time.Time) int {
	days := int(maturity.Sub(now).Hours() / 24)
	years := days / 365
	if years < 1 {
		return 1
	}
	return years
}

// FormatNotional renders a notional amount in the display convention used on
// trade tickets: millions to three decimals, thousands to one, small amounts
// verbatim.
func FormatNotional(amount float64) string {
	if amount >= 1e6 {
		return fmt.Sprintf("%.3fM", amount/1e6)
	}
	if amount >= 1e3 {
		return fmt.Sprintf("%.1fK", amount/1e3)
	}
	return strconv.Itoa(int(amount))
}

func instrumentLabel(ticker, currency string, tenor int) string {
	return fmt.Sprintf("%s CDS %s SR %dY", ticker, currency, tenor)
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}
	return time.Time{}, false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
