package processor

import (
	"testing"
	"time"

	"cdsflow/config"
	"cdsflow/models"
)

func testUniverse() config.UniverseConfig {
	return config.UniverseConfig{
		AssetClass:      "CR",
		Currency:        "EUR",
		HighYieldTicker: "TITIM",
		Entities: map[string]string{
			"SAP SE":             "SAP",
			"TELECOM ITALIA SPA": "TITIM",
			"SHELL PLC":          "SHEL",
		},
	}
}

func pinnedNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n := NewNormalizer(testUniverse())
	n.Now = func() time.Time {
		return time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	}
	return n
}

func TestNormalizeSlice(t *testing.T) {
	n := pinnedNormalizer(t)

	rec := models.RawRecord{
		"Dissemination Identifier": "900100200",
		"Asset Class":              "CR",
		"Notional currency-Leg 1":  "EUR",
		"Underlying Asset Name":    "SAP SE",
		"Notional amount-Leg 1":    "5,000,000",
		"Execution Timestamp":      "2026-01-15T09:30:00Z",
		"Expiration Date":          "2029-01-20",
		"Price":                    "1.2345",
		"Platform identifier":      "XOFFABC",
	}

	trade, err := n.Normalize(models.ModeSlice, rec)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if trade.DedupKey != "900100200" {
		t.Errorf("expected dedup key 900100200, got %s", trade.DedupKey)
	}
	if trade.Instrument != "SAP CDS EUR SR 3Y" {
		t.Errorf("expected instrument 'SAP CDS EUR SR 3Y', got %q", trade.Instrument)
	}
	if trade.Tenor != 3 {
		t.Errorf("expected tenor 3, got %d", trade.Tenor)
	}
	if got := trade.Price.String(); got != "1.23" {
		t.Errorf("expected price 1.23, got %s", got)
	}
	if trade.NotionalFull != 5000000 {
		t.Errorf("expected notional 5000000, got %d", trade.NotionalFull)
	}
	if trade.NotionalDisplay != "5.000M" {
		t.Errorf("expected notional display 5.000M, got %s", trade.NotionalDisplay)
	}
	if trade.Code != "TR" {
		t.Errorf("expected code TR, got %s", trade.Code)
	}
	if trade.PlatformID != "XOFF" {
		t.Errorf("expected platform XOFF, got %s", trade.PlatformID)
	}
	if trade.TradeTime != "09:30:00" {
		t.Errorf("expected trade time 09:30:00, got %s", trade.TradeTime)
	}
	if trade.RatingCategory != models.RatingInvestmentGrade {
		t.Errorf("expected INVESTMENT_GRADE, got %s", trade.RatingCategory)
	}
	if trade.IsHY || !trade.IsIG {
		t.Errorf("expected IG flags, got hy=%v ig=%v", trade.IsHY, trade.IsIG)
	}
	if trade.OtherPayment != nil {
		t.Errorf("expected no other payment, got %v", trade.OtherPayment)
	}
}

func TestNormalizeSliceHighYieldTicker(t *testing.T) {
	n := pinnedNormalizer(t)

	rec := models.RawRecord{
		"Dissemination Identifier": "900100201",
		"Underlying Asset Name":    "TELECOM ITALIA SPA",
		"Expiration Date":          "2031-01-15",
		"Notional amount-Leg 1":    "2500000",
	}

	trade, err := n.Normalize(models.ModeSlice, rec)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if trade.RatingCategory != models.RatingHighYield {
		t.Errorf("expected HIGH_YIELD, got %s", trade.RatingCategory)
	}
	if !trade.IsHY || trade.IsIG {
		t.Errorf("expected HY flags, got hy=%v ig=%v", trade.IsHY, trade.IsIG)
	}
	if trade.NotionalDisplay != "2.500M" {
		t.Errorf("expected 2.500M, got %s", trade.NotionalDisplay)
	}
}

func TestNormalizeSliceUnknownEntityTruncated(t *testing.T) {
	n := pinnedNormalizer(t)

	rec := models.RawRecord{
		"Dissemination Identifier": "900100202",
		"Underlying Asset Name":    "CARREFOUR SA",
		"Expiration Date":          "2031-06-20",
	}

	trade, err := n.Normalize(models.ModeSlice, rec)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if trade.Instrument != "CARREF CDS EUR SR 5Y" {
		t.Errorf("unexpected instrument %q", trade.Instrument)
	}
}

func TestNormalizeSliceDropsOnBadDates(t *testing.T) {
	n := pinnedNormalizer(t)

	if _, err := n.Normalize(models.ModeSlice, models.RawRecord{
		"Underlying Asset Name": "SAP SE",
		"Expiration Date":       "2031-01-15",
	}); err == nil {
		t.Error("expected error for missing dissemination identifier")
	}

	if _, err := n.Normalize(models.ModeSlice, models.RawRecord{
		"Dissemination Identifier": "900100203",
		"Underlying Asset Name":    "SAP SE",
		"Expiration Date":          "not a date",
	}); err == nil {
		t.Error("expected error for unparsable expiration date")
	}
}

func TestNormalizeSliceBatchPartialFailure(t *testing.T) {
	n := pinnedNormalizer(t)

	recs := []models.RawRecord{
		{"Dissemination Identifier": "1", "Underlying Asset Name": "SAP SE", "Expiration Date": "2030-01-01"},
		{"Dissemination Identifier": "2", "Underlying Asset Name": "SHELL PLC", "Expiration Date": "2030-01-01"},
		{"Dissemination Identifier": "3", "Underlying Asset Name": "SAP SE", "Expiration Date": "garbage"},
		{"Dissemination Identifier": "4", "Underlying Asset Name": "SAP SE", "Expiration Date": "2030-01-01"},
		{"Dissemination Identifier": "5", "Underlying Asset Name": "SHELL PLC", "Expiration Date": "2030-01-01"},
	}

	var trades []models.Trade
	for _, rec := range recs {
		trade, err := n.Normalize(models.ModeSlice, rec)
		if err != nil {
			continue
		}
		trades = append(trades, trade)
	}
	if len(trades) != 4 {
		t.Errorf("expected 4 trades from 5 records, got %d", len(trades))
	}
}

func TestNormalizeSliceTimestampFallback(t *testing.T) {
	n := pinnedNormalizer(t)

	rec := models.RawRecord{
		"Dissemination Identifier": "900100204",
		"Underlying Asset Name":    "SAP SE",
		"Execution Timestamp":      "yesterday-ish",
		"Expiration Date":          "2030-01-01",
	}

	trade, err := n.Normalize(models.ModeSlice, rec)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if trade.TradeTime != "00:00:00" {
		t.Errorf("expected fallback to pinned clock, got %s", trade.TradeTime)
	}
	if !trade.TradeDate.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected pinned trade date, got %v", trade.TradeDate)
	}
}

func TestNormalizeAPI(t *testing.T) {
	n := pinnedNormalizer(t)

	rec := models.RawRecord{
		"disseminationIdentifier": "API-77",
		"executionTimestamp":      "2026-01-15T11:45:30Z",
		"referenceEntity":         "SHEL",
		"price":                   1.875,
		"notionalAmount":          45000.0,
		"maturityDate":            "2031-01-15",
		"currency":                "EUR",
		"tradeType":               "NEWT",
		"executionVenue":          "BLOOMBERG",
		"ratingClass":             "IG",
	}

	trade, err := n.Normalize(models.ModeAPI, rec)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if trade.DedupKey != "API-77" {
		t.Errorf("expected dedup key API-77, got %s", trade.DedupKey)
	}
	if trade.Instrument != "SHEL CDS EUR SR 5Y" {
		t.Errorf("unexpected instrument %q", trade.Instrument)
	}
	if trade.Code != "NEWT" {
		t.Errorf("expected code NEWT, got %s", trade.Code)
	}
	if trade.PlatformID != "BLOO" {
		t.Errorf("expected platform BLOO, got %s", trade.PlatformID)
	}
	if trade.NotionalDisplay != "45.0K" {
		t.Errorf("expected 45.0K, got %s", trade.NotionalDisplay)
	}
	if trade.RatingCategory != models.RatingInvestmentGrade {
		t.Errorf("expected INVESTMENT_GRADE, got %s", trade.RatingCategory)
	}
}

func TestNormalizeAPIRatingFlags(t *testing.T) {
	n := pinnedNormalizer(t)

	cases := []struct {
		name   string
		rating string
		isHY   bool
		isIG   bool
		want   models.RatingCategory
	}{
		{"high yield", "HY", true, false, models.RatingHighYield},
		{"investment grade", "ig", false, true, models.RatingInvestmentGrade},
		{"both tags", "HY/IG crossover", true, true, models.RatingUnknown},
		{"neither", "NR", false, false, models.RatingUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trade, err := n.Normalize(models.ModeAPI, models.RawRecord{
				"tradeId":     "r-" + tc.name,
				"ratingClass": tc.rating,
			})
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if trade.IsHY != tc.isHY || trade.IsIG != tc.isIG {
				t.Errorf("flags hy=%v ig=%v, want hy=%v ig=%v", trade.IsHY, trade.IsIG, tc.isHY, tc.isIG)
			}
			if trade.RatingCategory != tc.want {
				t.Errorf("category %s, want %s", trade.RatingCategory, tc.want)
			}
		})
	}
}

func TestNormalizeAPIFallbacks(t *testing.T) {
	n := pinnedNormalizer(t)

	trade, err := n.Normalize(models.ModeAPI, models.RawRecord{
		"executionTimestamp": "bogus",
		"maturityDate":       "also bogus",
		"notionalAmount":     "1,000,000",
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if trade.Tenor != 1 {
		t.Errorf("expected tenor floor 1 on wall-clock maturity, got %d", trade.Tenor)
	}
	if trade.Currency != "EUR" {
		t.Errorf("expected configured currency fallback, got %s", trade.Currency)
	}
	if trade.Instrument != "UNKNOWN CDS EUR SR 1Y" {
		t.Errorf("unexpected instrument %q", trade.Instrument)
	}
	if trade.DedupKey == "" {
		t.Error("expected content-hash dedup key, got empty")
	}
	if trade.NotionalDisplay != "1.000M" {
		t.Errorf("expected 1.000M, got %s", trade.NotionalDisplay)
	}
}

func TestAPIDedupKeyStable(t *testing.T) {
	rec := models.RawRecord{
		"executionTimestamp": "2026-01-15T11:45:30Z",
		"referenceEntity":    "SAP",
		"notionalAmount":     1000000.0,
		"price":              1.5,
		"maturityDate":       "2031-01-15",
	}
	a := apiDedupKey(rec)
	b := apiDedupKey(rec)
	if a != b {
		t.Errorf("content hash not stable: %s vs %s", a, b)
	}

	rec["price"] = 1.6
	if apiDedupKey(rec) == a {
		t.Error("content hash unchanged after field change")
	}
}

func TestYearsToMaturity(t *testing.T) {
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		maturity time.Time
		want     int
	}{
		{"five years out", time.Date(2031, 1, 20, 0, 0, 0, 0, time.UTC), 5},
		{"just under a year", time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), 1},
		{"already matured", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 1},
		{"same day", now, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := yearsToMaturity(tc.maturity, now); got != tc.want {
				t.Errorf("yearsToMaturity(%v) = %d, want %d", tc.maturity, got, tc.want)
			}
		})
	}
}

func TestFormatNotional(t *testing.T) {
	cases := []struct {
		amount float64
		want   string
	}{
		{2500000, "2.500M"},
		{1000000, "1.000M"},
		{45000, "45.0K"},
		{1000, "1.0K"},
		{900, "900"},
		{0, "0"},
	}

	for _, tc := range cases {
		if got := FormatNotional(tc.amount); got != tc.want {
			t.Errorf("FormatNotional(%v) = %q, want %q", tc.amount, got, tc.want)
		}
	}
}

func TestParseDateFormats(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2031-01-15", time.Date(2031, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"2031-01-15T00:00:00Z", time.Date(2031, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"15/06/2031", time.Date(2031, 6, 15, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"junk", time.Time{}, false},
	}

	for _, tc := range cases {
		got, ok := parseDate(tc.in)
		if ok != tc.ok {
			t.Errorf("parseDate(%q) ok=%v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(tc.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
