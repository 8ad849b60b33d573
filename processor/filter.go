package processor

import (
	"cdsflow/config"
	"cdsflow/models"
)

// Column names used by the slice dissemination files.
const (
	fieldDisseminationID  = "Dissemination Identifier"
	fieldAssetClass       = "Asset Class"
	fieldNotionalCurrency = "Notional currency-Leg 1"
	fieldUnderlyingAsset  = "Underlying Asset Name"
	fieldNotionalAmount   = "Notional amount-Leg 1"
	fieldExecutionTS      = "Execution Timestamp"
	fieldExpirationDate   = "Expiration Date"
	fieldPrice            = "Price"
	fieldPlatformID       = "Platform identifier"
	fieldOtherPayment     = "Other payment amount"
)

// EntityFilter decides whether a slice-mode record belongs to the subject
// universe. The API mode carries no equivalent filter: its request parameters
// already narrow the response, an asymmetry inherited from the upstream
// surfaces.
type EntityFilter struct {
	assetClass string
	currency   string
	entities   map[string]string
}

func NewEntityFilter(universe config.UniverseConfig) *EntityFilter {
	return &EntityFilter{
		assetClass: universe.AssetClass,
		currency:   universe.Currency,
		entities:   universe.Entities,
	}
}

// Match reports whether the record's asset class, settlement currency and
// issuer name all fall inside the subject universe.
func (f *EntityFilter) Match(rec models.RawRecord) bool {
	if rec.String(fieldAssetClass) != f.assetClass {
		return false
	}
	if rec.String(fieldNotionalCurrency) != f.currency {
		return false
	}
	_, ok := f.entities[rec.String(fieldUnderlyingAsset)]
	return ok
}
