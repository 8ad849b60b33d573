package processor

import (
	"testing"

	"cdsflow/models"
)

func TestEntityFilterMatch(t *testing.T) {
	f := NewEntityFilter(testUniverse())

	cases := []struct {
		name string
		rec  models.RawRecord
		want bool
	}{
		{
			"in universe",
			models.RawRecord{
				"Asset Class":             "CR",
				"Notional currency-Leg 1": "EUR",
				"Underlying Asset Name":   "SAP SE",
			},
			true,
		},
		{
			"wrong asset class",
			models.RawRecord{
				"Asset Class":             "IR",
				"Notional currency-Leg 1": "EUR",
				"Underlying Asset Name":   "SAP SE",
			},
			false,
		},
		{
			"wrong currency",
			models.RawRecord{
				"Asset Class":             "CR",
				"Notional currency-Leg 1": "USD",
				"Underlying Asset Name":   "SAP SE",
			},
			false,
		},
		{
			"unknown issuer",
			models.RawRecord{
				"Asset Class":             "CR",
				"Notional currency-Leg 1": "EUR",
				"Underlying Asset Name":   "GENERAL MOTORS CO",
			},
			false,
		},
		{
			"empty record",
			models.RawRecord{},
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.Match(tc.rec); got != tc.want {
				t.Errorf("Match = %v, want %v", got, tc.want)
			}
		})
	}
}
