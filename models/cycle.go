package models

import "time"

// CycleOutcome classifies how one ingestion cycle ended. Expected "no data"
// states are ordinary outcomes, not errors; only OutcomePanic switches the
// loop onto its shorter retry interval.
type CycleOutcome string

const (
	OutcomeSuccess       CycleOutcome = "success"
	OutcomeNoData        CycleOutcome = "no_data"
	OutcomeFetchFailed   CycleOutcome = "fetch_failed"
	OutcomePersistFailed CycleOutcome = "persist_failed"
	OutcomePanic         CycleOutcome = "panic"
)

// CycleResult summarises one fetch-decode-filter-normalize-dedupe-persist pass.
type CycleResult struct {
	CycleID  string
	Outcome  CycleOutcome
	Endpoint string
	Fetched  int // raw records decoded from the payload
	InScope  int // records surviving the entity filter
	Dropped  int // records lost to per-record parse failures
	Admitted int // records passing deduplication
	Stored   int // rows actually inserted by the sink
	Duration time.Duration
	Err      error
}

// Failed reports whether the cycle ended on an error path.
func (r CycleResult) Failed() bool {
	switch r.Outcome {
	case OutcomeFetchFailed, OutcomePersistFailed, OutcomePanic:
		return true
	}
	return false
}
