package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"cdsflow/config"
	"cdsflow/models"
	"cdsflow/processor"
	"cdsflow/source"
	"cdsflow/source/slice"
)

type stubAdapter struct {
	mode    models.Mode
	result  *models.FetchResult
	err     error
	fetches int
}

func (a *stubAdapter) Mode() models.Mode { return a.mode }

func (a *stubAdapter) Fetch(ctx context.Context) (*models.FetchResult, error) {
	a.fetches++
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

type stubStore struct {
	saved []models.Trade
	err   error
}

func (s *stubStore) SaveTrades(ctx context.Context, trades []models.Trade) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.saved = append(s.saved, trades...)
	return len(trades), nil
}

type stubArchiver struct {
	calls int
	err   error
}

func (a *stubArchiver) Archive(ctx context.Context, mode models.Mode, cycleID string, payload []byte) error {
	a.calls++
	return a.err
}

func testUniverse() config.UniverseConfig {
	return config.UniverseConfig{
		AssetClass:      "CR",
		Currency:        "EUR",
		HighYieldTicker: "TITIM",
		Entities: map[string]string{
			"SAP SE":    "SAP",
			"SHELL PLC": "SHEL",
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{
			Mode:     "slice",
			Interval: time.Minute,
			Backoff:  30 * time.Second,
		},
		Universe: testUniverse(),
	}
}

func sliceRecord(id, entity, expiration string) models.RawRecord {
	return models.RawRecord{
		"Dissemination Identifier": id,
		"Asset Class":              "CR",
		"Notional currency-Leg 1":  "EUR",
		"Underlying Asset Name":    entity,
		"Expiration Date":          expiration,
	}
}

func newTestRunner(cfg *config.Config, adapter source.Adapter, store Store, archiver Archiver) *Runner {
	return NewRunner(
		cfg,
		adapter,
		processor.NewEntityFilter(cfg.Universe),
		processor.NewNormalizer(cfg.Universe),
		processor.NewDedup(1000),
		store,
		archiver,
	)
}

func TestRunCycleSuccess(t *testing.T) {
	adapter := &stubAdapter{
		mode: models.ModeSlice,
		result: &models.FetchResult{
			Records: []models.RawRecord{
				sliceRecord("1", "SAP SE", "2031-01-15"),
				sliceRecord("2", "SHELL PLC", "2031-01-15"),
				sliceRecord("3", "GENERAL MOTORS CO", "2031-01-15"),
			},
			Payload:  []byte("raw"),
			Endpoint: "https://example.com/slice.zip",
		},
	}
	store := &stubStore{}
	runner := newTestRunner(testConfig(), adapter, store, nil)

	result := runner.RunCycle(context.Background())

	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success, got %s (err: %v)", result.Outcome, result.Err)
	}
	if result.Fetched != 3 || result.InScope != 2 || result.Admitted != 2 || result.Stored != 2 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if len(store.saved) != 2 {
		t.Errorf("expected 2 trades saved, got %d", len(store.saved))
	}
}

func TestRunCycleDeduplicatesAcrossCycles(t *testing.T) {
	adapter := &stubAdapter{
		mode: models.ModeSlice,
		result: &models.FetchResult{
			Records: []models.RawRecord{
				sliceRecord("1", "SAP SE", "2031-01-15"),
				sliceRecord("2", "SHELL PLC", "2031-01-15"),
			},
		},
	}
	store := &stubStore{}
	runner := newTestRunner(testConfig(), adapter, store, nil)

	first := runner.RunCycle(context.Background())
	if first.Admitted != 2 {
		t.Fatalf("expected 2 admitted on first cycle, got %d", first.Admitted)
	}

	second := runner.RunCycle(context.Background())
	if second.Outcome != models.OutcomeNoData {
		t.Errorf("expected no-data outcome on repeat cycle, got %s", second.Outcome)
	}
	if second.Admitted != 0 {
		t.Errorf("expected 0 admitted on repeat cycle, got %d", second.Admitted)
	}
	if len(store.saved) != 2 {
		t.Errorf("expected repeats to never reach the store, got %d saved", len(store.saved))
	}
}

func TestRunCycleFetchFailure(t *testing.T) {
	adapter := &stubAdapter{mode: models.ModeSlice, err: errors.New("connection refused")}
	store := &stubStore{}
	runner := newTestRunner(testConfig(), adapter, store, nil)

	result := runner.RunCycle(context.Background())

	if result.Outcome != models.OutcomeFetchFailed {
		t.Errorf("expected fetch-failed outcome, got %s", result.Outcome)
	}
	if result.Err == nil {
		t.Error("expected error in result")
	}
	if len(store.saved) != 0 {
		t.Errorf("expected nothing saved, got %d", len(store.saved))
	}
}

func TestRunCyclePersistFailureReleasesKeys(t *testing.T) {
	adapter := &stubAdapter{
		mode: models.ModeSlice,
		result: &models.FetchResult{
			Records: []models.RawRecord{sliceRecord("1", "SAP SE", "2031-01-15")},
		},
	}
	store := &stubStore{err: errors.New("connection reset")}
	runner := newTestRunner(testConfig(), adapter, store, nil)

	first := runner.RunCycle(context.Background())
	if first.Outcome != models.OutcomePersistFailed {
		t.Fatalf("expected persist-failed outcome, got %s", first.Outcome)
	}

	// The sink recovers; the same record must be admitted again.
	store.err = nil
	second := runner.RunCycle(context.Background())
	if second.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success after sink recovery, got %s", second.Outcome)
	}
	if second.Stored != 1 {
		t.Errorf("expected retried record stored, got %d", second.Stored)
	}
}

func TestRunCycleDropsBadRecords(t *testing.T) {
	adapter := &stubAdapter{
		mode: models.ModeSlice,
		result: &models.FetchResult{
			Records: []models.RawRecord{
				sliceRecord("1", "SAP SE", "2031-01-15"),
				sliceRecord("2", "SAP SE", "garbage"),
			},
		},
	}
	store := &stubStore{}
	runner := newTestRunner(testConfig(), adapter, store, nil)

	result := runner.RunCycle(context.Background())
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success, got %s", result.Outcome)
	}
	if result.Dropped != 1 || result.Admitted != 1 {
		t.Errorf("expected 1 dropped and 1 admitted, got %+v", result)
	}
}

func TestRunCycleAPIModeSkipsFilter(t *testing.T) {
	adapter := &stubAdapter{
		mode: models.ModeAPI,
		result: &models.FetchResult{
			Records: []models.RawRecord{
				{"tradeId": "a1", "referenceEntity": "SAP"},
				{"tradeId": "a2", "referenceEntity": "ANYTHING"},
			},
		},
	}
	store := &stubStore{}
	runner := newTestRunner(testConfig(), adapter, store, nil)

	result := runner.RunCycle(context.Background())
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success, got %s", result.Outcome)
	}
	if result.InScope != 2 || result.Admitted != 2 {
		t.Errorf("expected all api records in scope, got %+v", result)
	}
}

func TestRunCycleArchiverFailureIsNonFatal(t *testing.T) {
	adapter := &stubAdapter{
		mode: models.ModeSlice,
		result: &models.FetchResult{
			Records: []models.RawRecord{sliceRecord("1", "SAP SE", "2031-01-15")},
			Payload: []byte("raw"),
		},
	}
	store := &stubStore{}
	archiver := &stubArchiver{err: errors.New("bucket unreachable")}
	runner := newTestRunner(testConfig(), adapter, store, archiver)

	result := runner.RunCycle(context.Background())
	if result.Outcome != models.OutcomeSuccess {
		t.Errorf("expected archival failure to be absorbed, got %s", result.Outcome)
	}
	if archiver.calls != 1 {
		t.Errorf("expected one archive attempt, got %d", archiver.calls)
	}
	if len(store.saved) != 1 {
		t.Errorf("expected trade saved despite archive failure, got %d", len(store.saved))
	}
}

func TestEndToEndSliceScenario(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("CFTC_SLICE_CREDITS_2026_01_15.csv")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"Dissemination Identifier", "Asset Class", "Notional currency-Leg 1", "Underlying Asset Name", "Notional amount-Leg 1", "Execution Timestamp", "Expiration Date", "Price", "Platform identifier"},
		{"555000111", "CR", "EUR", "SAP SE", "5000000", "2026-01-15T09:30:00Z", "2029-01-20", "1.2345", "XOFF"},
	}
	if err := cw.WriteAll(rows); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	records, err := slice.DecodeArchive(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeArchive failed: %v", err)
	}

	cfg := testConfig()
	norm := processor.NewNormalizer(cfg.Universe)
	norm.Now = func() time.Time {
		return time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	}
	adapter := &stubAdapter{mode: models.ModeSlice, result: &models.FetchResult{Records: records}}
	store := &stubStore{}
	runner := NewRunner(
		cfg,
		adapter,
		processor.NewEntityFilter(cfg.Universe),
		norm,
		processor.NewDedup(1000),
		store,
		nil,
	)

	result := runner.RunCycle(context.Background())
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success, got %s (err: %v)", result.Outcome, result.Err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected 1 trade stored, got %d", len(store.saved))
	}

	trade := store.saved[0]
	if !strings.HasPrefix(trade.Instrument, "SAP CDS EUR SR 3Y") {
		t.Errorf("unexpected instrument %q", trade.Instrument)
	}
	if got := trade.Price.String(); got != "1.23" {
		t.Errorf("expected price 1.23, got %s", got)
	}
	if trade.NotionalDisplay != "5.000M" {
		t.Errorf("expected notional display 5.000M, got %s", trade.NotionalDisplay)
	}
	if trade.RatingCategory != models.RatingInvestmentGrade {
		t.Errorf("expected INVESTMENT_GRADE, got %s", trade.RatingCategory)
	}
}

func TestRunCycleRecoversFromPanic(t *testing.T) {
	adapter := &panicAdapter{}
	store := &stubStore{}
	runner := newTestRunner(testConfig(), adapter, store, nil)

	result := runner.RunCycle(context.Background())
	if result.Outcome != models.OutcomePanic {
		t.Errorf("expected panic outcome, got %s", result.Outcome)
	}
	if result.Err == nil {
		t.Error("expected error describing the panic")
	}
}

type panicAdapter struct{}

func (a *panicAdapter) Mode() models.Mode { return models.ModeSlice }

func (a *panicAdapter) Fetch(ctx context.Context) (*models.FetchResult, error) {
	panic("unexpected state")
}

func TestStartTwice(t *testing.T) {
	adapter := &stubAdapter{mode: models.ModeSlice, result: &models.FetchResult{}}
	runner := newTestRunner(testConfig(), adapter, &stubStore{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := runner.Start(ctx); err == nil {
		t.Error("expected second Start to fail")
	}

	// Give the loop a moment to run its immediate first cycle.
	time.Sleep(50 * time.Millisecond)
	cancel()
	runner.Stop()

	if adapter.fetches == 0 {
		t.Error("expected at least one cycle to have run")
	}
}
