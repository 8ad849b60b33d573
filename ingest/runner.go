package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "cdsflow/config"
	"cdsflow/logger"
	"cdsflow/models"
	"cdsflow/processor"
	"cdsflow/source"
)

// Store is the persistence sink consumed by the runner. Implementations must
// treat a duplicate dedup_key as a no-op and report only rows actually
// inserted.
type Store interface {
	SaveTrades(ctx context.Context, trades []models.Trade) (int, error)
}

// Archiver receives each cycle's raw payload. Optional; archival failures
// never fail a cycle.
type Archiver interface {
	Archive(ctx context.Context, mode models.Mode, cycleID string, payload []byte) error
}

// Runner drives the ingestion loop: one fetch-decode-filter-normalize-dedupe-
// persist cycle at a time, forever, on a fixed cadence. A cycle that fails is
// absorbed and logged; only an unexpected failure switches the next sleep to
// the shorter backoff interval.
type Runner struct {
	config   *appconfig.Config
	adapter  source.Adapter
	filter   *processor.EntityFilter
	norm     *processor.Normalizer
	dedup    *processor.Dedup
	store    Store
	archiver Archiver
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Metrics
	cyclesCompleted int64
	cyclesFailed    int64
	recordsFetched  int64
	recordsDropped  int64
	tradesAdmitted  int64
	tradesStored    int64
}

func NewRunner(cfg *appconfig.Config, adapter source.Adapter, filter *processor.EntityFilter, norm *processor.Normalizer, dedup *processor.Dedup, store Store, archiver Archiver) *Runner {
	return &Runner{
		config:   cfg,
		adapter:  adapter,
		filter:   filter,
		norm:     norm,
		dedup:    dedup,
		store:    store,
		archiver: archiver,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start launches the ingestion loop. It returns an error when the runner is
// already running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("ingest_runner")
	log.WithFields(logger.Fields{
		"mode":     string(r.adapter.Mode()),
		"interval": r.config.Ingest.Interval.String(),
		"backoff":  r.config.Ingest.Backoff.String(),
	}).Info("starting ingestion loop")

	r.wg.Add(1)
	go r.loop()

	go r.metricsReporter(ctx)

	return nil
}

// Stop waits for the loop to finish. Cancellation is cooperative: a cycle in
// flight runs to completion and the stop takes effect at the sleep boundary.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("ingest_runner").Info("stopping ingestion loop")
	r.wg.Wait()
	r.log.WithComponent("ingest_runner").Info("ingestion loop stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	log := r.log.WithComponent("ingest_runner")
	timer := time.NewTimer(0) // first cycle runs immediately
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("loop stopped due to context cancellation")
			return
		case <-timer.C:
			result := r.RunCycle(r.ctx)
			r.recordResult(result)

			delay := r.config.Ingest.Interval
			if result.Outcome == models.OutcomePanic {
				// Faster retry after failures nothing anticipated.
				delay = r.config.Ingest.Backoff
			}
			timer.Reset(delay)
		}
	}
}

// RunCycle executes one full ingestion pass and reports how it went. All
// failure modes are folded into the result; the method never panics outward.
func (r *Runner) RunCycle(ctx context.Context) (result models.CycleResult) {
	cycleID := uuid.New().String()
	start := time.Now()
	result = models.CycleResult{CycleID: cycleID}

	log := r.log.WithComponent("ingest_runner").WithFields(logger.Fields{"cycle_id": cycleID})

	defer func() {
		if rec := recover(); rec != nil {
			result.Outcome = models.OutcomePanic
			result.Err = fmt.Errorf("cycle panic: %v", rec)
			result.Duration = time.Since(start)
			log.WithFields(logger.Fields{"panic": fmt.Sprint(rec)}).Error("cycle failed unexpectedly")
		}
	}()

	log.Info("starting ingestion cycle")

	fetched, err := r.adapter.Fetch(ctx)
	if err != nil {
		result.Outcome = models.OutcomeFetchFailed
		result.Err = err
		result.Duration = time.Since(start)
		log.WithError(err).Warn("fetch failed, zero trades this cycle")
		return result
	}

	result.Endpoint = fetched.Endpoint
	result.Fetched = len(fetched.Records)

	// Raw payload archival is best effort and independent of the pipeline.
	if r.archiver != nil && len(fetched.Payload) > 0 {
		if err := r.archiver.Archive(ctx, r.adapter.Mode(), cycleID, fetched.Payload); err != nil {
			log.WithError(err).Warn("failed to archive raw payload")
		}
	}

	inScope := fetched.Records
	if r.adapter.Mode() == models.ModeSlice {
		// The API surface is pre-filtered by its request parameters; only
		// slice records pass through the entity filter.
		inScope = inScope[:0:0]
		for _, rec := range fetched.Records {
			if r.filter.Match(rec) {
				inScope = append(inScope, rec)
			}
		}
	}
	result.InScope = len(inScope)

	var admitted []models.Trade
	var admittedKeys []string
	for _, rec := range inScope {
		trade, err := r.norm.Normalize(r.adapter.Mode(), rec)
		if err != nil {
			result.Dropped++
			log.WithError(err).Debug("dropping unparsable record")
			continue
		}
		if !r.dedup.Observe(trade.DedupKey) {
			continue
		}
		admitted = append(admitted, trade)
		admittedKeys = append(admittedKeys, trade.DedupKey)
	}
	result.Admitted = len(admitted)

	if len(admitted) == 0 {
		result.Outcome = models.OutcomeNoData
		result.Duration = time.Since(start)
		log.WithFields(logger.Fields{
			"fetched":  result.Fetched,
			"in_scope": result.InScope,
			"dropped":  result.Dropped,
		}).Info("no new trades this cycle")
		return result
	}

	stored, err := r.store.SaveTrades(ctx, admitted)
	result.Stored = stored
	if err != nil {
		// The unwritten keys are released so the next cycle can retry them;
		// the sink's unique index keeps any partial overlap harmless.
		r.dedup.Forget(admittedKeys)
		result.Outcome = models.OutcomePersistFailed
		result.Err = err
		result.Duration = time.Since(start)
		log.WithError(err).Error("persist failed, batch will be retried next cycle")
		return result
	}

	logger.IncrementTradesStored(stored)

	result.Outcome = models.OutcomeSuccess
	result.Duration = time.Since(start)
	log.WithFields(logger.Fields{
		"fetched":     result.Fetched,
		"in_scope":    result.InScope,
		"dropped":     result.Dropped,
		"admitted":    result.Admitted,
		"stored":      result.Stored,
		"endpoint":    result.Endpoint,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("cycle complete")
	logger.LogDataFlowEntry(log, string(r.adapter.Mode()), "postgres", stored, "trades")

	return result
}

func (r *Runner) recordResult(result models.CycleResult) {
	r.mu.Lock()
	r.cyclesCompleted++
	if result.Failed() {
		r.cyclesFailed++
	}
	r.recordsFetched += int64(result.Fetched)
	r.recordsDropped += int64(result.Dropped)
	r.tradesAdmitted += int64(result.Admitted)
	r.tradesStored += int64(result.Stored)
	r.mu.Unlock()
}

func (r *Runner) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reportMetrics()
		}
	}
}

func (r *Runner) reportMetrics() {
	r.mu.RLock()
	cyclesCompleted := r.cyclesCompleted
	cyclesFailed := r.cyclesFailed
	recordsFetched := r.recordsFetched
	recordsDropped := r.recordsDropped
	tradesAdmitted := r.tradesAdmitted
	tradesStored := r.tradesStored
	dedupSize := r.dedup.Len()
	r.mu.RUnlock()

	r.log.LogMetric("ingest_runner", "cycles_completed", cyclesCompleted, "counter", logger.Fields{})
	r.log.LogMetric("ingest_runner", "cycle_failures", cyclesFailed, "counter", logger.Fields{})
	r.log.LogMetric("ingest_runner", "records_fetched", recordsFetched, "counter", logger.Fields{})
	r.log.LogMetric("ingest_runner", "records_dropped", recordsDropped, "counter", logger.Fields{})
	r.log.LogMetric("ingest_runner", "trades_admitted", tradesAdmitted, "counter", logger.Fields{})
	r.log.LogMetric("ingest_runner", "trades_stored", tradesStored, "counter", logger.Fields{})
	r.log.LogMetric("ingest_runner", "dedup_keys", dedupSize, "gauge", logger.Fields{})

	r.log.WithComponent("ingest_runner").WithFields(logger.Fields{
		"cycles_completed": cyclesCompleted,
		"cycle_failures":   cyclesFailed,
		"records_fetched":  recordsFetched,
		"records_dropped":  recordsDropped,
		"trades_admitted":  tradesAdmitted,
		"trades_stored":    tradesStored,
		"dedup_keys":       dedupSize,
	}).Info("runner metrics")
}
