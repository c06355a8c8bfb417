package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Strategy names how a reconciliation read obtained its records.
type Strategy string

const (
	StrategyAggregate     Strategy = "aggregate"
	StrategyIndexedEvents Strategy = "indexed_events"
	StrategyRawLogs       Strategy = "raw_logs"
	StrategyNone          Strategy = "none"
)

type SkippedRecord struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type StrategyAttempt struct {
	Strategy Strategy `json:"strategy"`
	Count    int      `json:"count"`
	Error    string   `json:"error,omitempty"`
}

type ReconcileResult struct {
	Kind         ledger.EntityKind `json:"kind"`
	Strategy     Strategy          `json:"strategy"`
	Records      []ledger.Record   `json:"records"`
	Skipped      []SkippedRecord   `json:"skipped,omitempty"`
	Attempts     []StrategyAttempt `json:"attempts"`
	FromBlock    uint64            `json:"from_block"`
	LastBlock    uint64            `json:"last_block"`
	RunId        uint              `json:"run_id,omitempty"`
	SinkLocation string            `json:"sink_location,omitempty"`
}

func (r *ReconcileResult) attempt(s Strategy, n int, err error) {
	a := StrategyAttempt{Strategy: s, Count: n}
	if err != nil {
		a.Error = err.Error()
	}
	r.Attempts = append(r.Attempts, a)
}

// IDs returns the record ids in result order.
func (r *ReconcileResult) IDs() []string {
	out := make([]string, 0, len(r.Records))
	for _, rec := range r.Records {
		out = append(out, rec.RecordID())
	}
	return out
}

// Reader rebuilds entity sets from the ledger. Reads never modify the ledger.
type Reader struct {
	db         *gorm.DB
	client     ledger.Client
	sink       SnapshotSink
	notifier   Notifier
	metrics    *Metrics
	logger     *logrus.Logger
	signatures map[string]string
	snapshots  bool
}

type ReaderOption func(*Reader)

func WithSink(s SnapshotSink) ReaderOption {
	return func(r *Reader) { r.sink = s }
}

func WithReaderNotifier(n Notifier) ReaderOption {
	return func(r *Reader) { r.notifier = n }
}

func WithReaderMetrics(m *Metrics) ReaderOption {
	return func(r *Reader) { r.metrics = m }
}

func WithReaderLogger(l *logrus.Logger) ReaderOption {
	return func(r *Reader) { r.logger = l }
}

// WithRawSignatures overrides event signatures for the raw log scan, keyed by kind.
func WithRawSignatures(sigs map[string]string) ReaderOption {
	return func(r *Reader) { r.signatures = sigs }
}

// WithSnapshots toggles the ledger_snapshots row written after each full read.
func WithSnapshots(on bool) ReaderOption {
	return func(r *Reader) { r.snapshots = on }
}

func NewReader(db *gorm.DB, client ledger.Client, opts ...ReaderOption) *Reader {
	r := &Reader{
		db:        db,
		client:    client,
		logger:    config.GetLogger(),
		snapshots: config.SnapshotOnReconcile(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.signatures == nil {
		r.signatures = map[string]string{}
	}
	return r
}

// ListAll reads every entity of kind. Strategies are tried in order: aggregate
// accessor, indexed event scan, raw log scan by topic. A strategy that errors
// or finds nothing hands over to the next. Event-based results are deduplicated
// by id, keeping the first occurrence in (block, log index) order, and each id
// is resolved by a point lookup; failed lookups are skipped and reported.
func (r *Reader) ListAll(ctx context.Context, kind ledger.EntityKind, fromBlock uint64) (*ReconcileResult, error) {
	if _, ok := kind.Spec(); !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ledger.ErrUnsupported, kind)
	}
	res := &ReconcileResult{Kind: kind, Strategy: StrategyNone, FromBlock: fromBlock, Records: []ledger.Record{}}
	logger := r.logger.WithField("kind", kind)

	var errs []error
	answered := false

	recs, err := r.client.GetAggregate(ctx, kind)
	res.attempt(StrategyAggregate, len(recs), err)
	if err == nil {
		answered = true
		if len(recs) > 0 {
			res.Strategy = StrategyAggregate
			res.Records = dedupeRecords(recs)
			return res, nil
		}
	} else {
		errs = append(errs, err)
		logger.WithError(err).Debug("aggregate read unavailable, falling back to events")
	}

	events, err := r.client.ScanEvents(ctx, kind, fromBlock)
	res.attempt(StrategyIndexedEvents, len(events), err)
	if err == nil {
		answered = true
		if len(events) > 0 {
			res.Strategy = StrategyIndexedEvents
			return res, r.resolve(ctx, res, events)
		}
	} else {
		errs = append(errs, err)
		logger.WithError(err).Debug("indexed event scan unavailable, falling back to raw logs")
	}

	topic := ledger.TopicFor(kind, r.signatures[string(kind)])
	events, err = r.client.ScanRawLogs(ctx, kind, fromBlock, topic)
	res.attempt(StrategyRawLogs, len(events), err)
	if err == nil {
		answered = true
		if len(events) > 0 {
			res.Strategy = StrategyRawLogs
			return res, r.resolve(ctx, res, events)
		}
	} else {
		errs = append(errs, err)
	}

	if !answered {
		return nil, fmt.Errorf("%w: reconcile %s: %w", models.ErrConnection, kind, errors.Join(errs...))
	}
	return res, nil
}

func dedupeRecords(recs []ledger.Record) []ledger.Record {
	seen := make(map[string]bool, len(recs))
	out := make([]ledger.Record, 0, len(recs))
	for _, rec := range recs {
		if rec == nil || seen[rec.RecordID()] {
			continue
		}
		seen[rec.RecordID()] = true
		out = append(out, rec)
	}
	return out
}

func (r *Reader) resolve(ctx context.Context, res *ReconcileResult, events []ledger.Event) error {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })

	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		if ev.BlockNumber > res.LastBlock {
			res.LastBlock = ev.BlockNumber
		}
		if ev.ID == "" || seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true

		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.client.GetByID(ctx, res.Kind, ev.ID)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedRecord{ID: ev.ID, Stage: "lookup", Error: err.Error()})
			r.logger.WithFields(logrus.Fields{
				"kind":  res.Kind,
				"id":    ev.ID,
				"block": ev.BlockNumber,
				"tx":    ev.TxHash,
			}).WithError(err).Warn("ledger lookup failed, skipping record")
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return nil
}

type ReconcileOptions struct {
	FromBlock uint64
	// Resume starts after the stored checkpoint instead of FromBlock.
	Resume      bool
	TriggeredBy string
}

// Reconcile runs ListAll and records the run, the checkpoint and, for a full
// read, the advisory snapshot and sink export.
func (r *Reader) Reconcile(ctx context.Context, kind ledger.EntityKind, opts ReconcileOptions) (*ReconcileResult, error) {
	if r.db == nil {
		return r.ListAll(ctx, kind, opts.FromBlock)
	}
	from := opts.FromBlock
	if opts.Resume {
		cp, err := models.GetReconciliationCheckpoint(ctx, r.db, string(kind))
		if err != nil {
			return nil, err
		}
		if cp > 0 {
			from = cp + 1
		}
	}
	triggered := opts.TriggeredBy
	if triggered == "" {
		triggered = models.RunTriggeredManual
	}

	run, err := models.StartReconciliationRun(ctx, r.db, string(kind), from, triggered)
	if err != nil {
		return nil, err
	}
	logger := r.logger.WithFields(logrus.Fields{"kind": kind, "run_id": run.ID, "from_block": from})

	res, listErr := r.ListAll(ctx, kind, from)
	if listErr != nil {
		run.Status = models.RunStatusFailed
		runErrs := []models.ReconciliationRunError{{Kind: string(kind), Stage: "list", Message: listErr.Error()}}
		if err := models.FinishReconciliationRun(context.WithoutCancel(ctx), r.db, run, runErrs); err != nil {
			config.LogError(r.logger, "reconciliationWorkflow.go", "Reconcile", "Finishing failed run", run.ID, err)
		}
		r.metrics.reconciled(string(kind), string(StrategyNone), run.Status, 0, 0)
		return nil, listErr
	}

	res.RunId = run.ID
	run.Strategy = string(res.Strategy)
	run.RecordsFound = len(res.Records)
	run.ToBlock = res.LastBlock
	run.Status = models.RunStatusSuccess
	var runErrs []models.ReconciliationRunError
	for _, s := range res.Skipped {
		runErrs = append(runErrs, models.ReconciliationRunError{Kind: string(kind), EntityId: s.ID, Stage: s.Stage, Message: s.Error})
	}
	if len(runErrs) > 0 {
		run.Status = models.RunStatusPartial
	}
	if err := models.FinishReconciliationRun(ctx, r.db, run, runErrs); err != nil {
		return nil, err
	}
	if res.LastBlock > 0 {
		if err := models.SaveReconciliationCheckpoint(ctx, r.db, string(kind), res.LastBlock); err != nil {
			return nil, err
		}
	}

	// an incremental replay only holds new ids, so it must not replace a full snapshot
	full := from == 0 || res.Strategy == StrategyAggregate
	if full {
		r.persistSnapshot(ctx, run, res)
	}

	r.metrics.reconciled(string(kind), string(res.Strategy), run.Status, len(res.Records), len(res.Skipped))
	logger.WithFields(logrus.Fields{
		"strategy": res.Strategy,
		"records":  len(res.Records),
		"skipped":  len(res.Skipped),
		"to_block": res.LastBlock,
	}).Info("reconciliation read finished")
	return res, nil
}

func (r *Reader) persistSnapshot(ctx context.Context, run *models.ReconciliationRun, res *ReconcileResult) {
	snap := Snapshot{
		Kind:       res.Kind,
		Strategy:   res.Strategy,
		CapturedAt: time.Now().UTC(),
		Count:      len(res.Records),
		Records:    res.Records,
	}
	if r.snapshots {
		payload, err := utils.MarshalToJSON(res.Records)
		if err == nil {
			err = models.SaveLedgerSnapshot(ctx, r.db, &models.LedgerSnapshot{
				Kind:        string(res.Kind),
				RunId:       &run.ID,
				Strategy:    string(res.Strategy),
				RecordCount: len(res.Records),
				PayloadJSON: payload,
				CapturedAt:  snap.CapturedAt,
			})
		}
		if err != nil {
			config.LogError(r.logger, "reconciliationWorkflow.go", "persistSnapshot", "Saving ledger snapshot", res.Kind, err)
		}
	}
	if r.sink != nil {
		loc, err := r.sink.Write(ctx, snap)
		if err != nil {
			config.LogError(r.logger, "reconciliationWorkflow.go", "persistSnapshot", "Exporting snapshot", res.Kind, err)
			return
		}
		res.SinkLocation = loc
	}
}
