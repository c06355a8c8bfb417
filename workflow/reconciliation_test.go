package workflow

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// seedFarmers registers n farmers through the coordinator so both stores hold them.
func seedFarmers(t *testing.T, c *Coordinator, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		p := mustRegister(t, c, farmerDraft("90123456"+string(rune('0'+i))+"V"))
		ids = append(ids, p.ID)
	}
	return ids
}

func TestListAll_StrategiesAgree(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mem := ledger.NewMemory()
	c := newTestCoordinator(t, db, mem, config.LedgerModeLedgerFirst)
	want := seedFarmers(t, c, 3)
	r := newTestReader(db, mem)

	agg, err := r.ListAll(ctx, ledger.KindFarmer, 0)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Strategy != StrategyAggregate || !reflect.DeepEqual(agg.IDs(), want) {
		t.Fatalf("aggregate read %s %v, want %v", agg.Strategy, agg.IDs(), want)
	}

	mem.DisableAggregate(ledger.KindFarmer)
	ev, err := r.ListAll(ctx, ledger.KindFarmer, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if ev.Strategy != StrategyIndexedEvents || !reflect.DeepEqual(ev.IDs(), want) {
		t.Fatalf("event replay %s %v, want %v", ev.Strategy, ev.IDs(), want)
	}
	if !reflect.DeepEqual(ev.Records, agg.Records) {
		t.Fatalf("event replay must rebuild the same records")
	}
	if ev.LastBlock == 0 {
		t.Fatalf("event replay must track the last block")
	}

	mem.DisableIndexedEvents()
	raw, err := r.ListAll(ctx, ledger.KindFarmer, 0)
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if raw.Strategy != StrategyRawLogs || !reflect.DeepEqual(raw.IDs(), want) {
		t.Fatalf("raw scan %s %v, want %v", raw.Strategy, raw.IDs(), want)
	}
	if len(raw.Attempts) != 3 || raw.Attempts[0].Error == "" || raw.Attempts[1].Error == "" {
		t.Fatalf("attempts must record the failed strategies: %+v", raw.Attempts)
	}
}

func TestListAll_DeduplicatesKeepingFirstOccurrence(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemory()
	mem.Seed(
		ledger.PartyRecord{Kind: ledger.KindCollector, ID: "COL1"},
		ledger.PartyRecord{Kind: ledger.KindCollector, ID: "COL2"},
	)
	mem.Reemit(ledger.KindCollector, "COL1")
	mem.Seed(ledger.PartyRecord{Kind: ledger.KindCollector, ID: "COL3"})
	mem.Reemit(ledger.KindCollector, "COL2")
	mem.DisableAggregate(ledger.KindCollector)

	res, err := newTestReader(nil, mem).ListAll(ctx, ledger.KindCollector, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := res.IDs(); !reflect.DeepEqual(got, []string{"COL1", "COL2", "COL3"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if mem.Calls("get") != 3 {
		t.Fatalf("each id must be looked up once, got %d", mem.Calls("get"))
	}
}

func TestListAll_SkipsFailedLookups(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemory()
	mem.Seed(
		ledger.PartyRecord{Kind: ledger.KindMiller, ID: "MIL1"},
		ledger.PartyRecord{Kind: ledger.KindMiller, ID: "MIL2"},
		ledger.PartyRecord{Kind: ledger.KindMiller, ID: "MIL3"},
	)
	mem.DisableAggregate(ledger.KindMiller)
	mem.FailLookup("MIL2")

	res, err := newTestReader(nil, mem).ListAll(ctx, ledger.KindMiller, 0)
	if err != nil {
		t.Fatalf("a failed lookup must not fail the read: %v", err)
	}
	if got := res.IDs(); !reflect.DeepEqual(got, []string{"MIL1", "MIL3"}) {
		t.Fatalf("unexpected ids %v", got)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].ID != "MIL2" {
		t.Fatalf("expected MIL2 skipped, got %+v", res.Skipped)
	}
}

func TestListAll_EmptyAndUnavailable(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemory()
	r := newTestReader(nil, mem)

	res, err := r.ListAll(ctx, ledger.KindDamage, 0)
	if err != nil {
		t.Fatalf("empty ledger is not an error: %v", err)
	}
	if res.Strategy != StrategyNone || len(res.Records) != 0 {
		t.Fatalf("expected an empty result, got %+v", res)
	}

	_ = mem.Close()
	_, err = r.ListAll(ctx, ledger.KindDamage, 0)
	if !errors.Is(err, models.ErrConnection) || !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected a connection error, got %v", err)
	}
	if _, err := r.ListAll(ctx, ledger.EntityKind("Tractor"), 0); !errors.Is(err, ledger.ErrUnsupported) {
		t.Fatalf("unknown kind: %v", err)
	}
}

func TestListAll_RawSignatureOverride(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemory()
	mem.Seed(ledger.PartyRecord{Kind: ledger.KindFarmer, ID: "FAR1"})
	mem.DisableAggregate(ledger.KindFarmer)
	mem.DisableIndexedEvents()

	r := newTestReader(nil, mem, WithRawSignatures(map[string]string{string(ledger.KindFarmer): "FarmerAdded(string)"}))
	res, err := r.ListAll(ctx, ledger.KindFarmer, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Records) != 0 {
		t.Fatalf("a different signature must not match the emitted logs, got %v", res.IDs())
	}
}

func TestReconcile_RecordsRunCheckpointAndSnapshot(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mem := ledger.NewMemory()
	c := newTestCoordinator(t, db, mem, config.LedgerModeLedgerFirst)
	seedFarmers(t, c, 2)
	mem.DisableAggregate(ledger.KindFarmer)

	dir := t.TempDir()
	m := NewMetrics(prometheus.NewRegistry())
	r := newTestReader(db, mem, WithSink(FileSink{Dir: dir}), WithSnapshots(true), WithReaderMetrics(m))

	res, err := r.Reconcile(ctx, ledger.KindFarmer, ReconcileOptions{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.RunId == 0 || len(res.Records) != 2 || res.SinkLocation == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	cp, err := models.GetReconciliationCheckpoint(ctx, db, string(ledger.KindFarmer))
	if err != nil || cp != res.LastBlock {
		t.Fatalf("checkpoint %d, %v; want %d", cp, err, res.LastBlock)
	}
	snap, err := models.GetLedgerSnapshot(ctx, db, string(ledger.KindFarmer))
	if err != nil || snap.RecordCount != 2 {
		t.Fatalf("snapshot %+v, %v", snap, err)
	}

	// one more farmer, then resume after the checkpoint
	seedFarmers(t, c, 1)
	inc, err := r.Reconcile(ctx, ledger.KindFarmer, ReconcileOptions{Resume: true})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(inc.Records) != 1 || inc.FromBlock != cp+1 {
		t.Fatalf("resume should only read new events, got %v from %d", inc.IDs(), inc.FromBlock)
	}
	snap, _ = models.GetLedgerSnapshot(ctx, db, string(ledger.KindFarmer))
	if snap.RecordCount != 2 {
		t.Fatalf("an incremental read must not replace the full snapshot, got %d", snap.RecordCount)
	}

	runs, err := models.ListReconciliationRuns(ctx, db, string(ledger.KindFarmer), 0)
	if err != nil || len(runs) != 2 {
		t.Fatalf("runs %d, %v", len(runs), err)
	}
	for _, run := range runs {
		if run.Status != models.RunStatusSuccess || run.Strategy != string(StrategyIndexedEvents) {
			t.Fatalf("unexpected run %+v", run)
		}
	}
	got := testutil.ToFloat64(m.ReconcileRuns.WithLabelValues(string(ledger.KindFarmer), string(StrategyIndexedEvents), models.RunStatusSuccess))
	if got != 2 {
		t.Fatalf("expected 2 successful runs counted, got %v", got)
	}
}

func TestReconcile_FailedReadIsRecorded(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mem := ledger.NewMemory()
	_ = mem.Close()
	r := newTestReader(db, mem)

	if _, err := r.Reconcile(ctx, ledger.KindMilling, ReconcileOptions{TriggeredBy: models.RunTriggeredSystem}); err == nil {
		t.Fatalf("expected an error")
	}
	runs, _ := models.ListReconciliationRuns(ctx, db, string(ledger.KindMilling), 0)
	if len(runs) != 1 || runs[0].Status != models.RunStatusFailed {
		t.Fatalf("expected one failed run, got %+v", runs)
	}
	if n := countRows(t, db, &models.ReconciliationRunError{}); n != 1 {
		t.Fatalf("expected one run error, got %d", n)
	}
}

func TestReconcile_PartialWhenLookupsFail(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mem := ledger.NewMemory()
	mem.Seed(ledger.PartyRecord{Kind: ledger.KindFarmer, ID: "FAR1"}, ledger.PartyRecord{Kind: ledger.KindFarmer, ID: "FAR2"})
	mem.DisableAggregate(ledger.KindFarmer)
	mem.FailLookup("FAR1")

	res, err := newTestReader(db, mem).Reconcile(ctx, ledger.KindFarmer, ReconcileOptions{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	runs, _ := models.ListReconciliationRuns(ctx, db, string(ledger.KindFarmer), 0)
	if len(runs) != 1 || runs[0].Status != models.RunStatusPartial || runs[0].RecordsFound != 1 {
		t.Fatalf("unexpected run %+v (result %v)", runs, res.IDs())
	}
}
