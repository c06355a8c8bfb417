package models

import (
	"context"
	"errors"
	"testing"
)

func TestLedgerMirrorTransitions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	m := &LedgerMirror{OperationRef: "op-1", Kind: "Farmer", Mode: "ledger_first"}
	if err := CreateLedgerMirror(ctx, db, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.State != MirrorStateDrafted {
		t.Fatalf("expected DRAFTED, got %s", m.State)
	}
	dup := &LedgerMirror{OperationRef: "op-1", Kind: "Farmer", Mode: "ledger_first"}
	if err := CreateLedgerMirror(ctx, db, dup); err == nil {
		t.Fatalf("operation ref must be unique")
	}

	hash := "0xabc"
	block := uint64(12)
	if err := TransitionLedgerMirror(ctx, db, "op-1", MirrorStateLedgerCommitted, MirrorUpdate{LedgerTxHash: &hash, BlockNumber: &block}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	id := "FAR1"
	if err := TransitionLedgerMirror(ctx, db, "op-1", MirrorStateDone, MirrorUpdate{EntityId: &id}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	got, err := GetLedgerMirror(ctx, db, "op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != MirrorStateDone || got.EntityId != "FAR1" || *got.LedgerTxHash != hash || *got.BlockNumber != 12 {
		t.Fatalf("unexpected mirror: %+v", got)
	}
	if !IsTerminalMirrorState(got.State) || IsTerminalMirrorState(MirrorStateLedgerSimulated) {
		t.Fatalf("terminal state classification wrong")
	}
	if _, err := GetLedgerMirror(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rows, err := ListLedgerMirrors(ctx, db, 10, MirrorStatePartiallyCommitted)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no partial rows, got %d %v", len(rows), err)
	}
}

func TestReconciliationRunAndSnapshot(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	run, err := StartReconciliationRun(ctx, db, "Farmer", 0, RunTriggeredManual)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	run.Status = RunStatusPartial
	run.RecordsFound = 3
	errs := []ReconciliationRunError{{Kind: "Farmer", EntityId: "FAR2", Stage: "lookup", Message: "boom"}}
	if err := FinishReconciliationRun(ctx, db, run, errs); err != nil {
		t.Fatalf("finish: %v", err)
	}
	var stored []ReconciliationRunError
	db.Where("run_id = ?", run.ID).Find(&stored)
	if len(stored) != 1 || run.ErrorCount != 1 || run.FinishedAt == nil {
		t.Fatalf("unexpected run state: %+v errs=%d", run, len(stored))
	}

	if err := SaveReconciliationCheckpoint(ctx, db, "Farmer", 10); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := SaveReconciliationCheckpoint(ctx, db, "Farmer", 25); err != nil {
		t.Fatalf("checkpoint update: %v", err)
	}
	if cp, _ := GetReconciliationCheckpoint(ctx, db, "Farmer"); cp != 25 {
		t.Fatalf("expected checkpoint 25, got %d", cp)
	}
	if cp, _ := GetReconciliationCheckpoint(ctx, db, "Miller"); cp != 0 {
		t.Fatalf("expected empty checkpoint, got %d", cp)
	}

	if err := SaveLedgerSnapshot(ctx, db, &LedgerSnapshot{Kind: "Farmer", RunId: &run.ID, RecordCount: 1, PayloadJSON: `[{"id":"FAR1"}]`}); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := SaveLedgerSnapshot(ctx, db, &LedgerSnapshot{Kind: "Farmer", RecordCount: 2, PayloadJSON: `[]`}); err != nil {
		t.Fatalf("snapshot overwrite: %v", err)
	}
	snap, err := GetLedgerSnapshot(ctx, db, "Farmer")
	if err != nil || snap.RecordCount != 2 {
		t.Fatalf("expected overwritten snapshot, got %+v %v", snap, err)
	}
}

func TestReopenLedgerMirror_OnlyOneRetryWins(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if err := CreateLedgerMirror(ctx, db, &LedgerMirror{OperationRef: "op-r", Kind: "Transaction", Mode: "ledger_first", State: MirrorStateLedgerRejected}); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := ReopenLedgerMirror(ctx, db, "op-r", "ledger_first", "{}", "corr-1")
	if err != nil || !ok {
		t.Fatalf("first reopen: %v %v", ok, err)
	}
	// a second retry that read the row while it was still rejected
	ok, err = ReopenLedgerMirror(ctx, db, "op-r", "ledger_first", "{}", "corr-2")
	if err != nil || ok {
		t.Fatalf("second reopen must lose: %v %v", ok, err)
	}
	got, err := GetLedgerMirror(ctx, db, "op-r")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != MirrorStateDrafted || got.CorrelationId != "corr-1" {
		t.Fatalf("unexpected mirror: %+v", got)
	}

	if err := CreateLedgerMirror(ctx, db, &LedgerMirror{OperationRef: "op-d", Kind: "Transaction", Mode: "ledger_first", State: MirrorStateDone}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := ReopenLedgerMirror(ctx, db, "op-d", "ledger_first", "{}", ""); err != nil || ok {
		t.Fatalf("a finished row must not reopen: %v %v", ok, err)
	}
}
