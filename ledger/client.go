// Package ledger defines the append-only ledger capability the dual-write
// coordinator and the reconciliation reader are built on, plus in-process
// implementations used in local-only deployments and tests.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRejected: the ledger refused the call (simulation revert or failed receipt). Nothing was recorded.
	ErrRejected = errors.New("ledger rejected call")
	ErrNotFound = errors.New("ledger record not found")
	// ErrUnsupported: the read strategy is not available on this ledger or contract.
	ErrUnsupported = errors.New("ledger capability unsupported")
	// ErrUnavailable: the ledger could not be reached.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrNotSubmitted: Submit failed before the transaction left the client. The ledger holds nothing.
	ErrNotSubmitted = errors.New("ledger transaction not sent")
)

// Client is one ledger endpoint, or a router over several.
type Client interface {
	// Simulate dry-runs the call. It must not change ledger state.
	Simulate(ctx context.Context, call Call) error
	// Submit signs and sends the call. Failures before the send wrap ErrNotSubmitted.
	Submit(ctx context.Context, call Call) (TxHandle, error)
	// AwaitConfirmation blocks until the transaction is included in a block.
	AwaitConfirmation(ctx context.Context, h TxHandle) (Receipt, error)

	GetAggregate(ctx context.Context, kind EntityKind) ([]Record, error)
	GetByID(ctx context.Context, kind EntityKind, id string) (Record, error)
	// ScanEvents uses the ledger's indexed event filter.
	ScanEvents(ctx context.Context, kind EntityKind, fromBlock uint64) ([]Event, error)
	// ScanRawLogs matches logs on the first topic only.
	ScanRawLogs(ctx context.Context, kind EntityKind, fromBlock uint64, topic Topic) ([]Event, error)

	Close() error
}

// Call is a write of one record. The method and arguments follow from the record kind.
type Call struct {
	Record Record
	Sender string
}

func (c Call) Kind() EntityKind {
	if c.Record == nil {
		return ""
	}
	return c.Record.RecordKind()
}

func (c Call) Method() string {
	spec, ok := c.Kind().Spec()
	if !ok {
		return ""
	}
	return spec.WriteMethod
}

type TxHandle struct {
	Kind        EntityKind `json:"kind"`
	Network     Network    `json:"network"`
	Hash        string     `json:"hash"`
	SubmittedAt time.Time  `json:"submitted_at"`
}

type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
}

// Event is an "entity recorded" log entry. Events carry only the entity id.
type Event struct {
	Kind        EntityKind `json:"kind"`
	ID          string     `json:"id"`
	BlockNumber uint64     `json:"block_number"`
	LogIndex    uint       `json:"log_index"`
	TxHash      string     `json:"tx_hash"`
}

// Before orders events by block then log index.
func (e Event) Before(o Event) bool {
	if e.BlockNumber != o.BlockNumber {
		return e.BlockNumber < o.BlockNumber
	}
	return e.LogIndex < o.LogIndex
}
