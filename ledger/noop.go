package ledger

import (
	"context"
	"time"
)

// Noop accepts every write and records nothing. Reads report ErrUnsupported.
// It backs local-only deployments.
type Noop struct{}

func (Noop) Simulate(ctx context.Context, call Call) error { return nil }

func (Noop) Submit(ctx context.Context, call Call) (TxHandle, error) {
	return TxHandle{Kind: call.Kind(), Network: call.Kind().Network(), SubmittedAt: time.Now().UTC()}, nil
}

func (Noop) AwaitConfirmation(ctx context.Context, h TxHandle) (Receipt, error) {
	return Receipt{}, nil
}

func (Noop) GetAggregate(ctx context.Context, kind EntityKind) ([]Record, error) {
	return nil, ErrUnsupported
}

func (Noop) GetByID(ctx context.Context, kind EntityKind, id string) (Record, error) {
	return nil, ErrUnsupported
}

func (Noop) ScanEvents(ctx context.Context, kind EntityKind, fromBlock uint64) ([]Event, error) {
	return nil, ErrUnsupported
}

func (Noop) ScanRawLogs(ctx context.Context, kind EntityKind, fromBlock uint64, topic Topic) ([]Event, error) {
	return nil, ErrUnsupported
}

func (Noop) Close() error { return nil }
