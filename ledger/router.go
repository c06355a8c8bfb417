package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Router dispatches each kind to the client of its network.
type Router struct {
	accounts   Client
	operations Client
}

func NewRouter(accounts, operations Client) *Router {
	return &Router{accounts: accounts, operations: operations}
}

func (r *Router) pick(kind EntityKind) (Client, error) {
	switch kind.Network() {
	case NetworkAccounts:
		if r.accounts != nil {
			return r.accounts, nil
		}
	case NetworkOperations:
		if r.operations != nil {
			return r.operations, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrUnsupported, kind)
	}
	return nil, fmt.Errorf("%w: no client for %s network", ErrUnavailable, kind.Network())
}

func (r *Router) Simulate(ctx context.Context, call Call) error {
	c, err := r.pick(call.Kind())
	if err != nil {
		return err
	}
	return c.Simulate(ctx, call)
}

func (r *Router) Submit(ctx context.Context, call Call) (TxHandle, error) {
	c, err := r.pick(call.Kind())
	if err != nil {
		return TxHandle{}, fmt.Errorf("%w: %w", ErrNotSubmitted, err)
	}
	return c.Submit(ctx, call)
}

func (r *Router) AwaitConfirmation(ctx context.Context, h TxHandle) (Receipt, error) {
	c, err := r.pick(h.Kind)
	if err != nil {
		return Receipt{}, err
	}
	return c.AwaitConfirmation(ctx, h)
}

func (r *Router) GetAggregate(ctx context.Context, kind EntityKind) ([]Record, error) {
	c, err := r.pick(kind)
	if err != nil {
		return nil, err
	}
	return c.GetAggregate(ctx, kind)
}

func (r *Router) GetByID(ctx context.Context, kind EntityKind, id string) (Record, error) {
	c, err := r.pick(kind)
	if err != nil {
		return nil, err
	}
	return c.GetByID(ctx, kind, id)
}

func (r *Router) ScanEvents(ctx context.Context, kind EntityKind, fromBlock uint64) ([]Event, error) {
	c, err := r.pick(kind)
	if err != nil {
		return nil, err
	}
	return c.ScanEvents(ctx, kind, fromBlock)
}

func (r *Router) ScanRawLogs(ctx context.Context, kind EntityKind, fromBlock uint64, topic Topic) ([]Event, error) {
	c, err := r.pick(kind)
	if err != nil {
		return nil, err
	}
	return c.ScanRawLogs(ctx, kind, fromBlock, topic)
}

// Close closes both clients once each.
func (r *Router) Close() error {
	var errs []error
	if r.accounts != nil {
		errs = append(errs, r.accounts.Close())
	}
	if r.operations != nil && r.operations != r.accounts {
		errs = append(errs, r.operations.Close())
	}
	return errors.Join(errs...)
}
