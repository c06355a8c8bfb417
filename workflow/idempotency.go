package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/utils"
)

var (
	// ErrOperationInProgress: another attempt with the same operation ref has not finished.
	ErrOperationInProgress = errors.New("operation in progress")
	// ErrOperationConflict: the ref ended in a state that needs reconciliation, not a retry.
	ErrOperationConflict = errors.New("operation ref needs reconciliation")
)

// begin creates the mirror row. A reused ref that already finished returns the finished row.
func (c *Coordinator) begin(ctx context.Context, dw *dualWrite) (*models.LedgerMirror, error) {
	payload, err := utils.MarshalToJSON(dw.payload)
	if err != nil {
		return nil, err
	}
	m := &models.LedgerMirror{
		OperationRef:  dw.ref,
		Kind:          string(dw.kind),
		Mode:          string(c.mode),
		State:         models.MirrorStateDrafted,
		EntityId:      dw.entityId,
		PayloadJSON:   payload,
		CorrelationId: dw.correlationId,
	}
	err = models.CreateLedgerMirror(ctx, c.db, m)
	if err == nil {
		dw.state = models.MirrorStateDrafted
		return nil, nil
	}
	if !utils.IsDuplicateKeyErr(err) {
		return nil, err
	}

	existing, err := models.GetLedgerMirror(ctx, c.db, dw.ref)
	if err != nil {
		return nil, err
	}
	switch existing.State {
	case models.MirrorStateDone:
		return existing, nil
	case models.MirrorStateLedgerRejected, models.MirrorStateLocalRejected:
		// nothing was recorded anywhere; the ref may be used again
		reopened, err := models.ReopenLedgerMirror(ctx, c.db, dw.ref, string(c.mode), payload, dw.correlationId)
		if err != nil {
			return nil, err
		}
		if !reopened {
			return nil, fmt.Errorf("%w: %s was retried concurrently", ErrOperationInProgress, dw.ref)
		}
		dw.state = models.MirrorStateDrafted
		return nil, nil
	case models.MirrorStatePartiallyCommitted, models.MirrorStateLedgerUnconfirmed, models.MirrorStateMirrorFailed:
		return nil, fmt.Errorf("%w: %s is %s", ErrOperationConflict, dw.ref, existing.State)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrOperationInProgress, dw.ref, existing.State)
	}
}
