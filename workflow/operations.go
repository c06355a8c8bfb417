package workflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type OperationType string

const (
	OperationTransfer OperationType = "transfer"
	OperationMilling  OperationType = "milling"
	OperationDamage   OperationType = "damage"
)

// OperationDraft is a stock operation waiting to be written. Exactly the
// payload matching Type is set.
type OperationDraft struct {
	Type     OperationType         `json:"type"`
	Transfer *models.TransferInput `json:"transfer,omitempty"`
	Milling  *models.MillInput     `json:"milling,omitempty"`
	Damage   *models.DamageInput   `json:"damage,omitempty"`
	// OperationRef makes retries idempotent. Empty generates a fresh ref.
	OperationRef string `json:"operation_ref,omitempty"`
}

func TransferDraft(in models.TransferInput) OperationDraft {
	return OperationDraft{Type: OperationTransfer, Transfer: &in}
}

func MillingDraft(in models.MillInput) OperationDraft {
	return OperationDraft{Type: OperationMilling, Milling: &in}
}

func DamageDraft(in models.DamageInput) OperationDraft {
	return OperationDraft{Type: OperationDamage, Damage: &in}
}

type OperationResult struct {
	OperationRef string                `json:"operation_ref"`
	Kind         ledger.EntityKind     `json:"kind"`
	State        string                `json:"state"`
	Transaction  *models.Transaction   `json:"transaction,omitempty"`
	Milling      *models.MillingRecord `json:"milling,omitempty"`
	Damage       *models.DamageRecord  `json:"damage,omitempty"`
	LedgerTxHash string                `json:"ledger_tx_hash,omitempty"`
	BlockNumber  uint64                `json:"block_number,omitempty"`
	// Replayed is set when the ref had already completed and nothing was written.
	Replayed bool `json:"replayed,omitempty"`
}

func invalidDraft(field, rule string) error {
	return &models.DraftError{Fields: map[string]string{field: rule}}
}

func idString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// prepare turns the draft into a dualWrite plus the result it fills in.
func (c *Coordinator) prepare(draft OperationDraft, ref, corr string) (*dualWrite, *OperationResult, error) {
	mirrored := c.mode != config.LedgerModeLocalOnly
	ledgerRef := ""
	if mirrored {
		ledgerRef = ref
	}
	res := &OperationResult{OperationRef: ref}

	switch draft.Type {
	case OperationTransfer:
		if draft.Transfer == nil {
			return nil, nil, invalidDraft("transfer", "required")
		}
		in := draft.Transfer.Normalize()
		in.LedgerRef, in.CorrelationId = ledgerRef, corr
		if mirrored {
			if err := fitsLedgerScale("Quantity", in.Quantity); err != nil {
				return nil, nil, err
			}
		}
		res.Kind = transferKind(in.Bucket)
		return &dualWrite{
			ref:  ref,
			kind: res.Kind,
			record: ledger.TransferRecord{
				Kind: res.Kind, Ref: ref, From: in.FromPartyId, To: in.ToPartyId,
				Commodity: in.Commodity, Quantity: in.Quantity, Timestamp: in.When,
			},
			payload:       in,
			correlationId: corr,
			lockKey:       in.FromPartyId,
			precheck: func(ctx context.Context) error {
				return models.PrecheckTransfer(ctx, c.db, in)
			},
			local: func(ctx context.Context) (string, error) {
				t, err := models.Transfer(ctx, c.db, in)
				if err != nil {
					return "", err
				}
				res.Transaction = t
				return idString(t.ID), nil
			},
		}, res, nil

	case OperationMilling:
		if draft.Milling == nil {
			return nil, nil, invalidDraft("milling", "required")
		}
		in := draft.Milling.Normalize()
		in.LedgerRef, in.CorrelationId = ledgerRef, corr
		if mirrored {
			if err := fitsLedgerScale("InputQuantity", in.InputQuantity); err != nil {
				return nil, nil, err
			}
			if err := fitsLedgerScale("OutputQuantity", in.OutputQuantity); err != nil {
				return nil, nil, err
			}
		}
		res.Kind = ledger.KindMilling
		return &dualWrite{
			ref:  ref,
			kind: res.Kind,
			record: ledger.MillingEntry{
				Ref: ref, MillerID: in.MillerId, Commodity: in.Commodity,
				InputQuantity: in.InputQuantity, OutputQuantity: in.OutputQuantity, Date: in.When,
			},
			payload:       in,
			correlationId: corr,
			lockKey:       in.MillerId,
			precheck: func(ctx context.Context) error {
				return models.PrecheckMill(ctx, c.db, in)
			},
			local: func(ctx context.Context) (string, error) {
				m, err := models.Mill(ctx, c.db, in)
				if err != nil {
					return "", err
				}
				res.Milling = m
				return idString(m.ID), nil
			},
		}, res, nil

	case OperationDamage:
		if draft.Damage == nil {
			return nil, nil, invalidDraft("damage", "required")
		}
		in := draft.Damage.Normalize()
		in.LedgerRef, in.CorrelationId = ledgerRef, corr
		if mirrored {
			if err := fitsLedgerScale("Quantity", in.Quantity); err != nil {
				return nil, nil, err
			}
		}
		res.Kind = damageKind(in.Bucket)
		return &dualWrite{
			ref:  ref,
			kind: res.Kind,
			record: ledger.DamageEntry{
				Kind: res.Kind, Ref: ref, PartyID: in.PartyId, Commodity: in.Commodity,
				Quantity: in.Quantity, Reason: in.Reason, Date: in.When,
			},
			payload:       in,
			correlationId: corr,
			lockKey:       in.PartyId,
			precheck: func(ctx context.Context) error {
				return models.PrecheckDamage(ctx, c.db, in)
			},
			local: func(ctx context.Context) (string, error) {
				d, err := models.RecordDamage(ctx, c.db, in)
				if err != nil {
					return "", err
				}
				res.Damage = d
				return idString(d.ID), nil
			},
		}, res, nil
	}
	return nil, nil, invalidDraft("type", fmt.Sprintf("one of %s|%s|%s", OperationTransfer, OperationMilling, OperationDamage))
}

// replay loads the local record of a ref that already completed.
func (c *Coordinator) replay(ctx context.Context, done *models.LedgerMirror, res *OperationResult) (*OperationResult, error) {
	if string(res.Kind) != done.Kind {
		return nil, fmt.Errorf("%w: ref %s was used for %s", ErrOperationConflict, done.OperationRef, done.Kind)
	}
	var err error
	switch res.Kind {
	case ledger.KindTransaction, ledger.KindRiceTransaction:
		res.Transaction, err = models.GetTransactionByLedgerRef(ctx, c.db, done.OperationRef)
	case ledger.KindMilling:
		res.Milling, err = models.GetMillingByLedgerRef(ctx, c.db, done.OperationRef)
	case ledger.KindDamage, ledger.KindRiceDamage:
		res.Damage, err = models.GetDamageByLedgerRef(ctx, c.db, done.OperationRef)
	}
	if err != nil {
		return nil, err
	}
	res.State = done.State
	res.Replayed = true
	if done.LedgerTxHash != nil {
		res.LedgerTxHash = *done.LedgerTxHash
	}
	if done.BlockNumber != nil {
		res.BlockNumber = *done.BlockNumber
	}
	return res, nil
}

// RecordAndMirror applies a transfer, milling or damage to the stock ledger and
// mirrors it to the operations ledger according to the coordinator's mode.
func (c *Coordinator) RecordAndMirror(ctx context.Context, draft OperationDraft) (res *OperationResult, err error) {
	ctx, corr := utils.EnsureCorrelationId(ctx)
	ref := draft.OperationRef
	if ref == "" {
		ref = uuid.NewString()
	}

	dw, res, err := c.prepare(draft, ref, corr)
	if err != nil {
		return nil, err
	}
	ctx, span := c.startSpan(ctx, "RecordAndMirror", dw.kind)
	span.SetAttributes(attribute.String("operation_ref", ref))
	defer func() { endSpan(span, err) }()

	done, err := c.run(ctx, dw)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return c.replay(ctx, done, res)
	}

	res.State = dw.state
	res.LedgerTxHash = dw.receipt.TxHash
	res.BlockNumber = dw.receipt.BlockNumber
	c.logger.WithFields(logrus.Fields{
		"operation_ref":  ref,
		"kind":           dw.kind,
		"entity_id":      dw.entityId,
		"state":          res.State,
		"tx":             res.LedgerTxHash,
		"block":          res.BlockNumber,
		"correlation_id": corr,
	}).WithFields(actorFields(ctx)).Info("operation recorded")
	return res, nil
}
