package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransferInput struct {
	FromPartyId   string          `json:"from_party_id"`
	ToPartyId     string          `json:"to_party_id"`
	Commodity     string          `json:"commodity"`
	Bucket        Bucket          `json:"bucket"`
	Quantity      decimal.Decimal `json:"quantity"`
	When          time.Time       `json:"when"`
	LedgerRef     string          `json:"ledger_ref,omitempty"`
	CorrelationId string          `json:"correlation_id,omitempty"`
}

type MillInput struct {
	MillerId       string          `json:"miller_id"`
	Commodity      string          `json:"commodity"`
	InputQuantity  decimal.Decimal `json:"input_quantity"`
	OutputQuantity decimal.Decimal `json:"output_quantity"`
	When           time.Time       `json:"when"`
	LedgerRef      string          `json:"ledger_ref,omitempty"`
	CorrelationId  string          `json:"correlation_id,omitempty"`
}

type DamageInput struct {
	PartyId       string          `json:"party_id"`
	Commodity     string          `json:"commodity"`
	Bucket        Bucket          `json:"bucket"`
	Quantity      decimal.Decimal `json:"quantity"`
	Reason        string          `json:"reason"`
	When          time.Time       `json:"when"`
	LedgerRef     string          `json:"ledger_ref,omitempty"`
	CorrelationId string          `json:"correlation_id,omitempty"`
}

func (in TransferInput) Normalize() TransferInput {
	in.FromPartyId = strings.TrimSpace(in.FromPartyId)
	in.ToPartyId = strings.TrimSpace(in.ToPartyId)
	in.Commodity = strings.TrimSpace(in.Commodity)
	in.Bucket = in.Bucket.OrRaw()
	if in.When.IsZero() {
		in.When = time.Now().UTC()
	}
	return in
}

func (in MillInput) Normalize() MillInput {
	in.MillerId = strings.TrimSpace(in.MillerId)
	in.Commodity = strings.TrimSpace(in.Commodity)
	if in.When.IsZero() {
		in.When = time.Now().UTC()
	}
	return in
}

func (in DamageInput) Normalize() DamageInput {
	in.PartyId = strings.TrimSpace(in.PartyId)
	in.Commodity = strings.TrimSpace(in.Commodity)
	in.Bucket = in.Bucket.OrRaw()
	in.Reason = strings.TrimSpace(in.Reason)
	if in.When.IsZero() {
		in.When = time.Now().UTC()
	}
	return in
}

func (in TransferInput) check() error {
	if !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: transfer quantity must be > 0, got %s", ErrInvalidQuantity, in.Quantity)
	}
	if err := CheckQuantity(in.Quantity); err != nil {
		return err
	}
	if in.FromPartyId == "" || in.ToPartyId == "" || in.Commodity == "" || !in.Bucket.IsValid() {
		return fmt.Errorf("%w: from, to, commodity and bucket are required", ErrInvalidTransfer)
	}
	if strings.EqualFold(in.FromPartyId, in.ToPartyId) {
		return fmt.Errorf("%w: sender and recipient are the same party", ErrInvalidTransfer)
	}
	return nil
}

func (in MillInput) check() error {
	if in.OutputQuantity.GreaterThan(in.InputQuantity) {
		return fmt.Errorf("%w: output %s > input %s", ErrInvalidConversion, in.OutputQuantity, in.InputQuantity)
	}
	if in.InputQuantity.IsNegative() || in.OutputQuantity.IsNegative() {
		return fmt.Errorf("%w: milling quantities must be >= 0", ErrInvalidQuantity)
	}
	if err := CheckQuantity(in.InputQuantity); err != nil {
		return err
	}
	if err := CheckQuantity(in.OutputQuantity); err != nil {
		return err
	}
	if in.MillerId == "" || in.Commodity == "" {
		return fmt.Errorf("%w: miller and commodity are required", ErrInvalidDraft)
	}
	return nil
}

func (in DamageInput) check() error {
	if !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: damage quantity must be > 0, got %s", ErrInvalidQuantity, in.Quantity)
	}
	if err := CheckQuantity(in.Quantity); err != nil {
		return err
	}
	if in.PartyId == "" || in.Commodity == "" || !in.Bucket.IsValid() {
		return fmt.Errorf("%w: party, commodity and bucket are required", ErrInvalidDraft)
	}
	return nil
}

func loadStock(q *gorm.DB, lock bool, keys ...stockKey) (lockedStock, error) {
	if lock {
		return lockStockRows(q, keys...)
	}
	return readStockRows(q, keys...)
}

func requireParty(q *gorm.DB, id string) (*Party, error) {
	var p Party
	if err := q.Where("id = ?", id).Limit(1).Find(&p).Error; err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: party %s", ErrNotFound, id)
	}
	return &p, nil
}

type transferPlan struct {
	stock     lockedStock
	from      *Party
	sender    stockKey
	recipient stockKey
}

func prepareTransfer(q *gorm.DB, in TransferInput, lock bool) (*transferPlan, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	from, err := requireParty(q, in.FromPartyId)
	if err != nil {
		return nil, err
	}
	if _, err := requireParty(q, in.ToPartyId); err != nil {
		return nil, err
	}

	plan := &transferPlan{
		from:      from,
		sender:    stockKey{PartyId: in.FromPartyId, Commodity: in.Commodity, Bucket: in.Bucket},
		recipient: stockKey{PartyId: in.ToPartyId, Commodity: in.Commodity, Bucket: in.Bucket},
	}
	keys := []stockKey{plan.recipient}
	// origin producers are not drawn from tracked inventory
	if !from.Role.IsOriginProducer() {
		keys = append(keys, plan.sender)
	}
	if plan.stock, err = loadStock(q, lock, keys...); err != nil {
		return nil, err
	}
	if !from.Role.IsOriginProducer() {
		if available := plan.stock.amount(plan.sender); available.LessThan(in.Quantity) {
			return nil, fmt.Errorf("%w: %s holds %s %s (%s), needs %s",
				ErrInsufficientStock, in.FromPartyId, available, in.Commodity, in.Bucket, in.Quantity)
		}
	}
	return plan, nil
}

// PrecheckTransfer runs the transfer validation without locks or writes.
func PrecheckTransfer(ctx context.Context, db *gorm.DB, in TransferInput) error {
	_, err := prepareTransfer(db.WithContext(ctx), in.Normalize(), false)
	return err
}

// Transfer moves quantity between two parties in one atomic unit.
func Transfer(ctx context.Context, db *gorm.DB, in TransferInput) (*Transaction, error) {
	in = in.Normalize()
	var rec *Transaction
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := prepareTransfer(tx, in, true)
		if err != nil {
			return err
		}
		if !plan.from.Role.IsOriginProducer() {
			if err := plan.stock.applyDelta(tx, plan.sender, in.Quantity.Neg()); err != nil {
				return err
			}
		}
		if err := plan.stock.applyDelta(tx, plan.recipient, in.Quantity); err != nil {
			return err
		}
		rec = &Transaction{
			FromPartyId:   in.FromPartyId,
			ToPartyId:     in.ToPartyId,
			Commodity:     in.Commodity,
			Bucket:        in.Bucket,
			Quantity:      in.Quantity,
			TransactedAt:  in.When,
			LedgerRef:     nilIfEmpty(in.LedgerRef),
			CorrelationId: in.CorrelationId,
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type millPlan struct {
	stock  lockedStock
	input  stockKey
	output stockKey
}

func prepareMill(q *gorm.DB, in MillInput, lock bool) (*millPlan, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	miller, err := requireParty(q, in.MillerId)
	if err != nil {
		return nil, err
	}
	if miller.Role != RoleMiller {
		return nil, fmt.Errorf("%w: %s is a %s, milling needs a Miller", ErrRoleNotPermitted, miller.ID, miller.Role)
	}
	plan := &millPlan{
		input:  stockKey{PartyId: in.MillerId, Commodity: in.Commodity, Bucket: BucketRaw},
		output: stockKey{PartyId: in.MillerId, Commodity: in.Commodity, Bucket: BucketMilled},
	}
	if plan.stock, err = loadStock(q, lock, plan.input, plan.output); err != nil {
		return nil, err
	}
	if available := plan.stock.amount(plan.input); available.LessThan(in.InputQuantity) {
		return nil, fmt.Errorf("%w: %s holds %s %s, needs %s",
			ErrInsufficientStock, in.MillerId, available, in.Commodity, in.InputQuantity)
	}
	return plan, nil
}

func PrecheckMill(ctx context.Context, db *gorm.DB, in MillInput) error {
	_, err := prepareMill(db.WithContext(ctx), in.Normalize(), false)
	return err
}

// Mill debits the raw bucket by InputQuantity and credits the milled bucket by OutputQuantity.
func Mill(ctx context.Context, db *gorm.DB, in MillInput) (*MillingRecord, error) {
	in = in.Normalize()
	var rec *MillingRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := prepareMill(tx, in, true)
		if err != nil {
			return err
		}
		if in.InputQuantity.IsPositive() {
			if err := plan.stock.applyDelta(tx, plan.input, in.InputQuantity.Neg()); err != nil {
				return err
			}
		}
		if in.OutputQuantity.IsPositive() {
			if err := plan.stock.applyDelta(tx, plan.output, in.OutputQuantity); err != nil {
				return err
			}
		}
		rec = &MillingRecord{
			MillerId:       in.MillerId,
			Commodity:      in.Commodity,
			InputQuantity:  in.InputQuantity,
			OutputQuantity: in.OutputQuantity,
			MilledAt:       in.When,
			LedgerRef:      nilIfEmpty(in.LedgerRef),
			CorrelationId:  in.CorrelationId,
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type damagePlan struct {
	stock lockedStock
	key   stockKey
}

func prepareDamage(q *gorm.DB, in DamageInput, lock bool) (*damagePlan, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	if _, err := requireParty(q, in.PartyId); err != nil {
		return nil, err
	}
	plan := &damagePlan{key: stockKey{PartyId: in.PartyId, Commodity: in.Commodity, Bucket: in.Bucket}}
	var err error
	if plan.stock, err = loadStock(q, lock, plan.key); err != nil {
		return nil, err
	}
	if available := plan.stock.amount(plan.key); available.LessThan(in.Quantity) {
		return nil, fmt.Errorf("%w: %s holds %s %s (%s), damage %s",
			ErrInsufficientStock, in.PartyId, available, in.Commodity, in.Bucket, in.Quantity)
	}
	return plan, nil
}

func PrecheckDamage(ctx context.Context, db *gorm.DB, in DamageInput) error {
	_, err := prepareDamage(db.WithContext(ctx), in.Normalize(), false)
	return err
}

// RecordDamage writes off quantity from one balance.
func RecordDamage(ctx context.Context, db *gorm.DB, in DamageInput) (*DamageRecord, error) {
	in = in.Normalize()
	var rec *DamageRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := prepareDamage(tx, in, true)
		if err != nil {
			return err
		}
		if err := plan.stock.applyDelta(tx, plan.key, in.Quantity.Neg()); err != nil {
			return err
		}
		rec = &DamageRecord{
			PartyId:       in.PartyId,
			Commodity:     in.Commodity,
			Bucket:        in.Bucket,
			Quantity:      in.Quantity,
			Reason:        in.Reason,
			DamagedAt:     in.When,
			LedgerRef:     nilIfEmpty(in.LedgerRef),
			CorrelationId: in.CorrelationId,
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
