package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction is the immutable record of a paired debit/credit between two parties.
type Transaction struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	FromPartyId   string          `gorm:"size:32;index;not null" json:"from_party_id"`
	ToPartyId     string          `gorm:"size:32;index;not null" json:"to_party_id"`
	Commodity     string          `gorm:"size:128;index;not null" json:"commodity"`
	Bucket        Bucket          `gorm:"size:16;not null;default:raw" json:"bucket"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	TransactedAt  time.Time       `gorm:"index;not null" json:"transacted_at"`
	LedgerRef     *string         `gorm:"size:64;uniqueIndex" json:"ledger_ref"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// MillingRecord converts raw input into milled output for one miller. OutputQuantity <= InputQuantity.
type MillingRecord struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	MillerId       string          `gorm:"size:32;index;not null" json:"miller_id"`
	Commodity      string          `gorm:"size:128;not null" json:"commodity"`
	InputQuantity  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"input_quantity"`
	OutputQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"output_quantity"`
	MilledAt       time.Time       `gorm:"index;not null" json:"milled_at"`
	LedgerRef      *string         `gorm:"size:64;uniqueIndex" json:"ledger_ref"`
	CorrelationId  string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type DamageRecord struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	PartyId       string          `gorm:"size:32;index;not null" json:"party_id"`
	Commodity     string          `gorm:"size:128;not null" json:"commodity"`
	Bucket        Bucket          `gorm:"size:16;not null;default:raw" json:"bucket"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Reason        string          `gorm:"type:text" json:"reason"`
	DamagedAt     time.Time       `gorm:"index;not null" json:"damaged_at"`
	LedgerRef     *string         `gorm:"size:64;uniqueIndex" json:"ledger_ref"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type HistoryFilter struct {
	PartyId   string
	Commodity string
	Bucket    Bucket
	From      *time.Time
	To        *time.Time
	Limit     int
}

func (f HistoryFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return 1000
	}
	return f.Limit
}

// ListTransactions returns transfers newest first. PartyId matches either side.
func ListTransactions(ctx context.Context, db *gorm.DB, f HistoryFilter) ([]Transaction, error) {
	q := db.WithContext(ctx).Model(&Transaction{})
	if f.PartyId != "" {
		q = q.Where("from_party_id = ? OR to_party_id = ?", f.PartyId, f.PartyId)
	}
	if f.Commodity != "" {
		q = q.Where("commodity = ?", f.Commodity)
	}
	if f.Bucket != "" {
		q = q.Where("bucket = ?", f.Bucket)
	}
	if f.From != nil {
		q = q.Where("transacted_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("transacted_at <= ?", *f.To)
	}
	var rows []Transaction
	err := q.Order("transacted_at DESC").Order("id DESC").Limit(f.limit()).Find(&rows).Error
	return rows, err
}

func ListMilling(ctx context.Context, db *gorm.DB, f HistoryFilter) ([]MillingRecord, error) {
	q := db.WithContext(ctx).Model(&MillingRecord{})
	if f.PartyId != "" {
		q = q.Where("miller_id = ?", f.PartyId)
	}
	if f.Commodity != "" {
		q = q.Where("commodity = ?", f.Commodity)
	}
	if f.From != nil {
		q = q.Where("milled_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("milled_at <= ?", *f.To)
	}
	var rows []MillingRecord
	err := q.Order("milled_at DESC").Order("id DESC").Limit(f.limit()).Find(&rows).Error
	return rows, err
}

func ListDamages(ctx context.Context, db *gorm.DB, f HistoryFilter) ([]DamageRecord, error) {
	q := db.WithContext(ctx).Model(&DamageRecord{})
	if f.PartyId != "" {
		q = q.Where("party_id = ?", f.PartyId)
	}
	if f.Commodity != "" {
		q = q.Where("commodity = ?", f.Commodity)
	}
	if f.Bucket != "" {
		q = q.Where("bucket = ?", f.Bucket)
	}
	if f.From != nil {
		q = q.Where("damaged_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("damaged_at <= ?", *f.To)
	}
	var rows []DamageRecord
	err := q.Order("damaged_at DESC").Order("id DESC").Limit(f.limit()).Find(&rows).Error
	return rows, err
}

func takeByLedgerRef[T any](ctx context.Context, db *gorm.DB, ref string) (*T, error) {
	var row T
	if err := db.WithContext(ctx).Where("ledger_ref = ?", ref).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func GetTransactionByLedgerRef(ctx context.Context, db *gorm.DB, ref string) (*Transaction, error) {
	return takeByLedgerRef[Transaction](ctx, db, ref)
}

func GetMillingByLedgerRef(ctx context.Context, db *gorm.DB, ref string) (*MillingRecord, error) {
	return takeByLedgerRef[MillingRecord](ctx, db, ref)
}

func GetDamageByLedgerRef(ctx context.Context, db *gorm.DB, ref string) (*DamageRecord, error) {
	return takeByLedgerRef[DamageRecord](ctx, db, ref)
}

// LedgerRefs returns the mirrored operation refs of model, optionally narrowed to a bucket.
// Rows written without a ledger (local_only) have no ref and are left out.
func LedgerRefs(ctx context.Context, db *gorm.DB, model interface{}, bucket Bucket) ([]string, error) {
	q := db.WithContext(ctx).Model(model).Where("ledger_ref IS NOT NULL")
	if bucket != "" {
		q = q.Where("bucket = ?", bucket)
	}
	var refs []string
	err := q.Order("id").Pluck("ledger_ref", &refs).Error
	return refs, err
}
