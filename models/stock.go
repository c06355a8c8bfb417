package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/paddyledger/paddy_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockBalance is the amount a party holds of one commodity in one bucket. Amount never goes below zero.
type StockBalance struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	PartyId   string          `gorm:"size:32;not null;uniqueIndex:idx_stock_key,priority:1" json:"party_id"`
	Commodity string          `gorm:"size:128;not null;uniqueIndex:idx_stock_key,priority:2" json:"commodity"`
	Bucket    Bucket          `gorm:"size:16;not null;default:raw;uniqueIndex:idx_stock_key,priority:3" json:"bucket"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"amount"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Quantity columns are decimal(20,4).
const (
	QuantityScale     = 4
	quantityIntDigits = 16
)

var quantityLimit = decimal.New(1, quantityIntDigits)

// CheckQuantity rejects amounts a quantity column cannot store exactly.
func CheckQuantity(q decimal.Decimal) error {
	if !q.Equal(q.Truncate(QuantityScale)) {
		return fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidQuantity, q, QuantityScale)
	}
	if q.Abs().GreaterThanOrEqual(quantityLimit) {
		return fmt.Errorf("%w: %s has more than %d integer digits", ErrInvalidQuantity, q, quantityIntDigits)
	}
	return nil
}

type stockKey struct {
	PartyId   string
	Commodity string
	Bucket    Bucket
}

func (k stockKey) less(o stockKey) bool {
	if k.PartyId != o.PartyId {
		return k.PartyId < o.PartyId
	}
	if k.Commodity != o.Commodity {
		return k.Commodity < o.Commodity
	}
	return k.Bucket < o.Bucket
}

// lockedStock holds the balances read under lock for one atomic unit. Missing rows read as zero.
type lockedStock map[stockKey]*StockBalance

func (ls lockedStock) amount(k stockKey) decimal.Decimal {
	if row, ok := ls[k]; ok && row != nil {
		return row.Amount
	}
	return decimal.Zero
}

// lockStockRows reads every key with SELECT ... FOR UPDATE in ascending key
// order, so concurrent units touching the same rows never wait on each other in a cycle.
func lockStockRows(tx *gorm.DB, keys ...stockKey) (lockedStock, error) {
	sorted := uniqueKeys(keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })

	out := lockedStock{}
	for _, k := range sorted {
		row, err := readStockRow(tx.Clauses(clause.Locking{Strength: "UPDATE"}), k)
		if err != nil {
			return nil, err
		}
		out[k] = row
	}
	return out, nil
}

// readStockRows is the lock-free variant used by prechecks.
func readStockRows(db *gorm.DB, keys ...stockKey) (lockedStock, error) {
	out := lockedStock{}
	for _, k := range uniqueKeys(keys) {
		row, err := readStockRow(db, k)
		if err != nil {
			return nil, err
		}
		out[k] = row
	}
	return out, nil
}

func readStockRow(q *gorm.DB, k stockKey) (*StockBalance, error) {
	var row StockBalance
	err := q.Where("party_id = ? AND commodity = ? AND bucket = ?", k.PartyId, k.Commodity, k.Bucket).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func uniqueKeys(keys []stockKey) []stockKey {
	seen := make(map[stockKey]bool, len(keys))
	out := make([]stockKey, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// applyDelta writes amount+delta for a row already locked in ls, creating it on first credit.
func (ls lockedStock) applyDelta(tx *gorm.DB, k stockKey, delta decimal.Decimal) error {
	row := ls[k]
	next := ls.amount(k).Add(delta)
	if next.IsNegative() {
		return ErrInsufficientStock
	}
	if row == nil {
		row = &StockBalance{PartyId: k.PartyId, Commodity: k.Commodity, Bucket: k.Bucket, Amount: next}
		if err := tx.Create(row).Error; err != nil {
			if !utils.IsDuplicateKeyErr(err) {
				return err
			}
			// created by a concurrent unit after our read; lock it and retry on the fresh value
			fresh, ferr := readStockRow(tx.Clauses(clause.Locking{Strength: "UPDATE"}), k)
			if ferr != nil {
				return ferr
			}
			ls[k] = fresh
			return ls.applyDelta(tx, k, delta)
		}
		ls[k] = row
		return nil
	}
	if err := tx.Model(&StockBalance{}).Where("id = ?", row.ID).Update("amount", next).Error; err != nil {
		return err
	}
	row.Amount = next
	return nil
}

// creditStock adds qty to a single balance inside an open transaction.
func creditStock(tx *gorm.DB, k stockKey, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	ls, err := lockStockRows(tx, k)
	if err != nil {
		return err
	}
	return ls.applyDelta(tx, k, qty)
}

// GetStock lists the balances of a party.
func GetStock(ctx context.Context, db *gorm.DB, partyId string) ([]StockBalance, error) {
	var rows []StockBalance
	err := db.WithContext(ctx).
		Where("party_id = ?", partyId).
		Order("bucket").Order("commodity").
		Find(&rows).Error
	return rows, err
}

// GetBalance returns the current amount, zero when the row does not exist.
func GetBalance(ctx context.Context, db *gorm.DB, partyId string, commodity string, bucket Bucket) (decimal.Decimal, error) {
	row, err := readStockRow(db.WithContext(ctx), stockKey{PartyId: partyId, Commodity: commodity, Bucket: bucket.OrRaw()})
	if err != nil {
		return decimal.Zero, err
	}
	if row == nil {
		return decimal.Zero, nil
	}
	return row.Amount, nil
}
