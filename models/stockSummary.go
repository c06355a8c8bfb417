package models

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StockTotal struct {
	Commodity string          `json:"commodity"`
	Bucket    Bucket          `json:"bucket"`
	District  string          `json:"district,omitempty"`
	Total     decimal.Decimal `json:"total"`
	Holders   int64           `json:"holders"`
}

// SummarizeStock totals balances per commodity and bucket, optionally per district.
func SummarizeStock(ctx context.Context, db *gorm.DB, byDistrict bool) ([]StockTotal, error) {
	var rows []StockTotal
	q := db.WithContext(ctx).Table("stock_balances AS s").
		Where("s.amount > 0")
	if byDistrict {
		q = q.Select("s.commodity, s.bucket, p.district, SUM(s.amount) AS total, COUNT(*) AS holders").
			Joins("JOIN parties p ON p.id = s.party_id").
			Group("s.commodity, s.bucket, p.district").
			Order("p.district").Order("s.commodity").Order("s.bucket")
	} else {
		q = q.Select("s.commodity, s.bucket, SUM(s.amount) AS total, COUNT(*) AS holders").
			Group("s.commodity, s.bucket").
			Order("s.commodity").Order("s.bucket")
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PartyStats counts registered parties. ByRole carries every role, zero when none are registered.
type PartyStats struct {
	Total  int64          `json:"total"`
	ByRole map[Role]int64 `json:"by_role"`
}

func EmptyPartyStats() PartyStats {
	s := PartyStats{ByRole: make(map[Role]int64, len(AllRoles()))}
	for _, r := range AllRoles() {
		s.ByRole[r] = 0
	}
	return s
}

func CountPartiesByRole(ctx context.Context, db *gorm.DB) (PartyStats, error) {
	var rows []struct {
		Role Role
		N    int64
	}
	err := db.WithContext(ctx).Model(&Party{}).
		Select("role, COUNT(*) AS n").
		Group("role").
		Scan(&rows).Error
	if err != nil {
		return PartyStats{}, err
	}
	stats := EmptyPartyStats()
	for _, r := range rows {
		stats.ByRole[r.Role] += r.N
		stats.Total += r.N
	}
	return stats, nil
}
