package workflow

import (
	"fmt"

	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/shopspring/decimal"
)

// KindForRole maps a party role to the ledger kind it is registered under.
// Every company role other than Miller, and the PMB, is a Business.
func KindForRole(role models.Role) ledger.EntityKind {
	switch role {
	case models.RoleFarmer:
		return ledger.KindFarmer
	case models.RoleCollector:
		return ledger.KindCollector
	case models.RoleMiller:
		return ledger.KindMiller
	}
	return ledger.KindBusiness
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func partyRecord(p models.Party) ledger.PartyRecord {
	return ledger.PartyRecord{
		Kind:                  KindForRole(p.Role),
		ID:                    p.ID,
		Role:                  string(p.Role),
		Nic:                   deref(p.Nic),
		FullName:              deref(p.FullName),
		CompanyRegisterNumber: deref(p.CompanyRegisterNumber),
		CompanyName:           deref(p.CompanyName),
		Address:               p.Address,
		District:              p.District,
		ContactNumber:         p.ContactNumber,
		TotalAreaOfPaddyLand:  p.TotalAreaOfPaddyLand,
	}
}

func transferKind(b models.Bucket) ledger.EntityKind {
	if b.OrRaw() == models.BucketMilled {
		return ledger.KindRiceTransaction
	}
	return ledger.KindTransaction
}

func damageKind(b models.Bucket) ledger.EntityKind {
	if b.OrRaw() == models.BucketMilled {
		return ledger.KindRiceDamage
	}
	return ledger.KindDamage
}

// fitsLedgerScale rejects quantities the ledger would truncate.
func fitsLedgerScale(field string, q decimal.Decimal) error {
	if !q.Equal(q.Truncate(ledger.QuantityDecimals)) {
		return &models.DraftError{Fields: map[string]string{field: fmt.Sprintf("max %d decimals", ledger.QuantityDecimals)}}
	}
	return nil
}
