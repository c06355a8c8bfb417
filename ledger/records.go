package ledger

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// QuantityDecimals is the fixed-point scale of on-chain quantities.
const QuantityDecimals = 3

// Record is one entity as stored on the ledger. Concrete types: PartyRecord,
// TransferRecord, MillingEntry, DamageEntry.
type Record interface {
	RecordKind() EntityKind
	RecordID() string
}

type PartyRecord struct {
	Kind                  EntityKind      `json:"kind"`
	ID                    string          `json:"id"`
	Role                  string          `json:"role"`
	Nic                   string          `json:"nic,omitempty"`
	FullName              string          `json:"full_name,omitempty"`
	CompanyRegisterNumber string          `json:"company_register_number,omitempty"`
	CompanyName           string          `json:"company_name,omitempty"`
	Address               string          `json:"address"`
	District              string          `json:"district"`
	ContactNumber         string          `json:"contact_number"`
	TotalAreaOfPaddyLand  decimal.Decimal `json:"total_area_of_paddy_land"`
}

// TransferRecord covers both KindTransaction and KindRiceTransaction.
type TransferRecord struct {
	Kind      EntityKind      `json:"kind"`
	Ref       string          `json:"ref"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Commodity string          `json:"commodity"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

type MillingEntry struct {
	Ref            string          `json:"ref"`
	MillerID       string          `json:"miller_id"`
	Commodity      string          `json:"commodity"`
	InputQuantity  decimal.Decimal `json:"input_quantity"`
	OutputQuantity decimal.Decimal `json:"output_quantity"`
	Date           time.Time       `json:"date"`
}

// DamageEntry covers both KindDamage and KindRiceDamage.
type DamageEntry struct {
	Kind      EntityKind      `json:"kind"`
	Ref       string          `json:"ref"`
	PartyID   string          `json:"party_id"`
	Commodity string          `json:"commodity"`
	Quantity  decimal.Decimal `json:"quantity"`
	Reason    string          `json:"reason"`
	Date      time.Time       `json:"date"`
}

func (r PartyRecord) RecordKind() EntityKind    { return r.Kind }
func (r PartyRecord) RecordID() string          { return r.ID }
func (r TransferRecord) RecordKind() EntityKind { return r.Kind }
func (r TransferRecord) RecordID() string       { return r.Ref }
func (r MillingEntry) RecordKind() EntityKind   { return KindMilling }
func (r MillingEntry) RecordID() string         { return r.Ref }
func (r DamageEntry) RecordKind() EntityKind    { return r.Kind }
func (r DamageEntry) RecordID() string          { return r.Ref }

// ToUnits converts a quantity to on-chain fixed point, truncating extra decimals.
func ToUnits(q decimal.Decimal) *big.Int {
	return q.Shift(QuantityDecimals).Truncate(0).BigInt()
}

func FromUnits(u *big.Int) decimal.Decimal {
	if u == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(u, -QuantityDecimals)
}

// Columns and Row give a flat tabular view for exports.
func Columns(kind EntityKind) []string {
	switch kind {
	case KindFarmer, KindCollector, KindMiller, KindBusiness:
		return []string{"id", "role", "nic", "full_name", "company_register_number", "company_name", "address", "district", "contact_number", "total_area_of_paddy_land"}
	case KindTransaction, KindRiceTransaction:
		return []string{"ref", "from", "to", "commodity", "quantity", "timestamp"}
	case KindMilling:
		return []string{"ref", "miller_id", "commodity", "input_quantity", "output_quantity", "date"}
	case KindDamage, KindRiceDamage:
		return []string{"ref", "party_id", "commodity", "quantity", "reason", "date"}
	}
	return []string{"id"}
}

func Row(r Record) []string {
	switch v := r.(type) {
	case PartyRecord:
		return []string{v.ID, v.Role, v.Nic, v.FullName, v.CompanyRegisterNumber, v.CompanyName, v.Address, v.District, v.ContactNumber, v.TotalAreaOfPaddyLand.String()}
	case TransferRecord:
		return []string{v.Ref, v.From, v.To, v.Commodity, v.Quantity.String(), v.Timestamp.UTC().Format(time.RFC3339)}
	case MillingEntry:
		return []string{v.Ref, v.MillerID, v.Commodity, v.InputQuantity.String(), v.OutputQuantity.String(), v.Date.UTC().Format(time.RFC3339)}
	case DamageEntry:
		return []string{v.Ref, v.PartyID, v.Commodity, v.Quantity.String(), v.Reason, v.Date.UTC().Format(time.RFC3339)}
	}
	return []string{r.RecordID()}
}
