package ledger

import "strings"

// Network names one of the two independent ledgers.
type Network string

const (
	NetworkAccounts   Network = "accounts"
	NetworkOperations Network = "operations"
)

// EntityKind is a class of records on the ledger.
type EntityKind string

const (
	KindFarmer          EntityKind = "Farmer"
	KindCollector       EntityKind = "Collector"
	KindMiller          EntityKind = "Miller"
	KindBusiness        EntityKind = "Business"
	KindTransaction     EntityKind = "Transaction"
	KindRiceTransaction EntityKind = "RiceTransaction"
	KindMilling         EntityKind = "Milling"
	KindDamage          EntityKind = "Damage"
	KindRiceDamage      EntityKind = "RiceDamage"
)

// KindSpec binds a kind to its network and contract surface.
type KindSpec struct {
	Kind            EntityKind
	Network         Network
	WriteMethod     string
	AggregateMethod string
	GetMethod       string
	EventName       string
}

// EventSignature is the canonical signature; every event carries the entity id as one string.
func (s KindSpec) EventSignature() string {
	return s.EventName + "(string)"
}

var kindSpecs = map[EntityKind]KindSpec{
	KindFarmer:          {KindFarmer, NetworkAccounts, "registerFarmer", "getAllFarmers", "getFarmer", "FarmerRegistered"},
	KindCollector:       {KindCollector, NetworkAccounts, "registerCollector", "getAllCollectors", "getCollector", "CollectorRegistered"},
	KindMiller:          {KindMiller, NetworkAccounts, "registerMiller", "getAllMillers", "getMiller", "MillerRegistered"},
	KindBusiness:        {KindBusiness, NetworkAccounts, "registerBusiness", "getAllBusinesses", "getBusiness", "BusinessRegistered"},
	KindTransaction:     {KindTransaction, NetworkOperations, "recordTransaction", "getAllTransactions", "getTransaction", "TransactionRecorded"},
	KindRiceTransaction: {KindRiceTransaction, NetworkOperations, "recordRiceTransaction", "getAllRiceTransactions", "getRiceTransaction", "RiceTransactionRecorded"},
	KindMilling:         {KindMilling, NetworkOperations, "recordMilling", "getAllMillings", "getMilling", "MillingRecorded"},
	KindDamage:          {KindDamage, NetworkOperations, "recordDamage", "getAllDamages", "getDamage", "DamageRecorded"},
	KindRiceDamage:      {KindRiceDamage, NetworkOperations, "recordRiceDamage", "getAllRiceDamages", "getRiceDamage", "RiceDamageRecorded"},
}

func (k EntityKind) Spec() (KindSpec, bool) {
	s, ok := kindSpecs[k]
	return s, ok
}

func (k EntityKind) Network() Network {
	return kindSpecs[k].Network
}

// IsParty reports kinds held on the accounts ledger.
func (k EntityKind) IsParty() bool {
	return k.Network() == NetworkAccounts
}

func AllKinds() []EntityKind {
	return []EntityKind{
		KindFarmer, KindCollector, KindMiller, KindBusiness,
		KindTransaction, KindRiceTransaction, KindMilling, KindDamage, KindRiceDamage,
	}
}

// ParseKind matches case-insensitively.
func ParseKind(s string) (EntityKind, bool) {
	for _, k := range AllKinds() {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, true
		}
	}
	return "", false
}
