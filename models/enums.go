package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Role is the business role of a party. It fixes the id prefix and the registration schema.
type Role string

const (
	RoleFarmer       Role = "Farmer"
	RoleCollector    Role = "Collector"
	RoleMiller       Role = "Miller"
	RoleWholesaler   Role = "Wholesaler"
	RoleRetailer     Role = "Retailer"
	RoleBrewer       Role = "Brewer"
	RoleAnimalFoodCo Role = "AnimalFoodCo"
	RoleExporter     Role = "Exporter"
	RolePMB          Role = "PMB"
)

// PMBPartyId is the fixed id of the single government party.
const PMBPartyId = "PMB"

var rolePrefixes = map[Role]string{
	RoleFarmer:       "FAR",
	RoleCollector:    "COL",
	RoleMiller:       "MIL",
	RoleWholesaler:   "WHO",
	RoleRetailer:     "RET",
	RoleBrewer:       "BER",
	RoleAnimalFoodCo: "ANI",
	RoleExporter:     "EXP",
	RolePMB:          PMBPartyId,
}

// older clients send these spellings
var roleAliases = map[string]Role{
	"collecter":   RoleCollector,
	"beer":        RoleBrewer,
	"animal food": RoleAnimalFoodCo,
	"animalfood":  RoleAnimalFoodCo,
}

func AllRoles() []Role {
	return []Role{RoleFarmer, RoleCollector, RoleMiller, RoleWholesaler, RoleRetailer, RoleBrewer, RoleAnimalFoodCo, RoleExporter, RolePMB}
}

func (r Role) IsValid() bool {
	_, ok := rolePrefixes[r]
	return ok
}

func (r Role) Prefix() string {
	return rolePrefixes[r]
}

// IsOriginProducer marks roles whose outgoing goods are fresh supply rather than tracked inventory.
func (r Role) IsOriginProducer() bool {
	return r == RoleFarmer
}

// AcceptsInitialStock is false for roles that never start with stock on registration.
func (r Role) AcceptsInitialStock() bool {
	return r != RoleFarmer && r != RolePMB
}

// ParseRole is case-insensitive and accepts the legacy spellings.
func ParseRole(s string) (Role, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, r := range AllRoles() {
		if strings.ToLower(string(r)) == key {
			return r, nil
		}
	}
	if r, ok := roleAliases[key]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidDraft, s)
}

// FormatPartyId renders <prefix><sequence>.
func FormatPartyId(role Role, seq int64) string {
	if role == RolePMB {
		return PMBPartyId
	}
	return role.Prefix() + strconv.FormatInt(seq, 10)
}

// ParsePartyId splits an id into its role and sequence. PMB yields sequence 0.
func ParsePartyId(id string) (Role, int64, bool) {
	id = strings.TrimSpace(id)
	if strings.EqualFold(id, PMBPartyId) {
		return RolePMB, 0, true
	}
	if len(id) <= 3 {
		return "", 0, false
	}
	prefix, digits := strings.ToUpper(id[:3]), id[3:]
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || seq <= 0 {
		return "", 0, false
	}
	for r, p := range rolePrefixes {
		if p == prefix && r != RolePMB {
			return r, seq, true
		}
	}
	return "", 0, false
}

// Bucket separates raw paddy from milled output for the same commodity.
type Bucket string

const (
	BucketRaw    Bucket = "raw"
	BucketMilled Bucket = "milled"
)

func (b Bucket) IsValid() bool {
	return b == BucketRaw || b == BucketMilled
}

// OrRaw defaults an empty bucket to raw.
func (b Bucket) OrRaw() Bucket {
	if b == "" {
		return BucketRaw
	}
	return b
}
