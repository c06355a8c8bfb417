package eth

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/paddyledger/paddy_backend/ledger"
)

//go:embed abi/UserAccounts.json
var accountsABI []byte

//go:embed abi/Operations.json
var operationsABI []byte

// LoadABI parses the ABI at path, or the embedded contract ABI of network when path is empty.
func LoadABI(network ledger.Network, path string) (abi.ABI, error) {
	raw := accountsABI
	if network == ledger.NetworkOperations {
		raw = operationsABI
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("read abi %s: %w", path, err)
		}
		raw = b
	}
	return abi.JSON(bytes.NewReader(raw))
}

// Tuple layouts. Field order and names follow the contract structs; abi.ConvertType copies by position.
type farmerTuple struct {
	Id                   string
	Nic                  string
	FullName             string
	HomeAddress          string
	District             string
	ContactNumber        string
	TotalAreaOfPaddyLand *big.Int
}

type collectorTuple struct {
	Id            string
	Nic           string
	FullName      string
	HomeAddress   string
	District      string
	ContactNumber string
}

type millerTuple struct {
	Id                    string
	CompanyRegisterNumber string
	CompanyName           string
	MillerAddress         string
	District              string
	ContactNumber         string
}

type businessTuple struct {
	Id                    string
	Role                  string
	CompanyRegisterNumber string
	CompanyName           string
	BusinessAddress       string
	District              string
	ContactNumber         string
}

type transferTuple struct {
	Ref       string
	From      string
	To        string
	PaddyType string
	Quantity  *big.Int
	Timestamp *big.Int
}

type millingTuple struct {
	Ref            string
	MillerId       string
	PaddyType      string
	InputQuantity  *big.Int
	OutputQuantity *big.Int
	Date           *big.Int
}

type damageTuple struct {
	Ref       string
	PartyId   string
	PaddyType string
	Quantity  *big.Int
	Reason    string
	Date      *big.Int
}

func unix(t time.Time) *big.Int {
	if t.IsZero() {
		t = time.Now()
	}
	return big.NewInt(t.Unix())
}

func fromUnix(v *big.Int) time.Time {
	if v == nil {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

// encodeArgs lays a record out as the write method's positional arguments.
func encodeArgs(r ledger.Record) ([]interface{}, error) {
	switch v := r.(type) {
	case ledger.PartyRecord:
		switch v.Kind {
		case ledger.KindFarmer:
			return []interface{}{v.ID, v.Nic, v.FullName, v.Address, v.District, v.ContactNumber, ledger.ToUnits(v.TotalAreaOfPaddyLand)}, nil
		case ledger.KindCollector:
			return []interface{}{v.ID, v.Nic, v.FullName, v.Address, v.District, v.ContactNumber}, nil
		case ledger.KindMiller:
			return []interface{}{v.ID, v.CompanyRegisterNumber, v.CompanyName, v.Address, v.District, v.ContactNumber}, nil
		case ledger.KindBusiness:
			return []interface{}{v.ID, v.Role, v.CompanyRegisterNumber, v.CompanyName, v.Address, v.District, v.ContactNumber}, nil
		}
	case ledger.TransferRecord:
		return []interface{}{v.Ref, v.From, v.To, v.Commodity, ledger.ToUnits(v.Quantity), unix(v.Timestamp)}, nil
	case ledger.MillingEntry:
		return []interface{}{v.Ref, v.MillerID, v.Commodity, ledger.ToUnits(v.InputQuantity), ledger.ToUnits(v.OutputQuantity), unix(v.Date)}, nil
	case ledger.DamageEntry:
		return []interface{}{v.Ref, v.PartyID, v.Commodity, ledger.ToUnits(v.Quantity), v.Reason, unix(v.Date)}, nil
	}
	return nil, fmt.Errorf("%w: no encoding for %T kind %q", ledger.ErrUnsupported, r, r.RecordKind())
}

// decodeRecord converts one unpacked tuple into a record of kind.
func decodeRecord(kind ledger.EntityKind, v interface{}) (rec ledger.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode %s: %v", kind, r)
		}
	}()

	switch kind {
	case ledger.KindFarmer:
		t := abi.ConvertType(v, new(farmerTuple)).(*farmerTuple)
		return ledger.PartyRecord{Kind: kind, ID: t.Id, Role: string(kind), Nic: t.Nic, FullName: t.FullName,
			Address: t.HomeAddress, District: t.District, ContactNumber: t.ContactNumber,
			TotalAreaOfPaddyLand: ledger.FromUnits(t.TotalAreaOfPaddyLand)}, nil
	case ledger.KindCollector:
		t := abi.ConvertType(v, new(collectorTuple)).(*collectorTuple)
		return ledger.PartyRecord{Kind: kind, ID: t.Id, Role: string(kind), Nic: t.Nic, FullName: t.FullName,
			Address: t.HomeAddress, District: t.District, ContactNumber: t.ContactNumber}, nil
	case ledger.KindMiller:
		t := abi.ConvertType(v, new(millerTuple)).(*millerTuple)
		return ledger.PartyRecord{Kind: kind, ID: t.Id, Role: string(kind), CompanyRegisterNumber: t.CompanyRegisterNumber,
			CompanyName: t.CompanyName, Address: t.MillerAddress, District: t.District, ContactNumber: t.ContactNumber}, nil
	case ledger.KindBusiness:
		t := abi.ConvertType(v, new(businessTuple)).(*businessTuple)
		return ledger.PartyRecord{Kind: kind, ID: t.Id, Role: t.Role, CompanyRegisterNumber: t.CompanyRegisterNumber,
			CompanyName: t.CompanyName, Address: t.BusinessAddress, District: t.District, ContactNumber: t.ContactNumber}, nil
	case ledger.KindTransaction, ledger.KindRiceTransaction:
		t := abi.ConvertType(v, new(transferTuple)).(*transferTuple)
		return ledger.TransferRecord{Kind: kind, Ref: t.Ref, From: t.From, To: t.To, Commodity: t.PaddyType,
			Quantity: ledger.FromUnits(t.Quantity), Timestamp: fromUnix(t.Timestamp)}, nil
	case ledger.KindMilling:
		t := abi.ConvertType(v, new(millingTuple)).(*millingTuple)
		return ledger.MillingEntry{Ref: t.Ref, MillerID: t.MillerId, Commodity: t.PaddyType,
			InputQuantity: ledger.FromUnits(t.InputQuantity), OutputQuantity: ledger.FromUnits(t.OutputQuantity),
			Date: fromUnix(t.Date)}, nil
	case ledger.KindDamage, ledger.KindRiceDamage:
		t := abi.ConvertType(v, new(damageTuple)).(*damageTuple)
		return ledger.DamageEntry{Kind: kind, Ref: t.Ref, PartyID: t.PartyId, Commodity: t.PaddyType,
			Quantity: ledger.FromUnits(t.Quantity), Reason: t.Reason, Date: fromUnix(t.Date)}, nil
	}
	return nil, fmt.Errorf("%w: kind %q", ledger.ErrUnsupported, kind)
}

// decodeRecords walks an unpacked tuple[].
func decodeRecords(kind ledger.EntityKind, v interface{}) ([]ledger.Record, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("decode %s: expected tuple array, got %T", kind, v)
	}
	out := make([]ledger.Record, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		rec, err := decodeRecord(kind, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var stringArgs = func() abi.Arguments {
	t, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "id", Type: t}}
}()

// decodeEventID reads the single non-indexed string carried in an event's data.
func decodeEventID(data []byte) (string, error) {
	vals, err := stringArgs.Unpack(data)
	if err != nil {
		return "", err
	}
	if len(vals) != 1 {
		return "", fmt.Errorf("event data: expected 1 value, got %d", len(vals))
	}
	id, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("event data: expected string, got %T", vals[0])
	}
	return id, nil
}
