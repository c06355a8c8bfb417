package eth

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/shopspring/decimal"
)

func TestEmbeddedABI_CoversEveryKind(t *testing.T) {
	for _, kind := range ledger.AllKinds() {
		s, _ := kind.Spec()
		parsed, err := LoadABI(s.Network, "")
		if err != nil {
			t.Fatalf("load %s abi: %v", s.Network, err)
		}
		for _, m := range []string{s.WriteMethod, s.AggregateMethod, s.GetMethod} {
			if _, ok := parsed.Methods[m]; !ok {
				t.Fatalf("%s: method %s missing from %s abi", kind, m, s.Network)
			}
		}
		ev, ok := parsed.Events[s.EventName]
		if !ok {
			t.Fatalf("%s: event %s missing", kind, s.EventName)
		}
		if ev.ID != common.Hash(ledger.TopicFor(kind, "")) {
			t.Fatalf("%s: abi event id %s != computed topic %s", kind, ev.ID.Hex(), ledger.TopicFor(kind, "").Hex())
		}
	}
}

func sampleRecords() []ledger.Record {
	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	return []ledger.Record{
		ledger.PartyRecord{Kind: ledger.KindFarmer, ID: "FAR1", Role: "Farmer", Nic: "901234567V", FullName: "Saman Perera",
			Address: "12 Temple Rd", District: "Polonnaruwa", ContactNumber: "+94771234567", TotalAreaOfPaddyLand: decimal.RequireFromString("2.5")},
		ledger.PartyRecord{Kind: ledger.KindCollector, ID: "COL1", Role: "Collector", Nic: "881234567V", FullName: "Nimal Silva",
			Address: "4 Main St", District: "Ampara", ContactNumber: "+94712345678"},
		ledger.PartyRecord{Kind: ledger.KindMiller, ID: "MIL1", Role: "Miller", CompanyRegisterNumber: "PV1234", CompanyName: "Araliya Mills",
			Address: "Mill Rd", District: "Polonnaruwa", ContactNumber: "+94112345678"},
		ledger.PartyRecord{Kind: ledger.KindBusiness, ID: "WHO1", Role: "Wholesaler", CompanyRegisterNumber: "PV99", CompanyName: "Rice Hub",
			Address: "Pettah", District: "Colombo", ContactNumber: "+94113334444"},
		ledger.TransferRecord{Kind: ledger.KindTransaction, Ref: "tx-1", From: "FAR1", To: "COL1", Commodity: "Samba",
			Quantity: decimal.RequireFromString("100.125"), Timestamp: at},
		ledger.TransferRecord{Kind: ledger.KindRiceTransaction, Ref: "tx-2", From: "MIL1", To: "WHO1", Commodity: "Samba",
			Quantity: decimal.NewFromInt(40), Timestamp: at},
		ledger.MillingEntry{Ref: "mill-1", MillerID: "MIL1", Commodity: "Samba",
			InputQuantity: decimal.NewFromInt(50), OutputQuantity: decimal.NewFromInt(40), Date: at},
		ledger.DamageEntry{Kind: ledger.KindDamage, Ref: "dmg-1", PartyID: "COL1", Commodity: "Nadu",
			Quantity: decimal.RequireFromString("3.5"), Reason: "flood", Date: at},
		ledger.DamageEntry{Kind: ledger.KindRiceDamage, Ref: "dmg-2", PartyID: "WHO1", Commodity: "Nadu",
			Quantity: decimal.NewFromInt(1), Reason: "pests", Date: at},
	}
}

func TestCodec_WriteArgumentsRoundTrip(t *testing.T) {
	for _, rec := range sampleRecords() {
		s, _ := rec.RecordKind().Spec()
		parsed, err := LoadABI(s.Network, "")
		if err != nil {
			t.Fatalf("abi: %v", err)
		}
		args, err := encodeArgs(rec)
		if err != nil {
			t.Fatalf("%s: encode: %v", rec.RecordKind(), err)
		}
		data, err := parsed.Pack(s.WriteMethod, args...)
		if err != nil {
			t.Fatalf("%s: pack: %v", rec.RecordKind(), err)
		}
		if len(data) < 4 {
			t.Fatalf("%s: calldata too short", rec.RecordKind())
		}
		vals, err := parsed.Methods[s.WriteMethod].Inputs.Unpack(data[4:])
		if err != nil {
			t.Fatalf("%s: unpack inputs: %v", rec.RecordKind(), err)
		}
		if vals[0].(string) != rec.RecordID() {
			t.Fatalf("%s: first argument %v, want %s", rec.RecordKind(), vals[0], rec.RecordID())
		}
	}
}

func TestCodec_AggregateOutputDecodes(t *testing.T) {
	parsed, err := LoadABI(ledger.NetworkOperations, "")
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	rows := []millingTuple{
		{Ref: "mill-1", MillerId: "MIL1", PaddyType: "Samba", InputQuantity: big.NewInt(50_000), OutputQuantity: big.NewInt(40_000), Date: big.NewInt(1709281800)},
		{Ref: "mill-2", MillerId: "MIL2", PaddyType: "Nadu", InputQuantity: big.NewInt(1_500), OutputQuantity: big.NewInt(0), Date: big.NewInt(1709281900)},
	}
	out, err := parsed.Methods["getAllMillings"].Outputs.Pack(rows)
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	vals, err := parsed.Unpack("getAllMillings", out)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	recs, err := decodeRecords(ledger.KindMilling, vals[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	m := recs[1].(ledger.MillingEntry)
	if m.Ref != "mill-2" || m.MillerID != "MIL2" || !m.InputQuantity.Equal(decimal.RequireFromString("1.5")) || !m.OutputQuantity.IsZero() {
		t.Fatalf("unexpected decoded entry: %+v", m)
	}
	if m.Date.Unix() != 1709281900 {
		t.Fatalf("date: %v", m.Date)
	}
}

func TestCodec_GetOutputDecodesParty(t *testing.T) {
	parsed, err := LoadABI(ledger.NetworkAccounts, "")
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	row := businessTuple{Id: "EXP1", Role: "Exporter", CompanyRegisterNumber: "PV7", CompanyName: "Lanka Export",
		BusinessAddress: "Port", District: "Colombo", ContactNumber: "+94110000000"}
	out, err := parsed.Methods["getBusiness"].Outputs.Pack(row)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	vals, err := parsed.Unpack("getBusiness", out)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	rec, err := decodeRecord(ledger.KindBusiness, vals[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := rec.(ledger.PartyRecord)
	if p.ID != "EXP1" || p.Role != "Exporter" || p.Address != "Port" {
		t.Fatalf("unexpected party: %+v", p)
	}
}

func TestCodec_DecodeMismatchIsError(t *testing.T) {
	if _, err := decodeRecord(ledger.KindFarmer, struct{ X int }{1}); err == nil {
		t.Fatalf("expected decode error for mismatched tuple")
	}
	if _, err := decodeRecords(ledger.KindFarmer, "nope"); err == nil {
		t.Fatalf("expected error for non-slice")
	}
}

func TestDecodeEventID(t *testing.T) {
	data, err := stringArgs.Pack("FAR7")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	id, err := decodeEventID(data)
	if err != nil || id != "FAR7" {
		t.Fatalf("got %q, %v", id, err)
	}
	if _, err := decodeEventID([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short data")
	}
}

func TestIsRevert(t *testing.T) {
	if !isRevert(errors.New("execution reverted: Farmer already exists")) {
		t.Fatalf("revert message not classified")
	}
	if isRevert(errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")) {
		t.Fatalf("connection error classified as revert")
	}
}

func TestNewFromConfig_LocalOnlyIsNoop(t *testing.T) {
	c, err := NewFromConfig(context.Background(), config.LedgerConfig{Mode: config.LedgerModeLocalOnly})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := c.(ledger.Noop); !ok {
		t.Fatalf("expected Noop, got %T", c)
	}
}

func TestDial_RejectsBadContractAddress(t *testing.T) {
	_, err := Dial(context.Background(), ledger.NetworkAccounts, config.LedgerNetwork{RPCURL: "http://127.0.0.1:1", ContractAddress: "not-an-address"}, Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
}
