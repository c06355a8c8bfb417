package models

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStockScenario_FarmerToCollectorToMiller(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mustParty(t, db, "FAR1", RoleFarmer)
	mustParty(t, db, "COL1", RoleCollector)
	mustParty(t, db, "MIL1", RoleMiller)

	// farmer output is fresh supply: no balance needed
	if _, err := Transfer(ctx, db, TransferInput{FromPartyId: "FAR1", ToPartyId: "COL1", Commodity: "Paddy", Quantity: d(100)}); err != nil {
		t.Fatalf("FAR1 -> COL1: %v", err)
	}
	if got := mustBalance(t, db, "COL1", "Paddy", BucketRaw); !got.Equal(d(100)) {
		t.Fatalf("COL1 expected 100, got %s", got)
	}

	if _, err := Transfer(ctx, db, TransferInput{FromPartyId: "COL1", ToPartyId: "MIL1", Commodity: "Paddy", Quantity: d(40)}); err != nil {
		t.Fatalf("COL1 -> MIL1: %v", err)
	}
	if got := mustBalance(t, db, "COL1", "Paddy", BucketRaw); !got.Equal(d(60)) {
		t.Fatalf("COL1 expected 60, got %s", got)
	}
	if got := mustBalance(t, db, "MIL1", "Paddy", BucketRaw); !got.Equal(d(40)) {
		t.Fatalf("MIL1 expected 40, got %s", got)
	}

	rec, err := Mill(ctx, db, MillInput{MillerId: "MIL1", Commodity: "Paddy", InputQuantity: d(40), OutputQuantity: d(25)})
	if err != nil {
		t.Fatalf("mill: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected milling record id")
	}
	if got := mustBalance(t, db, "MIL1", "Paddy", BucketRaw); !got.IsZero() {
		t.Fatalf("MIL1 raw expected 0, got %s", got)
	}
	if got := mustBalance(t, db, "MIL1", "Paddy", BucketMilled); !got.Equal(d(25)) {
		t.Fatalf("MIL1 milled expected 25, got %s", got)
	}

	_, err = Transfer(ctx, db, TransferInput{FromPartyId: "MIL1", ToPartyId: "COL1", Commodity: "Paddy", Quantity: d(30)})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := mustBalance(t, db, "COL1", "Paddy", BucketRaw); !got.Equal(d(60)) {
		t.Fatalf("failed transfer must not credit: COL1 %s", got)
	}

	var txCount int64
	db.Model(&Transaction{}).Count(&txCount)
	if txCount != 2 {
		t.Fatalf("expected 2 transaction rows, got %d", txCount)
	}
	var farmerRows int64
	db.Model(&StockBalance{}).Where("party_id = ?", "FAR1").Count(&farmerRows)
	if farmerRows != 0 {
		t.Fatalf("farmer balance must not be tracked, got %d rows", farmerRows)
	}
}

func TestRecordDamage_InsufficientThenExact(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mustParty(t, db, "FAR1", RoleFarmer)
	mustParty(t, db, "COL1", RoleCollector)
	if _, err := Transfer(ctx, db, TransferInput{FromPartyId: "FAR1", ToPartyId: "COL1", Commodity: "Paddy", Quantity: d(60)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	date := time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC)
	_, err := RecordDamage(ctx, db, DamageInput{PartyId: "COL1", Commodity: "Paddy", Quantity: d(1000), Reason: "flood", When: date})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := mustBalance(t, db, "COL1", "Paddy", BucketRaw); !got.Equal(d(60)) {
		t.Fatalf("balance must be untouched, got %s", got)
	}

	rec, err := RecordDamage(ctx, db, DamageInput{PartyId: "COL1", Commodity: "Paddy", Quantity: d(60), Reason: "flood", When: date})
	if err != nil {
		t.Fatalf("damage 60: %v", err)
	}
	if rec.Reason != "flood" || !rec.DamagedAt.Equal(date) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if got := mustBalance(t, db, "COL1", "Paddy", BucketRaw); !got.IsZero() {
		t.Fatalf("expected 0, got %s", got)
	}

	_, err = RecordDamage(ctx, db, DamageInput{PartyId: "COL1", Commodity: "Paddy", Quantity: d(0), Reason: "flood"})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestTransfer_Validation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mustParty(t, db, "FAR1", RoleFarmer)
	mustParty(t, db, "COL1", RoleCollector)
	mustParty(t, db, "WHO1", RoleWholesaler)

	cases := []struct {
		name string
		in   TransferInput
		want error
	}{
		{"zero quantity", TransferInput{FromPartyId: "FAR1", ToPartyId: "COL1", Commodity: "Paddy", Quantity: d(0)}, ErrInvalidQuantity},
		{"negative quantity", TransferInput{FromPartyId: "FAR1", ToPartyId: "COL1", Commodity: "Paddy", Quantity: d(-5)}, ErrInvalidQuantity},
		{"past column scale", TransferInput{FromPartyId: "FAR1", ToPartyId: "COL1", Commodity: "Paddy", Quantity: decimal.RequireFromString("0.00006")}, ErrInvalidQuantity},
		{"past column width", TransferInput{FromPartyId: "FAR1", ToPartyId: "COL1", Commodity: "Paddy", Quantity: decimal.New(1, 17)}, ErrInvalidQuantity},
		{"same party", TransferInput{FromPartyId: "COL1", ToPartyId: "COL1", Commodity: "Paddy", Quantity: d(1)}, ErrInvalidTransfer},
		{"missing commodity", TransferInput{FromPartyId: "FAR1", ToPartyId: "COL1", Quantity: d(1)}, ErrInvalidTransfer},
		{"bad bucket", TransferInput{FromPartyId: "FAR1", ToPartyId: "COL1", Commodity: "Paddy", Bucket: "husk", Quantity: d(1)}, ErrInvalidTransfer},
		{"unknown sender", TransferInput{FromPartyId: "FAR9", ToPartyId: "COL1", Commodity: "Paddy", Quantity: d(1)}, ErrNotFound},
		{"unknown recipient", TransferInput{FromPartyId: "FAR1", ToPartyId: "COL9", Commodity: "Paddy", Quantity: d(1)}, ErrNotFound},
		{"empty sender stock", TransferInput{FromPartyId: "COL1", ToPartyId: "WHO1", Commodity: "Paddy", Quantity: d(1)}, ErrInsufficientStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := PrecheckTransfer(ctx, db, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("precheck: expected %v, got %v", tc.want, err)
			}
			if _, err := Transfer(ctx, db, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("transfer: expected %v, got %v", tc.want, err)
			}
		})
	}

	var rows int64
	db.Model(&Transaction{}).Count(&rows)
	if rows != 0 {
		t.Fatalf("rejected transfers must not write, got %d rows", rows)
	}
}

func TestTransfer_MilledBucket(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mustParty(t, db, "FAR1", RoleFarmer)
	mustParty(t, db, "MIL1", RoleMiller)
	mustParty(t, db, "RET1", RoleRetailer)

	if _, err := Transfer(ctx, db, TransferInput{FromPartyId: "FAR1", ToPartyId: "MIL1", Commodity: "Samba", Quantity: d(10)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := Mill(ctx, db, MillInput{MillerId: "MIL1", Commodity: "Samba", InputQuantity: d(10), OutputQuantity: d(7)}); err != nil {
		t.Fatalf("mill: %v", err)
	}
	if _, err := Transfer(ctx, db, TransferInput{FromPartyId: "MIL1", ToPartyId: "RET1", Commodity: "Samba", Bucket: BucketMilled, Quantity: d(5)}); err != nil {
		t.Fatalf("rice transfer: %v", err)
	}
	if got := mustBalance(t, db, "RET1", "Samba", BucketMilled); !got.Equal(d(5)) {
		t.Fatalf("RET1 milled expected 5, got %s", got)
	}
	if got := mustBalance(t, db, "RET1", "Samba", BucketRaw); !got.IsZero() {
		t.Fatalf("RET1 raw expected 0, got %s", got)
	}
	if _, err := RecordDamage(ctx, db, DamageInput{PartyId: "MIL1", Commodity: "Samba", Bucket: BucketMilled, Quantity: d(2), Reason: "rats"}); err != nil {
		t.Fatalf("rice damage: %v", err)
	}
	if got := mustBalance(t, db, "MIL1", "Samba", BucketMilled); !got.IsZero() {
		t.Fatalf("MIL1 milled expected 0, got %s", got)
	}
}

func TestMill_RequiresMillerRole(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mustParty(t, db, "COL1", RoleCollector)

	_, err := Mill(ctx, db, MillInput{MillerId: "COL1", Commodity: "Paddy", InputQuantity: d(1), OutputQuantity: d(1)})
	if !errors.Is(err, ErrRoleNotPermitted) {
		t.Fatalf("expected ErrRoleNotPermitted, got %v", err)
	}
	_, err = Mill(ctx, db, MillInput{MillerId: "MIL7", Commodity: "Paddy", InputQuantity: d(1), OutputQuantity: d(1)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMill_ConversionProperty(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mustParty(t, db, "FAR1", RoleFarmer)
	mustParty(t, db, "MIL1", RoleMiller)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 60; i++ {
		available := mustBalance(t, db, "MIL1", "Paddy", BucketRaw)
		if available.LessThan(d(50)) {
			if _, err := Transfer(ctx, db, TransferInput{FromPartyId: "FAR1", ToPartyId: "MIL1", Commodity: "Paddy", Quantity: d(200)}); err != nil {
				t.Fatalf("top up: %v", err)
			}
			available = mustBalance(t, db, "MIL1", "Paddy", BucketRaw)
		}
		milledBefore := mustBalance(t, db, "MIL1", "Paddy", BucketMilled)

		qtyIn := d(rng.Int63n(50))
		qtyOut := d(rng.Int63n(60))
		_, err := Mill(ctx, db, MillInput{MillerId: "MIL1", Commodity: "Paddy", InputQuantity: qtyIn, OutputQuantity: qtyOut})

		rawAfter := mustBalance(t, db, "MIL1", "Paddy", BucketRaw)
		milledAfter := mustBalance(t, db, "MIL1", "Paddy", BucketMilled)
		if qtyOut.GreaterThan(qtyIn) {
			if !errors.Is(err, ErrInvalidConversion) {
				t.Fatalf("in=%s out=%s: expected ErrInvalidConversion, got %v", qtyIn, qtyOut, err)
			}
			if !rawAfter.Equal(available) || !milledAfter.Equal(milledBefore) {
				t.Fatalf("rejected milling changed balances")
			}
			continue
		}
		if err != nil {
			t.Fatalf("in=%s out=%s: unexpected error %v", qtyIn, qtyOut, err)
		}
		if !rawAfter.Equal(available.Sub(qtyIn)) {
			t.Fatalf("raw expected %s, got %s", available.Sub(qtyIn), rawAfter)
		}
		if !milledAfter.Equal(milledBefore.Add(qtyOut)) {
			t.Fatalf("milled expected %s, got %s", milledBefore.Add(qtyOut), milledAfter)
		}
	}

	_, err := Mill(ctx, db, MillInput{MillerId: "MIL1", Commodity: "Paddy", InputQuantity: d(100000), OutputQuantity: d(1)})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

// Random operation sequences never leave a negative balance and always match a shadow ledger.
func TestRandomOperations_BalancesNeverNegative(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	ids := []string{"FAR1", "COL1", "COL2", "MIL1", "WHO1"}
	roles := map[string]Role{"FAR1": RoleFarmer, "COL1": RoleCollector, "COL2": RoleCollector, "MIL1": RoleMiller, "WHO1": RoleWholesaler}
	for _, id := range ids {
		mustParty(t, db, id, roles[id])
	}
	commodities := []string{"Paddy", "Samba"}
	shadow := map[stockKey]decimal.Decimal{}

	rng := rand.New(rand.NewSource(42))
	for step := 0; step < 300; step++ {
		commodity := commodities[rng.Intn(len(commodities))]
		qty := d(rng.Int63n(40))
		switch rng.Intn(3) {
		case 0:
			from, to := ids[rng.Intn(len(ids))], ids[rng.Intn(len(ids))]
			bucket := BucketRaw
			if rng.Intn(4) == 0 {
				bucket = BucketMilled
			}
			_, err := Transfer(ctx, db, TransferInput{FromPartyId: from, ToPartyId: to, Commodity: commodity, Bucket: bucket, Quantity: qty})
			if err == nil {
				if roles[from] != RoleFarmer {
					k := stockKey{from, commodity, bucket}
					shadow[k] = shadow[k].Sub(qty)
				}
				k := stockKey{to, commodity, bucket}
				shadow[k] = shadow[k].Add(qty)
			} else if !IsValidationError(err) && !errors.Is(err, ErrNotFound) {
				t.Fatalf("step %d transfer: %v", step, err)
			}
		case 1:
			out := d(rng.Int63n(45))
			_, err := Mill(ctx, db, MillInput{MillerId: "MIL1", Commodity: commodity, InputQuantity: qty, OutputQuantity: out})
			if err == nil {
				in := stockKey{"MIL1", commodity, BucketRaw}
				o := stockKey{"MIL1", commodity, BucketMilled}
				shadow[in] = shadow[in].Sub(qty)
				shadow[o] = shadow[o].Add(out)
			} else if !IsValidationError(err) {
				t.Fatalf("step %d mill: %v", step, err)
			}
		case 2:
			party := ids[rng.Intn(len(ids))]
			_, err := RecordDamage(ctx, db, DamageInput{PartyId: party, Commodity: commodity, Quantity: qty, Reason: "spoilage"})
			if err == nil {
				k := stockKey{party, commodity, BucketRaw}
				shadow[k] = shadow[k].Sub(qty)
			} else if !IsValidationError(err) {
				t.Fatalf("step %d damage: %v", step, err)
			}
		}

		var rows []StockBalance
		if err := db.Find(&rows).Error; err != nil {
			t.Fatalf("load balances: %v", err)
		}
		for _, r := range rows {
			if r.Amount.IsNegative() {
				t.Fatalf("step %d: negative balance %s/%s/%s = %s", step, r.PartyId, r.Commodity, r.Bucket, r.Amount)
			}
			k := stockKey{r.PartyId, r.Commodity, r.Bucket}
			if !r.Amount.Equal(shadow[k]) {
				t.Fatalf("step %d: %v expected %s, got %s", step, k, shadow[k], r.Amount)
			}
		}
	}
}

func TestPrecheck_DoesNotWrite(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mustParty(t, db, "FAR1", RoleFarmer)
	mustParty(t, db, "COL1", RoleCollector)

	if err := PrecheckTransfer(ctx, db, TransferInput{FromPartyId: "FAR1", ToPartyId: "COL1", Commodity: "Paddy", Quantity: d(5)}); err != nil {
		t.Fatalf("precheck: %v", err)
	}
	if err := PrecheckDamage(ctx, db, DamageInput{PartyId: "COL1", Commodity: "Paddy", Quantity: d(5)}); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if err := PrecheckMill(ctx, db, MillInput{MillerId: "COL1", Commodity: "Paddy", InputQuantity: d(2), OutputQuantity: d(3)}); !errors.Is(err, ErrInvalidConversion) {
		t.Fatalf("expected ErrInvalidConversion, got %v", err)
	}
	var rows int64
	db.Model(&StockBalance{}).Count(&rows)
	if rows != 0 {
		t.Fatalf("precheck wrote %d stock rows", rows)
	}
}

func TestSummarizeStock(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mustParty(t, db, "FAR1", RoleFarmer)
	mustParty(t, db, "COL1", RoleCollector)
	mustParty(t, db, "COL2", RoleCollector)
	for _, to := range []string{"COL1", "COL2"} {
		if _, err := Transfer(ctx, db, TransferInput{FromPartyId: "FAR1", ToPartyId: to, Commodity: "Paddy", Quantity: d(10)}); err != nil {
			t.Fatalf("seed %s: %v", to, err)
		}
	}
	totals, err := SummarizeStock(ctx, db, false)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(totals) != 1 || !totals[0].Total.Equal(d(20)) || totals[0].Holders != 2 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	byDistrict, err := SummarizeStock(ctx, db, true)
	if err != nil {
		t.Fatalf("summarize by district: %v", err)
	}
	if len(byDistrict) != 1 || byDistrict[0].District != "Polonnaruwa" {
		t.Fatalf("unexpected district totals: %+v", byDistrict)
	}
}

func TestCheckQuantity(t *testing.T) {
	ok := []string{"0", "0.0001", "1.5", "9999999999999999.9999", "-3.25"}
	for _, v := range ok {
		if err := CheckQuantity(decimal.RequireFromString(v)); err != nil {
			t.Fatalf("%s: unexpected error %v", v, err)
		}
	}
	bad := []string{"0.00006", "1.23456", "10000000000000000", "100000000000000000"}
	for _, v := range bad {
		if err := CheckQuantity(decimal.RequireFromString(v)); !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("%s: expected ErrInvalidQuantity, got %v", v, err)
		}
	}
}

func TestMillAndDamage_RejectUnstorableQuantities(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mustParty(t, db, "MIL1", RoleMiller)

	mill := MillInput{MillerId: "MIL1", Commodity: "Nadu", InputQuantity: decimal.RequireFromString("1.00005"), OutputQuantity: d(1)}
	if _, err := Mill(ctx, db, mill); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("mill: expected ErrInvalidQuantity, got %v", err)
	}
	dmg := DamageInput{PartyId: "MIL1", Commodity: "Nadu", Quantity: decimal.New(5, 16), Reason: "flood"}
	if _, err := RecordDamage(ctx, db, dmg); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("damage: expected ErrInvalidQuantity, got %v", err)
	}
}

func TestCountPartiesByRole(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	stats, err := CountPartiesByRole(ctx, db)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if stats.Total != 0 || len(stats.ByRole) != len(AllRoles()) {
		t.Fatalf("empty store must report every role at zero, got %+v", stats)
	}

	mustParty(t, db, "FAR1", RoleFarmer)
	mustParty(t, db, "FAR2", RoleFarmer)
	mustParty(t, db, "COL1", RoleCollector)
	mustParty(t, db, "MIL1", RoleMiller)
	stats, err = CountPartiesByRole(ctx, db)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if stats.Total != 4 || stats.ByRole[RoleFarmer] != 2 || stats.ByRole[RoleCollector] != 1 || stats.ByRole[RoleMiller] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if n, ok := stats.ByRole[RoleExporter]; !ok || n != 0 {
		t.Fatalf("roles without parties must read zero, got %v %v", n, ok)
	}
}
