package models

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mustParty(t *testing.T, db *gorm.DB, id string, role Role) *Party {
	t.Helper()
	name := "party " + id
	p := &Party{ID: id, Role: role, FullName: &name, District: "Polonnaruwa"}
	if err := CreateParty(context.Background(), db, p, nil); err != nil {
		t.Fatalf("create party %s: %v", id, err)
	}
	return p
}

func mustBalance(t *testing.T, db *gorm.DB, partyId, commodity string, bucket Bucket) decimal.Decimal {
	t.Helper()
	amt, err := GetBalance(context.Background(), db, partyId, commodity, bucket)
	if err != nil {
		t.Fatalf("balance %s/%s/%s: %v", partyId, commodity, bucket, err)
	}
	return amt
}

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
