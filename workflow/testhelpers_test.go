package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:wf_%s?mode=memory&cache=shared", name)
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

	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCoordinator(t *testing.T, db *gorm.DB, mem *ledger.Memory, mode config.LedgerMode, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithMode(mode), WithLogger(quietLogger())}, opts...)
	var client ledger.Client
	if mem != nil {
		client = mem
	}
	c := NewCoordinator(db, client, opts...)
	t.Cleanup(c.Wait)
	return c
}

func newTestReader(db *gorm.DB, mem *ledger.Memory, opts ...ReaderOption) *Reader {
	opts = append([]ReaderOption{WithReaderLogger(quietLogger())}, opts...)
	return NewReader(db, mem, opts...)
}

func contact(district string) models.ContactInfo {
	return models.ContactInfo{Address: "12 Main Street", District: district, ContactNumber: "0771234567"}
}

func farmerDraft(nic string) models.FarmerRegistration {
	return models.FarmerRegistration{
		Nic:                  nic,
		FullName:             "Farmer " + nic,
		TotalAreaOfPaddyLand: decimal.RequireFromString("2.5"),
		ContactInfo:          contact("Polonnaruwa"),
	}
}

func collectorDraft(nic string, stock ...models.StockItem) models.CollectorRegistration {
	return models.CollectorRegistration{
		Nic:          nic,
		FullName:     "Collector " + nic,
		InitialStock: stock,
		ContactInfo:  contact("Anuradhapura"),
	}
}

func companyDraft(role models.Role, reg string) models.CompanyRegistration {
	return models.CompanyRegistration{
		Role:                  role,
		CompanyRegisterNumber: reg,
		CompanyName:           "Company " + reg,
		ContactInfo:           contact("Ampara"),
	}
}

func mustRegister(t *testing.T, c *Coordinator, draft models.PartyDraft) *models.Party {
	t.Helper()
	p, err := c.RegisterAndMirror(context.Background(), draft)
	if err != nil {
		t.Fatalf("register %s: %v", draft.PartyRole(), err)
	}
	return p
}

func mustBalance(t *testing.T, db *gorm.DB, partyId, commodity string, bucket models.Bucket) decimal.Decimal {
	t.Helper()
	amt, err := models.GetBalance(context.Background(), db, partyId, commodity, bucket)
	if err != nil {
		t.Fatalf("balance %s: %v", partyId, err)
	}
	return amt
}

func mirrorState(t *testing.T, db *gorm.DB, ref string) string {
	t.Helper()
	m, err := models.GetLedgerMirror(context.Background(), db, ref)
	if err != nil {
		t.Fatalf("mirror %s: %v", ref, err)
	}
	return m.State
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, where ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// recordingNotifier keeps every notice it is handed.
type recordingNotifier struct {
	notices []DriftNotice
}

func (r *recordingNotifier) Notify(ctx context.Context, n DriftNotice) error {
	r.notices = append(r.notices, n)
	return nil
}
