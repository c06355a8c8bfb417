package workflow

import (
	"context"
	"time"

	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const allRoles = "all"

// Service is the business operation surface shared by the HTTP layer and the CLI.
type Service struct {
	db       *gorm.DB
	coord    *Coordinator
	reader   *Reader
	logger   *logrus.Logger
	cacheTTL time.Duration
}

func NewService(db *gorm.DB, coord *Coordinator, reader *Reader) *Service {
	return &Service{
		db:       db,
		coord:    coord,
		reader:   reader,
		logger:   config.GetLogger(),
		cacheTTL: config.ListingCacheTTL(),
	}
}

func (s *Service) Coordinator() *Coordinator { return s.coord }
func (s *Service) Reader() *Reader           { return s.reader }

// degrade turns a listing failure into an empty result and a warning.
func (s *Service) degrade(funcName string, data any, err error) {
	s.logger.WithFields(logrus.Fields{
		"module":   "service.go",
		"funcName": funcName,
		"data":     data,
	}).WithError(err).Warn("listing failed, returning empty result")
}

func (s *Service) clearPartyCache(role models.Role) {
	if err := utils.RemoveRedisList[models.Party](allRoles, string(role)); err != nil {
		config.LogError(s.logger, "service.go", "clearPartyCache", "Removing party lists", role, err)
	}
}

func (s *Service) RegisterParty(ctx context.Context, draft models.PartyDraft) (*models.Party, error) {
	party, err := s.coord.RegisterAndMirror(ctx, draft)
	if err != nil {
		return nil, err
	}
	s.clearPartyCache(party.Role)
	return party, nil
}

func (s *Service) Transfer(ctx context.Context, in models.TransferInput, ref string) (*OperationResult, error) {
	d := TransferDraft(in)
	d.OperationRef = ref
	return s.coord.RecordAndMirror(ctx, d)
}

func (s *Service) Mill(ctx context.Context, in models.MillInput, ref string) (*OperationResult, error) {
	d := MillingDraft(in)
	d.OperationRef = ref
	return s.coord.RecordAndMirror(ctx, d)
}

func (s *Service) RecordDamage(ctx context.Context, in models.DamageInput, ref string) (*OperationResult, error) {
	d := DamageDraft(in)
	d.OperationRef = ref
	return s.coord.RecordAndMirror(ctx, d)
}

// ListParties lists parties of a role, or all parties when role is empty.
// Results are cached in Redis for ListingCacheTTL.
func (s *Service) ListParties(ctx context.Context, role models.Role) []models.Party {
	scope := string(role)
	if scope == "" {
		scope = allRoles
	}
	if cached, ok, err := utils.RetrieveRedisList[models.Party](scope); err != nil {
		config.LogError(s.logger, "service.go", "ListParties", "Reading party cache", scope, err)
	} else if ok {
		return cached
	}

	parties, err := models.ListParties(ctx, s.db, role)
	if err != nil {
		s.degrade("ListParties", role, err)
		return []models.Party{}
	}
	if err := utils.StoreRedisList(parties, scope, s.cacheTTL); err != nil {
		config.LogError(s.logger, "service.go", "ListParties", "Caching parties", scope, err)
	}
	return parties
}

func (s *Service) GetParty(ctx context.Context, id string) (*models.Party, error) {
	return models.GetParty(ctx, s.db, id)
}

func (s *Service) UpdatePartyContact(ctx context.Context, id string, in models.ContactUpdate) (*models.Party, error) {
	party, err := models.UpdatePartyContact(ctx, s.db, id, in)
	if err != nil {
		return nil, err
	}
	s.clearPartyCache(party.Role)
	return party, nil
}

func (s *Service) ListTransactions(ctx context.Context, f models.HistoryFilter) []models.Transaction {
	rows, err := models.ListTransactions(ctx, s.db, f)
	if err != nil {
		s.degrade("ListTransactions", f, err)
		return []models.Transaction{}
	}
	return rows
}

func (s *Service) ListMilling(ctx context.Context, f models.HistoryFilter) []models.MillingRecord {
	rows, err := models.ListMilling(ctx, s.db, f)
	if err != nil {
		s.degrade("ListMilling", f, err)
		return []models.MillingRecord{}
	}
	return rows
}

func (s *Service) ListDamages(ctx context.Context, f models.HistoryFilter) []models.DamageRecord {
	rows, err := models.ListDamages(ctx, s.db, f)
	if err != nil {
		s.degrade("ListDamages", f, err)
		return []models.DamageRecord{}
	}
	return rows
}

func (s *Service) ListPaddyTypes(ctx context.Context) []models.PaddyType {
	rows, err := models.ListPaddyTypes(ctx, s.db)
	if err != nil {
		s.degrade("ListPaddyTypes", nil, err)
		return []models.PaddyType{}
	}
	return rows
}

// AddPaddyTypes inserts catalog names that are not present yet.
func (s *Service) AddPaddyTypes(ctx context.Context, names ...string) (int64, error) {
	return models.EnsurePaddyTypes(ctx, s.db, names...)
}

func (s *Service) StockSummary(ctx context.Context, byDistrict bool) []models.StockTotal {
	rows, err := models.SummarizeStock(ctx, s.db, byDistrict)
	if err != nil {
		s.degrade("StockSummary", byDistrict, err)
		return []models.StockTotal{}
	}
	return rows
}

// PartyStats counts registered parties per role.
func (s *Service) PartyStats(ctx context.Context) models.PartyStats {
	stats, err := models.CountPartiesByRole(ctx, s.db)
	if err != nil {
		s.degrade("PartyStats", nil, err)
		return models.EmptyPartyStats()
	}
	return stats
}

// GetStock returns the balances of an existing party.
func (s *Service) GetStock(ctx context.Context, partyId string) ([]models.StockBalance, error) {
	if _, err := models.GetParty(ctx, s.db, partyId); err != nil {
		return nil, err
	}
	return models.GetStock(ctx, s.db, partyId)
}

// ReconcileKind reads kind from the ledger and, when DRIFT_CHECK_ON_RECONCILE is
// set, compares it with the local store.
func (s *Service) ReconcileKind(ctx context.Context, kind ledger.EntityKind, opts ReconcileOptions) (*ReconcileResult, *DriftReport, error) {
	res, err := s.reader.Reconcile(ctx, kind, opts)
	if err != nil {
		return nil, nil, err
	}
	if !config.DriftCheckOnReconcile() {
		return res, nil, nil
	}
	drift, err := s.reader.CheckDrift(ctx, kind)
	if err != nil {
		config.LogError(s.logger, "service.go", "ReconcileKind", "Drift check", kind, err)
		return res, nil, nil
	}
	return res, drift, nil
}

func (s *Service) CheckDrift(ctx context.Context, kinds ...ledger.EntityKind) (*DriftReport, error) {
	return s.reader.CheckDrift(ctx, kinds...)
}

func (s *Service) ListReports(ctx context.Context, checkType string, limit int) []models.ReconciliationReport {
	rows, err := models.ListReconciliationReports(ctx, s.db, checkType, limit)
	if err != nil {
		s.degrade("ListReports", checkType, err)
		return []models.ReconciliationReport{}
	}
	return rows
}

func (s *Service) ListRuns(ctx context.Context, kind string, limit int) []models.ReconciliationRun {
	rows, err := models.ListReconciliationRuns(ctx, s.db, kind, limit)
	if err != nil {
		s.degrade("ListRuns", kind, err)
		return []models.ReconciliationRun{}
	}
	return rows
}

// GetOperation returns the mirror row of an operation ref.
func (s *Service) GetOperation(ctx context.Context, ref string) (*models.LedgerMirror, error) {
	return models.GetLedgerMirror(ctx, s.db, ref)
}

// ListOperations lists mirror rows, newest first, optionally limited to states.
func (s *Service) ListOperations(ctx context.Context, limit int, states ...string) []models.LedgerMirror {
	rows, err := models.ListLedgerMirrors(ctx, s.db, limit, states...)
	if err != nil {
		s.degrade("ListOperations", states, err)
		return []models.LedgerMirror{}
	}
	return rows
}

// Close waits for in-flight mirrors and closes the ledger client.
func (s *Service) Close() error {
	return s.coord.Close()
}
