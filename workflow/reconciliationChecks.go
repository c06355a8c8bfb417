package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const driftSummaryCheck = "DRIFT_SUMMARY"

type DriftFinding struct {
	CheckType string            `json:"check_type"`
	Kind      ledger.EntityKind `json:"kind"`
	EntityId  string            `json:"entity_id"`
}

type DriftReport struct {
	Kinds         []ledger.EntityKind          `json:"kinds"`
	MissingLocal  []DriftFinding               `json:"missing_local"`
	MissingLedger []DriftFinding               `json:"missing_ledger"`
	Unreadable    map[ledger.EntityKind]string `json:"unreadable,omitempty"`
	CheckedAt     time.Time                    `json:"checked_at"`
}

func (d *DriftReport) Count() int {
	return len(d.MissingLocal) + len(d.MissingLedger)
}

// localIDs returns the ids the relational store holds for kind: party ids for
// party kinds, mirrored operation refs otherwise.
func localIDs(ctx context.Context, db *gorm.DB, kind ledger.EntityKind) ([]string, error) {
	switch kind {
	case ledger.KindFarmer, ledger.KindCollector, ledger.KindMiller, ledger.KindBusiness:
		parties, err := models.ListParties(ctx, db, "")
		if err != nil {
			return nil, err
		}
		var ids []string
		for _, p := range parties {
			if KindForRole(p.Role) == kind {
				ids = append(ids, p.ID)
			}
		}
		return ids, nil
	case ledger.KindTransaction:
		return models.LedgerRefs(ctx, db, &models.Transaction{}, models.BucketRaw)
	case ledger.KindRiceTransaction:
		return models.LedgerRefs(ctx, db, &models.Transaction{}, models.BucketMilled)
	case ledger.KindMilling:
		return models.LedgerRefs(ctx, db, &models.MillingRecord{}, "")
	case ledger.KindDamage:
		return models.LedgerRefs(ctx, db, &models.DamageRecord{}, models.BucketRaw)
	case ledger.KindRiceDamage:
		return models.LedgerRefs(ctx, db, &models.DamageRecord{}, models.BucketMilled)
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ledger.ErrUnsupported, kind)
}

func missing(have []string, want map[string]bool) []string {
	var out []string
	for _, id := range have {
		if !want[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// CheckDrift compares the ledger's view of each kind with the relational store
// and records every id present on one side only. No kinds means all kinds.
// Operations still mirroring in local_first mode show up as MISSING_LEDGER
// until their mirror lands.
func (r *Reader) CheckDrift(ctx context.Context, kinds ...ledger.EntityKind) (*DriftReport, error) {
	if r.db == nil {
		return nil, errors.New("drift check needs a database")
	}
	if len(kinds) == 0 {
		kinds = ledger.AllKinds()
	}
	ctx, corr := utils.EnsureCorrelationId(ctx)
	report := &DriftReport{Kinds: kinds, Unreadable: map[ledger.EntityKind]string{}, CheckedAt: time.Now().UTC()}

	var rows []models.ReconciliationReport
	var readErrs []error
	for _, kind := range kinds {
		res, err := r.ListAll(ctx, kind, 0)
		if err != nil {
			report.Unreadable[kind] = err.Error()
			readErrs = append(readErrs, err)
			r.logger.WithField("kind", kind).WithError(err).Warn("drift check could not read ledger")
			continue
		}
		local, err := localIDs(ctx, r.db, kind)
		if err != nil {
			return nil, err
		}

		// a skipped id was seen in the event log; only its point lookup failed
		onLedger := res.IDs()
		for _, sk := range res.Skipped {
			onLedger = append(onLedger, sk.ID)
		}

		for _, id := range missing(onLedger, idSet(local)) {
			report.MissingLocal = append(report.MissingLocal, DriftFinding{CheckType: models.ReportCheckMissingLocal, Kind: kind, EntityId: id})
			rows = append(rows, models.ReconciliationReport{
				CheckType: models.ReportCheckMissingLocal, EntityType: string(kind), EntityId: id,
				Details: "on ledger, not in local store", CorrelationId: corr,
			})
		}
		for _, id := range missing(local, idSet(onLedger)) {
			report.MissingLedger = append(report.MissingLedger, DriftFinding{CheckType: models.ReportCheckMissingLedger, Kind: kind, EntityId: id})
			rows = append(rows, models.ReconciliationReport{
				CheckType: models.ReportCheckMissingLedger, EntityType: string(kind), EntityId: id,
				Details: "in local store, not on ledger", CorrelationId: corr,
			})
		}
	}

	if len(readErrs) == len(kinds) {
		return nil, errors.Join(readErrs...)
	}
	if err := models.CreateReconciliationReports(ctx, r.db, rows); err != nil {
		return nil, err
	}

	r.metrics.drift(models.ReportCheckMissingLocal, len(report.MissingLocal))
	r.metrics.drift(models.ReportCheckMissingLedger, len(report.MissingLedger))
	if report.Count() > 0 {
		notify(ctx, r.notifier, r.logger, DriftNotice{
			CheckType:     driftSummaryCheck,
			Count:         report.Count(),
			Details:       fmt.Sprintf("%d missing local, %d missing ledger", len(report.MissingLocal), len(report.MissingLedger)),
			CorrelationId: corr,
			At:            report.CheckedAt,
		})
	}
	r.logger.WithFields(logrus.Fields{
		"field":          "ReconciliationChecks",
		"missing_local":  len(report.MissingLocal),
		"missing_ledger": len(report.MissingLedger),
		"unreadable":     len(report.Unreadable),
		"correlation_id": corr,
	}).Info("drift check completed")
	if len(report.Unreadable) > 0 {
		config.LogError(r.logger, "reconciliationChecks.go", "CheckDrift", "Some kinds unreadable", len(report.Unreadable), errors.Join(readErrs...))
	}
	return report, nil
}
