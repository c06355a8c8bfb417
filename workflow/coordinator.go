package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("paddy-dual-write")

const (
	lockTypePartyRegister = "party-register"
	lockTypeStock         = "stock"
	lockTTL               = 60 * time.Second
	// a confirmation wait under a lock ends this long before the lock expires
	lockMargin = 10 * time.Second
)

// Coordinator keeps the relational store and the ledger consistent for every
// business write. In ledger_first mode the ledger is confirmed before the local
// transaction opens; no row lock is held across a ledger call.
type Coordinator struct {
	db             *gorm.DB
	ledger         ledger.Client
	mode           config.LedgerMode
	confirmTimeout time.Duration
	lockBudget     time.Duration
	notifier       Notifier
	metrics        *Metrics
	logger         *logrus.Logger

	wg sync.WaitGroup
}

type Option func(*Coordinator)

func WithMode(mode config.LedgerMode) Option {
	return func(c *Coordinator) { c.mode = mode }
}

// WithConfirmTimeout bounds the wait for a ledger receipt. Zero waits until the
// receipt arrives, except while a lock is held, where the wait ends before the lock expires.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.confirmTimeout = d }
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator defaults the mode to LEDGER_MODE. A nil client forces local_only.
func NewCoordinator(db *gorm.DB, client ledger.Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:         db,
		ledger:     client,
		mode:       config.GetLedgerMode(),
		lockBudget: lockTTL - lockMargin,
		logger:     config.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ledger == nil {
		c.ledger = ledger.Noop{}
		c.mode = config.LedgerModeLocalOnly
	}
	return c
}

func (c *Coordinator) Mode() config.LedgerMode { return c.mode }

// Wait blocks until every background mirror started in local_first mode has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close waits for background mirrors, then closes the ledger client.
func (c *Coordinator) Close() error {
	c.Wait()
	return c.ledger.Close()
}

// dualWrite is one entity travelling through the mirror state machine.
type dualWrite struct {
	ref           string
	kind          ledger.EntityKind
	entityId      string
	record        ledger.Record
	payload       interface{}
	correlationId string
	lockKey       string
	holdsLock     bool

	precheck func(ctx context.Context) error
	// local performs the relational write and returns the local entity id.
	local func(ctx context.Context) (string, error)
	// onDiscard undoes reservations when nothing was written anywhere.
	onDiscard func(ctx context.Context)

	state   string
	txHash  string
	receipt ledger.Receipt
}

func (dw *dualWrite) subject() string {
	if dw.entityId != "" {
		return dw.entityId
	}
	return dw.ref
}

func errText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func (c *Coordinator) log(dw *dualWrite) *logrus.Entry {
	return c.logger.WithFields(logrus.Fields{
		"operation_ref":  dw.ref,
		"kind":           dw.kind,
		"entity_id":      dw.entityId,
		"mode":           c.mode,
		"correlation_id": dw.correlationId,
	})
}

// actorFields names the calling actor, when the request carried one.
func actorFields(ctx context.Context) logrus.Fields {
	f := logrus.Fields{}
	if actor, ok := utils.GetActorIdFromContext(ctx); ok {
		f["actor"] = actor
	}
	if role, ok := utils.GetActorRoleFromContext(ctx); ok {
		f["actor_role"] = role
	}
	return f
}

// transition persists a state change. Mirror bookkeeping never fails the business operation.
func (c *Coordinator) transition(ctx context.Context, dw *dualWrite, state string, u models.MirrorUpdate) {
	dw.state = state
	if err := models.TransitionLedgerMirror(context.WithoutCancel(ctx), c.db, dw.ref, state, u); err != nil {
		config.LogError(c.logger, "coordinator.go", "transition", "Updating ledger mirror to "+state, dw.ref, err)
	}
}

func (c *Coordinator) report(ctx context.Context, check string, dw *dualWrite, cause error) {
	row := models.ReconciliationReport{
		CheckType:     check,
		EntityType:    string(dw.kind),
		EntityId:      dw.subject(),
		Details:       fmt.Sprintf("ref=%s tx=%s block=%d: %v", dw.ref, dw.txHash, dw.receipt.BlockNumber, cause),
		CorrelationId: dw.correlationId,
	}
	bg := context.WithoutCancel(ctx)
	if err := models.CreateReconciliationReports(bg, c.db, []models.ReconciliationReport{row}); err != nil {
		config.LogError(c.logger, "coordinator.go", "report", "Writing reconciliation report", row, err)
	}
	c.metrics.drift(check, 1)
	notify(bg, c.notifier, c.logger, DriftNotice{
		CheckType:     check,
		Kind:          string(dw.kind),
		EntityId:      dw.entityId,
		OperationRef:  dw.ref,
		TxHash:        dw.txHash,
		BlockNumber:   dw.receipt.BlockNumber,
		Details:       row.Details,
		CorrelationId: dw.correlationId,
	})
}

// submit runs simulate, submit and confirmation. unknown reports that the
// ledger may hold the write even though an error is returned.
func (c *Coordinator) submit(ctx context.Context, dw *dualWrite) (unknown bool, err error) {
	call := ledger.Call{Record: dw.record}
	if actor, ok := utils.GetActorIdFromContext(ctx); ok {
		call.Sender = actor
	}

	if err := c.ledger.Simulate(ctx, call); err != nil {
		return false, err
	}
	c.transition(ctx, dw, models.MirrorStateLedgerSimulated, models.MirrorUpdate{})

	started := time.Now()
	h, err := c.ledger.Submit(ctx, call)
	if err != nil {
		sent := !errors.Is(err, ledger.ErrRejected) && !errors.Is(err, ledger.ErrNotSubmitted)
		return sent, err
	}
	dw.txHash = h.Hash
	c.transition(ctx, dw, models.MirrorStateLedgerSimulated, models.MirrorUpdate{LedgerTxHash: &h.Hash})

	// a submitted transaction cannot be recalled, so the caller's cancellation does not stop the wait
	waitCtx := context.WithoutCancel(ctx)
	if wait := c.confirmWait(dw); wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, wait)
		defer cancel()
	}
	receipt, err := c.ledger.AwaitConfirmation(waitCtx, h)
	if err != nil {
		return !errors.Is(err, ledger.ErrRejected), err
	}
	c.metrics.confirmed(string(dw.kind.Network()), started)
	dw.receipt = receipt
	c.transition(ctx, dw, models.MirrorStateLedgerCommitted, models.MirrorUpdate{
		LedgerTxHash: &receipt.TxHash,
		BlockNumber:  &receipt.BlockNumber,
		BlockHash:    &receipt.BlockHash,
	})
	return false, nil
}

// confirmWait is the receipt wait for dw; zero means unbounded.
func (c *Coordinator) confirmWait(dw *dualWrite) time.Duration {
	wait := c.confirmTimeout
	if dw.holdsLock && (wait <= 0 || wait > c.lockBudget) {
		wait = c.lockBudget
	}
	return wait
}

func (c *Coordinator) discard(ctx context.Context, dw *dualWrite) {
	if dw.onDiscard != nil {
		dw.onDiscard(context.WithoutCancel(ctx))
	}
}

func (c *Coordinator) runLedgerFirst(ctx context.Context, dw *dualWrite) error {
	if dw.precheck != nil {
		if err := dw.precheck(ctx); err != nil {
			c.discard(ctx, dw)
			c.transition(ctx, dw, models.MirrorStateLocalRejected, models.MirrorUpdate{LastError: errText(err)})
			return err
		}
	}
	c.transition(ctx, dw, models.MirrorStateLocalValidated, models.MirrorUpdate{})

	unknown, err := c.submit(ctx, dw)
	if err != nil {
		if unknown {
			c.transition(ctx, dw, models.MirrorStateLedgerUnconfirmed, models.MirrorUpdate{LastError: errText(err)})
			c.report(ctx, models.ReportCheckLedgerUnconfirmed, dw, err)
			c.log(dw).WithError(err).WithField("tx", dw.txHash).Error("ledger outcome unknown")
			return fmt.Errorf("%w: ledger outcome unknown for %s %s: %v", models.ErrConnection, dw.kind, dw.subject(), err)
		}
		c.discard(ctx, dw)
		c.transition(ctx, dw, models.MirrorStateLedgerRejected, models.MirrorUpdate{LastError: errText(err)})
		if errors.Is(err, ledger.ErrRejected) {
			c.log(dw).WithError(err).Warn("ledger rejected write")
			return fmt.Errorf("%w: %v", models.ErrLedgerRejected, err)
		}
		return fmt.Errorf("%w: %v", models.ErrConnection, err)
	}

	entityId, err := dw.local(ctx)
	if err != nil {
		pce := &models.PartiallyCommittedError{
			OperationRef: dw.ref,
			Kind:         string(dw.kind),
			EntityId:     dw.subject(),
			TxHash:       dw.receipt.TxHash,
			BlockNumber:  dw.receipt.BlockNumber,
			Cause:        err,
		}
		c.transition(ctx, dw, models.MirrorStatePartiallyCommitted, models.MirrorUpdate{LastError: errText(err)})
		c.report(ctx, models.ReportCheckPartiallyCommitted, dw, err)
		c.log(dw).WithFields(logrus.Fields{
			"tx":    dw.receipt.TxHash,
			"block": dw.receipt.BlockNumber,
		}).WithError(err).Error("local commit failed after ledger confirmation")
		return pce
	}
	dw.entityId = entityId
	c.transition(ctx, dw, models.MirrorStateLocalCommitted, models.MirrorUpdate{EntityId: &entityId})
	c.transition(ctx, dw, models.MirrorStateDone, models.MirrorUpdate{})
	return nil
}

func (c *Coordinator) runLocalFirst(ctx context.Context, dw *dualWrite) error {
	if dw.precheck != nil {
		if err := dw.precheck(ctx); err != nil {
			c.discard(ctx, dw)
			c.transition(ctx, dw, models.MirrorStateLocalRejected, models.MirrorUpdate{LastError: errText(err)})
			return err
		}
	}
	c.transition(ctx, dw, models.MirrorStateLocalValidated, models.MirrorUpdate{})

	entityId, err := dw.local(ctx)
	if err != nil {
		c.discard(ctx, dw)
		c.transition(ctx, dw, models.MirrorStateLocalRejected, models.MirrorUpdate{LastError: errText(err)})
		return err
	}
	dw.entityId = entityId
	c.transition(ctx, dw, models.MirrorStateLocalCommitted, models.MirrorUpdate{EntityId: &entityId})

	bg := context.WithoutCancel(ctx)
	// the caller keeps reading dw; the mirror works on its own copy
	mirror := *dw
	// the mirror outlives the caller's lock
	mirror.holdsLock = false
	c.wg.Add(1)
	go func(dw *dualWrite) {
		defer c.wg.Done()
		mctx, span := tracer.Start(bg, "MirrorToLedger", trace.WithAttributes(
			attribute.String("kind", string(dw.kind)),
			attribute.String("operation_ref", dw.ref),
		))
		defer span.End()

		if _, err := c.submit(mctx, dw); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "mirror failed")
			c.transition(mctx, dw, models.MirrorStateMirrorFailed, models.MirrorUpdate{LastError: errText(err)})
			c.report(mctx, models.ReportCheckMirrorFailed, dw, err)
			c.log(dw).WithError(err).Error("ledger mirror failed")
			c.metrics.dualWrite(string(dw.kind), string(c.mode), models.MirrorStateMirrorFailed)
			return
		}
		c.transition(mctx, dw, models.MirrorStateDone, models.MirrorUpdate{})
		c.metrics.dualWrite(string(dw.kind), string(c.mode), models.MirrorStateDone)
	}(&mirror)
	return nil
}

// run drives dw through the configured mode. done is the finished mirror row when the ref was already completed.
func (c *Coordinator) run(ctx context.Context, dw *dualWrite) (done *models.LedgerMirror, err error) {
	if dw.lockKey != "" {
		release, err := utils.ObtainLock(ctx, lockTypeStock, dw.lockKey, lockTTL, "coordinator.go", "run")
		if err != nil {
			return nil, err
		}
		defer release()
		dw.holdsLock = true
	}

	if c.mode == config.LedgerModeLocalOnly {
		if dw.precheck != nil {
			if err := dw.precheck(ctx); err != nil {
				c.discard(ctx, dw)
				return nil, err
			}
		}
		entityId, err := dw.local(ctx)
		if err != nil {
			c.discard(ctx, dw)
			return nil, err
		}
		dw.entityId = entityId
		dw.state = models.MirrorStateLocalCommitted
		c.metrics.dualWrite(string(dw.kind), string(c.mode), dw.state)
		return nil, nil
	}

	done, err = c.begin(ctx, dw)
	if err != nil || done != nil {
		if err != nil {
			c.discard(ctx, dw)
		}
		return done, err
	}

	if c.mode == config.LedgerModeLocalFirst {
		err = c.runLocalFirst(ctx, dw)
		if err != nil {
			c.metrics.dualWrite(string(dw.kind), string(c.mode), dw.state)
		}
		return nil, err
	}
	err = c.runLedgerFirst(ctx, dw)
	c.metrics.dualWrite(string(dw.kind), string(c.mode), dw.state)
	return nil, err
}

func (c *Coordinator) startSpan(ctx context.Context, name string, kind ledger.EntityKind) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("mode", string(c.mode)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RegisterAndMirror validates the draft, reserves the role's next id and writes
// the party to both stores. A ledger rejection hands the id back.
func (c *Coordinator) RegisterAndMirror(ctx context.Context, draft models.PartyDraft) (party *models.Party, err error) {
	if draft == nil {
		return nil, &models.DraftError{Fields: map[string]string{"role": "required"}}
	}
	ctx, corr := utils.EnsureCorrelationId(ctx)
	role := draft.PartyRole()
	ctx, span := c.startSpan(ctx, "RegisterAndMirror", KindForRole(role))
	defer func() { endSpan(span, err) }()

	p, stock, err := draft.Normalize()
	if err != nil {
		return nil, err
	}
	if len(stock) > 0 && !role.AcceptsInitialStock() {
		return nil, fmt.Errorf("%w: %s cannot register with stock", models.ErrRoleNotPermitted, role)
	}
	if c.mode != config.LedgerModeLocalOnly {
		if err := fitsLedgerScale("TotalAreaOfPaddyLand", p.TotalAreaOfPaddyLand); err != nil {
			return nil, err
		}
	}

	release, err := utils.ObtainLock(ctx, lockTypePartyRegister, string(role), lockTTL, "coordinator.go", "RegisterAndMirror")
	if err != nil {
		return nil, err
	}
	defer release()

	id, err := models.ReservePartyId(ctx, c.db, role)
	if err != nil {
		return nil, err
	}
	p.ID = id
	span.SetAttributes(attribute.String("party_id", id))

	dw := &dualWrite{
		ref:           uuid.NewString(),
		kind:          KindForRole(role),
		entityId:      id,
		record:        partyRecord(p),
		payload:       p,
		correlationId: corr,
		holdsLock:     true,
		local: func(ctx context.Context) (string, error) {
			return id, models.CreateParty(ctx, c.db, &p, stock)
		},
		onDiscard: func(ctx context.Context) {
			released, err := models.ReleasePartyId(ctx, c.db, id)
			if err != nil {
				config.LogError(c.logger, "coordinator.go", "RegisterAndMirror", "Releasing party id", id, err)
				return
			}
			c.logger.WithFields(logrus.Fields{"party_id": id, "released": released}).Debug("party id reservation discarded")
		},
	}
	if _, err := c.run(ctx, dw); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"party_id":       id,
		"role":           role,
		"state":          dw.state,
		"tx":             dw.receipt.TxHash,
		"block":          dw.receipt.BlockNumber,
		"correlation_id": corr,
	}).WithFields(actorFields(ctx)).Info("party registered")
	return &p, nil
}
