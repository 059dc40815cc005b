// Package posting coordinates stock, costing, journal and payables changes so each business
// event commits as one unit of work.
package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/ap"
	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/observability"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Config wires the coordinator's collaborators.
type Config struct {
	UnitOfWork UnitOfWork
	Catalog    Catalog
	Charts     ChartSource
	Numbers    journals.Numberer
	Locker     shared.Locker
	Audit      AuditPort
	Metrics    *observability.PostingMetrics
	Logger     *slog.Logger
}

// Service is the ledger posting coordinator.
type Service struct {
	uow      UnitOfWork
	catalog  Catalog
	charts   ChartSource
	locker   shared.Locker
	audit    AuditPort
	metrics  *observability.PostingMetrics
	logger   *slog.Logger
	ledger   *inventory.Ledger
	book     *journals.Book
	payables *ap.Engine
	now      func() time.Time
}

// NewService constructs the coordinator. A nil Locker falls back to an in-process locker.
func NewService(cfg Config) *Service {
	locker := cfg.Locker
	if locker == nil {
		locker = shared.NewLocalLocker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		uow:      cfg.UnitOfWork,
		catalog:  cfg.Catalog,
		charts:   cfg.Charts,
		locker:   locker,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		logger:   logger,
		ledger:   inventory.NewLedger(),
		book:     journals.NewBook(cfg.Numbers),
		payables: ap.NewEngine(cfg.Numbers),
		now:      time.Now,
	}
}

// WithNow overrides the clock of the service and every engine it drives.
func (s *Service) WithNow(now func() time.Time) {
	if now == nil {
		return
	}
	s.now = now
	s.ledger.WithNow(now)
	s.book.WithNow(now)
	s.payables.WithNow(now)
}

// ErrDocumentEntry is returned when a journal entry owned by a stock movement or payment is
// reversed directly instead of through its document.
var ErrDocumentEntry = errors.New("posting: entry belongs to a document; unpost or void the document")

// ErrTransferLeg is returned when one transfer leg is drafted or posted on its own. Legs move as a
// pair through TransferStock; unposting either leg unposts both.
var ErrTransferLeg = fmt.Errorf("%w: transfer legs are drafted and posted only through TransferStock", inventory.ErrTransferMismatch)

// unit describes one business event run by run.
type unit struct {
	op          string
	tenantID    int64
	actorID     int64
	locks       []string
	idemKey     string
	withChart   bool
	withCosting bool
}

// scope is what a unit's body works with inside the transaction.
type scope struct {
	tx     Tx
	chart  mappings.Chart
	engine *costing.Engine
}

func (s *Service) run(ctx context.Context, u unit, fn func(context.Context, *scope) error) error {
	started := time.Now()
	err := s.execute(ctx, u, fn)
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		s.logger.Warn("ledger posting failed",
			slog.String("operation", u.op),
			slog.Int64("tenant_id", u.tenantID),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
	}
	s.metrics.Observe(u.op, outcome, started)
	return err
}

func (s *Service) execute(ctx context.Context, u unit, fn func(context.Context, *scope) error) error {
	if len(u.locks) > 0 {
		waitStarted := time.Now()
		release, err := s.locker.Lock(ctx, u.locks...)
		if err != nil {
			return err
		}
		defer release()
		s.metrics.ObserveLockWait(time.Since(waitStarted))
	}

	sc := &scope{}
	if u.withChart {
		chart, err := s.charts.LoadChart(ctx, u.tenantID)
		if err != nil {
			return fmt.Errorf("load chart: %w", err)
		}
		sc.chart = chart
	}
	var method costing.Method
	if u.withCosting {
		m, err := s.catalog.CostingMethod(ctx, u.tenantID)
		if err != nil {
			return fmt.Errorf("load costing method: %w", err)
		}
		method = m
	}

	return s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if u.idemKey != "" {
			if err := tx.Claim(ctx, u.idemKey, u.op); err != nil {
				return err
			}
		}
		sc.tx = tx
		if u.withCosting {
			engine, err := costing.NewEngine(u.tenantID, method, tx.Costing())
			if err != nil {
				return err
			}
			sc.engine = engine
		}
		return fn(ctx, sc)
	})
}

// record writes an audit row once the unit has committed.
func (s *Service) record(ctx context.Context, u unit, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: u.tenantID,
		ActorID:  u.actorID,
		Action:   u.op,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("operation", u.op), slog.Any("error", err))
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, costing.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, inventory.ErrNegativeStock):
		return "negative_stock"
	case errors.Is(err, inventory.ErrInvalidPostingState):
		return "invalid_state"
	case errors.Is(err, journals.ErrUnbalanced):
		return "unbalanced"
	case errors.Is(err, mappings.ErrAccountNotConfigured):
		return "account_not_configured"
	case errors.Is(err, ap.ErrOverapplication):
		return "overapplication"
	case errors.Is(err, ap.ErrAlreadyVoid), errors.Is(err, journals.ErrAlreadyReversed):
		return "already_reversed"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "duplicate"
	case errors.Is(err, shared.ErrLockNotObtained):
		return "lock_timeout"
	case errors.Is(err, shared.ErrConcurrentPosting):
		return "conflict"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	default:
		return "error"
	}
}
