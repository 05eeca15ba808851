package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vivarium/internal/blob"
	"vivarium/internal/infra/persistence/memory"
	"vivarium/pkg/domain"
)

// SystemActorID is recorded as the actor of system-initiated operations.
const SystemActorID = "system"

const defaultPublicBaseURL = "http://localhost:8080"

// Service exposes tenant-scoped, permission-checked operations over the
// inventory. Every call takes the acting user explicitly.
type Service struct {
	store         PersistentStore
	logger        Logger
	clock         Clock
	metrics       MetricsRecorder
	tracer        Tracer
	archive       blob.Store
	publicBaseURL string
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	svc := &Service{
		store:         store,
		logger:        noopLogger{},
		clock:         systemClock(),
		metrics:       noopMetrics{},
		tracer:        noopTracer{},
		publicBaseURL: defaultPublicBaseURL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store that
// shares the service clock.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	svc := NewService(nil, opts...)
	svc.store = memory.NewStore(engine, memory.WithNow(svc.clock.Now))
	return svc
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// run wraps an operation with tracing, metrics and logging.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	switch {
	case err == nil:
		s.logger.Debug("operation completed", "operation", op, "duration", elapsed)
	case isClientError(err):
		s.logger.Info("operation rejected", "operation", op, "error", err)
	default:
		s.logger.Error("operation failed", "operation", op, "error", err)
	}
	return err
}

// logWarnings reports non-blocking rule violations from a committed transaction.
func (s *Service) logWarnings(op string, res Result) {
	for _, v := range res.Warnings() {
		s.logger.Warn("rule warning", "operation", op, "rule", v.Rule, "entity", string(v.Entity), "id", v.EntityID, "message", v.Message)
	}
}

// isClientError reports whether err belongs to the caller-facing taxonomy.
func isClientError(err error) bool {
	var nf domain.ErrNotFound
	var ve domain.ValidationError
	var rv domain.RuleViolationError
	switch {
	case errors.As(err, &nf), errors.As(err, &ve), errors.As(err, &rv):
		return true
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrNoCompanyAssigned),
		errors.Is(err, domain.ErrAlreadyDeleted),
		errors.Is(err, domain.ErrNotDeleted),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, ErrUserInactive):
		return true
	}
	return false
}

// actorScope authorizes perm on entity and resolves the actor's tenant scope.
func actorScope(actor User, perm Permission, entity EntityType) (Scope, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return Scope{}, err
	}
	if err := Authorize(actor, perm, entity); err != nil {
		return Scope{}, err
	}
	return scope, nil
}

// ownerCompany returns the company new records are assigned to. Scoped
// actors always write into their own company.
func ownerCompany(scope Scope, actor User) *string {
	if id := scope.CompanyID(); id != nil {
		return id
	}
	if actor.CompanyID == nil {
		return nil
	}
	id := *actor.CompanyID
	return &id
}

// inventoryOwner returns the company a new inventory record belongs to.
// Scoped actors write into their own company. Unscoped actors must name an
// existing company, see ActingIn.
func inventoryOwner(view TransactionView, scope Scope, actor User) (*string, error) {
	company := ownerCompany(scope, actor)
	if company == nil || *company == "" {
		return nil, domain.ValidationError{Fields: []domain.FieldError{{Field: "company_id", Message: "required for actors without a company"}}}
	}
	if scope.CompanyID() == nil {
		if _, ok := view.FindCompany(*company); !ok {
			return nil, domain.ValidationError{Fields: []domain.FieldError{{Field: "company_id", Message: "unknown company"}}}
		}
	}
	return company, nil
}

// ActingIn returns actor with companyID as the company new records are
// created in. Only Admins may pick a company other than their own.
func ActingIn(actor User, companyID string) (User, error) {
	if actor.Role != domain.RoleAdmin {
		if actor.CompanyID == nil || *actor.CompanyID != companyID {
			return User{}, fmt.Errorf("act in company %s: %w", companyID, domain.ErrForbidden)
		}
		return actor, nil
	}
	id := companyID
	actor.CompanyID = &id
	return actor, nil
}

func notFound(entity EntityType, id string) error {
	return domain.ErrNotFound{Entity: entity, ID: id}
}
