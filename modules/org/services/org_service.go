package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
	"github.com/spkampus/portal/pkg/eventbus"
)

var tracer = otel.Tracer("github.com/spkampus/portal/modules/org/services")

// TxMode selects the isolation a repository transaction runs with.
type TxMode int

const (
	// TxReadWrite is a read-committed read-write transaction.
	TxReadWrite TxMode = iota
	// TxSnapshot is a read-only transaction where every read sees one snapshot.
	TxSnapshot
)

// OrgRepository is the storage contract of the org module. Every method
// runs against the transaction bound to ctx by RunInTx. Missing rows are
// reported as ErrRecordNotFound.
type OrgRepository interface {
	// RunInTx runs fn in a transaction; a transaction already bound to ctx is reused.
	RunInTx(ctx context.Context, mode TxMode, fn func(txCtx context.Context) error) error
	// LockHierarchy serialises structural writes to h until the transaction ends,
	// so cycle and level checks read links no concurrent writer is changing.
	LockHierarchy(ctx context.Context, h Hierarchy) error

	InsertUnit(ctx context.Context, unit orgstructure.Unit) error
	UpdateUnit(ctx context.Context, unit orgstructure.Unit) error
	DeleteUnit(ctx context.Context, id uuid.UUID) error
	GetUnit(ctx context.Context, id uuid.UUID) (orgstructure.Unit, error)
	ListUnits(ctx context.Context) ([]orgstructure.Unit, error)
	CountUnitDependents(ctx context.Context, id uuid.UUID) (UnitDependents, error)

	InsertPosition(ctx context.Context, pos orgstructure.Position) error
	UpdatePosition(ctx context.Context, pos orgstructure.Position) error
	DeletePosition(ctx context.Context, id uuid.UUID) error
	GetPosition(ctx context.Context, id uuid.UUID) (orgstructure.Position, error)
	// LockPosition reads the position and holds a row lock until the transaction ends.
	LockPosition(ctx context.Context, id uuid.UUID) (orgstructure.Position, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]orgstructure.Position, error)
	// ListReportingLinks maps every position with a superior to that superior.
	ListReportingLinks(ctx context.Context) (map[uuid.UUID]uuid.UUID, error)
	CountSubordinates(ctx context.Context, id uuid.UUID) (int, error)

	InsertAssignment(ctx context.Context, a orgstructure.Assignment) error
	GetAssignment(ctx context.Context, id uuid.UUID) (orgstructure.Assignment, error)
	LockAssignment(ctx context.Context, id uuid.UUID) (orgstructure.Assignment, error)
	EndAssignment(ctx context.Context, id uuid.UUID, endDate time.Time, reason *string, endedAt time.Time) error
	// ListAssignments returns matching assignments ordered by start date.
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]orgstructure.Assignment, error)
}

// Hierarchy names a parent graph that must stay acyclic.
type Hierarchy int

const (
	// HierarchyUnits is the unit parent tree.
	HierarchyUnits Hierarchy = iota + 1
	// HierarchyReporting is the position reports_to graph.
	HierarchyReporting
)

type UnitDependents struct {
	Children  int
	Positions int
}

type PositionFilter struct {
	UnitID *uuid.UUID
}

// DayWindow is an inclusive range of days; a nil End is open-ended.
type DayWindow struct {
	Start time.Time
	End   *time.Time
}

type AssignmentFilter struct {
	PositionID *uuid.UUID
	UnitID     *uuid.UUID
	MemberID   *int64
	// CurrentAt keeps assignments covering that day.
	CurrentAt *time.Time
	// Overlapping keeps assignments whose window intersects it.
	Overlapping *DayWindow
}

// MemberDirectory resolves members held outside this module.
type MemberDirectory interface {
	// MemberEligible reports whether the member may be assigned to positions.
	MemberEligible(ctx context.Context, memberID int64) (bool, error)
}

// ReferenceDirectory resolves region and university reference data.
type ReferenceDirectory interface {
	RegionExists(ctx context.Context, regionID int64) (bool, error)
	UniversityExists(ctx context.Context, universityID int64) (bool, error)
}

type OrgService struct {
	repo    OrgRepository
	now     func() time.Time
	cache   TreeCache
	bus     eventbus.EventBus
	members MemberDirectory
	refs    ReferenceDirectory
}

type Option func(*OrgService)

// WithClock overrides the source of "now".
func WithClock(now func() time.Time) Option {
	return func(s *OrgService) { s.now = now }
}

func WithTreeCache(cache TreeCache) Option {
	return func(s *OrgService) { s.cache = cache }
}

func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *OrgService) { s.bus = bus }
}

func WithMemberDirectory(members MemberDirectory) Option {
	return func(s *OrgService) { s.members = members }
}

func WithReferenceDirectory(refs ReferenceDirectory) Option {
	return func(s *OrgService) { s.refs = refs }
}

func NewOrgService(repo OrgRepository, opts ...Option) *OrgService {
	s := &OrgService{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrgService) today() time.Time {
	return orgstructure.Day(s.now())
}

func inTx[T any](ctx context.Context, repo OrgRepository, mode TxMode, fn func(txCtx context.Context) (T, error)) (T, error) {
	var out T
	err := repo.RunInTx(ctx, mode, func(txCtx context.Context) error {
		v, err := fn(txCtx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, mapPgError(err)
	}
	return out, nil
}

// trace starts a span for op. The returned func ends it, recording *errp.
// Mutations are also counted and rejected ones logged.
func (s *OrgService) trace(ctx context.Context, op string, mutation bool) (context.Context, func(errp *error)) {
	ctx, span := tracer.Start(ctx, "org."+op)
	span.SetAttributes(attribute.Bool("org.mutation", mutation))
	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if !mutation {
			return
		}
		if err != nil {
			recordMutation(op, "rejected")
			logMutationRejected(ctx, op, err)
			return
		}
		if inBatch(ctx) {
			return
		}
		recordMutation(op, "committed")
	}
}

// afterCommit runs once a mutation's transaction committed.
func (s *OrgService) afterCommit(ctx context.Context, op string, fields logrus.Fields, events ...eventbus.Event) {
	if !shouldSkipCacheInvalidation(ctx) {
		s.invalidateTreeCache(ctx, op)
	}
	if s.bus != nil && !shouldSkipEvents(ctx) {
		for _, ev := range events {
			s.bus.Publish(ctx, ev)
		}
	}
	if inBatch(ctx) {
		return
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["operation"] = op
	logWithFields(ctx, logrus.InfoLevel, "org.mutation.committed", fields)
}
