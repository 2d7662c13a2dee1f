package relorm

import (
	"context"

	"go.uber.org/zap"
)

// Relation gives access to one relation of a persisted record.
// It is meant for short-lived use and is not safe for concurrent use.
type Relation struct {
	mapper   RelationMapper
	selecter RelationSelecter
	loader   RecordLoader
	hooks    HookMediator
	logger   *zap.Logger

	owner       Entity
	entityType  string
	name        string
	def         *RelationDef
	kind        RelationKind
	foreignType string // Empty for belongs-to-parent
	noBuilder   bool
	strategy    relationStrategy
}

// NewRelation returns the accessor of relation name of owner. The owner
// must have an id and the relation must be declared on its entity type.
func NewRelation(em *EntityManager, owner Entity, name string) (*Relation, error) {
	if em == nil {
		return nil, relationErr("", name, ErrInvalidConfig, "entity manager is nil")
	}
	if owner == nil {
		return nil, relationErr("", name, ErrInvalidArgument, "owner is nil")
	}

	entityType := owner.EntityType()
	if !owner.HasID() {
		return nil, relationErr(entityType, name, ErrInvalidState, "can't use relation %q of %s without an id", name, entityType)
	}

	def, ok := em.metadata.Relation(entityType, name)
	if !ok {
		return nil, relationErr(entityType, name, ErrUnknownRelation, "%s has no relation %q", entityType, name)
	}

	strategy := strategyFor(def.Kind)

	return &Relation{
		mapper:      em.mapper,
		selecter:    em.selecter,
		loader:      em.loader,
		hooks:       em.hooks,
		logger:      em.logger,
		owner:       owner,
		entityType:  entityType,
		name:        name,
		def:         def,
		kind:        def.Kind,
		foreignType: def.Entity,
		noBuilder:   strategy.noBuilder(),
		strategy:    strategy,
	}, nil
}

// Name returns the relation name.
func (r *Relation) Name() string { return r.name }

// Kind returns the relation kind.
func (r *Relation) Kind() RelationKind { return r.kind }

// ForeignEntityType returns the foreign entity type and false when the
// relation has none.
func (r *Relation) ForeignEntityType() (string, bool) {
	return r.foreignType, r.foreignType != ""
}

func (r *Relation) fail(sentinel error, format string, args ...any) error {
	return relationErr(r.entityType, r.name, sentinel, format, args...)
}

func (r *Relation) requireBuilder() error {
	if r.noBuilder {
		return r.fail(ErrUnsupportedOperation, "can't build a query for %s relation", r.kind)
	}
	if r.foreignType == "" {
		return r.fail(ErrInvalidState, "relation has no foreign entity type")
	}
	return nil
}

// CreateSelectBuilder returns a new builder scoped to the relation,
// optionally refining seed.
func (r *Relation) CreateSelectBuilder(seed *Select) (*RelationSelectBuilder, error) {
	if err := r.requireBuilder(); err != nil {
		return nil, err
	}
	b := newRelationSelectBuilder(r.selecter, r.owner, r.def, seed)
	return b, b.Err()
}

// Clone returns a builder refining query, which must select the foreign
// entity type.
func (r *Relation) Clone(query *Select) (*RelationSelectBuilder, error) {
	if err := r.requireBuilder(); err != nil {
		return nil, err
	}
	if query == nil {
		return nil, r.fail(ErrInvalidArgument, "query is nil")
	}
	if query.From() != r.foreignType {
		return nil, r.fail(ErrTypeMismatch, "can't clone a %s query for relation of %s", query.From(), r.foreignType)
	}
	return r.CreateSelectBuilder(query)
}

func (r *Relation) builder() *RelationSelectBuilder {
	b, err := r.CreateSelectBuilder(nil)
	if err != nil {
		return errBuilder(err)
	}
	return b
}

func (r *Relation) Join(target, alias string, on ...WhereItem) *RelationSelectBuilder {
	return r.builder().Join(target, alias, on...)
}

func (r *Relation) LeftJoin(target, alias string, on ...WhereItem) *RelationSelectBuilder {
	return r.builder().LeftJoin(target, alias, on...)
}

func (r *Relation) Distinct() *RelationSelectBuilder {
	return r.builder().Distinct()
}

func (r *Relation) Sth() *RelationSelectBuilder {
	return r.builder().Sth()
}

func (r *Relation) Where(args ...any) *RelationSelectBuilder {
	return r.builder().Where(args...)
}

func (r *Relation) Having(args ...any) *RelationSelectBuilder {
	return r.builder().Having(args...)
}

// Order orders by id ascending when called without arguments.
func (r *Relation) Order(args ...string) *RelationSelectBuilder {
	return r.builder().Order(args...)
}

func (r *Relation) Limit(offset, limit int) *RelationSelectBuilder {
	return r.builder().Limit(offset, limit)
}

func (r *Relation) Select(attributes ...string) *RelationSelectBuilder {
	return r.builder().Select(attributes...)
}

func (r *Relation) GroupBy(attributes ...string) *RelationSelectBuilder {
	return r.builder().GroupBy(attributes...)
}

func (r *Relation) ColumnsWhere(args ...any) *RelationSelectBuilder {
	return r.builder().ColumnsWhere(args...)
}

// Find returns the related records.
func (r *Relation) Find(ctx context.Context) (Collection, error) {
	return r.strategy.find(ctx, r)
}

// FindOne returns the first related record, or nil when there is none.
func (r *Relation) FindOne(ctx context.Context) (Entity, error) {
	return r.strategy.findOne(ctx, r)
}

// Count returns the number of related records.
func (r *Relation) Count(ctx context.Context) (int, error) {
	b, err := r.CreateSelectBuilder(nil)
	if err != nil {
		return 0, err
	}
	return b.Count(ctx)
}

// IsRelated reports whether e is related to the owner.
func (r *Relation) IsRelated(ctx context.Context, e Entity) (bool, error) {
	if e == nil || !e.HasID() {
		return false, r.fail(ErrInvalidArgument, "entity must have an id")
	}
	return r.strategy.isRelated(ctx, r, e)
}

// IsRelatedByID reports whether the foreign record with id is related.
func (r *Relation) IsRelatedByID(ctx context.Context, id string) (bool, error) {
	e, err := r.placeholder(id)
	if err != nil {
		return false, err
	}
	return r.IsRelated(ctx, e)
}

// ownerWith returns the owner when all attrs are loaded, otherwise the owner
// reloaded from storage. It returns nil when the owner no longer exists.
func (r *Relation) ownerWith(ctx context.Context, attrs ...string) (Entity, error) {
	loaded := true
	for _, attr := range attrs {
		if !r.owner.Has(attr) {
			loaded = false
			break
		}
	}
	if loaded {
		return r.owner, nil
	}

	if r.loader == nil {
		return nil, nil
	}
	return r.loader.FetchByID(ctx, r.entityType, r.owner.ID())
}

// checkForeignEntity validates an entity passed to a matching or mutating
// operation.
func (r *Relation) checkForeignEntity(e Entity) error {
	if e == nil {
		return r.fail(ErrInvalidArgument, "entity is nil")
	}
	if r.foreignType != "" && e.EntityType() != r.foreignType {
		return r.fail(ErrTypeMismatch, "entity type %s doesn't match %s", e.EntityType(), r.foreignType)
	}
	if !e.HasID() {
		return r.fail(ErrInvalidArgument, "entity must have an id")
	}
	return nil
}

// keyedByAttribute reports whether the owner key of a belongs-to relation
// references a foreign attribute other than the id.
func (r *Relation) keyedByAttribute() bool {
	return r.kind == RelationBelongsTo && r.def.ForeignKey != "" && r.def.ForeignKey != IDAttribute
}

// withForeignKey returns e, or e loaded from storage when the relation is
// keyed by a foreign attribute e does not hold in memory. It returns nil
// when e no longer exists.
func (r *Relation) withForeignKey(ctx context.Context, e Entity) (Entity, error) {
	if !r.keyedByAttribute() || e.Has(r.def.ForeignKey) {
		return e, nil
	}
	if r.loader == nil {
		return nil, r.fail(ErrUnsupportedOperation, "can't resolve %s of %s without a record loader", r.def.ForeignKey, r.foreignType)
	}
	return r.loader.FetchByID(ctx, r.foreignType, e.ID())
}

// resolveTarget is withForeignKey for mutations: a missing target is an error.
func (r *Relation) resolveTarget(ctx context.Context, e Entity) (Entity, error) {
	target, err := r.withForeignKey(ctx, e)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, r.fail(ErrInvalidArgument, "%s %s not found", r.foreignType, e.ID())
	}
	return target, nil
}

// placeholder builds a foreign record known by id only.
func (r *Relation) placeholder(id string) (Entity, error) {
	if r.noBuilder {
		return nil, r.fail(ErrUnsupportedOperation, "can't use an id for %s relation", r.kind)
	}
	if r.foreignType == "" {
		return nil, r.fail(ErrInvalidState, "relation has no foreign entity type")
	}
	if id == "" {
		return nil, r.fail(ErrInvalidArgument, "empty id")
	}
	return NewRecordWithID(r.foreignType, id), nil
}

// Relate links e to the owner. The after hook only runs when the pair was
// not related before.
func (r *Relation) Relate(ctx context.Context, e Entity, columnData map[string]any, opts Options) error {
	if err := r.checkForeignEntity(e); err != nil {
		return err
	}
	e, err := r.resolveTarget(ctx, e)
	if err != nil {
		return err
	}

	if err := r.hooks.BeforeRelate(ctx, r.owner, r.name, e, columnData, opts); err != nil {
		return err
	}

	created, err := r.mapper.Relate(ctx, r.owner, r.name, e, columnData)
	if err != nil {
		return err
	}

	if !created {
		r.logger.Debug("already related",
			zap.String("entity", r.entityType),
			zap.String("relation", r.name),
			zap.String("target", e.ID()))
		return nil
	}

	return r.hooks.AfterRelate(ctx, r.owner, r.name, e, columnData, opts)
}

// RelateByID links the foreign record with id to the owner.
func (r *Relation) RelateByID(ctx context.Context, id string, columnData map[string]any, opts Options) error {
	e, err := r.placeholder(id)
	if err != nil {
		return err
	}
	return r.Relate(ctx, e, columnData, opts)
}

// Unrelate removes the link between e and the owner.
func (r *Relation) Unrelate(ctx context.Context, e Entity, opts Options) error {
	if err := r.checkForeignEntity(e); err != nil {
		return err
	}
	e, err := r.resolveTarget(ctx, e)
	if err != nil {
		return err
	}

	if err := r.hooks.BeforeUnrelate(ctx, r.owner, r.name, e, opts); err != nil {
		return err
	}

	if err := r.mapper.Unrelate(ctx, r.owner, r.name, e); err != nil {
		return err
	}

	return r.hooks.AfterUnrelate(ctx, r.owner, r.name, e, opts)
}

func (r *Relation) UnrelateByID(ctx context.Context, id string, opts Options) error {
	e, err := r.placeholder(id)
	if err != nil {
		return err
	}
	return r.Unrelate(ctx, e, opts)
}

// MassRelate links every record matched by query to the owner.
func (r *Relation) MassRelate(ctx context.Context, query *Select, opts Options) error {
	if r.noBuilder {
		return r.fail(ErrUnsupportedOperation, "can't mass relate %s relation", r.kind)
	}
	if query == nil {
		return r.fail(ErrInvalidArgument, "query is nil")
	}
	if query.From() != r.foreignType {
		return r.fail(ErrTypeMismatch, "query selects %s, relation points to %s", query.From(), r.foreignType)
	}

	if err := r.hooks.BeforeMassRelate(ctx, r.owner, r.name, query, opts); err != nil {
		return err
	}

	if err := r.mapper.MassRelate(ctx, r.owner, r.name, query); err != nil {
		return err
	}

	return r.hooks.AfterMassRelate(ctx, r.owner, r.name, query, opts)
}

func (r *Relation) requireColumns() error {
	if !r.strategy.supportsColumns() {
		return r.fail(ErrUnsupportedOperation, "relation columns are only available for many-to-many, not %s", r.kind)
	}
	return nil
}

// UpdateColumns updates middle-table columns of the link to e.
func (r *Relation) UpdateColumns(ctx context.Context, e Entity, columnData map[string]any) error {
	if err := r.checkForeignEntity(e); err != nil {
		return err
	}
	if err := r.requireColumns(); err != nil {
		return err
	}
	return r.mapper.UpdateRelationColumns(ctx, r.owner, r.name, e.ID(), columnData)
}

func (r *Relation) UpdateColumnsByID(ctx context.Context, id string, columnData map[string]any) error {
	e, err := r.placeholder(id)
	if err != nil {
		return err
	}
	return r.UpdateColumns(ctx, e, columnData)
}

// GetColumn returns a middle-table column of the link to e.
func (r *Relation) GetColumn(ctx context.Context, e Entity, column string) (any, error) {
	if err := r.checkForeignEntity(e); err != nil {
		return nil, err
	}
	if err := r.requireColumns(); err != nil {
		return nil, err
	}
	return r.mapper.GetRelationColumn(ctx, r.owner, r.name, e.ID(), column)
}

func (r *Relation) GetColumnByID(ctx context.Context, id string, column string) (any, error) {
	e, err := r.placeholder(id)
	if err != nil {
		return nil, err
	}
	return r.GetColumn(ctx, e, column)
}
