package relorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SQLMapper implements RelationMapper, RelationSelecter and RecordLoader on
// database/sql.
type SQLMapper struct {
	resolver *DBResolver
	dialect  *Dialect
	metadata *Metadata
	compiler *compiler
	stmts    *StmtCache
	logger   *zap.Logger
	ownsDB   bool
}

// MapperOption is a functional option for configuring SQLMapper.
type MapperOption func(*SQLMapper)

// WithMapperLogger sets the logger queries are logged to at debug level.
func WithMapperLogger(l *zap.Logger) MapperOption {
	return func(m *SQLMapper) {
		m.logger = l
	}
}

// WithReplicas routes relation selects to replicas.
func WithReplicas(dbs ...*sql.DB) MapperOption {
	return func(m *SQLMapper) {
		m.resolver.replicas = dbs
	}
}

// WithStmtCache reuses prepared statements for writes and scalar reads.
func WithStmtCache(c *StmtCache) MapperOption {
	return func(m *SQLMapper) {
		m.stmts = c
	}
}

// NewSQLMapper creates a mapper over db.
func NewSQLMapper(db *sql.DB, dialect *Dialect, md *Metadata, opts ...MapperOption) *SQLMapper {
	m := &SQLMapper{
		resolver: NewDBResolver(db),
		dialect:  dialect,
		metadata: md,
		compiler: &compiler{md: md, dialect: dialect},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close releases cached statements, and the connection pools when the
// mapper opened them.
func (m *SQLMapper) Close() error {
	var errs []error
	if m.stmts != nil {
		errs = append(errs, m.stmts.Close())
	}
	if m.ownsDB {
		errs = append(errs, m.resolver.Close())
	}
	return errors.Join(errs...)
}

// Dialect returns the SQL dialect.
func (m *SQLMapper) Dialect() *Dialect { return m.dialect }

func (m *SQLMapper) q(identifier string) string {
	return m.dialect.Quote(identifier)
}

func (m *SQLMapper) col(attribute string) string {
	return m.q(ToColumn(attribute))
}

func (m *SQLMapper) relation(owner Entity, name string) (*RelationDef, error) {
	if owner == nil || !owner.HasID() {
		return nil, relationErr("", name, ErrInvalidState, "owner must have an id")
	}
	rel, ok := m.metadata.Relation(owner.EntityType(), name)
	if !ok {
		return nil, relationErr(owner.EntityType(), name, ErrUnknownRelation, "%s has no relation %q", owner.EntityType(), name)
	}
	return rel, nil
}

func (m *SQLMapper) entityDef(entityType string) (*EntityDef, error) {
	def, ok := m.metadata.Entity(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: entity type %q is not defined", ErrInvalidArgument, entityType)
	}
	return def, nil
}

func (m *SQLMapper) logQuery(query string, args []any, start time.Time, err error) {
	if ce := m.logger.Check(zap.DebugLevel, "relorm query"); ce != nil {
		ce.Write(
			zap.String("query", query),
			zap.Int("args", len(args)),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
	}
}

func (m *SQLMapper) queryRows(ctx context.Context, db *sql.DB, query string, args []any) (*sql.Rows, error) {
	query = m.dialect.Rebind(query)
	start := time.Now()

	rows, err := db.QueryContext(ctx, query, args...)
	m.logQuery(query, args, start, err)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	return rows, nil
}

// queryScalar scans a single-row, single-column result into dest.
// It returns ErrRecordNotFound when there is no row.
func (m *SQLMapper) queryScalar(ctx context.Context, db *sql.DB, query string, args []any, dest any) error {
	query = m.dialect.Rebind(query)
	start := time.Now()

	var row *sql.Row
	if m.stmts != nil {
		stmt, release, err := m.stmts.Prepare(ctx, db, query)
		if err != nil {
			m.logQuery(query, args, start, err)
			return WrapQueryError("SELECT", query, args, err)
		}
		defer release()
		row = stmt.QueryRowContext(ctx, args...)
	} else {
		row = db.QueryRowContext(ctx, query, args...)
	}

	err := row.Scan(dest)
	m.logQuery(query, args, start, err)
	return WrapQueryError("SELECT", query, args, err)
}

// exec runs a write on the primary and returns the number of affected rows.
func (m *SQLMapper) exec(ctx context.Context, query string, args []any) (int64, error) {
	query = m.dialect.Rebind(query)
	operation, _, _ := strings.Cut(query, " ")
	db := m.resolver.Primary()
	start := time.Now()

	var (
		res sql.Result
		err error
	)
	if m.stmts != nil {
		stmt, release, perr := m.stmts.Prepare(ctx, db, query)
		if perr != nil {
			m.logQuery(query, args, start, perr)
			return 0, WrapQueryError(operation, query, args, perr)
		}
		defer release()
		res, err = stmt.ExecContext(ctx, args...)
	} else {
		res, err = db.ExecContext(ctx, query, args...)
	}

	m.logQuery(query, args, start, err)
	if err != nil {
		return 0, WrapQueryError(operation, query, args, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, WrapQueryError(operation, query, args, err)
	}
	return n, nil
}

// FetchByID loads a record. It returns nil, nil when the record does not
// exist.
func (m *SQLMapper) FetchByID(ctx context.Context, entityType, id string) (Entity, error) {
	def, err := m.entityDef(entityType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}

	query := NewSelect(entityType).Where(Cond(IDAttribute, id)).Limit(0, 1)
	sqlStr, args, err := m.compiler.compileSelect(query, nil, nil, modeRows)
	if err != nil {
		return nil, err
	}

	rows, err := m.queryRows(ctx, m.resolver.Replica(), sqlStr, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities, err := newBinder(def).bind(rows)
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	return entities[0], nil
}

// Insert stores e. An id is generated when e has none.
func (m *SQLMapper) Insert(ctx context.Context, e Entity) error {
	def, err := m.entityDef(e.EntityType())
	if err != nil {
		return err
	}
	if !e.HasID() {
		e.Set(IDAttribute, uuid.NewString())
	}

	var (
		cols []string
		args []any
	)
	for _, attr := range def.Attributes {
		if !e.Has(attr) {
			continue
		}
		cols = append(cols, m.col(attr))
		args = append(args, e.Get(attr))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		m.q(def.Table), strings.Join(cols, ", "), strings.Join(questionMarks(len(cols)), ", "))
	_, err = m.exec(ctx, query, args)
	return err
}

// ownerWith returns owner when attrs are loaded in memory, otherwise the
// stored owner.
func (m *SQLMapper) ownerWith(ctx context.Context, owner Entity, attrs ...string) (Entity, error) {
	for _, attr := range attrs {
		if owner.Has(attr) {
			continue
		}
		stored, err := m.FetchByID(ctx, owner.EntityType(), owner.ID())
		if err != nil || stored == nil {
			return owner, err
		}
		return stored, nil
	}
	return owner, nil
}

// SelectRelated returns the single record the relation points at.
func (m *SQLMapper) SelectRelated(ctx context.Context, owner Entity, relationName string) (Entity, error) {
	rel, err := m.relation(owner, relationName)
	if err != nil {
		return nil, err
	}

	switch rel.Kind {
	case RelationBelongsToParent:
		source, err := m.ownerWith(ctx, owner, rel.Key, rel.TypeKey)
		if err != nil {
			return nil, err
		}
		id := idString(source.Get(rel.Key))
		parentType, _ := source.Get(rel.TypeKey).(string)
		if id == "" || parentType == "" {
			return nil, nil
		}
		return m.FetchByID(ctx, parentType, id)
	case RelationBelongsTo:
		source, err := m.ownerWith(ctx, owner, rel.Key)
		if err != nil {
			return nil, err
		}
		owner = source
	}

	c, err := m.FindRelated(ctx, owner, relationName, NewSelect(rel.Entity).Limit(0, 1), true)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if c.Next() {
		return c.Entity(), nil
	}
	return nil, c.Err()
}

// FindRelated selects the records related to owner.
func (m *SQLMapper) FindRelated(ctx context.Context, owner Entity, relationName string, query *Select, sth bool) (Collection, error) {
	rel, err := m.relation(owner, relationName)
	if err != nil {
		return nil, err
	}
	if rel.Kind == RelationBelongsToParent {
		return nil, relationErr(owner.EntityType(), rel.Name, ErrUnsupportedOperation, "can't select %s relation", rel.Kind)
	}
	if query == nil {
		query = NewSelect(rel.Entity)
	}
	if query.From() != rel.Entity {
		return nil, relationErr(owner.EntityType(), rel.Name, ErrTypeMismatch, "query selects %s, relation points to %s", query.From(), rel.Entity)
	}
	if rel.Kind == RelationBelongsTo {
		if owner, err = m.ownerWith(ctx, owner, rel.Key); err != nil {
			return nil, err
		}
	}

	def, err := m.entityDef(rel.Entity)
	if err != nil {
		return nil, err
	}

	sqlStr, args, err := m.compiler.compileSelect(query, owner, rel, modeRows)
	if errors.Is(err, errEmptyRelation) {
		return NewEntityCollection(def.Type).SetAsFetched(), nil
	}
	if err != nil {
		return nil, &RelationError{Relation: rel.Name, EntityType: owner.EntityType(), Err: err}
	}

	rows, err := m.queryRows(ctx, m.resolver.Replica(), sqlStr, args)
	if err != nil {
		return nil, err
	}

	if sth {
		return newSthCollection(rows, def), nil
	}
	defer rows.Close()

	entities, err := newBinder(def).bind(rows)
	if err != nil {
		return nil, err
	}
	return NewEntityCollection(def.Type, entities...).SetAsFetched(), nil
}

// CountRelated counts the records related to owner.
func (m *SQLMapper) CountRelated(ctx context.Context, owner Entity, relationName string, query *Select) (int, error) {
	rel, err := m.relation(owner, relationName)
	if err != nil {
		return 0, err
	}
	if rel.Kind == RelationBelongsToParent {
		return 0, relationErr(owner.EntityType(), rel.Name, ErrUnsupportedOperation, "can't count %s relation", rel.Kind)
	}
	if query == nil {
		query = NewSelect(rel.Entity)
	}
	if query.From() != rel.Entity {
		return 0, relationErr(owner.EntityType(), rel.Name, ErrTypeMismatch, "query selects %s, relation points to %s", query.From(), rel.Entity)
	}
	if rel.Kind == RelationBelongsTo {
		if owner, err = m.ownerWith(ctx, owner, rel.Key); err != nil {
			return 0, err
		}
	}

	sqlStr, args, err := m.compiler.compileSelect(query, owner, rel, modeCount)
	if errors.Is(err, errEmptyRelation) {
		return 0, nil
	}
	if err != nil {
		return 0, &RelationError{Relation: rel.Name, EntityType: owner.EntityType(), Err: err}
	}

	var n int64
	if err := m.queryScalar(ctx, m.resolver.Replica(), sqlStr, args, &n); err != nil {
		return 0, err
	}
	return int(n), nil
}

// foreignValue is the value a belongs-to key stores for target.
func foreignValue(rel *RelationDef, target Entity) string {
	if rel.ForeignKey == "" || rel.ForeignKey == IDAttribute {
		return target.ID()
	}
	return idString(target.Get(rel.ForeignKey))
}

// Relate links target to owner and reports whether a new link was made.
func (m *SQLMapper) Relate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any) (bool, error) {
	rel, err := m.relation(owner, relationName)
	if err != nil {
		return false, err
	}
	if target == nil || !target.HasID() {
		return false, relationErr(owner.EntityType(), rel.Name, ErrInvalidArgument, "target must have an id")
	}

	switch rel.Kind {
	case RelationHasMany, RelationHasOne:
		foreign, err := m.entityDef(rel.Entity)
		if err != nil {
			return false, err
		}
		table, fk, id := m.q(foreign.Table), m.col(rel.ForeignKey), m.q(IDAttribute)

		if rel.Kind == RelationHasOne {
			_, err := m.exec(ctx,
				fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = ? AND %s != ?", table, fk, fk, id),
				[]any{owner.ID(), target.ID()})
			if err != nil {
				return false, err
			}
		}

		n, err := m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ? AND (%s IS NULL OR %s != ?)", table, fk, id, fk, fk),
			[]any{owner.ID(), target.ID(), owner.ID()})
		return n > 0, err

	case RelationHasChildren:
		foreign, err := m.entityDef(rel.Entity)
		if err != nil {
			return false, err
		}
		fk, ft := m.col(rel.ForeignKey), m.col(rel.TypeKey)
		n, err := m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ? AND (%s IS NULL OR %s IS NULL OR %s != ? OR %s != ?)",
				m.q(foreign.Table), fk, ft, m.q(IDAttribute), fk, ft, fk, ft),
			[]any{owner.ID(), owner.EntityType(), target.ID(), owner.ID(), owner.EntityType()})
		return n > 0, err

	case RelationBelongsTo:
		ownerDef, err := m.entityDef(owner.EntityType())
		if err != nil {
			return false, err
		}
		value := foreignValue(rel, target)
		if value == "" {
			return false, relationErr(owner.EntityType(), rel.Name, ErrInvalidArgument, "target has no %s", rel.ForeignKey)
		}
		key := m.col(rel.Key)
		n, err := m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ? AND (%s IS NULL OR %s != ?)", m.q(ownerDef.Table), key, m.q(IDAttribute), key, key),
			[]any{value, owner.ID(), value})
		if err != nil {
			return false, err
		}
		owner.Set(rel.Key, value)
		return n > 0, nil

	case RelationBelongsToParent:
		if len(rel.ParentTypes) > 0 && !slices.Contains(rel.ParentTypes, target.EntityType()) {
			return false, relationErr(owner.EntityType(), rel.Name, ErrTypeMismatch, "%s is not a parent type", target.EntityType())
		}
		ownerDef, err := m.entityDef(owner.EntityType())
		if err != nil {
			return false, err
		}
		key, tk := m.col(rel.Key), m.col(rel.TypeKey)
		n, err := m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ? AND (%s IS NULL OR %s IS NULL OR %s != ? OR %s != ?)",
				m.q(ownerDef.Table), key, tk, m.q(IDAttribute), key, tk, key, tk),
			[]any{target.ID(), target.EntityType(), owner.ID(), target.ID(), target.EntityType()})
		if err != nil {
			return false, err
		}
		owner.Set(rel.Key, target.ID())
		owner.Set(rel.TypeKey, target.EntityType())
		return n > 0, nil

	case RelationManyMany:
		return m.relateManyMany(ctx, owner, rel, target.ID(), columnData)
	}

	return false, relationErr(owner.EntityType(), rel.Name, ErrUnsupportedOperation, "can't relate %s relation", rel.Kind)
}

func (m *SQLMapper) relateManyMany(ctx context.Context, owner Entity, rel *RelationDef, targetID string, columnData map[string]any) (bool, error) {
	if err := checkColumns(owner, rel, columnData); err != nil {
		return false, err
	}

	where, whereArgs := m.middleWhere(rel, owner.ID(), targetID)

	var n int64
	err := m.queryScalar(ctx, m.resolver.Primary(),
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", m.q(rel.MidTable), where), whereArgs, &n)
	if err != nil {
		return false, err
	}

	if n > 0 {
		if len(columnData) == 0 {
			return false, nil
		}
		return false, m.updateMiddle(ctx, rel, where, whereArgs, columnData)
	}

	cols := []string{m.col(rel.NearKey), m.col(rel.DistantKey)}
	args := []any{owner.ID(), targetID}
	for _, k := range sortedKeys(rel.Conditions) {
		cols = append(cols, m.col(k))
		args = append(args, rel.Conditions[k])
	}
	for _, k := range sortedKeys(columnData) {
		cols = append(cols, m.col(k))
		args = append(args, columnData[k])
	}

	_, err = m.exec(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", m.q(rel.MidTable), strings.Join(cols, ", "), strings.Join(questionMarks(len(cols)), ", ")),
		args)
	return err == nil, err
}

// middleWhere matches the middle row linking nearID and distantID, including
// the relation's fixed conditions.
func (m *SQLMapper) middleWhere(rel *RelationDef, nearID, distantID string) (string, []any) {
	parts := []string{m.col(rel.NearKey) + " = ?", m.col(rel.DistantKey) + " = ?"}
	args := []any{nearID, distantID}

	for _, k := range sortedKeys(rel.Conditions) {
		v := rel.Conditions[k]
		if v == nil {
			parts = append(parts, m.col(k)+" IS NULL")
			continue
		}
		parts = append(parts, m.col(k)+" = ?")
		args = append(args, v)
	}

	return strings.Join(parts, " AND "), args
}

func (m *SQLMapper) updateMiddle(ctx context.Context, rel *RelationDef, where string, whereArgs []any, columnData map[string]any) error {
	keys := sortedKeys(columnData)
	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+len(whereArgs))
	for _, k := range keys {
		sets = append(sets, m.col(k)+" = ?")
		args = append(args, columnData[k])
	}
	args = append(args, whereArgs...)

	_, err := m.exec(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE %s", m.q(rel.MidTable), strings.Join(sets, ", "), where),
		args)
	return err
}

func checkColumns(owner Entity, rel *RelationDef, columnData map[string]any) error {
	for k := range columnData {
		if !rel.HasColumn(k) {
			return relationErr(owner.EntityType(), rel.Name, ErrInvalidArgument, "%s is not a column of the relation", k)
		}
	}
	return nil
}

// Unrelate removes the link between owner and target.
func (m *SQLMapper) Unrelate(ctx context.Context, owner Entity, relationName string, target Entity) error {
	rel, err := m.relation(owner, relationName)
	if err != nil {
		return err
	}
	if target == nil || !target.HasID() {
		return relationErr(owner.EntityType(), rel.Name, ErrInvalidArgument, "target must have an id")
	}

	switch rel.Kind {
	case RelationHasMany, RelationHasOne:
		foreign, err := m.entityDef(rel.Entity)
		if err != nil {
			return err
		}
		fk := m.col(rel.ForeignKey)
		_, err = m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = ? AND %s = ?", m.q(foreign.Table), fk, m.q(IDAttribute), fk),
			[]any{target.ID(), owner.ID()})
		return err

	case RelationHasChildren:
		foreign, err := m.entityDef(rel.Entity)
		if err != nil {
			return err
		}
		fk, ft := m.col(rel.ForeignKey), m.col(rel.TypeKey)
		_, err = m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = NULL, %s = NULL WHERE %s = ? AND %s = ? AND %s = ?", m.q(foreign.Table), fk, ft, m.q(IDAttribute), fk, ft),
			[]any{target.ID(), owner.ID(), owner.EntityType()})
		return err

	case RelationBelongsTo:
		ownerDef, err := m.entityDef(owner.EntityType())
		if err != nil {
			return err
		}
		value := foreignValue(rel, target)
		if value == "" {
			return relationErr(owner.EntityType(), rel.Name, ErrInvalidArgument, "target has no %s", rel.ForeignKey)
		}
		key := m.col(rel.Key)
		if _, err := m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = ? AND %s = ?", m.q(ownerDef.Table), key, m.q(IDAttribute), key),
			[]any{owner.ID(), value}); err != nil {
			return err
		}
		if sameID(owner.Get(rel.Key), value) {
			owner.Set(rel.Key, nil)
		}
		return nil

	case RelationBelongsToParent:
		ownerDef, err := m.entityDef(owner.EntityType())
		if err != nil {
			return err
		}
		key, tk := m.col(rel.Key), m.col(rel.TypeKey)
		if _, err := m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = NULL, %s = NULL WHERE %s = ? AND %s = ? AND %s = ?", m.q(ownerDef.Table), key, tk, m.q(IDAttribute), key, tk),
			[]any{owner.ID(), target.ID(), target.EntityType()}); err != nil {
			return err
		}
		if sameID(owner.Get(rel.Key), target.ID()) && owner.Get(rel.TypeKey) == target.EntityType() {
			owner.Set(rel.Key, nil)
			owner.Set(rel.TypeKey, nil)
		}
		return nil

	case RelationManyMany:
		where, args := m.middleWhere(rel, owner.ID(), target.ID())
		_, err := m.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", m.q(rel.MidTable), where), args)
		return err
	}

	return relationErr(owner.EntityType(), rel.Name, ErrUnsupportedOperation, "can't unrelate %s relation", rel.Kind)
}

// MassRelate links every record matched by query to owner.
func (m *SQLMapper) MassRelate(ctx context.Context, owner Entity, relationName string, query *Select) error {
	rel, err := m.relation(owner, relationName)
	if err != nil {
		return err
	}
	if query == nil {
		return relationErr(owner.EntityType(), rel.Name, ErrInvalidArgument, "query is nil")
	}
	if query.From() != rel.Entity {
		return relationErr(owner.EntityType(), rel.Name, ErrTypeMismatch, "query selects %s, relation points to %s", query.From(), rel.Entity)
	}

	switch rel.Kind {
	case RelationManyMany, RelationHasMany, RelationHasChildren:
	default:
		return relationErr(owner.EntityType(), rel.Name, ErrUnsupportedOperation, "can't mass relate %s relation", rel.Kind)
	}

	sub, subArgs, err := m.compiler.compileSelect(query, nil, nil, modeIDs)
	if err != nil {
		return &RelationError{Relation: rel.Name, EntityType: owner.EntityType(), Err: err}
	}
	subAlias := m.q("sub")
	subIDs := fmt.Sprintf("SELECT %s.%s FROM (%s) AS %s", subAlias, m.q(IDAttribute), sub, subAlias)

	switch rel.Kind {
	case RelationHasMany:
		foreign, err := m.entityDef(rel.Entity)
		if err != nil {
			return err
		}
		args := append([]any{owner.ID()}, subArgs...)
		_, err = m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s IN (%s)", m.q(foreign.Table), m.col(rel.ForeignKey), m.q(IDAttribute), subIDs),
			args)
		return err

	case RelationHasChildren:
		foreign, err := m.entityDef(rel.Entity)
		if err != nil {
			return err
		}
		args := append([]any{owner.ID(), owner.EntityType()}, subArgs...)
		_, err = m.exec(ctx,
			fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s IN (%s)", m.q(foreign.Table), m.col(rel.ForeignKey), m.col(rel.TypeKey), m.q(IDAttribute), subIDs),
			args)
		return err
	}

	// Many-to-many: insert the missing middle rows.
	existing := m.q("existing")
	cols := []string{m.col(rel.NearKey), m.col(rel.DistantKey)}
	values := []string{"?", subAlias + "." + m.q(IDAttribute)}
	notExists := []string{
		existing + "." + m.col(rel.NearKey) + " = ?",
		existing + "." + m.col(rel.DistantKey) + " = " + subAlias + "." + m.q(IDAttribute),
	}

	var condArgs, existsArgs []any
	for _, k := range sortedKeys(rel.Conditions) {
		v := rel.Conditions[k]
		cols = append(cols, m.col(k))
		values = append(values, "?")
		condArgs = append(condArgs, v)
		if v == nil {
			notExists = append(notExists, existing+"."+m.col(k)+" IS NULL")
			continue
		}
		notExists = append(notExists, existing+"."+m.col(k)+" = ?")
		existsArgs = append(existsArgs, v)
	}

	args := make([]any, 0, 2+len(condArgs)+len(subArgs)+len(existsArgs))
	args = append(args, owner.ID())
	args = append(args, condArgs...)
	args = append(args, subArgs...)
	args = append(args, owner.ID())
	args = append(args, existsArgs...)

	_, err = m.exec(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM (%s) AS %s WHERE NOT EXISTS (SELECT 1 FROM %s AS %s WHERE %s)",
			m.q(rel.MidTable), strings.Join(cols, ", "), strings.Join(values, ", "), sub, subAlias,
			m.q(rel.MidTable), existing, strings.Join(notExists, " AND ")),
		args)
	return err
}

// UpdateRelationColumns updates middle-table columns of one link.
func (m *SQLMapper) UpdateRelationColumns(ctx context.Context, owner Entity, relationName, targetID string, columnData map[string]any) error {
	rel, err := m.manyManyRelation(owner, relationName, targetID)
	if err != nil {
		return err
	}
	if err := checkColumns(owner, rel, columnData); err != nil {
		return err
	}
	if len(columnData) == 0 {
		return nil
	}

	where, args := m.middleWhere(rel, owner.ID(), targetID)
	return m.updateMiddle(ctx, rel, where, args, columnData)
}

// GetRelationColumn reads a middle-table column of one link. It returns nil
// when the records are not related.
func (m *SQLMapper) GetRelationColumn(ctx context.Context, owner Entity, relationName, targetID, column string) (any, error) {
	rel, err := m.manyManyRelation(owner, relationName, targetID)
	if err != nil {
		return nil, err
	}
	if !rel.HasColumn(column) {
		return nil, relationErr(owner.EntityType(), rel.Name, ErrInvalidArgument, "%s is not a column of the relation", column)
	}

	where, args := m.middleWhere(rel, owner.ID(), targetID)

	var value any
	err = m.queryScalar(ctx, m.resolver.Replica(),
		fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1", m.col(column), m.q(rel.MidTable), where), args, &value)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return normalizeValue(value), nil
}

func (m *SQLMapper) manyManyRelation(owner Entity, relationName, targetID string) (*RelationDef, error) {
	rel, err := m.relation(owner, relationName)
	if err != nil {
		return nil, err
	}
	if rel.Kind != RelationManyMany {
		return nil, relationErr(owner.EntityType(), rel.Name, ErrUnsupportedOperation, "relation columns are only available for many-to-many")
	}
	if targetID == "" {
		return nil, relationErr(owner.EntityType(), rel.Name, ErrInvalidArgument, "empty id")
	}
	return rel, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
