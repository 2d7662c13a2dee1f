package relorm

import "context"

// RelationMapper translates relation writes and single-record relation reads
// into storage operations.
type RelationMapper interface {
	// SelectRelated returns the single record a belongs-to(-parent) or
	// has-one relation points at, or nil.
	SelectRelated(ctx context.Context, owner Entity, relationName string) (Entity, error)

	// Relate links target to owner. It reports false when the pair was
	// already related.
	Relate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any) (bool, error)

	Unrelate(ctx context.Context, owner Entity, relationName string, target Entity) error

	// MassRelate links every record matched by query to owner.
	MassRelate(ctx context.Context, owner Entity, relationName string, query *Select) error

	UpdateRelationColumns(ctx context.Context, owner Entity, relationName, targetID string, columnData map[string]any) error
	GetRelationColumn(ctx context.Context, owner Entity, relationName, targetID, column string) (any, error)
}

// RelationSelecter runs select queries scoped to a relation of owner.
type RelationSelecter interface {
	// FindRelated returns the related records matching query. With sth set
	// the result is streamed and must be closed.
	FindRelated(ctx context.Context, owner Entity, relationName string, query *Select, sth bool) (Collection, error)
	CountRelated(ctx context.Context, owner Entity, relationName string, query *Select) (int, error)
}

// RecordLoader loads a record by id. It returns nil, nil when the record
// does not exist.
type RecordLoader interface {
	FetchByID(ctx context.Context, entityType, id string) (Entity, error)
}
