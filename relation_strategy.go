package relorm

import "context"

// relationStrategy holds the behavior that differs per relation kind.
type relationStrategy interface {
	noBuilder() bool
	supportsColumns() bool
	find(ctx context.Context, r *Relation) (Collection, error)
	findOne(ctx context.Context, r *Relation) (Entity, error)
	isRelated(ctx context.Context, r *Relation, e Entity) (bool, error)
}

func strategyFor(kind RelationKind) relationStrategy {
	switch kind {
	case RelationBelongsToParent:
		return parentStrategy{}
	case RelationBelongsTo:
		return belongsToStrategy{}
	case RelationManyMany:
		return manyManyStrategy{}
	}
	return otherStrategy{}
}

// builderStrategy reads through relation select builders.
type builderStrategy struct{}

func (builderStrategy) noBuilder() bool       { return false }
func (builderStrategy) supportsColumns() bool { return false }

func (builderStrategy) find(ctx context.Context, r *Relation) (Collection, error) {
	b, err := r.CreateSelectBuilder(nil)
	if err != nil {
		return nil, err
	}
	return b.Find(ctx)
}

func (builderStrategy) findOne(ctx context.Context, r *Relation) (Entity, error) {
	b, err := r.CreateSelectBuilder(nil)
	if err != nil {
		return nil, err
	}
	return b.Sth().Limit(0, 1).FindOne(ctx)
}

func (builderStrategy) isRelated(ctx context.Context, r *Relation, e Entity) (bool, error) {
	if err := r.checkForeignEntity(e); err != nil {
		return false, err
	}

	b, err := r.CreateSelectBuilder(nil)
	if err != nil {
		return false, err
	}

	found, err := b.Select(IDAttribute).Where(IDAttribute, e.ID()).FindOne(ctx)
	if err != nil {
		return false, err
	}
	return found != nil, nil
}

type otherStrategy struct{ builderStrategy }

type manyManyStrategy struct{ builderStrategy }

func (manyManyStrategy) supportsColumns() bool { return true }

// belongsToStrategy compares the key held by the owner.
type belongsToStrategy struct{ builderStrategy }

func (belongsToStrategy) isRelated(ctx context.Context, r *Relation, e Entity) (bool, error) {
	source, err := r.ownerWith(ctx, r.def.Key)
	if err != nil || source == nil {
		return false, err
	}
	target, err := r.withForeignKey(ctx, e)
	if err != nil || target == nil {
		return false, err
	}
	return sameID(source.Get(r.def.Key), foreignValue(r.def, target)), nil
}

// parentStrategy serves the polymorphic belongs-to-parent relation, which
// has no single foreign table to build selects on.
type parentStrategy struct{}

func (parentStrategy) noBuilder() bool       { return true }
func (parentStrategy) supportsColumns() bool { return false }

func (parentStrategy) find(ctx context.Context, r *Relation) (Collection, error) {
	e, err := r.mapper.SelectRelated(ctx, r.owner, r.name)
	if err != nil {
		return nil, err
	}

	c := NewEntityCollection(r.foreignType)
	if e != nil {
		c = NewEntityCollection(e.EntityType(), e)
	}
	return c.SetAsFetched(), nil
}

func (parentStrategy) findOne(ctx context.Context, r *Relation) (Entity, error) {
	return r.mapper.SelectRelated(ctx, r.owner, r.name)
}

func (parentStrategy) isRelated(ctx context.Context, r *Relation, e Entity) (bool, error) {
	source, err := r.ownerWith(ctx, r.def.Key, r.def.TypeKey)
	if err != nil || source == nil {
		return false, err
	}

	parentType, _ := source.Get(r.def.TypeKey).(string)
	return sameID(source.Get(r.def.Key), e.ID()) && parentType == e.EntityType(), nil
}
