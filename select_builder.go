package relorm

import (
	"context"
	"fmt"
	"strings"
)

// RelationSelectBuilder builds a select over the records related to an
// owner. Builder methods record the first error, which Find, FindOne and
// Count return.
type RelationSelectBuilder struct {
	selecter RelationSelecter
	owner    Entity
	rel      *RelationDef
	query    *Select
	sth      bool
	err      error
}

func newRelationSelectBuilder(selecter RelationSelecter, owner Entity, rel *RelationDef, seed *Select) *RelationSelectBuilder {
	b := &RelationSelectBuilder{
		selecter: selecter,
		owner:    owner,
		rel:      rel,
	}

	if seed == nil {
		b.query = NewSelect(rel.Entity)
		return b
	}

	b.query = seed.Clone()
	if seed.From() != rel.Entity {
		b.err = relationErr(owner.EntityType(), rel.Name, ErrTypeMismatch,
			"query selects %s, relation points to %s", seed.From(), rel.Entity)
	}

	return b
}

// errBuilder returns a builder that only carries err.
func errBuilder(err error) *RelationSelectBuilder {
	return &RelationSelectBuilder{query: NewSelect(""), err: err}
}

func (b *RelationSelectBuilder) Err() error { return b.err }

// Query returns a copy of the accumulated select.
func (b *RelationSelectBuilder) Query() *Select { return b.query.Clone() }

func (b *RelationSelectBuilder) fail(err error) *RelationSelectBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// invalid records err tied to the relation and its owner.
func (b *RelationSelectBuilder) invalid(err error) *RelationSelectBuilder {
	if b.rel != nil && b.owner != nil {
		err = &RelationError{Relation: b.rel.Name, EntityType: b.owner.EntityType(), Err: err}
	}
	return b.fail(err)
}

// Join joins a relation of the foreign entity, or an entity type when on
// conditions are given.
func (b *RelationSelectBuilder) Join(target, alias string, on ...WhereItem) *RelationSelectBuilder {
	b.query.Join(target, alias, on...)
	return b
}

func (b *RelationSelectBuilder) LeftJoin(target, alias string, on ...WhereItem) *RelationSelectBuilder {
	b.query.LeftJoin(target, alias, on...)
	return b
}

func (b *RelationSelectBuilder) Distinct() *RelationSelectBuilder {
	b.query.Distinct()
	return b
}

// Sth switches Find to streaming mode.
func (b *RelationSelectBuilder) Sth() *RelationSelectBuilder {
	b.sth = true
	return b
}

// Where accepts a WhereItem, a map[string]any or a key and a value.
func (b *RelationSelectBuilder) Where(args ...any) *RelationSelectBuilder {
	item, err := normalizeWhere(args...)
	if err != nil {
		return b.invalid(err)
	}
	b.query.Where(item)
	return b
}

// Having accepts the same forms as Where.
func (b *RelationSelectBuilder) Having(args ...any) *RelationSelectBuilder {
	item, err := normalizeWhere(args...)
	if err != nil {
		return b.invalid(err)
	}
	b.query.Having(item)
	return b
}

// Order adds an ORDER BY entry: no arguments orders by id ascending, one
// argument by that attribute ascending, two by attribute and direction.
func (b *RelationSelectBuilder) Order(args ...string) *RelationSelectBuilder {
	switch len(args) {
	case 0:
		b.query.Order(IDAttribute, ASC)
	case 1:
		b.query.Order(args[0], ASC)
	case 2:
		b.query.Order(args[0], strings.ToUpper(args[1]))
	default:
		return b.invalid(fmt.Errorf("%w: order expects at most 2 arguments, got %d", ErrInvalidArgument, len(args)))
	}
	return b
}

func (b *RelationSelectBuilder) Limit(offset, limit int) *RelationSelectBuilder {
	b.query.Limit(offset, limit)
	return b
}

// Select restricts the selected attributes.
func (b *RelationSelectBuilder) Select(attributes ...string) *RelationSelectBuilder {
	b.query.Attributes(attributes...)
	return b
}

func (b *RelationSelectBuilder) GroupBy(attributes ...string) *RelationSelectBuilder {
	b.query.GroupBy(attributes...)
	return b
}

// ColumnsWhere adds conditions on middle-table columns of a many-to-many
// relation. Attributes without an alias refer to the middle table.
func (b *RelationSelectBuilder) ColumnsWhere(args ...any) *RelationSelectBuilder {
	if b.rel != nil && b.rel.Kind != RelationManyMany {
		return b.fail(relationErr(b.owner.EntityType(), b.rel.Name, ErrUnsupportedOperation,
			"columns where is only available for many-to-many relations"))
	}

	item, err := normalizeWhere(args...)
	if err != nil {
		return b.invalid(err)
	}
	if b.rel == nil {
		return b
	}

	b.query.Where(prefixWhere(item, b.rel.MiddleAlias()))
	return b
}

func prefixWhere(item WhereItem, alias string) WhereItem {
	if item.Attribute != "" && !strings.Contains(item.Attribute, ".") {
		item.Attribute = alias + "." + item.Attribute
	}

	prefix := func(items []WhereItem) []WhereItem {
		if items == nil {
			return nil
		}
		out := make([]WhereItem, len(items))
		for i, it := range items {
			out[i] = prefixWhere(it, alias)
		}
		return out
	}
	item.And = prefix(item.And)
	item.Or = prefix(item.Or)

	return item
}

// Find returns the related records.
func (b *RelationSelectBuilder) Find(ctx context.Context) (Collection, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.selecter.FindRelated(ctx, b.owner, b.rel.Name, b.query.Clone(), b.sth)
}

// FindOne returns the first related record or nil.
func (b *RelationSelectBuilder) FindOne(ctx context.Context) (Entity, error) {
	if b.err != nil {
		return nil, b.err
	}

	q := b.query.Clone()
	offset, _, _ := q.LimitOffset()
	q.Limit(offset, 1)

	c, err := b.selecter.FindRelated(ctx, b.owner, b.rel.Name, q, true)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if c.Next() {
		return c.Entity(), nil
	}
	return nil, c.Err()
}

// Count returns the number of related records.
func (b *RelationSelectBuilder) Count(ctx context.Context) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	return b.selecter.CountRelated(ctx, b.owner, b.rel.Name, b.query.Clone())
}
