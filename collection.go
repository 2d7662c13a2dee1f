package relorm

import "database/sql"

// Collection is a forward-only sequence of entities.
//
//	for c.Next() {
//		e := c.Entity()
//	}
//	if err := c.Err(); err != nil { ... }
type Collection interface {
	Next() bool
	Entity() Entity
	Err() error
	Close() error
}

// EntityCollection is an in-memory collection.
type EntityCollection struct {
	entityType string
	entities   []Entity
	fetched    bool
	pos        int
}

// NewEntityCollection creates a collection holding entities.
func NewEntityCollection(entityType string, entities ...Entity) *EntityCollection {
	return &EntityCollection{
		entityType: entityType,
		entities:   entities,
	}
}

// EntityType returns the type of the entities held.
func (c *EntityCollection) EntityType() string { return c.entityType }

// SetAsFetched marks the collection as already loaded from storage.
func (c *EntityCollection) SetAsFetched() *EntityCollection {
	c.fetched = true
	return c
}

// IsFetched reports whether the collection was loaded and needs no query.
func (c *EntityCollection) IsFetched() bool { return c.fetched }

func (c *EntityCollection) Len() int { return len(c.entities) }

// Entities returns the held entities.
func (c *EntityCollection) Entities() []Entity { return c.entities }

// First returns the first entity or nil.
func (c *EntityCollection) First() Entity {
	if len(c.entities) == 0 {
		return nil
	}
	return c.entities[0]
}

func (c *EntityCollection) Next() bool {
	if c.pos >= len(c.entities) {
		return false
	}
	c.pos++
	return true
}

func (c *EntityCollection) Entity() Entity {
	if c.pos == 0 || c.pos > len(c.entities) {
		return nil
	}
	return c.entities[c.pos-1]
}

func (c *EntityCollection) Err() error { return nil }

// Close rewinds the collection.
func (c *EntityCollection) Close() error {
	c.pos = 0
	return nil
}

// SthCollection streams entities from an open result set without
// materializing it. It must be closed.
type SthCollection struct {
	rows    *sql.Rows
	binder  *binder
	current Entity
	err     error
	closed  bool
}

func newSthCollection(rows *sql.Rows, def *EntityDef) *SthCollection {
	return &SthCollection{
		rows:   rows,
		binder: newBinder(def),
	}
}

// Next advances to the next row. It closes the rows when they are exhausted
// or a scan fails.
func (c *SthCollection) Next() bool {
	if c.closed || c.err != nil {
		return false
	}

	if !c.rows.Next() {
		c.err = c.rows.Err()
		_ = c.Close()
		return false
	}

	record, err := c.binder.scan(c.rows)
	if err != nil {
		c.err = err
		_ = c.Close()
		return false
	}

	c.current = record
	return true
}

func (c *SthCollection) Entity() Entity { return c.current }

func (c *SthCollection) Err() error { return c.err }

func (c *SthCollection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

// CollectEntities drains c into a slice and closes it.
func CollectEntities(c Collection) ([]Entity, error) {
	defer c.Close()

	var out []Entity
	for c.Next() {
		out = append(out, c.Entity())
	}
	return out, c.Err()
}
