package relorm

import "maps"

// IDAttribute is the identifier attribute every entity carries.
const IDAttribute = "id"

// Entity is a loaded record of some entity type.
type Entity interface {
	EntityType() string
	ID() string
	HasID() bool
	Get(attribute string) any
	Has(attribute string) bool
	Set(attribute string, value any)
}

// Record is a map-backed Entity.
type Record struct {
	entityType string
	attributes map[string]any
}

// NewRecord creates an empty record of the given entity type.
func NewRecord(entityType string) *Record {
	return &Record{
		entityType: entityType,
		attributes: make(map[string]any),
	}
}

// NewRecordWithID creates a record that carries only an identifier.
// It is used as a stand-in for a foreign record known by id only.
func NewRecordWithID(entityType, id string) *Record {
	r := NewRecord(entityType)
	r.Set(IDAttribute, id)
	return r
}

func (r *Record) EntityType() string { return r.entityType }

// ID returns the identifier, or an empty string when it is not set.
func (r *Record) ID() string {
	return idString(r.attributes[IDAttribute])
}

func (r *Record) HasID() bool { return r.ID() != "" }

func (r *Record) Get(attribute string) any { return r.attributes[attribute] }

// Has reports whether the attribute is present in memory, even if nil.
func (r *Record) Has(attribute string) bool {
	_, ok := r.attributes[attribute]
	return ok
}

func (r *Record) Set(attribute string, value any) {
	if attribute == IDAttribute && value != nil {
		value = idString(value)
	}
	r.attributes[attribute] = value
}

// SetMultiple sets several attributes at once.
func (r *Record) SetMultiple(values map[string]any) *Record {
	for k, v := range values {
		r.Set(k, v)
	}
	return r
}

// Clear removes an attribute from memory.
func (r *Record) Clear(attribute string) {
	delete(r.attributes, attribute)
}

// Attributes returns a copy of the attributes held in memory.
func (r *Record) Attributes() map[string]any {
	return maps.Clone(r.attributes)
}
