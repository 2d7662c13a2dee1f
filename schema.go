package relorm

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
	"github.com/jedib0t/go-pretty/table"
)

// RelationKind defines the kind of relationship between two entity types.
type RelationKind string

const (
	// RelationBelongsToParent is a polymorphic inverse relation: the owner
	// stores both the id and the entity type of its parent.
	RelationBelongsToParent RelationKind = "belongsToParent"

	// RelationBelongsTo is an inverse relation where the owner stores the
	// foreign id in one of its own attributes.
	RelationBelongsTo RelationKind = "belongsTo"

	// RelationHasMany is a one-to-many relation; the foreign entity stores the
	// owner id.
	RelationHasMany RelationKind = "hasMany"

	// RelationHasOne is a one-to-one relation; the foreign entity stores the
	// owner id.
	RelationHasOne RelationKind = "hasOne"

	// RelationHasChildren is the owning side of a belongs-to-parent relation:
	// the foreign entity stores the owner id and the owner entity type.
	RelationHasChildren RelationKind = "hasChildren"

	// RelationManyMany is a many-to-many relation through a middle table.
	RelationManyMany RelationKind = "manyMany"
)

// Metadata holds entity and relation definitions.
// It is safe for concurrent reads once configured.
type Metadata struct {
	mu       sync.RWMutex
	entities map[string]*EntityDef
}

// EntityDef describes an entity type.
type EntityDef struct {
	Type       string
	Table      string
	Attributes []string // Ordered, always starts with "id"
	Relations  map[string]*RelationDef
}

// RelationDef describes one declared relation of an entity type.
type RelationDef struct {
	Name string
	Kind RelationKind

	// Entity is the foreign entity type. Empty for belongs-to-parent.
	Entity string

	// Key is the owner attribute holding the foreign id (belongs-to,
	// belongs-to-parent).
	Key string

	// ForeignKey is the foreign attribute referencing the owner (has-many,
	// has-one, has-children) or referenced by Key (belongs-to).
	ForeignKey string

	// TypeKey holds the entity type next to the id for polymorphic kinds:
	// on the owner for belongs-to-parent, on the foreign entity for
	// has-children.
	TypeKey string

	// ParentTypes limits the entity types a belongs-to-parent may point to.
	ParentTypes []string

	// Middle table (many-to-many)
	MidTable   string
	NearKey    string
	DistantKey string
	Columns    []string       // Additional middle-table attributes
	Conditions map[string]any // Fixed middle-table conditions
}

// NewMetadata creates an empty metadata registry.
func NewMetadata() *Metadata {
	return &Metadata{entities: make(map[string]*EntityDef)}
}

// Entity returns the definition of an entity type.
func (md *Metadata) Entity(entityType string) (*EntityDef, bool) {
	md.mu.RLock()
	defer md.mu.RUnlock()

	def, ok := md.entities[entityType]
	return def, ok
}

// Relation returns a relation definition of an entity type.
func (md *Metadata) Relation(entityType, name string) (*RelationDef, bool) {
	def, ok := md.Entity(entityType)
	if !ok {
		return nil, false
	}
	return def.Relation(name)
}

// EntityTypes returns the defined entity types in sorted order.
func (md *Metadata) EntityTypes() []string {
	md.mu.RLock()
	defer md.mu.RUnlock()

	types := make([]string, 0, len(md.entities))
	for t := range md.entities {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks that every relation points to defined entity types and
// carries the keys its kind needs.
func (md *Metadata) Validate() error {
	var errs []error

	for _, entityType := range md.EntityTypes() {
		def, _ := md.Entity(entityType)
		for _, name := range def.RelationNames() {
			rel := def.Relations[name]
			if err := md.validateRelation(def, rel); err != nil {
				errs = append(errs, relationErr(def.Type, rel.Name, ErrInvalidConfig, "%s", err.Error()))
			}
		}
	}

	return errors.Join(errs...)
}

func (md *Metadata) validateRelation(def *EntityDef, rel *RelationDef) error {
	if rel.Kind == RelationBelongsToParent {
		if rel.Entity != "" {
			return fmt.Errorf("belongs-to-parent relation cannot fix a foreign entity type")
		}
		for _, t := range rel.ParentTypes {
			if _, ok := md.Entity(t); !ok {
				return fmt.Errorf("parent entity type %s is not defined", t)
			}
		}
		return nil
	}

	if rel.Entity == "" {
		return fmt.Errorf("foreign entity type is required for %s", rel.Kind)
	}
	foreign, ok := md.Entity(rel.Entity)
	if !ok {
		return fmt.Errorf("foreign entity type %s is not defined", rel.Entity)
	}

	switch rel.Kind {
	case RelationHasMany, RelationHasOne:
		if !foreign.HasAttribute(rel.ForeignKey) {
			return fmt.Errorf("foreign key %s is not an attribute of %s", rel.ForeignKey, foreign.Type)
		}
	case RelationHasChildren:
		if !foreign.HasAttribute(rel.ForeignKey) || !foreign.HasAttribute(rel.TypeKey) {
			return fmt.Errorf("keys %s/%s are not attributes of %s", rel.ForeignKey, rel.TypeKey, foreign.Type)
		}
	case RelationManyMany:
		if rel.MidTable == "" || rel.NearKey == "" || rel.DistantKey == "" {
			return fmt.Errorf("middle table and keys must be set")
		}
	case RelationBelongsTo:
		if !def.HasAttribute(rel.Key) {
			return fmt.Errorf("key %s is not an attribute of %s", rel.Key, def.Type)
		}
	default:
		return fmt.Errorf("unknown relation kind %q", rel.Kind)
	}

	return nil
}

// Relation returns a relation by name.
func (d *EntityDef) Relation(name string) (*RelationDef, bool) {
	rel, ok := d.Relations[name]
	return rel, ok
}

// RelationNames returns relation names in sorted order.
func (d *EntityDef) RelationNames() []string {
	names := make([]string, 0, len(d.Relations))
	for n := range d.Relations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasAttribute reports whether the attribute is declared.
func (d *EntityDef) HasAttribute(attribute string) bool {
	return slices.Contains(d.Attributes, attribute)
}

// Column returns the column name of an attribute.
func (d *EntityDef) Column(attribute string) string {
	return ToColumn(attribute)
}

// AttributeOf maps a column name back to the declared attribute.
func (d *EntityDef) AttributeOf(column string) string {
	for _, attr := range d.Attributes {
		if ToColumn(attr) == column {
			return attr
		}
	}
	return strcase.ToLowerCamel(column)
}

func (d *EntityDef) addAttribute(attribute string) {
	if attribute == "" || d.HasAttribute(attribute) {
		return
	}
	d.Attributes = append(d.Attributes, attribute)
}

// MiddleAlias is the alias of the middle table in relation selects.
func (r *RelationDef) MiddleAlias() string {
	return r.Name + "Middle"
}

// HasColumn reports whether attribute is an additional middle-table column.
func (r *RelationDef) HasColumn(attribute string) bool {
	return slices.Contains(r.Columns, attribute)
}

// ToColumn converts an attribute name to its snake_case column name.
func ToColumn(attribute string) string {
	return strcase.ToSnake(attribute)
}

// PrintSchematic writes a visual representation of the defined entities and
// their relations. Useful for debugging how attributes map to columns.
func (md *Metadata) PrintSchematic(w io.Writer) {
	for _, entityType := range md.EntityTypes() {
		def, _ := md.Entity(entityType)
		fmt.Fprintf(w, "%s (%s)\n", def.Type, def.Table)

		t := table.NewWriter()
		t.AppendHeader(table.Row{"Attribute", "Column"})
		for _, attr := range def.Attributes {
			t.AppendRow(table.Row{attr, def.Column(attr)})
		}
		fmt.Fprintln(w, t.Render())

		if len(def.Relations) == 0 {
			fmt.Fprintln(w)
			continue
		}

		rt := table.NewWriter()
		rt.AppendHeader(table.Row{"Relation", "Kind", "Foreign", "Keys"})
		for _, name := range def.RelationNames() {
			rel := def.Relations[name]
			foreign := rel.Entity
			if foreign == "" {
				foreign = strings.Join(rel.ParentTypes, "|")
			}
			rt.AppendRow(table.Row{rel.Name, string(rel.Kind), foreign, rel.keysString()})
		}
		fmt.Fprintln(w, rt.Render())
		fmt.Fprintln(w)
	}
}

func (r *RelationDef) keysString() string {
	switch r.Kind {
	case RelationBelongsTo:
		return r.Key + " -> " + r.ForeignKey
	case RelationBelongsToParent:
		return r.Key + ", " + r.TypeKey
	case RelationHasMany, RelationHasOne:
		return "id <- " + r.ForeignKey
	case RelationHasChildren:
		return "id <- " + r.ForeignKey + ", " + r.TypeKey
	case RelationManyMany:
		return fmt.Sprintf("%s(%s, %s)", r.MidTable, r.NearKey, r.DistantKey)
	}
	return ""
}
