package relorm

import (
	"maps"

	"github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
)

var pluralizer = pluralize.NewClient()

// EntityConfigurator defines an entity type's table, attributes and
// relations.
type EntityConfigurator struct {
	def *EntityDef
}

// Define starts (or continues) the definition of an entity type.
// The table defaults to the plural snake_case form of the type.
func (md *Metadata) Define(entityType string) *EntityConfigurator {
	md.mu.Lock()
	defer md.mu.Unlock()

	def, ok := md.entities[entityType]
	if !ok {
		def = &EntityDef{
			Type:       entityType,
			Table:      pluralizer.Plural(strcase.ToSnake(entityType)),
			Attributes: []string{IDAttribute},
			Relations:  make(map[string]*RelationDef),
		}
		md.entities[entityType] = def
	}

	return &EntityConfigurator{def: def}
}

// Table overrides the table name.
func (ec *EntityConfigurator) Table(name string) *EntityConfigurator {
	ec.def.Table = name

	return ec
}

// Attributes declares plain attributes.
func (ec *EntityConfigurator) Attributes(names ...string) *EntityConfigurator {
	for _, name := range names {
		ec.def.addAttribute(name)
	}

	return ec
}

// HasManyConfig configures a one-to-many relation.
type HasManyConfig struct {
	// ForeignKey is the attribute of the foreign entity that stores the owner
	// id. Defaults to "<owner>Id", e.g. "accountId".
	ForeignKey string
}

// HasMany declares a one-to-many relation.
func (ec *EntityConfigurator) HasMany(name, foreign string, config HasManyConfig) *EntityConfigurator {
	if config.ForeignKey == "" {
		config.ForeignKey = strcase.ToLowerCamel(ec.def.Type) + "Id"
	}

	ec.def.Relations[name] = &RelationDef{
		Name:       name,
		Kind:       RelationHasMany,
		Entity:     foreign,
		ForeignKey: config.ForeignKey,
	}

	return ec
}

// HasOneConfig configures a one-to-one relation. It is similar to
// HasManyConfig but represents a single foreign record.
type HasOneConfig struct {
	ForeignKey string
}

// HasOne declares a one-to-one relation.
func (ec *EntityConfigurator) HasOne(name, foreign string, config HasOneConfig) *EntityConfigurator {
	if config.ForeignKey == "" {
		config.ForeignKey = strcase.ToLowerCamel(ec.def.Type) + "Id"
	}

	ec.def.Relations[name] = &RelationDef{
		Name:       name,
		Kind:       RelationHasOne,
		Entity:     foreign,
		ForeignKey: config.ForeignKey,
	}

	return ec
}

// HasChildrenConfig configures the owning side of a polymorphic parent
// relation.
type HasChildrenConfig struct {
	// ForeignKey defaults to "parentId".
	ForeignKey string

	// ForeignType defaults to "parentType".
	ForeignType string
}

// HasChildren declares that foreign records point at this entity through
// their parent id and parent type attributes.
func (ec *EntityConfigurator) HasChildren(name, foreign string, config HasChildrenConfig) *EntityConfigurator {
	if config.ForeignKey == "" {
		config.ForeignKey = "parentId"
	}
	if config.ForeignType == "" {
		config.ForeignType = "parentType"
	}

	ec.def.Relations[name] = &RelationDef{
		Name:       name,
		Kind:       RelationHasChildren,
		Entity:     foreign,
		ForeignKey: config.ForeignKey,
		TypeKey:    config.ForeignType,
	}

	return ec
}

// BelongsToConfig configures an inverse relation.
type BelongsToConfig struct {
	// Key is the owner attribute holding the foreign id.
	// Defaults to "<name>Id", e.g. "accountId".
	Key string

	// ForeignKey is the foreign attribute Key references. Defaults to "id".
	ForeignKey string
}

// BelongsTo declares an inverse relation. The key attribute is added to the
// entity's attributes.
func (ec *EntityConfigurator) BelongsTo(name, foreign string, config BelongsToConfig) *EntityConfigurator {
	if config.Key == "" {
		config.Key = name + "Id"
	}
	if config.ForeignKey == "" {
		config.ForeignKey = IDAttribute
	}

	ec.def.addAttribute(config.Key)
	ec.def.Relations[name] = &RelationDef{
		Name:       name,
		Kind:       RelationBelongsTo,
		Entity:     foreign,
		Key:        config.Key,
		ForeignKey: config.ForeignKey,
	}

	return ec
}

// BelongsToParentConfig configures a polymorphic inverse relation.
type BelongsToParentConfig struct {
	// Key defaults to "<name>Id".
	Key string

	// TypeKey defaults to "<name>Type".
	TypeKey string

	// Entities optionally lists the entity types a parent can have.
	Entities []string
}

// BelongsToParent declares a polymorphic inverse relation. There is no fixed
// foreign entity type; both key attributes are added to the entity.
func (ec *EntityConfigurator) BelongsToParent(name string, config BelongsToParentConfig) *EntityConfigurator {
	if config.Key == "" {
		config.Key = name + "Id"
	}
	if config.TypeKey == "" {
		config.TypeKey = name + "Type"
	}

	ec.def.addAttribute(config.Key)
	ec.def.addAttribute(config.TypeKey)
	ec.def.Relations[name] = &RelationDef{
		Name:        name,
		Kind:        RelationBelongsToParent,
		Key:         config.Key,
		TypeKey:     config.TypeKey,
		ParentTypes: config.Entities,
	}

	return ec
}

// ManyManyConfig contains configuration for a many-to-many relationship.
type ManyManyConfig struct {
	// MidTable is the name of the middle table linking the two entities.
	// Defaults to "<owner>_<singular relation name>", e.g. "account_team".
	MidTable string

	// NearKey is the middle attribute referencing the owner.
	// Defaults to "<owner>Id".
	NearKey string

	// DistantKey is the middle attribute referencing the foreign entity.
	// Defaults to "<foreign>Id".
	DistantKey string

	// Columns are additional middle-table attributes, e.g. "role".
	Columns []string

	// Conditions are fixed middle-table conditions applied to every select
	// and written on relate, e.g. {"entityType": "Account"}.
	Conditions map[string]any
}

// ManyMany declares a many-to-many relation.
func (ec *EntityConfigurator) ManyMany(name, foreign string, config ManyManyConfig) *EntityConfigurator {
	if config.MidTable == "" {
		config.MidTable = strcase.ToSnake(ec.def.Type) + "_" + strcase.ToSnake(pluralizer.Singular(name))
	}
	if config.NearKey == "" {
		config.NearKey = strcase.ToLowerCamel(ec.def.Type) + "Id"
	}
	if config.DistantKey == "" {
		config.DistantKey = strcase.ToLowerCamel(foreign) + "Id"
	}

	ec.def.Relations[name] = &RelationDef{
		Name:       name,
		Kind:       RelationManyMany,
		Entity:     foreign,
		MidTable:   config.MidTable,
		NearKey:    config.NearKey,
		DistantKey: config.DistantKey,
		Columns:    config.Columns,
		Conditions: maps.Clone(config.Conditions),
	}

	return ec
}
