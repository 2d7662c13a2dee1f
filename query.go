package relorm

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Op is a comparison operator of a WhereItem.
type Op string

const (
	OpEq      Op = "="
	OpNe      Op = "!="
	OpGt      Op = ">"
	OpLt      Op = "<"
	OpGe      Op = ">="
	OpLe      Op = "<="
	OpLike    Op = "LIKE"
	OpNotLike Op = "NOT LIKE"
	OpIn      Op = "IN"
	OpNotIn   Op = "NOT IN"
)

const (
	ASC  string = "ASC"
	DESC string = "DESC"
)

// keyOps maps attribute-key suffixes to operators. Longer suffixes first.
var keyOps = []struct {
	suffix string
	op     Op
}{
	{">=", OpGe},
	{"<=", OpLe},
	{"!=", OpNe},
	{"!*", OpNotLike},
	{">", OpGt},
	{"<", OpLt},
	{"*", OpLike},
	{"=", OpEq},
}

// Column marks a condition value as a reference to another attribute
// ("alias.attribute") instead of a bound argument.
type Column string

// WhereItem is a structured condition. A leaf compares Attribute with Value;
// a group joins its And or Or children.
type WhereItem struct {
	Attribute string
	Op        Op
	Value     any

	And []WhereItem
	Or  []WhereItem
}

// IsEmpty reports whether the item carries no condition at all.
func (w WhereItem) IsEmpty() bool {
	return w.Attribute == "" && len(w.And) == 0 && len(w.Or) == 0
}

// Cond builds a condition from a key and a value. The key may end with an
// operator: "age>", "name!=", "name*" (LIKE), "name!*" (NOT LIKE).
// Slice values turn = and != into IN and NOT IN.
func Cond(key string, value any) WhereItem {
	attr, op := strings.TrimSpace(key), OpEq
	for _, ko := range keyOps {
		if strings.HasSuffix(attr, ko.suffix) {
			attr, op = strings.TrimSpace(strings.TrimSuffix(attr, ko.suffix)), ko.op
			break
		}
	}

	if values, ok := toSlice(value); ok {
		switch op {
		case OpEq:
			return WhereItem{Attribute: attr, Op: OpIn, Value: values}
		case OpNe:
			return WhereItem{Attribute: attr, Op: OpNotIn, Value: values}
		}
	}

	return WhereItem{Attribute: attr, Op: op, Value: value}
}

// Conds builds an AND group from a field to value map. Keys are sorted so
// the generated SQL is stable.
func Conds(m map[string]any) WhereItem {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]WhereItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, Cond(k, m[k]))
	}
	if len(items) == 1 {
		return items[0]
	}
	return WhereItem{And: items}
}

// And joins items with AND.
func And(items ...WhereItem) WhereItem {
	return WhereItem{And: items}
}

// Or joins items with OR.
func Or(items ...WhereItem) WhereItem {
	return WhereItem{Or: items}
}

// normalizeWhere resolves the accepted argument forms to one WhereItem:
// a WhereItem, a map[string]any, or a (key string, value any) pair.
func normalizeWhere(args ...any) (WhereItem, error) {
	switch len(args) {
	case 1:
		switch v := args[0].(type) {
		case WhereItem:
			return v, nil
		case *WhereItem:
			if v == nil {
				break
			}
			return *v, nil
		case map[string]any:
			return Conds(v), nil
		}
		return WhereItem{}, fmt.Errorf("%w: where expects a WhereItem or map[string]any, got %T", ErrInvalidArgument, args[0])
	case 2:
		key, ok := args[0].(string)
		if !ok {
			return WhereItem{}, fmt.Errorf("%w: where key must be a string, got %T", ErrInvalidArgument, args[0])
		}
		return Cond(key, args[1]), nil
	}

	return WhereItem{}, fmt.Errorf("%w: wrong number of arguments passed to where: %d", ErrInvalidArgument, len(args))
}

func toSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if vs, ok := v.([]any); ok {
		return vs, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// JoinType is the SQL join flavor.
type JoinType string

const (
	JoinTypeInner JoinType = "INNER"
	JoinTypeLeft  JoinType = "LEFT"
)

// Join joins either a relation of the selected entity (Target is the
// relation name) or an entity type (Target is the type, On is required).
type Join struct {
	Type   JoinType
	Target string
	Alias  string
	On     []WhereItem
}

// Order is one ORDER BY entry.
type Order struct {
	Attribute string
	Direction string
}

// Select is a select query over one entity type.
type Select struct {
	from       string
	attributes []string
	distinct   bool
	joins      []Join
	wheres     []WhereItem
	havings    []WhereItem
	orders     []Order
	groupBys   []string
	offset     int
	limit      int
	hasLimit   bool
}

// NewSelect creates a select over entityType.
func NewSelect(entityType string) *Select {
	return &Select{from: entityType}
}

// From returns the selected entity type.
func (s *Select) From() string {
	return s.from
}

// Attributes sets the attributes to select. All attributes when none set.
func (s *Select) Attributes(attributes ...string) *Select {
	s.attributes = append(s.attributes, attributes...)
	return s
}

// Distinct makes the select DISTINCT.
func (s *Select) Distinct() *Select {
	s.distinct = true
	return s
}

// Join adds an INNER JOIN.
func (s *Select) Join(target, alias string, on ...WhereItem) *Select {
	s.joins = append(s.joins, Join{Type: JoinTypeInner, Target: target, Alias: alias, On: on})
	return s
}

// LeftJoin adds a LEFT JOIN.
func (s *Select) LeftJoin(target, alias string, on ...WhereItem) *Select {
	s.joins = append(s.joins, Join{Type: JoinTypeLeft, Target: target, Alias: alias, On: on})
	return s
}

// Where adds conditions joined with AND.
func (s *Select) Where(items ...WhereItem) *Select {
	for _, item := range items {
		if !item.IsEmpty() {
			s.wheres = append(s.wheres, item)
		}
	}
	return s
}

// Having adds HAVING conditions joined with AND.
func (s *Select) Having(items ...WhereItem) *Select {
	for _, item := range items {
		if !item.IsEmpty() {
			s.havings = append(s.havings, item)
		}
	}
	return s
}

// Order adds an ORDER BY entry.
func (s *Select) Order(attribute, direction string) *Select {
	s.orders = append(s.orders, Order{Attribute: attribute, Direction: direction})
	return s
}

// GroupBy adds GROUP BY attributes.
func (s *Select) GroupBy(attributes ...string) *Select {
	s.groupBys = append(s.groupBys, attributes...)
	return s
}

// Limit sets OFFSET and LIMIT.
func (s *Select) Limit(offset, limit int) *Select {
	s.offset = offset
	s.limit = limit
	s.hasLimit = true
	return s
}

// Clone returns an independent copy.
func (s *Select) Clone() *Select {
	if s == nil {
		return nil
	}
	c := *s
	c.attributes = append([]string(nil), s.attributes...)
	c.joins = append([]Join(nil), s.joins...)
	c.wheres = append([]WhereItem(nil), s.wheres...)
	c.havings = append([]WhereItem(nil), s.havings...)
	c.orders = append([]Order(nil), s.orders...)
	c.groupBys = append([]string(nil), s.groupBys...)
	return &c
}

func (s *Select) SelectedAttributes() []string { return s.attributes }
func (s *Select) IsDistinct() bool             { return s.distinct }
func (s *Select) Joins() []Join                { return s.joins }
func (s *Select) WhereItems() []WhereItem      { return s.wheres }
func (s *Select) HavingItems() []WhereItem     { return s.havings }
func (s *Select) Orders() []Order              { return s.orders }
func (s *Select) GroupBys() []string           { return s.groupBys }

// LimitOffset returns the offset and limit and whether a limit is set.
func (s *Select) LimitOffset() (offset, limit int, ok bool) {
	return s.offset, s.limit, s.hasLimit
}

// withoutPaging drops ORDER BY, LIMIT and OFFSET.
func (s *Select) withoutPaging() *Select {
	c := s.Clone()
	c.orders = nil
	c.hasLimit = false
	c.offset, c.limit = 0, 0
	return c
}
