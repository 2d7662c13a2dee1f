package relorm

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/iancoleman/strcase"
)

// errEmptyRelation signals that the relation cannot match any row, e.g. a
// belongs-to whose key is not set. Callers turn it into an empty result.
var errEmptyRelation = errors.New("relorm: relation is empty")

var aggregateFuncs = []string{"COUNT", "SUM", "MIN", "MAX", "AVG"}

type selectMode int

const (
	modeRows selectMode = iota
	modeCount
	modeIDs
)

// compiler turns Select queries into SQL with "?" placeholders.
type compiler struct {
	md      *Metadata
	dialect *Dialect
}

type aliasTarget struct {
	def    *EntityDef
	middle *RelationDef
}

type scope struct {
	main    string
	aliases map[string]aliasTarget
}

func newScope(main string, def *EntityDef) *scope {
	return &scope{
		main:    main,
		aliases: map[string]aliasTarget{main: {def: def}},
	}
}

func (c *compiler) q(identifier string) string {
	return c.dialect.Quote(identifier)
}

func mainAlias(entityType string) string {
	return strcase.ToLowerCamel(entityType)
}

// ref resolves "attr", "alias.attr" or "FUNC:attr" into a quoted column
// expression. Only declared attributes resolve.
func (c *compiler) ref(sc *scope, attribute string) (string, error) {
	if fn, inner, ok := strings.Cut(attribute, ":"); ok {
		fn = strings.ToUpper(fn)
		if !slices.Contains(aggregateFuncs, fn) {
			return "", fmt.Errorf("%w: unknown function %s", ErrInvalidArgument, fn)
		}
		if inner == "*" && fn == "COUNT" {
			return "COUNT(*)", nil
		}
		expr, err := c.ref(sc, inner)
		if err != nil {
			return "", err
		}
		return fn + "(" + expr + ")", nil
	}

	alias, attr := sc.main, attribute
	if a, b, ok := strings.Cut(attribute, "."); ok {
		alias, attr = a, b
	}

	target, ok := sc.aliases[alias]
	if !ok {
		return "", fmt.Errorf("%w: unknown alias %q", ErrInvalidArgument, alias)
	}

	if target.middle != nil {
		rel := target.middle
		_, isCond := rel.Conditions[attr]
		if attr != rel.NearKey && attr != rel.DistantKey && !rel.HasColumn(attr) && !isCond {
			return "", fmt.Errorf("%w: %s is not a column of %s", ErrInvalidArgument, attr, rel.MidTable)
		}
	} else if !target.def.HasAttribute(attr) {
		return "", fmt.Errorf("%w: %s has no attribute %s", ErrInvalidArgument, target.def.Type, attr)
	}

	return c.q(alias) + "." + c.q(ToColumn(attr)), nil
}

func (c *compiler) where(sc *scope, w WhereItem, args *[]any) (string, error) {
	if len(w.And) > 0 || len(w.Or) > 0 {
		items, glue := w.And, " AND "
		if len(w.Or) > 0 {
			items, glue = w.Or, " OR "
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item.IsEmpty() {
				continue
			}
			part, err := c.where(sc, item, args)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		if len(parts) == 0 {
			return "1 = 1", nil
		}
		return "(" + strings.Join(parts, glue) + ")", nil
	}

	lhs, err := c.ref(sc, w.Attribute)
	if err != nil {
		return "", err
	}

	op := w.Op
	if op == "" {
		op = OpEq
	}

	if col, ok := w.Value.(Column); ok {
		rhs, err := c.ref(sc, string(col))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", lhs, op, rhs), nil
	}

	switch op {
	case OpEq, OpNe:
		if w.Value == nil {
			if op == OpEq {
				return lhs + " IS NULL", nil
			}
			return lhs + " IS NOT NULL", nil
		}
		*args = append(*args, w.Value)
		return fmt.Sprintf("%s %s ?", lhs, op), nil
	case OpGt, OpLt, OpGe, OpLe, OpLike, OpNotLike:
		*args = append(*args, w.Value)
		return fmt.Sprintf("%s %s ?", lhs, op), nil
	case OpIn, OpNotIn:
		values, ok := toSlice(w.Value)
		if !ok {
			values = []any{w.Value}
		}
		if len(values) == 0 {
			if op == OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		*args = append(*args, values...)
		return fmt.Sprintf("%s %s (%s)", lhs, op, strings.Join(questionMarks(len(values)), ", ")), nil
	}

	return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidArgument, op)
}

// relationJoin joins a relation of the entity behind alias "from".
func (c *compiler) relationJoin(sc *scope, from string, def *EntityDef, rel *RelationDef, j Join, args *[]any) (string, error) {
	foreign, ok := c.md.Entity(rel.Entity)
	if rel.Kind != RelationBelongsToParent && !ok {
		return "", fmt.Errorf("%w: foreign entity %s is not defined", ErrInvalidConfig, rel.Entity)
	}

	alias := j.Alias
	if alias == "" {
		alias = rel.Name
	}

	var sb strings.Builder
	var on []string

	switch rel.Kind {
	case RelationBelongsTo:
		sc.aliases[alias] = aliasTarget{def: foreign}
		on = append(on, fmt.Sprintf("%s.%s = %s.%s", c.q(alias), c.q(ToColumn(rel.ForeignKey)), c.q(from), c.q(ToColumn(rel.Key))))
	case RelationHasMany, RelationHasOne:
		sc.aliases[alias] = aliasTarget{def: foreign}
		on = append(on, fmt.Sprintf("%s.%s = %s.%s", c.q(alias), c.q(ToColumn(rel.ForeignKey)), c.q(from), c.q(IDAttribute)))
	case RelationHasChildren:
		sc.aliases[alias] = aliasTarget{def: foreign}
		on = append(on, fmt.Sprintf("%s.%s = %s.%s", c.q(alias), c.q(ToColumn(rel.ForeignKey)), c.q(from), c.q(IDAttribute)))
		on = append(on, fmt.Sprintf("%s.%s = ?", c.q(alias), c.q(ToColumn(rel.TypeKey))))
		*args = append(*args, def.Type)
	case RelationManyMany:
		middle := alias + "Middle"
		sc.aliases[middle] = aliasTarget{middle: rel}
		sc.aliases[alias] = aliasTarget{def: foreign}

		midOn := []string{fmt.Sprintf("%s.%s = %s.%s", c.q(middle), c.q(ToColumn(rel.NearKey)), c.q(from), c.q(IDAttribute))}
		midOn, err := c.middleConditions(sc, middle, rel, midOn, args)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%s JOIN %s AS %s ON %s ", j.Type, c.q(rel.MidTable), c.q(middle), strings.Join(midOn, " AND "))
		on = append(on, fmt.Sprintf("%s.%s = %s.%s", c.q(alias), c.q(IDAttribute), c.q(middle), c.q(ToColumn(rel.DistantKey))))
	default:
		return "", fmt.Errorf("%w: cannot join %s relation %s", ErrUnsupportedOperation, rel.Kind, rel.Name)
	}

	for _, item := range j.On {
		part, err := c.where(sc, item, args)
		if err != nil {
			return "", err
		}
		on = append(on, part)
	}

	fmt.Fprintf(&sb, "%s JOIN %s AS %s ON %s", j.Type, c.q(foreign.Table), c.q(alias), strings.Join(on, " AND "))
	return sb.String(), nil
}

// middleConditions appends the relation's fixed middle-table conditions.
func (c *compiler) middleConditions(sc *scope, middle string, rel *RelationDef, on []string, args *[]any) ([]string, error) {
	if len(rel.Conditions) == 0 {
		return on, nil
	}
	prefixed := make(map[string]any, len(rel.Conditions))
	for k, v := range rel.Conditions {
		prefixed[middle+"."+k] = v
	}
	part, err := c.where(sc, Conds(prefixed), args)
	if err != nil {
		return nil, err
	}
	return append(on, part), nil
}

func (c *compiler) join(sc *scope, def *EntityDef, j Join, args *[]any) (string, error) {
	if j.Type == "" {
		j.Type = JoinTypeInner
	}

	if rel, ok := def.Relation(j.Target); ok {
		return c.relationJoin(sc, sc.main, def, rel, j, args)
	}

	target, ok := c.md.Entity(j.Target)
	if !ok {
		return "", fmt.Errorf("%w: %s is neither a relation of %s nor an entity type", ErrInvalidArgument, j.Target, def.Type)
	}
	if len(j.On) == 0 {
		return "", fmt.Errorf("%w: join of entity type %s needs conditions", ErrInvalidArgument, j.Target)
	}

	alias := j.Alias
	if alias == "" {
		alias = mainAlias(target.Type)
	}
	sc.aliases[alias] = aliasTarget{def: target}

	on := make([]string, 0, len(j.On))
	for _, item := range j.On {
		part, err := c.where(sc, item, args)
		if err != nil {
			return "", err
		}
		on = append(on, part)
	}

	return fmt.Sprintf("%s JOIN %s AS %s ON %s", j.Type, c.q(target.Table), c.q(alias), strings.Join(on, " AND ")), nil
}

// relationScope adds the joins and conditions that restrict the select to
// the records related to owner.
func (c *compiler) relationScope(sc *scope, owner Entity, rel *RelationDef, joins *[]string, joinArgs *[]any, wheres *[]string, whereArgs *[]any) error {
	main := c.q(sc.main)

	switch rel.Kind {
	case RelationHasMany, RelationHasOne:
		*wheres = append(*wheres, fmt.Sprintf("%s.%s = ?", main, c.q(ToColumn(rel.ForeignKey))))
		*whereArgs = append(*whereArgs, owner.ID())
	case RelationHasChildren:
		*wheres = append(*wheres,
			fmt.Sprintf("%s.%s = ?", main, c.q(ToColumn(rel.ForeignKey))),
			fmt.Sprintf("%s.%s = ?", main, c.q(ToColumn(rel.TypeKey))))
		*whereArgs = append(*whereArgs, owner.ID(), owner.EntityType())
	case RelationBelongsTo:
		key := idString(owner.Get(rel.Key))
		if key == "" {
			return errEmptyRelation
		}
		*wheres = append(*wheres, fmt.Sprintf("%s.%s = ?", main, c.q(ToColumn(rel.ForeignKey))))
		*whereArgs = append(*whereArgs, key)
	case RelationManyMany:
		middle := rel.MiddleAlias()
		sc.aliases[middle] = aliasTarget{middle: rel}
		on := []string{
			fmt.Sprintf("%s.%s = %s.%s", c.q(middle), c.q(ToColumn(rel.DistantKey)), main, c.q(IDAttribute)),
			fmt.Sprintf("%s.%s = ?", c.q(middle), c.q(ToColumn(rel.NearKey))),
		}
		*joinArgs = append(*joinArgs, owner.ID())
		on, err := c.middleConditions(sc, middle, rel, on, joinArgs)
		if err != nil {
			return err
		}
		*joins = append(*joins, fmt.Sprintf("INNER JOIN %s AS %s ON %s", c.q(rel.MidTable), c.q(middle), strings.Join(on, " AND ")))
	default:
		return fmt.Errorf("%w: cannot select %s relation %s", ErrUnsupportedOperation, rel.Kind, rel.Name)
	}

	return nil
}

// compileSelect builds the SQL for q. When rel is set, the select is scoped
// to the records related to owner.
func (c *compiler) compileSelect(q *Select, owner Entity, rel *RelationDef, mode selectMode) (string, []any, error) {
	def, ok := c.md.Entity(q.From())
	if !ok {
		return "", nil, fmt.Errorf("%w: entity type %q is not defined", ErrInvalidArgument, q.From())
	}

	sc := newScope(mainAlias(def.Type), def)

	var (
		joins     []string
		joinArgs  []any
		wheres    []string
		whereArgs []any
	)

	if rel != nil {
		if err := c.relationScope(sc, owner, rel, &joins, &joinArgs, &wheres, &whereArgs); err != nil {
			return "", nil, err
		}
	}

	for _, j := range q.Joins() {
		js, err := c.join(sc, def, j, &joinArgs)
		if err != nil {
			return "", nil, err
		}
		joins = append(joins, js)
	}

	for _, w := range q.WhereItems() {
		part, err := c.where(sc, w, &whereArgs)
		if err != nil {
			return "", nil, err
		}
		wheres = append(wheres, part)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if q.IsDistinct() {
		sb.WriteString("DISTINCT ")
	}

	switch mode {
	case modeIDs:
		sb.WriteString(c.q(sc.main) + "." + c.q(IDAttribute))
	default:
		attrs := q.SelectedAttributes()
		if len(attrs) == 0 {
			attrs = def.Attributes
		}
		cols := make([]string, 0, len(attrs))
		for _, attr := range attrs {
			expr, err := c.ref(sc, attr)
			if err != nil {
				return "", nil, err
			}
			cols = append(cols, expr+" AS "+c.q(attr))
		}
		sb.WriteString(strings.Join(cols, ", "))
	}

	fmt.Fprintf(&sb, " FROM %s AS %s", c.q(def.Table), c.q(sc.main))
	for _, js := range joins {
		sb.WriteString(" " + js)
	}
	if len(wheres) > 0 {
		sb.WriteString(" WHERE " + strings.Join(wheres, " AND "))
	}

	if len(q.GroupBys()) > 0 {
		groups := make([]string, 0, len(q.GroupBys()))
		for _, g := range q.GroupBys() {
			expr, err := c.ref(sc, g)
			if err != nil {
				return "", nil, err
			}
			groups = append(groups, expr)
		}
		sb.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	}

	var havingArgs []any
	if len(q.HavingItems()) > 0 {
		havings := make([]string, 0, len(q.HavingItems()))
		for _, h := range q.HavingItems() {
			part, err := c.where(sc, h, &havingArgs)
			if err != nil {
				return "", nil, err
			}
			havings = append(havings, part)
		}
		sb.WriteString(" HAVING " + strings.Join(havings, " AND "))
	}

	if mode != modeCount {
		if len(q.Orders()) > 0 {
			orders := make([]string, 0, len(q.Orders()))
			for _, o := range q.Orders() {
				expr, err := c.ref(sc, o.Attribute)
				if err != nil {
					return "", nil, err
				}
				dir := strings.ToUpper(o.Direction)
				if dir == "" {
					dir = ASC
				}
				if dir != ASC && dir != DESC {
					return "", nil, fmt.Errorf("%w: order direction %q", ErrInvalidArgument, o.Direction)
				}
				orders = append(orders, expr+" "+dir)
			}
			sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
		}

		if offset, limit, ok := q.LimitOffset(); ok {
			fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", limit, offset)
		}
	}

	// nil when the query binds nothing
	var args []any
	args = append(args, joinArgs...)
	args = append(args, whereArgs...)
	args = append(args, havingArgs...)

	if mode == modeCount {
		return "SELECT COUNT(*) FROM (" + sb.String() + ") AS " + c.q("sub"), args, nil
	}

	return sb.String(), args, nil
}
