package relorm

import (
	"database/sql"
	"fmt"
	"strings"
)

// binder scans result rows into records of one entity type.
// Column names are resolved to attributes once per result set.
type binder struct {
	def        *EntityDef
	attributes []string // Attribute per result column, cached on first scan
	dest       []any
	values     []any
}

func newBinder(def *EntityDef) *binder {
	return &binder{def: def}
}

// mapColumns resolves result columns to attribute names. Selects alias every
// column with its attribute name ("alias.attr" and "FUNC:attr" are kept
// as is), so the snake_case fallback only applies to drivers that drop
// aliases.
func (b *binder) mapColumns(rows *sql.Rows) error {
	if b.attributes != nil {
		return nil
	}

	columns, err := rows.Columns()
	if err != nil {
		return err
	}

	b.attributes = make([]string, len(columns))
	for i, column := range columns {
		if b.def.HasAttribute(column) || strings.ContainsAny(column, ".:") {
			b.attributes[i] = column
			continue
		}
		b.attributes[i] = b.def.AttributeOf(column)
	}

	b.values = make([]any, len(columns))
	b.dest = make([]any, len(columns))
	for i := range b.values {
		b.dest[i] = &b.values[i]
	}

	return nil
}

// scan reads the current row into a new record.
func (b *binder) scan(rows *sql.Rows) (*Record, error) {
	if err := b.mapColumns(rows); err != nil {
		return nil, err
	}

	if err := rows.Scan(b.dest...); err != nil {
		return nil, fmt.Errorf("relorm: scan %s: %w", b.def.Type, err)
	}

	record := NewRecord(b.def.Type)
	for i, attr := range b.attributes {
		record.Set(attr, normalizeValue(b.values[i]))
	}

	return record, nil
}

// bind scans all remaining rows. It does not close rows.
func (b *binder) bind(rows *sql.Rows) ([]Entity, error) {
	var entities []Entity
	for rows.Next() {
		record, err := b.scan(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, record)
	}

	return entities, rows.Err()
}

// normalizeValue converts driver byte slices to strings.
func normalizeValue(v any) any {
	if bs, ok := v.([]byte); ok {
		return string(bs)
	}
	return v
}
