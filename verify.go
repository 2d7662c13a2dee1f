package relorm

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// InferredTables returns every table the metadata refers to: entity tables
// and many-to-many middle tables, sorted.
func (md *Metadata) InferredTables() []string {
	seen := make(map[string]bool)
	for _, entityType := range md.EntityTypes() {
		def, _ := md.Entity(entityType)
		seen[def.Table] = true
		for _, rel := range def.Relations {
			if rel.Kind == RelationManyMany {
				seen[rel.MidTable] = true
			}
		}
	}

	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// inferredColumns maps each inferred table to the columns the metadata
// expects in it.
func (md *Metadata) inferredColumns() map[string][]string {
	out := make(map[string][]string)
	add := func(table string, attrs ...string) {
		for _, attr := range attrs {
			col := ToColumn(attr)
			if !slices.Contains(out[table], col) {
				out[table] = append(out[table], col)
			}
		}
	}

	for _, entityType := range md.EntityTypes() {
		def, _ := md.Entity(entityType)
		add(def.Table, def.Attributes...)
		for _, name := range def.RelationNames() {
			rel := def.Relations[name]
			if rel.Kind != RelationManyMany {
				continue
			}
			add(rel.MidTable, rel.NearKey, rel.DistantKey)
			add(rel.MidTable, rel.Columns...)
			add(rel.MidTable, sortedKeys(rel.Conditions)...)
		}
	}
	return out
}

// VerifySchema checks that every inferred table exists in the database and
// carries the columns the metadata expects.
func (m *SQLMapper) VerifySchema(ctx context.Context) error {
	for table, expected := range m.metadata.inferredColumns() {
		columns, err := m.tableColumns(ctx, table)
		if err != nil {
			return fmt.Errorf("%w: table %s was inferred but can't be read, database is out of sync: %v", ErrInvalidConfig, table, err)
		}
		for _, col := range expected {
			if !slices.Contains(columns, col) {
				return fmt.Errorf("%w: column %s.%s was inferred but is not present", ErrInvalidConfig, table, col)
			}
		}
	}
	return nil
}

// ExecScript runs the semicolon separated statements of script on the
// primary, in order. Statements are not prepared or cached.
func (m *SQLMapper) ExecScript(ctx context.Context, script string) error {
	db := m.resolver.Primary()
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		start := time.Now()
		_, err := db.ExecContext(ctx, stmt)
		m.logQuery(stmt, nil, start, err)
		if err != nil {
			operation, _, _ := strings.Cut(stmt, " ")
			return WrapQueryError(operation, stmt, nil, err)
		}
	}
	return nil
}

func (m *SQLMapper) tableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := m.queryRows(ctx, m.resolver.Primary(), fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", m.q(table)), nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}
