package relorm

import (
	"fmt"
	"strings"
)

// Dialect describes the SQL flavor of a driver.
type Dialect struct {
	DriverName           string
	IdentifierQuote      string
	PlaceHolderGenerator func(n int) []string
}

// Quote quotes an identifier.
func (d *Dialect) Quote(identifier string) string {
	q := d.IdentifierQuote
	return q + strings.ReplaceAll(identifier, q, q+q) + q
}

// Rebind rewrites "?" placeholders into the dialect's placeholder style.
// Question marks inside single-quoted literals are left alone.
func (d *Dialect) Rebind(query string) string {
	n := countPlaceholders(query)
	if n == 0 {
		return query
	}

	phs := d.PlaceHolderGenerator(n)
	if phs[0] == "?" {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + n*2)
	i, quoted := 0, false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == '?' && !quoted:
			sb.WriteString(phs[i])
			i++
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func countPlaceholders(query string) int {
	n, quoted := 0, false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == '?' && !quoted:
			n++
		}
	}
	return n
}

var Dialects = &struct {
	MySQL      *Dialect
	PostgreSQL *Dialect
	SQLite3    *Dialect
}{
	MySQL: &Dialect{
		DriverName:           "mysql",
		IdentifierQuote:      "`",
		PlaceHolderGenerator: questionMarks,
	},

	PostgreSQL: &Dialect{
		DriverName:           "pgx",
		IdentifierQuote:      `"`,
		PlaceHolderGenerator: postgresPlaceholder,
	},

	SQLite3: &Dialect{
		DriverName:           "sqlite3",
		IdentifierQuote:      `"`,
		PlaceHolderGenerator: questionMarks,
	},
}

// DialectFor returns the dialect registered for a driver name.
func DialectFor(driver string) (*Dialect, error) {
	switch driver {
	case "mysql":
		return Dialects.MySQL, nil
	case "pgx", "postgres", "postgresql":
		return Dialects.PostgreSQL, nil
	case "sqlite3", "sqlite":
		return Dialects.SQLite3, nil
	}
	return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, driver)
}

func postgresPlaceholder(n int) []string {
	output := make([]string, 0, n)
	for i := 1; i < n+1; i++ {
		output = append(output, fmt.Sprintf("$%d", i))
	}

	return output
}

func questionMarks(n int) []string {
	output := make([]string, 0, n)
	for range n {
		output = append(output, "?")
	}

	return output
}
