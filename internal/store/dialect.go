package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported node drivers
type Dialect struct {
	Name string
	// Driver is the database/sql driver name
	Driver string
	// ShareLock is appended to locked reads; empty when the engine has no
	// row level read locks
	ShareLock string
	// dollarParams rebinds ? placeholders to $1..$n
	dollarParams bool
	upsertFmt    string
}

var (
	MySQLDialect = Dialect{
		Name:      "mysql",
		Driver:    "mysql",
		ShareLock: " LOCK IN SHARE MODE",
		upsertFmt: "%s ON DUPLICATE KEY UPDATE %s",
	}
	PostgresDialect = Dialect{
		Name:         "postgres",
		Driver:       "pgx",
		ShareLock:    " FOR SHARE",
		dollarParams: true,
		upsertFmt:    "%s ON CONFLICT (info_id) DO UPDATE SET %s",
	}
	SQLiteDialect = Dialect{
		Name:      "sqlite",
		Driver:    "sqlite",
		upsertFmt: "%s ON CONFLICT (info_id) DO UPDATE SET %s",
	}
)

// DialectFor returns the dialect of a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQLDialect, nil
	case "pgx", "postgres":
		return PostgresDialect, nil
	case "sqlite":
		return SQLiteDialect, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported node driver %q", driver)
	}
}

// Rebind converts ? placeholders for drivers that expect positional ones.
// Statements in this package never contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if !d.dollarParams {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Upsert turns an INSERT statement into an insert-or-replace keyed on info_id
func (d Dialect) Upsert(insert string, columns []string) string {
	sets := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == "info_id" {
			continue
		}
		if d.Name == "mysql" {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", col, col))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}
	return fmt.Sprintf(d.upsertFmt, insert, strings.Join(sets, ", "))
}
