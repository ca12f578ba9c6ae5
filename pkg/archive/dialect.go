package archive

import (
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type dialect struct {
	name     string
	blobType string
	numbered bool // $1, $2... instead of ?
}

var dialects = map[string]dialect{
	"sqlite3":  {name: "sqlite3", blobType: "BLOB"},
	"pgx":      {name: "pgx", blobType: "BYTEA", numbered: true},
	"postgres": {name: "postgres", blobType: "BYTEA", numbered: true},
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, &Error{Code: CodeInvalidConfig, Message: "unsupported driver: " + driver}
	}
	return d, nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() string {
	return `CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	sender      TEXT NOT NULL,
	recipients  TEXT NOT NULL,
	subject     TEXT NOT NULL,
	content     TEXT NOT NULL,
	raw         ` + d.blobType + `,
	received_at BIGINT NOT NULL
)`
}
