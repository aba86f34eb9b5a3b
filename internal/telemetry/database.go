package telemetry

import (
	"database/sql"
	"net/url"
	"strings"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenDB opens an instrumented Postgres pool whose connections all resolve
// unqualified table names in schema.
func OpenDB(driverName, dsn, schema string) (*sql.DB, error) {
	return otelsql.Open(driverName, WithSearchPath(dsn, schema),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
}

// WithSearchPath adds search_path as a startup parameter so it applies to
// every pooled connection, not only the one a SET ran on.
func WithSearchPath(dsn, schema string) string {
	if schema == "" {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return strings.TrimSpace(dsn + " search_path=" + schema)
}
