// Package postgres provides the PostgreSQL connection pool used when
// database.driver is "postgres".
//
// Callers depend on the Pool interface rather than *pgxpool.Pool so the
// repositories built on it can be exercised with pgxmock.
package postgres
