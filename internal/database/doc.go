// Package database provides the PostgreSQL connection pool for event archival.
package database
