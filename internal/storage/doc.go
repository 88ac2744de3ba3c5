// Package storage persists series metadata, harmonized observations and
// forecasts in SQLite or Postgres through database/sql.
package storage
