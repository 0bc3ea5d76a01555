package db

import "gorm.io/gorm"

// EnsureExtensions enables the Postgres extensions the schema relies on.
// On the sqlite development store this is a no-op.
func EnsureExtensions(d *gorm.DB) error {
	if !IsPostgres(d) {
		return nil
	}
	return d.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error
}
