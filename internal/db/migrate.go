package db

import (
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration is one versioned schema step. Versions are globally unique and
// applied in ascending order; applying an already-applied version is a no-op.
type Migration struct {
	Version int
	Name    string
	Run     func(tx *gorm.DB) error
}

type schemaMigration struct {
	Version   int    `gorm:"primaryKey"`
	Name      string `gorm:"size:200"`
	AppliedAt time.Time
}

func (schemaMigration) TableName() string { return "schema_migrations" }

var registered []Migration

// Register queues migrations for Migrate. Feature packages call this from
// their setup path; duplicate versions are a programming error.
func Register(ms ...Migration) {
	registered = append(registered, ms...)
}

// Migrate applies all pending registered migrations in version order. It is
// idempotent: at head it does nothing.
func Migrate(d *gorm.DB) error {
	if err := d.AutoMigrate(&schemaMigration{}); err != nil {
		return fmt.Errorf("migrations table: %w", err)
	}

	sort.Slice(registered, func(i, j int) bool { return registered[i].Version < registered[j].Version })
	seen := map[int]string{}
	for _, m := range registered {
		if prev, dup := seen[m.Version]; dup {
			return fmt.Errorf("duplicate migration version %d (%q and %q)", m.Version, prev, m.Name)
		}
		seen[m.Version] = m.Name
	}

	var applied []schemaMigration
	if err := d.Find(&applied).Error; err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	done := map[int]bool{}
	for _, a := range applied {
		done[a.Version] = true
	}

	for _, m := range registered {
		if done[m.Version] {
			continue
		}
		start := time.Now()
		err := d.Transaction(func(tx *gorm.DB) error {
			if err := m.Run(tx); err != nil {
				return err
			}
			return tx.Create(&schemaMigration{Version: m.Version, Name: m.Name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d %s: %w", m.Version, m.Name, err)
		}
		log.Printf("[db] applied migration %d %s in %dms", m.Version, m.Name, time.Since(start).Milliseconds())
	}
	return nil
}
