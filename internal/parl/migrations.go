package parl

import (
	"github.com/OpenParlCA/OP-Backend/internal/db"
	"gorm.io/gorm"
)

// RegisterMigrations queues the legislative schema. Called once from each
// entrypoint before db.Migrate.
func RegisterMigrations() {
	db.Register(
		db.Migration{
			Version: 1,
			Name:    "legislative core tables",
			Run: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&Bill{},
					&Politician{},
					&Vote{},
					&VoteRecord{},
					&Committee{},
					&CommitteeMeeting{},
					&Debate{},
					&Speech{},
					&FetchLog{},
				)
			},
		},
		db.Migration{
			Version: 2,
			Name:    "bill full-text index",
			Run: func(tx *gorm.DB) error {
				if !db.IsPostgres(tx) {
					return nil // sqlite search path scans in-process
				}
				return tx.Exec(`
					CREATE INDEX IF NOT EXISTS bills_fts_idx ON bills USING GIN (
						to_tsvector('english',
							coalesce(title_en,'') || ' ' || coalesce(short_title_en,'') || ' ' || coalesce(summary_en,''))
					)`).Error
			},
		},
		db.Migration{
			Version: 3,
			Name:    "debate full-text index",
			Run: func(tx *gorm.DB) error {
				if !db.IsPostgres(tx) {
					return nil
				}
				return tx.Exec(`
					CREATE INDEX IF NOT EXISTS debates_fts_idx ON debates USING GIN (
						to_tsvector('english', coalesce(topic_en,''))
					)`).Error
			},
		},
	)
}
