// Package db provides GORM-based persistence for recall.
package db

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
// Migrations are ordered and recorded; adding a new one means appending
// to this list, never editing a shipped entry.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: core tables
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Session{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&Observation{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&SessionSummary{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sessions", "observations", "session_summaries")
			},
		},

		// Migration 002: context injection log
		{
			ID: "002_context_injections",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&ContextInjection{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("context_injections")
			},
		},

		// Migration 003: FTS5 virtual table for observations.
		// entity_names is denormalized from the entities JSON in the triggers
		// so that MATCH can hit entity names without json_each at query time.
		{
			ID: "003_observations_fts",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
						title, subtitle, narrative, facts, concepts, topics, entity_names,
						content='observations',
						content_rowid='id'
					)`,
					`CREATE TRIGGER IF NOT EXISTS observations_ai AFTER INSERT ON observations BEGIN
						INSERT INTO observations_fts(rowid, title, subtitle, narrative, facts, concepts, topics, entity_names)
						VALUES (new.id, new.title, new.subtitle, new.narrative, new.facts, new.concepts, new.topics,
							(SELECT COALESCE(group_concat(json_extract(value, '$.name'), ' '), '')
							 FROM json_each(new.entities)));
					END`,
					`CREATE TRIGGER IF NOT EXISTS observations_ad AFTER DELETE ON observations BEGIN
						INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, facts, concepts, topics, entity_names)
						VALUES('delete', old.id, old.title, old.subtitle, old.narrative, old.facts, old.concepts, old.topics,
							(SELECT COALESCE(group_concat(json_extract(value, '$.name'), ' '), '')
							 FROM json_each(old.entities)));
					END`,
					`CREATE TRIGGER IF NOT EXISTS observations_au AFTER UPDATE ON observations BEGIN
						INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, facts, concepts, topics, entity_names)
						VALUES('delete', old.id, old.title, old.subtitle, old.narrative, old.facts, old.concepts, old.topics,
							(SELECT COALESCE(group_concat(json_extract(value, '$.name'), ' '), '')
							 FROM json_each(old.entities)));
						INSERT INTO observations_fts(rowid, title, subtitle, narrative, facts, concepts, topics, entity_names)
						VALUES (new.id, new.title, new.subtitle, new.narrative, new.facts, new.concepts, new.topics,
							(SELECT COALESCE(group_concat(json_extract(value, '$.name'), ' '), '')
							 FROM json_each(new.entities)));
					END`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				sqls := []string{
					"DROP TRIGGER IF EXISTS observations_au",
					"DROP TRIGGER IF EXISTS observations_ad",
					"DROP TRIGGER IF EXISTS observations_ai",
					"DROP TABLE IF EXISTS observations_fts",
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},

		// Migration 004: FTS5 virtual table for session summaries
		{
			ID: "004_session_summaries_fts",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`CREATE VIRTUAL TABLE IF NOT EXISTS session_summaries_fts USING fts5(
						request, investigated, learned, completed, next_steps, notes,
						content='session_summaries',
						content_rowid='id'
					)`,
					`CREATE TRIGGER IF NOT EXISTS session_summaries_ai AFTER INSERT ON session_summaries BEGIN
						INSERT INTO session_summaries_fts(rowid, request, investigated, learned, completed, next_steps, notes)
						VALUES (new.id, new.request, new.investigated, new.learned, new.completed, new.next_steps, new.notes);
					END`,
					`CREATE TRIGGER IF NOT EXISTS session_summaries_ad AFTER DELETE ON session_summaries BEGIN
						INSERT INTO session_summaries_fts(session_summaries_fts, rowid, request, investigated, learned, completed, next_steps, notes)
						VALUES('delete', old.id, old.request, old.investigated, old.learned, old.completed, old.next_steps, old.notes);
					END`,
					`CREATE TRIGGER IF NOT EXISTS session_summaries_au AFTER UPDATE ON session_summaries BEGIN
						INSERT INTO session_summaries_fts(session_summaries_fts, rowid, request, investigated, learned, completed, next_steps, notes)
						VALUES('delete', old.id, old.request, old.investigated, old.learned, old.completed, old.next_steps, old.notes);
						INSERT INTO session_summaries_fts(rowid, request, investigated, learned, completed, next_steps, notes)
						VALUES (new.id, new.request, new.investigated, new.learned, new.completed, new.next_steps, new.notes);
					END`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				sqls := []string{
					"DROP TRIGGER IF EXISTS session_summaries_au",
					"DROP TRIGGER IF EXISTS session_summaries_ad",
					"DROP TRIGGER IF EXISTS session_summaries_ai",
					"DROP TABLE IF EXISTS session_summaries_fts",
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
	})

	return m.Migrate()
}
