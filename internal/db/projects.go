// Package db provides GORM-based persistence for recall.
package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// projectTables lists every table carrying a project column, in dependency
// order: children first so delete never orphans rows mid-transaction.
var projectTables = []string{
	"context_injections",
	"session_summaries",
	"observations",
	"sessions",
}

// ProjectRowCounts holds per-table row counts for a project.
type ProjectRowCounts struct {
	Sessions     int64 `json:"sessions"`
	Observations int64 `json:"observations"`
	Summaries    int64 `json:"session_summaries"`
	Injections   int64 `json:"context_injections"`
}

// Total returns the sum across all tables.
func (c ProjectRowCounts) Total() int64 {
	return c.Sessions + c.Observations + c.Summaries + c.Injections
}

// ProjectStore provides project-wide operations spanning every table that
// carries a project column.
type ProjectStore struct {
	db *gorm.DB
}

// NewProjectStore creates a new project store.
func NewProjectStore(store *Store) *ProjectStore {
	return &ProjectStore{db: store.DB}
}

// GetProjectRowCounts returns the per-table row counts for a project.
func (s *ProjectStore) GetProjectRowCounts(ctx context.Context, project string) (ProjectRowCounts, error) {
	return countsIn(s.db.WithContext(ctx), project)
}

// RenameProject moves every row of oldName to newName. Fails when the names
// are equal, when newName already holds rows anywhere, or when oldName holds
// none. The rename spans all tables in one transaction.
func (s *ProjectStore) RenameProject(ctx context.Context, oldName, newName string) (ProjectRowCounts, error) {
	var moved ProjectRowCounts
	if oldName == newName {
		return moved, ErrSameProject
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := countsIn(tx, newName)
		if err != nil {
			return err
		}
		if target.Total() > 0 {
			return fmt.Errorf("%w: %s", ErrProjectExists, newName)
		}

		source, err := countsIn(tx, oldName)
		if err != nil {
			return err
		}
		if source.Total() == 0 {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, oldName)
		}

		for _, table := range projectTables {
			if err := tx.Table(table).
				Where("project = ?", oldName).
				Update("project", newName).Error; err != nil {
				return fmt.Errorf("rename in %s: %w", table, err)
			}
		}

		moved = source
		return nil
	})
	return moved, err
}

// MergeProjects folds every row of src into dst. Both projects must already
// hold rows, and src must differ from dst.
func (s *ProjectStore) MergeProjects(ctx context.Context, src, dst string) (ProjectRowCounts, error) {
	var moved ProjectRowCounts
	if src == dst {
		return moved, ErrSameProject
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		source, err := countsIn(tx, src)
		if err != nil {
			return err
		}
		if source.Total() == 0 {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, src)
		}

		target, err := countsIn(tx, dst)
		if err != nil {
			return err
		}
		if target.Total() == 0 {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, dst)
		}

		for _, table := range projectTables {
			if err := tx.Table(table).
				Where("project = ?", src).
				Update("project", dst).Error; err != nil {
				return fmt.Errorf("merge in %s: %w", table, err)
			}
		}

		moved = source
		return nil
	})
	return moved, err
}

// DeleteProject removes every row of the project across all tables, children
// before sessions. Fails when the project is absent everywhere.
func (s *ProjectStore) DeleteProject(ctx context.Context, project string) (ProjectRowCounts, error) {
	var deleted ProjectRowCounts

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counts, err := countsIn(tx, project)
		if err != nil {
			return err
		}
		if counts.Total() == 0 {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, project)
		}

		for _, table := range projectTables {
			if err := tx.Exec("DELETE FROM "+table+" WHERE project = ?", project).Error; err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}

		deleted = counts
		return nil
	})
	return deleted, err
}

func countsIn(tx *gorm.DB, project string) (ProjectRowCounts, error) {
	var counts ProjectRowCounts
	targets := []struct {
		table string
		dest  *int64
	}{
		{"sessions", &counts.Sessions},
		{"observations", &counts.Observations},
		{"session_summaries", &counts.Summaries},
		{"context_injections", &counts.Injections},
	}
	for _, t := range targets {
		if err := tx.Table(t.table).Where("project = ?", project).Count(t.dest).Error; err != nil {
			return counts, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return counts, nil
}
