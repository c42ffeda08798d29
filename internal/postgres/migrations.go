// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrate/*.sql
var migrationFiles embed.FS

// GetMigrationFiles exposes the embedded schema migrations for tests
func GetMigrationFiles() embed.FS {
	return migrationFiles
}

// RunMigrations applies any schema migrations embedded in the binary that the
// database has not seen yet. A dirty database is forced back to its recorded
// version before applying, so a previously interrupted run does not wedge
// startup.
func RunMigrations(logger *slog.Logger, databaseURL string) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrate")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	// golang-migrate picks its database driver from the URL scheme
	migrationURL := strings.Replace(databaseURL, "postgres://", "pgx5://", 1)

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, migrationURL)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("Applying schema migrations to empty database")
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case dirty:
		logger.Warn("Schema is dirty from an interrupted migration, forcing version", "version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force schema version %d: %w", version, err)
		}
	default:
		logger.Info("Applying schema migrations", "currentVersion", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("Schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply schema migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Schema migrations applied", "version", newVersion)
	return nil
}
