package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/itbees/mdbctl/internal/logger"
	"go.uber.org/zap"
)

// migrationLockName identifies the ledger schema migration across every
// driver's locking primitive.
const migrationLockName = "mdbctl_ledger_migration"

// acquireMigrationLock coordinates AutoMigrate against the driver actually
// backing the ledger. sqlite ledgers are typically one file on one host, so a
// local advisory file works; mysql and postgres ledgers may be reached from
// several mdbctl hosts sharing one server, so those use the server's own
// advisory lock instead — a local file lock would only protect against other
// processes on the same machine. release is a no-op for drivers this can't
// coordinate.
func acquireMigrationLock() (release func(), err error) {
	if DB == nil {
		return func() {}, nil
	}

	switch DB.Dialector.Name() {
	case "sqlite", "sqlite3":
		lockFile, err := acquireFileLock(sqliteFilePath())
		if err != nil {
			return nil, err
		}
		return func() { releaseFileLock(lockFile) }, nil
	case "mysql":
		return acquireMySQLAdvisoryLock()
	case "postgres", "postgresql":
		return acquirePostgresAdvisoryLock()
	default:
		logger.Warn("no migration lock strategy for this driver, migrating unguarded",
			zap.String("driver", DB.Dialector.Name()))
		return func() {}, nil
	}
}

// acquireFileLock takes an exclusive file lock at dbPath+".migration.lock",
// retrying for up to 30s. A lock file older than 5 minutes is treated as
// abandoned by a crashed process and removed.
func acquireFileLock(dbPath string) (*os.File, error) {
	lockPath := dbPath + ".migration.lock"

	for i := 0; i < 30; i++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			logger.Debug("acquired migration lock", zap.String("lock", lockPath))
			return lockFile, nil
		}

		if info, err := os.Stat(lockPath); err == nil {
			if time.Since(info.ModTime()) > 5*time.Minute {
				logger.Warn("migration lock file is stale, removing", zap.String("lock", lockPath))
				os.Remove(lockPath)
				continue
			}
		}

		logger.Debug("waiting for migration lock", zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	return nil, fmt.Errorf("could not acquire migration lock, another process may be migrating")
}

// releaseFileLock closes and removes lockFile. Safe to call with nil.
func releaseFileLock(lockFile *os.File) {
	if lockFile == nil {
		return
	}

	lockPath := lockFile.Name()
	lockFile.Close()
	os.Remove(lockPath)
	logger.Debug("released migration lock", zap.String("lock", lockPath))
}

// acquireMySQLAdvisoryLock takes a named server-side lock via GET_LOCK, so
// that two mdbctl instances pointed at the same MySQL server — even from
// different hosts — serialize their AutoMigrate calls. GET_LOCK is
// automatically released if the connection drops, so a crashed process can
// never leave this lock stuck the way a local lock file can.
func acquireMySQLAdvisoryLock() (func(), error) {
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("obtain sql handle for migration lock: %w", err)
	}

	var acquired int
	row := sqlDB.QueryRow("SELECT GET_LOCK(?, 30)", migrationLockName)
	if err := row.Scan(&acquired); err != nil {
		return nil, fmt.Errorf("acquire mysql migration lock: %w", err)
	}
	if acquired != 1 {
		return nil, fmt.Errorf("could not acquire migration lock, another process may be migrating")
	}

	logger.Debug("acquired mysql migration lock", zap.String("lock", migrationLockName))
	return func() {
		if _, err := sqlDB.Exec("SELECT RELEASE_LOCK(?)", migrationLockName); err != nil {
			logger.Warn("release mysql migration lock failed", zap.Error(err))
			return
		}
		logger.Debug("released mysql migration lock", zap.String("lock", migrationLockName))
	}, nil
}

// acquirePostgresAdvisoryLock takes a session-level advisory lock keyed by a
// hash of migrationLockName, released explicitly on success or automatically
// when the session ends — the same crash-safety property as the mysql path.
func acquirePostgresAdvisoryLock() (func(), error) {
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("obtain sql handle for migration lock: %w", err)
	}

	if _, err := sqlDB.Exec("SELECT pg_advisory_lock(hashtext($1))", migrationLockName); err != nil {
		return nil, fmt.Errorf("acquire postgres migration lock: %w", err)
	}

	logger.Debug("acquired postgres migration lock", zap.String("lock", migrationLockName))
	return func() {
		if _, err := sqlDB.Exec("SELECT pg_advisory_unlock(hashtext($1))", migrationLockName); err != nil {
			logger.Warn("release postgres migration lock failed", zap.Error(err))
			return
		}
		logger.Debug("released postgres migration lock", zap.String("lock", migrationLockName))
	}, nil
}

// sqliteFilePath returns the file path backing DB, read back from sqlite
// itself rather than trusted from config, since a DSN can carry pragmas
// alongside the path.
func sqliteFilePath() string {
	if DB == nil {
		return "./data/ledger.db"
	}

	if sqlDB, err := DB.DB(); err == nil {
		row := sqlDB.QueryRow("PRAGMA database_list")
		var seq int
		var name, file string
		if err := row.Scan(&seq, &name, &file); err == nil && file != "" {
			return file
		}
	}
	return "./data/ledger.db"
}

// CleanupStaleLocks removes local sqlite migration lock files older than 10
// minutes, left behind by a process that crashed mid-migration. mysql and
// postgres locks need no equivalent: their advisory locks die with the
// connection that crashed.
func CleanupStaleLocks() {
	patterns := []string{
		"./data/*.lock",
		"./data/ledger.db*.lock",
		"./*.lock",
	}

	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		for _, lockFile := range matches {
			if info, err := os.Stat(lockFile); err == nil {
				if time.Since(info.ModTime()) > 10*time.Minute {
					logger.Info("cleaning up stale lock file", zap.String("file", lockFile))
					os.Remove(lockFile)
				}
			}
		}
	}
}
