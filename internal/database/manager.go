// Package database adapts the hub's SQLite configuration and migration
// runner into a durable interfaces.TelemetryStore, serializing writes
// through a single goroutine as SQLite requires.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradehub/pkg/interfaces"

	dbconfig "tradehub/pkg/database"

	_ "github.com/mattn/go-sqlite3"
)

// Manager implements interfaces.TelemetryStore over a SQLite database.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the telemetry database, applies connection pool and
// SQLite pragma tuning, and starts the single writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop is SQLite's only writer. A failed write retries exactly once
// after a 5-second backoff before it is reported to the caller.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				slog.Warn("telemetry write failed, retrying in 5 seconds", "error", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					slog.Error("telemetry write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// InsertTelemetry durably records a telemetry reading.
func (m *Manager) InsertTelemetry(ctx context.Context, record interfaces.TelemetryRecord) error {
	return m.executeWrite(func(db *sql.DB) error {
		rawJSON, err := json.Marshal(record.RawData)
		if err != nil {
			return fmt.Errorf("failed to marshal raw telemetry data: %w", err)
		}

		_, err = db.ExecContext(ctx, `
			INSERT INTO telemetry_readings (instance_id, balance, equity, status, raw_data)
			VALUES (?, ?, ?, ?, ?)
		`, record.InstanceID, record.Balance, record.Equity, record.Status, string(rawJSON))
		if err != nil {
			return fmt.Errorf("failed to insert telemetry reading: %w", err)
		}
		return nil
	})
}

// HealthCheck validates connectivity and that the telemetry table is
// actually reachable, not just that the connection pings.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM telemetry_readings LIMIT 1"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection, for the migration runner.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the write loop and closes the database connection. Safe to
// call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
