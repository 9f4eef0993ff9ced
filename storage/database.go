package storage

import (
	"database/sql"
	"fmt"
	"sync"
)

// DatabaseType
type DatabaseType string

const (
	// MySQL
	MySQL DatabaseType = "mysql"
	// PostgreSQL
	PostgreSQL DatabaseType = "postgresql"
)

// TableName is the telemetry table shared by the SQL backends.
const TableName = "LogsESP"

// NewDatabaseStorage opens the SQL backend named by dbType.
func NewDatabaseStorage(dbType string, dsn string) (Store, error) {
	switch DatabaseType(dbType) {
	case MySQL:
		return NewMySQLStorage(dsn)
	case PostgreSQL, "postgres", "":
		return NewPostgreSQLStorage(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// sqlConn guards a *sql.DB that becomes unavailable after Close.
type sqlConn struct {
	mu sync.RWMutex
	db *sql.DB
}

func (c *sqlConn) get() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, fmt.Errorf("%w: no active database connection", ErrStore)
	}
	return c.db, nil
}

func (c *sqlConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
