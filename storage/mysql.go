package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/eddielth/telemetry-bridge/logger"
	"github.com/eddielth/telemetry-bridge/transformer"
	_ "github.com/go-sql-driver/mysql"
)

const (
	mysqlCreateTableSQL = "CREATE TABLE IF NOT EXISTS `LogsESP` (" + `
		log_id        BIGINT AUTO_INCREMENT PRIMARY KEY,
		esp_id        VARCHAR(255) NOT NULL,
		dato_temp     FLOAT        NOT NULL,
		dato_hum      FLOAT        NOT NULL,
		dato_button   INT          NOT NULL,
		registered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_esp_id (esp_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	mysqlInsertSQL = "INSERT INTO `LogsESP` (esp_id, dato_temp, dato_hum, dato_button) VALUES (?, ?, ?, ?)"
	mysqlResetSQL  = "DELETE FROM `LogsESP`"
)

// MySQLStorage stores telemetry in a MySQL LogsESP table.
type MySQLStorage struct {
	conn     sqlConn
	database string
}

// NewMySQLStorage connects to dsn, creating the database if needed.
func NewMySQLStorage(dsn string) (*MySQLStorage, error) {
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse MySQL DSN: %v", ErrStore, err)
	}

	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to MySQL server: %v", ErrStore, err)
	}
	defer serverDB.Close()

	_, err = serverDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", strings.ReplaceAll(database, "`", "``")))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create database %s: %v", ErrStore, database, err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open MySQL database: %v", ErrStore, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: MySQL ping failed: %v", ErrStore, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	ms := newMySQLStorage(db, database)
	if err := ms.EnsureSchema(context.Background()); err != nil {
		ms.Close()
		return nil, err
	}

	logger.Info("MySQL storage ready: %s", database)
	return ms, nil
}

func newMySQLStorage(db *sql.DB, database string) *MySQLStorage {
	return &MySQLStorage{
		conn:     sqlConn{db: db},
		database: database,
	}
}

// parseMySQLDSN splits user:pass@tcp(host:3306)/db?params into the database
// name and a DSN without it.
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	idx := strings.LastIndex(dsn, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("invalid DSN, no database name")
	}

	dbParts := strings.SplitN(dsn[idx+1:], "?", 2)
	database = dbParts[0]
	if database == "" {
		return "", "", fmt.Errorf("invalid DSN, no database name")
	}

	serverDSN = dsn[:idx+1]
	if len(dbParts) > 1 {
		serverDSN += "?" + dbParts[1]
	}

	return database, serverDSN, nil
}

// EnsureSchema creates the LogsESP table if absent.
func (ms *MySQLStorage) EnsureSchema(ctx context.Context) error {
	db, err := ms.conn.get()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, mysqlCreateTableSQL); err != nil {
		return fmt.Errorf("%w: failed to create %s table: %v", ErrStore, TableName, err)
	}
	return nil
}

// Insert stores one record.
func (ms *MySQLStorage) Insert(ctx context.Context, record transformer.TelemetryRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	db, err := ms.conn.get()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, mysqlInsertSQL, record.ID, record.Temperature, record.Humidity, record.Button); err != nil {
		return fmt.Errorf("%w: failed to insert telemetry: %v", ErrStore, err)
	}

	logger.Debug("stored telemetry from %s in MySQL", record.ID)
	return nil
}

// Reset deletes every row of the telemetry table.
func (ms *MySQLStorage) Reset(ctx context.Context) error {
	db, err := ms.conn.get()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, mysqlResetSQL); err != nil {
		return fmt.Errorf("%w: failed to reset %s: %v", ErrStore, TableName, err)
	}

	logger.Info("MySQL table %s reset", TableName)
	return nil
}

// Close closes the database connection
func (ms *MySQLStorage) Close() error {
	if err := ms.conn.close(); err != nil {
		return fmt.Errorf("failed to close MySQL connection: %v", err)
	}
	return nil
}
