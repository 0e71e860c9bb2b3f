package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteGateway keeps every stored version in an append-only table.
type SQLiteGateway struct {
	db *sql.DB
}

// NewSQLiteGateway opens (or creates) the costs database in dir.
func NewSQLiteGateway(dir string) (*SQLiteGateway, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create costs dir: %w", err)
	}

	dbPath := filepath.Join(dir, "function_costs.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open costs db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	g := &SQLiteGateway{db: db}
	if err := g.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func (g *SQLiteGateway) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS function_costs (
		configuration_name TEXT NOT NULL,
		function_id        TEXT NOT NULL,
		version            INTEGER NOT NULL,
		invocation_cost    REAL NOT NULL,
		data_input_cost    REAL NOT NULL,
		data_output_cost   REAL NOT NULL,
		PRIMARY KEY (configuration_name, function_id, version)
	);
	`
	if _, err := g.db.Exec(schema); err != nil {
		return fmt.Errorf("init costs schema: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) Load(ctx context.Context, key FunctionKey, versionAsOf *time.Time) (*CostSnapshot, error) {
	asOf := int64(1<<63 - 1)
	if versionAsOf != nil {
		asOf = versionAsOf.UnixNano()
	}

	row := g.db.QueryRowContext(ctx, `SELECT
		invocation_cost, data_input_cost, data_output_cost, version
		FROM function_costs
		WHERE configuration_name = ? AND function_id = ? AND version <= ?
		ORDER BY version DESC LIMIT 1`,
		key.ConfigurationName, key.FunctionID, asOf)

	snapshot := &CostSnapshot{ConfigurationName: key.ConfigurationName, FunctionID: key.FunctionID}
	var version int64
	err := row.Scan(&snapshot.InvocationCost, &snapshot.DataInputCost, &snapshot.DataOutputCost, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load costs %s: %w", key, err)
	}
	snapshot.Version = time.Unix(0, version)
	return snapshot, nil
}

func (g *SQLiteGateway) Store(ctx context.Context, snapshot *CostSnapshot) (*CostSnapshot, error) {
	stored := *snapshot
	stored.Version = time.Now().Round(0)

	_, err := g.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO function_costs (
			configuration_name, function_id, version,
			invocation_cost, data_input_cost, data_output_cost
		) VALUES (?, ?, ?, ?, ?, ?)`,
		stored.ConfigurationName, stored.FunctionID, stored.Version.UnixNano(),
		stored.InvocationCost, stored.DataInputCost, stored.DataOutputCost,
	)
	if err != nil {
		return nil, fmt.Errorf("store costs %s: %w", stored.Key(), err)
	}
	return &stored, nil
}

// Close closes the underlying database connection.
func (g *SQLiteGateway) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}
