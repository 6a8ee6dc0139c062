package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sqldesk/sqldesk/pkg/models"
)

// ErrNoDataSource is returned by RunSQL when no database is connected.
var ErrNoDataSource = errors.New("no data source connected: set data_source.dsn to run SQL queries")

// DataSource is the database questions are asked about.
type DataSource struct {
	db     *sql.DB
	driver string
}

// OpenDataSource connects to a sqlite or postgres database.
func OpenDataSource(driver, dsn string) (*DataSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open data source: %w", err)
	}
	return &DataSource{db: db, driver: driver}, nil
}

// Query executes sql and collects every row into a Frame.
func (d *DataSource) Query(ctx context.Context, query string) (*models.Frame, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	frame := &models.Frame{Columns: make([]models.Column, len(types)), Rows: [][]any{}}
	for i, ct := range types {
		frame.Columns[i] = models.Column{Name: ct.Name(), Type: strings.ToLower(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		values := make([]any, len(types))
		scanners := make([]any, len(types))
		for i := range values {
			scanners[i] = &values[i]
		}
		if err := rows.Scan(scanners...); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalize(v, frame.Columns[i].Type)
		}
		frame.Rows = append(frame.Rows, values)
	}
	return frame, rows.Err()
}

// normalize maps driver values to JSON-friendly ones; postgres numerics arrive as text.
func normalize(v any, dbType string) any {
	if b, ok := v.([]byte); ok {
		switch dbType {
		case "numeric", "decimal":
			if f, err := strconv.ParseFloat(string(b), 64); err == nil {
				return f
			}
		}
	}
	return models.NormalizeValue(v)
}

// Schema renders CREATE TABLE statements for every user table.
func (d *DataSource) Schema(ctx context.Context) ([]string, error) {
	if d.driver == "sqlite" {
		return d.sqliteSchema(ctx)
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("query information_schema: %w", err)
	}
	defer rows.Close()

	var ddls []string
	var current string
	var sb strings.Builder
	flush := func() {
		if sb.Len() > 0 {
			ddls = append(ddls, strings.TrimRight(sb.String(), ",\n")+"\n);")
		}
		sb.Reset()
	}
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, err
		}
		if table != current {
			flush()
			fmt.Fprintf(&sb, "CREATE TABLE %s (\n", table)
			current = table
		}
		fmt.Fprintf(&sb, "  %s %s,\n", column, dataType)
	}
	flush()
	return ddls, rows.Err()
}

func (d *DataSource) sqliteSchema(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND sql IS NOT NULL AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query sqlite_master: %w", err)
	}
	defer rows.Close()

	var ddls []string
	for rows.Next() {
		var ddl string
		if err := rows.Scan(&ddl); err != nil {
			return nil, err
		}
		ddls = append(ddls, ddl)
	}
	return ddls, rows.Err()
}

// Close releases the connection pool.
func (d *DataSource) Close() error {
	return d.db.Close()
}
