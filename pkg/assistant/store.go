package assistant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sqldesk/sqldesk/pkg/models"
)

// Store keeps training data and function templates in SQLite.
type Store struct {
	db *sql.DB
}

const createStoreTables = `
CREATE TABLE IF NOT EXISTS training_data (
	id TEXT PRIMARY KEY,
	training_data_type TEXT NOT NULL,
	question TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS functions (
	function_name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	sql_template TEXT NOT NULL,
	arguments TEXT NOT NULL DEFAULT '[]',
	post_processing_template TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// OpenStore creates a Store and runs auto-migration.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open assistant db: %w", err)
	}
	if _, err := db.Exec(createStoreTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate assistant db: %w", err)
	}
	return &Store{db: db}, nil
}

// AddTraining stores one item and returns its id. The id gets a suffix naming
// its type, so removal can tell kinds apart at a glance.
func (s *Store) AddTraining(ctx context.Context, td models.TrainingData) (string, error) {
	if td.ID == "" {
		td.ID = uuid.NewString() + "-" + string(td.Type)
	}
	if td.CreatedAt.IsZero() {
		td.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO training_data (id, training_data_type, question, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		td.ID, td.Type, td.Question, td.Content, td.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("add training data: %w", err)
	}
	return td.ID, nil
}

// ListTraining returns all training data, oldest first.
func (s *Store) ListTraining(ctx context.Context) ([]models.TrainingData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, training_data_type, question, content, created_at FROM training_data ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list training data: %w", err)
	}
	defer rows.Close()

	var out []models.TrainingData
	for rows.Next() {
		var td models.TrainingData
		if err := rows.Scan(&td.ID, &td.Type, &td.Question, &td.Content, &td.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan training data: %w", err)
		}
		out = append(out, td)
	}
	return out, rows.Err()
}

// RemoveTraining deletes one item and reports whether it existed.
func (s *Store) RemoveTraining(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM training_data WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove training data: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ListFunctions(ctx context.Context) ([]models.Function, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT function_name, description, sql_template, arguments, post_processing_template
		 FROM functions ORDER BY function_name`)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}
	defer rows.Close()

	var out []models.Function
	for rows.Next() {
		fn, err := scanFunction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, rows.Err()
}

// SaveFunction inserts or replaces a function by name.
func (s *Store) SaveFunction(ctx context.Context, fn models.Function) error {
	args, err := json.Marshal(fn.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO functions (function_name, description, sql_template, arguments, post_processing_template, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		fn.Name, fn.Description, fn.SQLTemplate, string(args), fn.PostProcessingTemplate, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save function: %w", err)
	}
	return nil
}

// UpdateFunction replaces oldName with fn, renaming when the names differ.
// It reports false when oldName does not exist.
func (s *Store) UpdateFunction(ctx context.Context, oldName string, fn models.Function) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("update function: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM functions WHERE function_name = ?`, oldName)
	if err != nil {
		return false, fmt.Errorf("update function: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	args, err := json.Marshal(fn.Arguments)
	if err != nil {
		return false, fmt.Errorf("encode arguments: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO functions (function_name, description, sql_template, arguments, post_processing_template, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		fn.Name, fn.Description, fn.SQLTemplate, string(args), fn.PostProcessingTemplate, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("update function: %w", err)
	}
	return true, tx.Commit()
}

// DeleteFunction reports whether a function was removed.
func (s *Store) DeleteFunction(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM functions WHERE function_name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete function: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFunction(row scanner) (models.Function, error) {
	var fn models.Function
	var args string
	if err := row.Scan(&fn.Name, &fn.Description, &fn.SQLTemplate, &args, &fn.PostProcessingTemplate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fn, err
		}
		return fn, fmt.Errorf("scan function: %w", err)
	}
	if err := json.Unmarshal([]byte(args), &fn.Arguments); err != nil {
		return fn, fmt.Errorf("decode arguments of %s: %w", fn.Name, err)
	}
	return fn, nil
}
