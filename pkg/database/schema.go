package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator checks that the journal schema matches what the code expects
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every schema check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"gateway_events", "schema_migrations"} {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies gateway_events column types
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]string{
		"id":          "TEXT",
		"kind":        "TEXT",
		"subject":     "TEXT",
		"detail":      "TEXT",
		"remote_addr": "TEXT",
		"created_at":  "DATETIME",
	}

	rows, err := v.db.Query("PRAGMA table_info(gateway_events)")
	if err != nil {
		return fmt.Errorf("failed to read table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		found[name] = strings.ToUpper(colType)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, colType := range expected {
		got, ok := found[column]
		if !ok {
			return fmt.Errorf("gateway_events is missing column %s", column)
		}
		if got != colType {
			return fmt.Errorf("gateway_events.%s has type %s, want %s", column, got, colType)
		}
	}
	return nil
}

// ValidateIndexes verifies the indexes used by recent-event queries
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range []string{"idx_gateway_events_created_at", "idx_gateway_events_kind"} {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
