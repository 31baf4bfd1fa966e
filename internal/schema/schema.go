// Package schema holds the canonical schema types and the normalizer that
// turns heterogeneous schema input, raw DDL text or a structured JSON
// document, into per-table fragments suitable for embedding and retrieval.
package schema

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// FallbackTableName is the synthetic table name used when no CREATE TABLE
// statement could be located in a non-empty DDL definition.
const FallbackTableName = "General_Schema_Description"

// Column is a single column of a table.
type Column struct {
	Name        string `json:"column_name"`
	Type        string `json:"type"`
	IsPK        bool   `json:"is_pk,omitempty"`
	Description string `json:"description,omitempty"`
}

// Table is a single table of a structured schema.
type Table struct {
	Name        string   `json:"table_name"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns"`
}

// Database is the structured schema form.
type Database struct {
	Name        string  `json:"database_name"`
	SQLLanguage string  `json:"sql_language,omitempty"`
	Description string  `json:"description,omitempty"`
	Tables      []Table `json:"tables"`
}

// Definition is a schema definition in one of its two supported forms. At
// most one of the fields is set; a structured definition wins when both are.
type Definition struct {
	DDL        string
	Structured *Database
}

// FromDDL wraps raw DDL text in a Definition.
func FromDDL(ddl string) Definition {
	return Definition{DDL: ddl}
}

// FromDatabase wraps a structured schema in a Definition.
func FromDatabase(db Database) Definition {
	return Definition{Structured: &db}
}

// IsStructured reports whether the definition carries the structured form.
func (d Definition) IsStructured() bool {
	return d.Structured != nil && d.Structured.Name != ""
}

// Empty reports whether the definition carries no content at all.
func (d Definition) Empty() bool {
	return !d.IsStructured() && strings.TrimSpace(d.DDL) == ""
}

// Canonical returns the canonical serialization of the definition, used for
// the deep-equality no-op check when re-adding a schema. Struct field order
// is fixed, so identical content always yields identical bytes.
func (d Definition) Canonical() []byte {
	b, err := d.MarshalJSON()
	if err != nil {
		return []byte(d.DDL)
	}
	return b
}

// Equal compares two definitions by canonical content, not by reference.
func (d Definition) Equal(other Definition) bool {
	return bytes.Equal(d.Canonical(), other.Canonical())
}

// MarshalJSON encodes the definition as either a JSON string (DDL form) or a
// JSON object (structured form), matching the on-disk mapping file format.
func (d Definition) MarshalJSON() ([]byte, error) {
	if d.IsStructured() {
		return json.Marshal(d.Structured)
	}
	return json.Marshal(d.DDL)
}

// UnmarshalJSON decodes either form.
func (d *Definition) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var ddl string
		if err := json.Unmarshal(data, &ddl); err != nil {
			return fmt.Errorf("decoding ddl definition: %w", err)
		}
		*d = Definition{DDL: ddl}
		return nil
	}

	var db Database
	if err := json.Unmarshal(data, &db); err != nil {
		return fmt.Errorf("decoding structured definition: %w", err)
	}
	*d = Definition{Structured: &db}
	return nil
}

// ParseStructured attempts to interpret text as the structured JSON form. It
// returns false when the text is not JSON or lacks the database_name marker,
// in which case the caller should treat the text as DDL.
func ParseStructured(text string) (Database, bool) {
	var db Database
	if err := json.Unmarshal([]byte(text), &db); err != nil {
		return Database{}, false
	}
	if db.Name == "" {
		return Database{}, false
	}
	return db, true
}

// Fragment is the unit of retrieval, one per table. RawDDL is the
// reconstructable DDL text for the table; it is both the grounding anchor of
// the embedded document and the literal context handed to the planner.
type Fragment struct {
	TableName        string
	TableDescription string
	Columns          []Column
	RawDDL           string

	// Set for fragments derived from a structured schema.
	DatabaseName        string
	SQLLanguage         string
	DatabaseDescription string
}

// columnSummary renders the human-readable column list of the fragment.
func (f Fragment) columnSummary() string {
	parts := make([]string, 0, len(f.Columns))
	for _, col := range f.Columns {
		s := fmt.Sprintf("%s (%s)", col.Name, col.Type)
		if col.Description != "" {
			s += " - " + col.Description
		}
		if col.IsPK {
			s += " [PRIMARY KEY]"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

// Document composes the text that gets embedded for this fragment. The
// schema name, table name, descriptions and the DDL itself all contribute to
// the semantic surface a question can match against.
func (f Fragment) Document(schemaName string) string {
	parts := []string{
		fmt.Sprintf("Database schema: '%s'", schemaName),
		fmt.Sprintf("Table: `%s`", f.TableName),
	}
	if f.TableDescription != "" {
		parts = append(parts, "Table description: "+f.TableDescription)
	}
	if f.DatabaseDescription != "" {
		parts = append(parts, "Database description: "+f.DatabaseDescription)
	}
	if f.SQLLanguage != "" {
		parts = append(parts, "SQL Language: "+f.SQLLanguage)
	}
	if cols := f.columnSummary(); cols != "" {
		parts = append(parts, "Columns: "+cols)
	}
	parts = append(parts, "DDL: "+f.RawDDL)
	return strings.Join(parts, ". ")
}

// Metadata returns the retrieval metadata stored alongside the fragment's
// embedding. The namespace tag is added by the index on insertion.
func (f Fragment) Metadata(schemaName string) map[string]string {
	m := map[string]string{
		"schema_name":      schemaName,
		"table_name":       f.TableName,
		"raw_ddl_fragment": f.RawDDL,
	}
	if f.DatabaseName != "" {
		m["database_name"] = f.DatabaseName
	}
	if f.SQLLanguage != "" {
		m["sql_language"] = f.SQLLanguage
	}
	if f.TableDescription != "" {
		m["table_description"] = f.TableDescription
	}
	return m
}
