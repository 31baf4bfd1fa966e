// Package store owns the mapping from schema name to schema definition. It
// persists the mapping to a JSON file and keeps the vector index in sync:
// the index is a derived cache, rebuilt from the authoritative schema text
// whenever a definition changes, never the other way around.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/modfin/henry/mapz"
	"github.com/modfin/henry/slicez"
	"github.com/quillql/quill/internal/index"
	"github.com/quillql/quill/internal/schema"
)

// DefaultSchemaName is used when DDL text yields no table to name a schema
// after.
const DefaultSchemaName = "Custom_Schema"

// Indexer is the slice of the vector index the store drives.
type Indexer interface {
	Add(ctx context.Context, namespace string, docs []index.Document) error
	DeleteNamespace(ctx context.Context, namespace string) (int64, error)
	Count(ctx context.Context, namespace string) (int64, error)
}

// Store maps schema names to definitions and re-indexes fragments on every
// change.
type Store struct {
	mu      sync.Mutex
	path    string
	schemas map[string]schema.Definition
	index   Indexer
	log     *slog.Logger
}

// Open loads the schema mapping file at path, starting empty when the file
// is absent or unreadable.
func Open(path string, idx Indexer, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:    path,
		schemas: map[string]schema.Definition{},
		index:   idx,
		log:     logger,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("schema file not found, starting empty", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.schemas); err != nil {
		// A corrupt mapping file should not brick the tool; keep the file
		// untouched until the next successful mutation and start empty.
		logger.Error("failed to decode schema file, starting empty", "path", path, "err", err)
		s.schemas = map[string]schema.Definition{}
	}

	logger.Debug("loaded schemas", "path", path, "count", len(s.schemas))
	return s, nil
}

// save rewrites the whole mapping file. The write goes through a temp file
// and rename so a crash mid-write leaves the previous file intact.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.schemas, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal schemas: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create schema directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".schemas-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp schema file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write schema file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close schema file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace schema file: %w", err)
	}
	return nil
}

// AddSchema adds or replaces a schema. Re-adding a byte-identical definition
// is a no-op returning false, so no embedding calls are wasted. On change
// the definition is persisted first, then the schema's namespace is dropped
// from the index and fresh fragments are embedded and added. A non-nil
// error alongside true means the definition was stored but indexing failed;
// the index can be rebuilt by re-adding the schema.
func (s *Store) AddSchema(ctx context.Context, name string, def schema.Definition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.schemas[name]; ok && existing.Equal(def) {
		s.log.Debug("schema unchanged, skipping", "schema", name)
		return false, nil
	}

	s.schemas[name] = def
	if err := s.save(); err != nil {
		// In-memory state stays usable for this process even when
		// durability is compromised.
		s.log.Error("failed to persist schemas", "schema", name, "err", err)
	}

	return true, s.reindex(ctx, name, def)
}

func (s *Store) reindex(ctx context.Context, name string, def schema.Definition) error {
	if _, err := s.index.DeleteNamespace(ctx, name); err != nil {
		return fmt.Errorf("failed to clear namespace %q: %w", name, err)
	}

	frags := schema.Fragments(def)
	if len(frags) == 0 {
		s.log.Warn("no fragments extracted, nothing to index", "schema", name)
		return nil
	}

	docs := slicez.Map(frags, func(f schema.Fragment) index.Document {
		return index.Document{
			Text:     f.Document(name),
			Metadata: f.Metadata(name),
		}
	})

	if err := s.index.Add(ctx, name, docs); err != nil {
		return fmt.Errorf("failed to index schema %q: %w", name, err)
	}

	s.log.Info("indexed schema", "schema", name, "fragments", len(docs))
	return nil
}

// AddSchemaFromText auto-detects the representation of text. Valid JSON
// carrying a database_name becomes a structured schema named after it;
// anything else is treated as DDL and named after its first table, or given
// the default name when no table parses. Returns the schema name used and
// whether anything changed.
func (s *Store) AddSchemaFromText(ctx context.Context, text string) (string, bool, error) {
	if db, ok := schema.ParseStructured(text); ok {
		changed, err := s.AddSchema(ctx, db.Name, schema.FromDatabase(db))
		return db.Name, changed, err
	}

	name := DefaultSchemaName
	if table := schema.FirstTableName(text); table != "" {
		name = "Schema_" + table
	}
	changed, err := s.AddSchema(ctx, name, schema.FromDDL(text))
	return name, changed, err
}

// AddSchemaWithName stores text under a caller-chosen name, detecting
// whether it is structured JSON or raw DDL.
func (s *Store) AddSchemaWithName(ctx context.Context, name, text string) (bool, error) {
	if db, ok := schema.ParseStructured(text); ok {
		return s.AddSchema(ctx, name, schema.FromDatabase(db))
	}
	return s.AddSchema(ctx, name, schema.FromDDL(text))
}

// Get returns the stored definition for name.
func (s *Store) Get(name string) (schema.Definition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.schemas[name]
	return def, ok
}

// SchemaString returns the definition rendered in the DDL textual
// convention, regardless of its stored representation.
func (s *Store) SchemaString(name string) (string, bool) {
	def, ok := s.Get(name)
	if !ok {
		return "", false
	}
	return schema.DDLString(def), true
}

// Names returns all schema names, sorted.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := mapz.Keys(s.schemas)
	sort.Strings(names)
	return names
}

// Delete removes a schema and its index namespace. Deleting an unknown name
// returns false with no side effects.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schemas[name]; !ok {
		s.log.Warn("attempted to delete unknown schema", "schema", name)
		return false, nil
	}

	delete(s.schemas, name)
	if err := s.save(); err != nil {
		s.log.Error("failed to persist schemas", "schema", name, "err", err)
	}

	if _, err := s.index.DeleteNamespace(ctx, name); err != nil {
		return true, fmt.Errorf("failed to clear namespace %q: %w", name, err)
	}

	s.log.Info("deleted schema", "schema", name)
	return true, nil
}

// TableInfo summarizes one table of a schema.
type TableInfo struct {
	Name    string
	Columns int
}

// SchemaInfo summarizes a stored schema.
type SchemaInfo struct {
	Name         string
	Kind         string // "structured" or "ddl"
	DatabaseName string
	SQLLanguage  string
	Description  string
	Tables       []TableInfo
}

// Info returns summary information about a stored schema.
func (s *Store) Info(name string) (SchemaInfo, bool) {
	def, ok := s.Get(name)
	if !ok {
		return SchemaInfo{}, false
	}

	info := SchemaInfo{Name: name, Kind: "ddl"}
	if def.IsStructured() {
		info.Kind = "structured"
		info.DatabaseName = def.Structured.Name
		info.SQLLanguage = def.Structured.SQLLanguage
		info.Description = def.Structured.Description
	}

	info.Tables = slicez.Map(schema.Fragments(def), func(f schema.Fragment) TableInfo {
		return TableInfo{Name: f.TableName, Columns: len(f.Columns)}
	})
	return info, true
}
