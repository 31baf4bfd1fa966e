package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// createTableRe locates CREATE TABLE blocks in free-form DDL. Deliberately
// tolerant: case-insensitive, optional backticks, non-greedy body up to the
// closing ");". It is a heuristic, not a grammar; anything it misses falls
// back to whole-text treatment.
var createTableRe = regexp.MustCompile("(?is)CREATE\\s+TABLE\\s+`?(\\w+)`?\\s*\\((.*?)\\)\\s*;")

// tableNameRe picks out table names only, used to derive a schema name from
// bare DDL text.
var tableNameRe = regexp.MustCompile("(?i)CREATE\\s+TABLE\\s+`?(\\w+)`?")

// constraint-only lines inside a column list, skipped during column parsing.
var constraintPrefixes = []string{
	"PRIMARY", "FOREIGN", "UNIQUE", "CONSTRAINT", "KEY", "INDEX", "CHECK",
}

// Fragments extracts the per-table retrieval fragments from a definition.
// Structured input is walked table by table; DDL input is scanned. A
// non-empty definition always yields at least one fragment and extraction
// never fails, malformed DDL degrades to a single whole-text fragment.
func Fragments(def Definition) []Fragment {
	if def.IsStructured() {
		return fragmentsFromStructured(*def.Structured)
	}
	return fragmentsFromDDL(def.DDL)
}

func fragmentsFromStructured(db Database) []Fragment {
	frags := make([]Fragment, 0, len(db.Tables))
	for _, table := range db.Tables {
		frags = append(frags, Fragment{
			TableName:           table.Name,
			TableDescription:    table.Description,
			Columns:             table.Columns,
			RawDDL:              synthesizeDDL(table),
			DatabaseName:        db.Name,
			SQLLanguage:         db.SQLLanguage,
			DatabaseDescription: db.Description,
		})
	}
	return frags
}

func fragmentsFromDDL(ddl string) []Fragment {
	trimmed := strings.TrimSpace(ddl)
	if trimmed == "" {
		return nil
	}

	var frags []Fragment
	for _, match := range createTableRe.FindAllStringSubmatch(ddl, -1) {
		name, body := match[1], match[2]
		frags = append(frags, Fragment{
			TableName: strings.TrimSpace(name),
			Columns:   parseColumns(body),
			// Rebuilt from the matched body verbatim so the original
			// column text round-trips exactly.
			RawDDL: fmt.Sprintf("CREATE TABLE %s (%s);", name, body),
		})
	}

	if len(frags) == 0 {
		// No CREATE TABLE blocks found. Emit the whole text as one
		// descriptive fragment so the schema stays retrievable.
		frags = append(frags, Fragment{
			TableName: FallbackTableName,
			RawDDL:    trimmed,
		})
	}
	return frags
}

// parseColumns extracts name/type pairs from the body of a CREATE TABLE
// statement. Constraint and index lines are ignored; an inline PRIMARY KEY
// marks the column. Best effort only.
func parseColumns(body string) []Column {
	var cols []Column
	for _, line := range splitTopLevel(body) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		first := strings.ToUpper(strings.Trim(fields[0], "`\""))
		if isConstraintKeyword(first) {
			continue
		}

		col := Column{
			Name: strings.Trim(fields[0], "`\""),
			Type: fields[1],
		}
		rest := strings.ToUpper(strings.Join(fields[2:], " "))
		if strings.Contains(rest, "PRIMARY KEY") {
			col.IsPK = true
		}
		cols = append(cols, col)
	}
	return cols
}

func isConstraintKeyword(word string) bool {
	for _, kw := range constraintPrefixes {
		if word == kw {
			return true
		}
	}
	return false
}

// splitTopLevel splits a column list on commas that are not nested inside
// parentheses, so VARCHAR(50) and DECIMAL(10,2) stay intact.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// synthesizeDDL renders a canonical CREATE TABLE statement for a structured
// table, appending PRIMARY KEY to marked columns.
func synthesizeDDL(table Table) string {
	defs := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		def := col.Name + " " + col.Type
		if col.IsPK {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n);", table.Name, strings.Join(defs, ",\n    "))
}

// DDLString renders any definition into the textual DDL convention. DDL
// input passes through unchanged; structured input becomes commented header
// lines followed by one synthesized CREATE TABLE per table, so downstream
// consumers never special-case the representation.
func DDLString(def Definition) string {
	if !def.IsStructured() {
		return def.DDL
	}

	db := def.Structured
	var b strings.Builder
	fmt.Fprintf(&b, "-- Database: %s\n", db.Name)
	lang := db.SQLLanguage
	if lang == "" {
		lang = "SQL"
	}
	fmt.Fprintf(&b, "-- Language: %s\n", lang)
	if db.Description != "" {
		fmt.Fprintf(&b, "-- Description: %s\n", db.Description)
	}
	b.WriteString("\n")

	for _, frag := range fragmentsFromStructured(*db) {
		if frag.TableDescription != "" {
			fmt.Fprintf(&b, "-- Table: %s - %s\n", frag.TableName, frag.TableDescription)
		}
		b.WriteString(frag.RawDDL)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// FirstTableName returns the first table name found in DDL text, or "".
func FirstTableName(ddl string) string {
	match := tableNameRe.FindStringSubmatch(ddl)
	if match == nil {
		return ""
	}
	return match[1]
}
