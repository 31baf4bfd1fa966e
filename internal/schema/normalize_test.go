package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentsFromDDL(t *testing.T) {
	ddl := "CREATE TABLE Customers (id INTEGER PRIMARY KEY, name VARCHAR(50), balance DECIMAL(10,2));"

	frags := Fragments(FromDDL(ddl))
	require.Len(t, frags, 1)

	frag := frags[0]
	assert.Equal(t, "Customers", frag.TableName)
	assert.Equal(t, ddl, frag.RawDDL)

	require.Len(t, frag.Columns, 3)
	assert.Equal(t, Column{Name: "id", Type: "INTEGER", IsPK: true}, frag.Columns[0])
	assert.Equal(t, Column{Name: "name", Type: "VARCHAR(50)"}, frag.Columns[1])
	assert.Equal(t, Column{Name: "balance", Type: "DECIMAL(10,2)"}, frag.Columns[2])
}

func TestFragmentsFromDDLMultipleTables(t *testing.T) {
	ddl := `
CREATE TABLE Customers (
    id INTEGER PRIMARY KEY,
    email VARCHAR(255)
);

create table Orders (
    id INTEGER PRIMARY KEY,
    customer_id INTEGER,
    FOREIGN KEY (customer_id) REFERENCES Customers(id)
);
`
	frags := Fragments(FromDDL(ddl))
	require.Len(t, frags, 2)

	assert.Equal(t, "Customers", frags[0].TableName)
	assert.Equal(t, "Orders", frags[1].TableName)

	// constraint lines do not show up as columns
	require.Len(t, frags[1].Columns, 2)
	assert.Equal(t, "customer_id", frags[1].Columns[1].Name)
}

func TestFragmentsFallback(t *testing.T) {
	text := "a free-form description of a reporting database with no ddl in it"

	frags := Fragments(FromDDL(text))
	require.Len(t, frags, 1)
	assert.Equal(t, FallbackTableName, frags[0].TableName)
	assert.Equal(t, text, frags[0].RawDDL)
	assert.Empty(t, frags[0].Columns)
}

func TestFragmentsEmptyDefinition(t *testing.T) {
	assert.Empty(t, Fragments(FromDDL("   \n\t")))
	assert.True(t, FromDDL("  ").Empty())
}

func TestFragmentsFromStructured(t *testing.T) {
	db := Database{
		Name:        "shop",
		SQLLanguage: "PostgreSQL",
		Description: "webshop backend",
		Tables: []Table{
			{
				Name:        "Orders",
				Description: "one row per placed order",
				Columns: []Column{
					{Name: "id", Type: "INTEGER", IsPK: true},
					{Name: "total", Type: "DECIMAL(10,2)"},
				},
			},
		},
	}

	frags := Fragments(FromDatabase(db))
	require.Len(t, frags, 1)

	frag := frags[0]
	assert.Equal(t, "Orders", frag.TableName)
	assert.Equal(t, "shop", frag.DatabaseName)
	assert.Equal(t, "PostgreSQL", frag.SQLLanguage)
	assert.Equal(t, "CREATE TABLE Orders (\n    id INTEGER PRIMARY KEY,\n    total DECIMAL(10,2)\n);", frag.RawDDL)
}

func TestDocumentComposition(t *testing.T) {
	frags := Fragments(FromDDL("CREATE TABLE Users (id INTEGER PRIMARY KEY, email VARCHAR(255));"))
	require.Len(t, frags, 1)

	doc := frags[0].Document("Schema_Users")
	assert.Contains(t, doc, "Database schema: 'Schema_Users'")
	assert.Contains(t, doc, "Table: `Users`")
	assert.Contains(t, doc, "id (INTEGER)")
	assert.Contains(t, doc, "[PRIMARY KEY]")
	assert.Contains(t, doc, "DDL: CREATE TABLE Users")
}

func TestMetadata(t *testing.T) {
	frag := Fragment{
		TableName:    "Orders",
		RawDDL:       "CREATE TABLE Orders (id INTEGER);",
		DatabaseName: "shop",
		SQLLanguage:  "MySQL",
	}

	m := frag.Metadata("shop")
	assert.Equal(t, "shop", m["schema_name"])
	assert.Equal(t, "Orders", m["table_name"])
	assert.Equal(t, frag.RawDDL, m["raw_ddl_fragment"])
	assert.Equal(t, "MySQL", m["sql_language"])
}

func TestDDLStringPassthrough(t *testing.T) {
	ddl := "CREATE TABLE t (id INTEGER);"
	assert.Equal(t, ddl, DDLString(FromDDL(ddl)))
}

func TestDDLStringFromStructured(t *testing.T) {
	db := Database{
		Name:        "crm",
		Description: "customer data",
		Tables: []Table{
			{Name: "Contacts", Description: "people we talk to", Columns: []Column{
				{Name: "id", Type: "INTEGER", IsPK: true},
				{Name: "email", Type: "VARCHAR(255)"},
			}},
		},
	}

	out := DDLString(FromDatabase(db))
	assert.True(t, strings.HasPrefix(out, "-- Database: crm\n"))
	assert.Contains(t, out, "-- Language: SQL\n")
	assert.Contains(t, out, "-- Description: customer data\n")
	assert.Contains(t, out, "-- Table: Contacts - people we talk to\n")
	assert.Contains(t, out, "CREATE TABLE Contacts (\n    id INTEGER PRIMARY KEY,\n    email VARCHAR(255)\n);")
}

func TestParseStructured(t *testing.T) {
	db, ok := ParseStructured(`{"database_name": "shop", "tables": [{"table_name": "Orders", "columns": []}]}`)
	require.True(t, ok)
	assert.Equal(t, "shop", db.Name)
	require.Len(t, db.Tables, 1)

	_, ok = ParseStructured(`{"tables": []}`)
	assert.False(t, ok, "json without database_name is not a structured schema")

	_, ok = ParseStructured("CREATE TABLE t (id INTEGER);")
	assert.False(t, ok)
}

func TestDefinitionEqual(t *testing.T) {
	a := FromDDL("CREATE TABLE t (id INTEGER);")
	b := FromDDL("CREATE TABLE t (id INTEGER);")
	c := FromDDL("CREATE TABLE t (id TEXT);")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	s1 := FromDatabase(Database{Name: "x", Tables: []Table{{Name: "t"}}})
	s2 := FromDatabase(Database{Name: "x", Tables: []Table{{Name: "t"}}})
	assert.True(t, s1.Equal(s2))
	assert.False(t, s1.Equal(a))
}

func TestDefinitionJSONRoundTrip(t *testing.T) {
	ddl := FromDDL("CREATE TABLE t (id INTEGER);")
	data, err := ddl.MarshalJSON()
	require.NoError(t, err)

	var back Definition
	require.NoError(t, back.UnmarshalJSON(data))
	assert.True(t, ddl.Equal(back))
	assert.False(t, back.IsStructured())

	structured := FromDatabase(Database{Name: "shop", Tables: []Table{{Name: "Orders"}}})
	data, err = structured.MarshalJSON()
	require.NoError(t, err)

	require.NoError(t, back.UnmarshalJSON(data))
	assert.True(t, back.IsStructured())
	assert.Equal(t, "shop", back.Structured.Name)
}

func TestFirstTableName(t *testing.T) {
	assert.Equal(t, "Users", FirstTableName("CREATE TABLE `Users` (id INTEGER);"))
	assert.Equal(t, "", FirstTableName("no ddl here"))
}
