package catalog

import "github.com/goccy/go-json"

// Column is the metadata of one column as described by the schema document.
// Values are never mutated after Load.
type Column struct {
	Name             string
	Type             string
	PrimaryKey       bool
	AutoIncrement    bool
	Nullable         bool
	Unique           bool
	HasServerDefault bool
	HasClientDefault bool
	ForeignKeys      []string
}

// Table is the metadata of one table. Slug is the only key other packages
// use to refer to a table.
type Table struct {
	Slug        string
	DisplayName string
	Description string
	Schema      string
	Columns     []Column
	Indexes     json.RawMessage
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// PrimaryKey returns the first primary key column of the table.
func (t *Table) PrimaryKey() (Column, bool) {
	for _, col := range t.Columns {
		if col.PrimaryKey {
			return col, true
		}
	}
	return Column{}, false
}

// Catalog holds every table of one schema load. A refreshed schema produces a
// new Catalog; existing ones are never patched.
type Catalog struct {
	GeneratedAt string

	tables []*Table
	bySlug map[string]*Table
}

// Table looks a table up by slug.
func (c *Catalog) Table(slug string) (*Table, bool) {
	if c == nil {
		return nil, false
	}
	table, ok := c.bySlug[slug]
	return table, ok
}

// Tables returns the tables in document order.
func (c *Catalog) Tables() []*Table {
	if c == nil {
		return nil
	}
	out := make([]*Table, len(c.tables))
	copy(out, c.tables)
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tables)
}

// Slugs returns the table slugs in document order.
func (c *Catalog) Slugs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.tables))
	for i, table := range c.tables {
		out[i] = table.Slug
	}
	return out
}
